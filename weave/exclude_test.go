package weave

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	p, err := NewPolicy([]string{"java/util/concurrent/*"}, append(DefaultExcludes, "demo/gen/**"))
	require.NoError(t, err)

	tests := []struct {
		owner    string
		excluded bool
	}{
		{"demo/Account", false},
		{"java/lang/Object", true},
		{"java/util/concurrent/Queue", false},
		{"java/util/concurrent/atomic/AtomicLong", true},
		{"demo/gen/deep/Proxy", true},
		{"org/deuce/transaction/Context", true},
		{"[I", true},
		{"[Ldemo/Account;", true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.excluded, p.Excluded(tt.owner), tt.owner)
	}

	_, err = NewPolicy([]string{"demo/[a"}, nil)
	require.Error(t, err)
}

func TestAttemptCounter(t *testing.T) {
	c := NewAttemptCounter()
	require.Equal(t, int32(0), c.Next())
	require.Equal(t, int32(1), c.Next())

	var wg sync.WaitGroup
	seen := make(chan int32, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := map[int32]bool{}
	for id := range seen {
		require.False(t, ids[id], "duplicate id %d", id)
		ids[id] = true
	}
	require.Len(t, ids, 100)
	require.Equal(t, int32(102), c.Peek())
}
