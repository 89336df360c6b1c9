package bytecode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	for _, name := range []string{"counter.jasm", "loops.jasm"} {
		t.Run(name, func(t *testing.T) {
			c := loadFixture(t, name)

			data, err := Marshal(c)
			require.NoError(t, err)
			require.True(t, bytes.HasPrefix(data, ClassMagic))

			got, err := Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, Disassemble(c), Disassemble(got))
		})
	}
}

func TestMarshalDeterministic(t *testing.T) {
	c := loadFixture(t, "counter.jasm")
	a, err := Marshal(c)
	require.NoError(t, err)
	b, err := Marshal(c.Clone())
	require.NoError(t, err)
	if !bytes.Equal(a, b) {
		t.Error("equal classes serialized to different bytes")
	}
}

func TestPeekVersion(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	data, err := Marshal(c)
	require.NoError(t, err)

	v, err := PeekVersion(data)
	require.NoError(t, err)
	require.Equal(t, 52, v)

	_, err = PeekVersion([]byte("STM"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = PeekVersion([]byte("JAVA\x00\x34"))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestUnmarshalErrors(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	data, err := Marshal(c)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"bad magic", append([]byte("XXXX"), data[4:]...), ErrBadMagic},
		{"truncated payload", data[:len(data)/2], ErrMalformed},
		{"version mismatch", append([]byte("STMC\x00\x31"), data[6:]...), ErrMalformed},
		{"garbage payload", []byte("STMC\x00\x34\xff\xff"), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Unmarshal error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnmarshalValidatesBodies(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	broken := c.Clone()
	sum := broken.Method("sum", "(I)J")
	sum.Body.Insns = append(sum.Body.Insns, JumpInsn(OpGoto, 99))

	data, err := Marshal(broken)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrMalformed)
	require.Contains(t, err.Error(), "demo/Loops.sum(I)J")
}

func TestMarshalRejectsVersion(t *testing.T) {
	_, err := Marshal(&Class{Name: "demo/A", Version: 70000})
	require.ErrorIs(t, err, ErrMalformed)
}
