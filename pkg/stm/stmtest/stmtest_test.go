package stmtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/stm"
)

func TestRedoLog(t *testing.T) {
	vm := bytecode.NewVM()
	vm.RegisterClass("demo/Box", bytecode.ClassObject)
	addrs := stm.NewAddressTable()
	addr := addrs.ResolveAddress("demo/Box", "n")
	box := vm.NewObject("demo/Box")
	box.Fields["n"] = int32(1)

	ctx := New(vm, addrs)
	ctx.Init(7, "")
	require.NoError(t, ctx.Write(box, int32(2), addr))
	got, err := ctx.Read(box, int32(1), addr)
	require.NoError(t, err)
	require.Equal(t, int32(2), got, "reads see the attempt's own writes")
	require.Equal(t, int32(1), box.Fields["n"], "writes are buffered")

	ctx.Rollback()
	ctx.Init(8, "")
	got, err = ctx.Read(box, int32(1), addr)
	require.NoError(t, err)
	require.Equal(t, int32(1), got)

	require.NoError(t, ctx.Write(box, int32(5), addr))
	require.True(t, ctx.Commit())
	require.Equal(t, int32(5), box.Fields["n"])
	require.Equal(t, []int32{7, 8}, ctx.Attempts)
	require.Equal(t, 1, ctx.Commits)
	require.Equal(t, 1, ctx.Rollbacks)
}

func TestWriteBeforeInit(t *testing.T) {
	vm := bytecode.NewVM()
	vm.RegisterClass("demo/Box", bytecode.ClassObject)
	addrs := stm.NewAddressTable()
	addr := addrs.ResolveAddress("demo/Box", "n")
	box := vm.NewObject("demo/Box")

	ctx := New(vm, addrs)
	require.NoError(t, ctx.Write(box, int32(3), addr))
	got, err := ctx.Read(box, int32(0), addr)
	require.NoError(t, err)
	require.Equal(t, int32(3), got)
	require.True(t, ctx.Commit())
	require.Equal(t, int32(3), box.Fields["n"])
	require.Empty(t, ctx.Attempts)
}

func TestStaticAndArrayWrites(t *testing.T) {
	vm := bytecode.NewVM()
	vm.RegisterClass("demo/Box", bytecode.ClassObject)
	addrs := stm.NewAddressTable()
	addr := addrs.ResolveAddress("demo/Box", "total")
	base := addrs.ResolveStaticBase("demo/Box", "total")
	arr := &bytecode.Array{Elem: "J", Data: []bytecode.Value{int64(0), int64(0)}}

	ctx := New(vm, addrs)
	ctx.Init(1, "")
	require.NoError(t, ctx.StaticWrite(int64(3), base, addr))
	require.NoError(t, ctx.ArrayWrite(arr, 1, int64(4)))
	v, err := ctx.ArrayRead(arr, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), v)
	require.Equal(t, int64(0), arr.Data[1])

	require.True(t, ctx.Commit())
	total, err := vm.Static("demo/Box", "total")
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, int64(4), arr.Data[1])
	require.Equal(t, []string{"staticWrite", "arrayWrite", "arrayRead"}, ctx.Ops())
}

func TestScript(t *testing.T) {
	vm := bytecode.NewVM()
	stm.RegisterSignals(vm)
	addrs := stm.NewAddressTable()
	ctx := New(vm, addrs, Conflict, Abort, CommitConflict)

	ctx.Init(1, "")
	err := ctx.BeforeRead(nil, 1)
	thrown, ok := bytecode.AsThrown(err)
	require.True(t, ok)
	require.Equal(t, stm.TransactionException, thrown.Object.Class)
	require.NoError(t, ctx.BeforeRead(nil, 1), "only the first barrier raises")

	ctx.Init(2, "")
	_, err = ctx.Read(nil, int32(0), 1)
	thrown, ok = bytecode.AsThrown(err)
	require.True(t, ok)
	require.Equal(t, stm.AbortTransactionException, thrown.Object.Class)

	ctx.Init(3, "")
	require.NoError(t, ctx.BeforeRead(nil, 1))
	require.False(t, ctx.Commit())

	ctx.Init(4, "")
	require.NoError(t, ctx.BeforeRead(nil, 1))
	require.True(t, ctx.Commit())
	require.Equal(t, "commit-conflict", CommitConflict.String())
}

func TestParseOutcome(t *testing.T) {
	for _, o := range []Outcome{Proceed, Conflict, Abort, CommitConflict} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		require.Equal(t, o, got)
	}
	_, err := ParseOutcome("retry")
	require.Error(t, err)
}
