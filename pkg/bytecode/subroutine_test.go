package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func inlineFixture(t *testing.T, name string) (*Class, map[string]int) {
	t.Helper()
	c := loadFixture(t, name)
	sites := make(map[string]int)
	for _, m := range c.Methods {
		if m.Body == nil {
			continue
		}
		n, err := InlineSubroutines(m.Body)
		require.NoError(t, err, "inlining %s", m.Name)
		require.NoError(t, m.Body.Validate(), "validating %s", m.Name)
		for _, in := range m.Body.Insns {
			require.False(t, in.Op.IsSubroutineCall() || in.Op == OpRet, "%s still has %s", m.Name, in.Op)
		}
		sites[m.Name] = n
	}
	return c, sites
}

func TestInlineSubroutines(t *testing.T) {
	c, sites := inlineFixture(t, "finally.jasm")
	require.Equal(t, map[string]int{"guarded": 2, "nested": 6}, sites)

	vm := NewVM()
	vm.Load(c)

	got, err := vm.Invoke("demo/Finally", "guarded", "(I)I", int32(2))
	require.NoError(t, err)
	require.Equal(t, int32(5), got)
	hits, err := vm.Static("demo/Finally", "hits")
	require.NoError(t, err)
	require.Equal(t, int32(1), hits)

	_, err = vm.Invoke("demo/Finally", "guarded", "(I)I", int32(0))
	thrown, ok := AsThrown(err)
	require.True(t, ok, "error %v is not a thrown exception", err)
	require.Equal(t, ClassArithmetic, thrown.Object.Class)
	hits, err = vm.Static("demo/Finally", "hits")
	require.NoError(t, err)
	require.Equal(t, int32(2), hits, "finally runs on the exceptional path")

	got, err = vm.Invoke("demo/Finally", "nested", "()I")
	require.NoError(t, err)
	require.Equal(t, int32(10), got)
}

func TestInlineSubroutinesKeepsMainHandlers(t *testing.T) {
	c, _ := inlineFixture(t, "finally.jasm")
	b := c.Method("guarded", "(I)I").Body
	require.Equal(t, []Handler{{Start: 1, End: 2, Target: 3}}, b.Handlers)

	lines := DisassembleToLines(b)
	require.Contains(t, lines, "      aconst_null")
	require.NotContains(t, lines, "      ret 3")
}

func TestInlineSubroutinesCopiesGuardedSubroutine(t *testing.T) {
	// The subroutine guards its own body, so each copy gets its own handler.
	b := &Body{MaxStack: 2, MaxLocals: 2}
	sub, try, catch := b.NewLabel(), b.NewLabel(), b.NewLabel()
	end := b.NewLabel()
	b.Emit(
		JumpInsn(OpJsr, sub),
		JumpInsn(OpJsr, sub),
		Simple(OpReturn),
		LabelInsn(sub),
		VarInsn(OpAstore, 0),
		LabelInsn(try),
		MethodInsn(OpInvokestatic, "demo/Host", "poke", "()V", false),
		LabelInsn(end),
		VarInsn(OpRet, 0),
		LabelInsn(catch),
		VarInsn(OpAstore, 1),
		VarInsn(OpRet, 0),
	)
	b.Handlers = []Handler{{Start: try, End: end, Target: catch, Type: ClassThrowable}}

	n, err := InlineSubroutines(b)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, b.Validate())
	require.Len(t, b.Handlers, 2)
	for _, h := range b.Handlers {
		require.NotEqual(t, try, h.Start)
		require.NotEqual(t, catch, h.Target)
	}
	require.NotEqual(t, b.Handlers[0].Target, b.Handlers[1].Target)
}

func TestInlineSubroutinesWithoutJsr(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	b := c.Method("safeDiv", "(II)I").Body
	before := DisassembleToLines(b)
	n, err := InlineSubroutines(b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, before, DisassembleToLines(b))
	require.Len(t, b.Handlers, 1)
}

func TestInlineSubroutinesRejects(t *testing.T) {
	t.Run("ret in main code", func(t *testing.T) {
		b := &Body{}
		l := b.NewLabel()
		b.Emit(JumpInsn(OpJsr, l), VarInsn(OpRet, 0), LabelInsn(l), VarInsn(OpAstore, 0), VarInsn(OpRet, 0))
		_, err := InlineSubroutines(b)
		require.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("recursive subroutine", func(t *testing.T) {
		b := &Body{}
		l := b.NewLabel()
		b.Emit(JumpInsn(OpJsr, l), Simple(OpReturn), LabelInsn(l), VarInsn(OpAstore, 0), JumpInsn(OpJsr, l), VarInsn(OpRet, 0))
		_, err := InlineSubroutines(b)
		require.ErrorIs(t, err, ErrMalformed)
	})
}
