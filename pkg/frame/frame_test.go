package frame

import (
	"fmt"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// labelStates renders the state at every label of b: the state before the
// first real instruction after the label.
func labelStates(tr *Trace, b *bytecode.Body) []string {
	var out []string
	for i, in := range b.Insns {
		if in.Op != bytecode.OpLabel {
			continue
		}
		j := i
		for j < len(b.Insns) && b.Insns[j].Op.IsPseudo() {
			j++
		}
		s, ok := tr.At(j)
		if !ok {
			out = append(out, fmt.Sprintf("L%d: unknown", in.Target))
			continue
		}
		out = append(out, fmt.Sprintf("L%d: %s", in.Target, strings.TrimSpace(s.Frame().String())))
	}
	return out
}

func TestTraceGolden(t *testing.T) {
	ar, err := txtar.ParseFile("testdata/trace.txtar")
	require.NoError(t, err)

	files := make(map[string]string)
	for _, f := range ar.Files {
		files[f.Name] = string(f.Data)
	}
	for name, src := range files {
		base, ok := strings.CutSuffix(name, ".jasm")
		if !ok {
			continue
		}
		t.Run(base, func(t *testing.T) {
			c, err := bytecode.Assemble(src)
			require.NoError(t, err)
			m := c.Methods[0]

			tr, err := TraceMethod(c.Name, m)
			require.NoError(t, err)

			want := strings.Split(strings.TrimSpace(files[base+".states"]), "\n")
			got := labelStates(tr, m.Body)
			require.Equal(t, want, got, "trace of %s:\n%s", base, spew.Sdump(tr.states))
		})
	}
}

func TestStep(t *testing.T) {
	I, J, D := bytecode.Int, bytecode.Long, bytecode.Double
	T := bytecode.Top
	str := bytecode.ObjectV("java/lang/String")

	tests := []struct {
		in    bytecode.Insn
		stack []bytecode.VType
		want  []bytecode.VType
	}{
		{bytecode.Simple(bytecode.OpDup), []bytecode.VType{str}, []bytecode.VType{str, str}},
		{bytecode.Simple(bytecode.OpDupX1), []bytecode.VType{I, str}, []bytecode.VType{str, I, str}},
		{bytecode.Simple(bytecode.OpDupX2), []bytecode.VType{J, T, I}, []bytecode.VType{I, J, T, I}},
		{bytecode.Simple(bytecode.OpDup2), []bytecode.VType{D, T}, []bytecode.VType{D, T, D, T}},
		{bytecode.Simple(bytecode.OpDup2X1), []bytecode.VType{str, J, T}, []bytecode.VType{J, T, str, J, T}},
		{bytecode.Simple(bytecode.OpDup2X2), []bytecode.VType{D, T, J, T}, []bytecode.VType{J, T, D, T, J, T}},
		{bytecode.Simple(bytecode.OpSwap), []bytecode.VType{I, str}, []bytecode.VType{str, I}},
		{bytecode.Simple(bytecode.OpPop2), []bytecode.VType{I, J, T}, []bytecode.VType{I}},
		{bytecode.Simple(bytecode.OpLcmp), []bytecode.VType{J, T, J, T}, []bytecode.VType{I}},
		{bytecode.Simple(bytecode.OpLshl), []bytecode.VType{J, T, I}, []bytecode.VType{J, T}},
		{bytecode.Simple(bytecode.OpD2i), []bytecode.VType{D, T}, []bytecode.VType{I}},
		{bytecode.Simple(bytecode.OpI2d), []bytecode.VType{I}, []bytecode.VType{D, T}},
		{bytecode.Simple(bytecode.OpDastore), []bytecode.VType{bytecode.ObjectV("[D"), I, D, T}, []bytecode.VType{}},
		{bytecode.Simple(bytecode.OpAaload), []bytecode.VType{bytecode.Null, I}, []bytecode.VType{bytecode.Null}},
		{bytecode.IntInsn(bytecode.OpNewarray, bytecode.ArrayLong), []bytecode.VType{I}, []bytecode.VType{bytecode.ObjectV("[J")}},
		{bytecode.TypeInsn(bytecode.OpAnewarray, "java/lang/String"), []bytecode.VType{I}, []bytecode.VType{bytecode.ObjectV("[Ljava/lang/String;")}},
		{bytecode.TypeInsn(bytecode.OpCheckcast, "java/lang/String"), []bytecode.VType{bytecode.ObjectV("java/lang/Object")}, []bytecode.VType{str}},
		{bytecode.FieldInsn(bytecode.OpGetfield, "demo/A", "x", "J"), []bytecode.VType{bytecode.ObjectV("demo/A")}, []bytecode.VType{J, T}},
		{bytecode.FieldInsn(bytecode.OpPutfield, "demo/A", "x", "J"), []bytecode.VType{bytecode.ObjectV("demo/A"), J, T}, []bytecode.VType{}},
		{bytecode.FieldInsn(bytecode.OpPutstatic, "demo/A", "s", "Z"), []bytecode.VType{I}, []bytecode.VType{}},
		{bytecode.MethodInsn(bytecode.OpInvokevirtual, "demo/A", "m", "(JI)D", false), []bytecode.VType{bytecode.ObjectV("demo/A"), J, T, I}, []bytecode.VType{D, T}},
		{bytecode.MethodInsn(bytecode.OpInvokestatic, "demo/A", "s", "(Ljava/lang/String;)V", false), []bytecode.VType{str}, []bytecode.VType{}},
		{bytecode.LdcInsn(bytecode.ClassConst("demo/A")), nil, []bytecode.VType{bytecode.ObjectV("java/lang/Class")}},
		{bytecode.Insn{Op: bytecode.OpMultianewarray, Desc: "[[I", Dims: 2}, []bytecode.VType{I, I}, []bytecode.VType{bytecode.ObjectV("[[I")}},
	}

	for _, tt := range tests {
		s := State{Stack: tt.stack}
		got, err := Step("demo/A", s, tt.in)
		require.NoError(t, err, bytecode.DisassembleInsn(tt.in))
		want := tt.want
		if len(want) == 0 {
			want = nil
		}
		if len(got.Stack) == 0 {
			got.Stack = nil
		}
		require.Equal(t, want, got.Stack, "%s on %v", bytecode.DisassembleInsn(tt.in), tt.stack)
		require.Equal(t, tt.stack, s.Stack, "input state was modified")
	}
}

func TestStepLocals(t *testing.T) {
	s := State{Locals: []bytecode.VType{bytecode.Long, bytecode.Top}, Stack: []bytecode.VType{bytecode.Int}}

	// Storing into the upper half of a long kills the long.
	got, err := Step("demo/A", s, bytecode.VarInsn(bytecode.OpIstore, 1))
	require.NoError(t, err)
	require.Equal(t, []bytecode.VType{bytecode.Top, bytecode.Int}, got.Locals)

	s = State{Stack: []bytecode.VType{bytecode.Double, bytecode.Top}}
	got, err = Step("demo/A", s, bytecode.VarInsn(bytecode.OpDstore, 2))
	require.NoError(t, err)
	require.Equal(t, []bytecode.VType{bytecode.Top, bytecode.Top, bytecode.Double, bytecode.Top}, got.Locals)
	require.Equal(t, []bytecode.VType{bytecode.Double}, got.Frame().Locals[2:])
}

func TestStepErrors(t *testing.T) {
	_, err := Step("demo/A", State{}, bytecode.Simple(bytecode.OpIadd))
	require.ErrorIs(t, err, ErrStack)

	_, err = Step("demo/A", State{}, bytecode.TypeInsn(bytecode.OpNew, "demo/A"))
	require.ErrorIs(t, err, ErrUnlabeledNew)

	_, err = Step("demo/A", State{}, bytecode.Insn{Op: bytecode.OpInvokedynamic, Name: "x", Desc: "bad"})
	require.ErrorIs(t, err, bytecode.ErrMalformed)

	_, err = Step("demo/A", State{}, bytecode.JumpInsn(bytecode.OpJsr, 1))
	require.ErrorIs(t, err, bytecode.ErrMalformed)
}

func TestPendingLabel(t *testing.T) {
	s := State{}
	var err error
	for _, in := range []bytecode.Insn{
		bytecode.LabelInsn(3),
		bytecode.FrameInsn(&bytecode.Frame{}),
		bytecode.LineInsn(7),
	} {
		s, err = Step("demo/A", s, in)
		require.NoError(t, err)
	}
	require.Equal(t, bytecode.Label(3), s.Label)

	s, err = Step("demo/A", s, bytecode.TypeInsn(bytecode.OpNew, "demo/B"))
	require.NoError(t, err)
	require.Equal(t, []bytecode.VType{bytecode.Uninitialized(3)}, s.Stack)
	require.Zero(t, s.Label)
}

func TestInsertLocal(t *testing.T) {
	ctx := bytecode.ObjectV("org/deuce/transaction/Context")
	s := State{Locals: []bytecode.VType{bytecode.ObjectV("demo/A"), bytecode.Long, bytecode.Top, bytecode.Int}}

	got := s.InsertLocal(3, ctx)
	require.Equal(t, []bytecode.VType{bytecode.ObjectV("demo/A"), bytecode.Long, bytecode.Top, ctx, bytecode.Int}, got.Locals)
	require.Len(t, s.Locals, 4, "InsertLocal modified its receiver")

	short := State{Locals: []bytecode.VType{bytecode.Int}}
	got = short.InsertLocal(3, ctx)
	require.Equal(t, []bytecode.VType{bytecode.Int, bytecode.Top, bytecode.Top, ctx}, got.Locals)
}

func TestTop(t *testing.T) {
	s := State{Stack: []bytecode.VType{bytecode.ObjectV("[I"), bytecode.Int, bytecode.Long, bytecode.Top}}
	v, ok := s.Top(0)
	require.True(t, ok)
	require.Equal(t, bytecode.Long, v)
	v, _ = s.Top(2)
	require.Equal(t, bytecode.ObjectV("[I"), v)
	_, ok = s.Top(3)
	require.False(t, ok)
}

func TestElemOf(t *testing.T) {
	require.Equal(t, bytecode.ObjectV("java/lang/String"), ElemOf(bytecode.ObjectV("[Ljava/lang/String;")))
	require.Equal(t, bytecode.ObjectV("[I"), ElemOf(bytecode.ObjectV("[[I")))
	require.Equal(t, bytecode.Int, ElemOf(bytecode.ObjectV("[Z")))
	require.Equal(t, bytecode.Null, ElemOf(bytecode.Null))
	require.Equal(t, bytecode.ObjectV(bytecode.ClassObject), ElemOf(bytecode.ObjectV("demo/A")))
}

func TestMergeType(t *testing.T) {
	str := bytecode.ObjectV("java/lang/String")
	obj := bytecode.ObjectV(bytecode.ClassObject)
	tests := []struct {
		a, b, want bytecode.VType
	}{
		{bytecode.Int, bytecode.Int, bytecode.Int},
		{bytecode.Int, bytecode.Float, bytecode.Top},
		{bytecode.Null, str, str},
		{str, bytecode.Null, str},
		{str, bytecode.ObjectV("java/lang/Integer"), obj},
		{bytecode.ObjectV("[Ljava/lang/String;"), bytecode.ObjectV("[Ljava/lang/Integer;"), bytecode.ObjectV("[Ljava/lang/Object;")},
		{bytecode.ObjectV("[[Ljava/lang/String;"), bytecode.ObjectV("[[Ljava/lang/Long;"), bytecode.ObjectV("[[Ljava/lang/Object;")},
		{bytecode.ObjectV("[I"), bytecode.ObjectV("[J"), obj},
		{bytecode.ObjectV("[I"), bytecode.ObjectV("[Ljava/lang/String;"), obj},
		{str, bytecode.Int, bytecode.Top},
		{bytecode.Uninitialized(2), bytecode.Uninitialized(3), bytecode.Top},
	}
	for _, tt := range tests {
		if got := MergeType(tt.a, tt.b); got != tt.want {
			t.Errorf("MergeType(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMergeStates(t *testing.T) {
	a := State{Locals: []bytecode.VType{bytecode.Int, bytecode.Null}, Stack: []bytecode.VType{bytecode.Int}, Label: 4}
	b := State{Locals: []bytecode.VType{bytecode.Int, bytecode.ObjectV("demo/A"), bytecode.Long}, Stack: []bytecode.VType{bytecode.Int}}

	got, changed, err := a.Merge(b)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, []bytecode.VType{bytecode.Int, bytecode.ObjectV("demo/A")}, got.Locals)
	require.Equal(t, bytecode.Label(4), got.Label)

	_, changed, err = got.Merge(b)
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = a.Merge(State{})
	require.ErrorIs(t, err, ErrStack)
}

func TestNormalizeNew(t *testing.T) {
	b := &bytecode.Body{}
	b.Mark()
	b.Emit(
		bytecode.LineInsn(3),
		bytecode.TypeInsn(bytecode.OpNew, "demo/A"),
		bytecode.Simple(bytecode.OpDup),
		bytecode.TypeInsn(bytecode.OpNew, "demo/B"),
	)
	require.Equal(t, 1, NormalizeNew(b))
	require.Equal(t, bytecode.Label(2), b.Labels)
	require.Equal(t, bytecode.LabelInsn(2), b.Insns[4])
	require.Equal(t, bytecode.OpNew, b.Insns[5].Op)
	require.Zero(t, NormalizeNew(b))
}

func TestTraceUnknownAfterBlockEnd(t *testing.T) {
	m := &bytecode.Method{Access: bytecode.AccStatic, Name: "m", Desc: "()V", Body: &bytecode.Body{}}
	b := m.Body
	b.Mark()
	b.Emit(bytecode.Simple(bytecode.OpReturn))
	b.Mark()
	at := b.Emit(bytecode.Simple(bytecode.OpReturn))

	tr, err := TraceMethod("demo/A", m)
	require.NoError(t, err)
	require.Equal(t, 4, tr.Len())
	_, err = tr.FrameAt(at)
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestResolverWidensWithFrames(t *testing.T) {
	m := &bytecode.Method{Access: bytecode.AccStatic, Name: "m", Desc: "(I)I", Body: &bytecode.Body{MaxStack: 1, MaxLocals: 1}}
	b := m.Body
	b.Mark()
	far := b.NewLabel()
	b.Emit(bytecode.VarInsn(bytecode.OpIload, 0), bytecode.JumpInsn(bytecode.OpIfeq, far))
	for i := 0; i < 40000; i++ {
		b.Emit(bytecode.Simple(bytecode.OpNop))
	}
	b.Emit(bytecode.Simple(bytecode.OpIconst1), bytecode.Simple(bytecode.OpIreturn))
	b.Emit(bytecode.LabelInsn(far), bytecode.FrameInsn(&bytecode.Frame{Locals: []bytecode.VType{bytecode.Int}}))
	b.Emit(bytecode.Simple(bytecode.OpIconst0), bytecode.Simple(bytecode.OpIreturn))

	entry, err := Initial("demo/A", m)
	require.NoError(t, err)
	n, err := bytecode.ResolveJumps(b, Resolver("demo/A", entry))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, bytecode.OpIfne, b.Insns[2].Op)
	require.Equal(t, bytecode.OpGotoW, b.Insns[3].Op)
	require.Equal(t, bytecode.OpLabel, b.Insns[4].Op)
	require.Equal(t, &bytecode.Frame{Locals: []bytecode.VType{bytecode.Int}, Stack: []bytecode.VType{}}, b.Insns[5].Frame)
}
