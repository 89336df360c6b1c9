package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodedLen(t *testing.T) {
	tests := []struct {
		in     Insn
		offset int
		want   int
	}{
		{Simple(OpNop), 0, 1},
		{LabelInsn(1), 0, 0},
		{LineInsn(3), 0, 0},
		{VarInsn(OpIload, 2), 0, 1},
		{VarInsn(OpIload, 200), 0, 2},
		{VarInsn(OpIload, 300), 0, 4},
		{IincInsn(1, 1), 0, 3},
		{IincInsn(1, 1000), 0, 6},
		{JumpInsn(OpGoto, 1), 0, 3},
		{JumpInsn(OpGotoW, 1), 0, 5},
		{MethodInsn(OpInvokeinterface, "a/I", "m", "()V", true), 0, 5},
		// tableswitch at 0 pads 3 bytes: 1 + 3 + 12 + 2*4
		{Insn{Op: OpTableswitch, Switch: &SwitchTable{Default: 1, Keys: []int32{0, 1}, Targets: []Label{1, 1}}}, 0, 24},
		// at offset 3 no padding is needed
		{Insn{Op: OpTableswitch, Switch: &SwitchTable{Default: 1, Keys: []int32{0, 1}, Targets: []Label{1, 1}}}, 3, 21},
		{Insn{Op: OpLookupswitch, Switch: &SwitchTable{Default: 1, Keys: []int32{7}, Targets: []Label{1}}}, 1, 1 + 2 + 8 + 8},
	}
	for _, tt := range tests {
		if got := EncodedLen(tt.in, tt.offset); got != tt.want {
			t.Errorf("EncodedLen(%s at %d) = %d, want %d", DisassembleInsn(tt.in), tt.offset, got, tt.want)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	lay, err := Encode(c.Method("sum", "(I)J").Body)
	require.NoError(t, err)

	// lconst_0 lstore_1 iconst_0 istore_3 | L2
	require.Equal(t, 0, lay.Labels[1])
	require.Equal(t, 4, lay.Labels[2])
	// iload_3 iload_0 if_icmpge(3) lload_1 iload_3 i2l ladd lstore_1 iinc(3) goto(3)
	require.Equal(t, 4+16, lay.Labels[3])
	require.Equal(t, 4+16+2, lay.Length)
}

// longBody returns a static ()I method with a forward conditional
// branch and a backward goto, each spanning n nops.
func longBody(n int) *Body {
	b := &Body{MaxStack: 1, MaxLocals: 0}
	b.Mark()
	far := b.NewLabel()
	end := b.NewLabel()
	b.Emit(Simple(OpIconst0), JumpInsn(OpIfeq, far))
	b.Emit(Simple(OpIconst1), Simple(OpIreturn))
	b.Emit(LabelInsn(end), FrameInsn(&Frame{}), Simple(OpIconst2), Simple(OpIreturn))
	for i := 0; i < n; i++ {
		b.Emit(Simple(OpNop))
	}
	b.Emit(LabelInsn(far), FrameInsn(&Frame{}))
	b.Emit(JumpInsn(OpGoto, end))
	return b
}

func TestResolveJumpsShortBranches(t *testing.T) {
	b := longBody(10)
	before := b.Clone()
	n, err := ResolveJumps(b, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, before, b)
}

func TestResolveJumpsWidens(t *testing.T) {
	b := longBody(33000)
	var calls int
	frameAt := func(b *Body, at int) (*Frame, error) {
		calls++
		return &Frame{}, nil
	}
	lay, err := Encode(b)
	require.NoError(t, err)
	require.Less(t, lay.Length, MaxCodeLength)

	n, err := ResolveJumps(b, frameAt)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, calls)

	require.Equal(t, OpIfne, b.Insns[2].Op)
	require.Equal(t, OpGotoW, b.Insns[3].Op)
	require.Equal(t, Label(2), b.Insns[3].Target)
	require.Equal(t, OpLabel, b.Insns[4].Op)
	require.Equal(t, b.Insns[2].Target, b.Insns[4].Target)
	require.Equal(t, OpFrame, b.Insns[5].Op)

	var gotos, gotoWs int
	for _, in := range b.Insns {
		switch in.Op {
		case OpGoto:
			gotos++
		case OpGotoW:
			gotoWs++
		}
	}
	require.Zero(t, gotos)
	require.Equal(t, 2, gotoWs)
	require.NoError(t, b.Validate())

	// Widened code computes the same result.
	c := &Class{Name: "demo/Long", Super: ClassObject, Version: 52, Methods: []*Method{
		{Access: AccPublic | AccStatic, Name: "run", Desc: "()I", Body: b},
	}}
	vm := NewVM()
	vm.Load(c)
	got, err := vm.Invoke("demo/Long", "run", "()I")
	require.NoError(t, err)
	require.Equal(t, int32(2), got)
}

func TestResolveJumpsTooLong(t *testing.T) {
	b := &Body{}
	b.Mark()
	for i := 0; i < MaxCodeLength+1; i++ {
		b.Emit(Simple(OpNop))
	}
	b.Emit(Simple(OpReturn))
	_, err := ResolveJumps(b, nil)
	require.ErrorIs(t, err, ErrMalformed)
}
