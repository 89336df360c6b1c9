package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// loadFixture assembles one file of testdata/classes.txtar.
func loadFixture(t *testing.T, name string) *Class {
	t.Helper()
	ar, err := txtar.ParseFile("testdata/classes.txtar")
	require.NoError(t, err)
	for _, f := range ar.Files {
		if f.Name == name {
			c, err := Assemble(string(f.Data))
			require.NoError(t, err, "assembling %s", name)
			return c
		}
	}
	t.Fatalf("fixture %s not found", name)
	return nil
}

func TestAssembleCounter(t *testing.T) {
	c := loadFixture(t, "counter.jasm")

	require.Equal(t, "demo/Counter", c.Name)
	require.Equal(t, 52, c.Version)
	require.Equal(t, "java/lang/Object", c.Super)
	require.Equal(t, "Counter.java", c.Source)
	require.Len(t, c.Fields, 2)
	require.True(t, c.Field("created").IsStatic())
	require.False(t, c.Field("count").IsStatic())

	add := c.Method("add", "(I)I")
	require.NotNil(t, add)
	require.Equal(t, 3, add.Body.MaxStack)
	require.Equal(t, 2, add.Body.MaxLocals)
	require.Len(t, add.Body.LocalVars, 2)
	require.Equal(t, LocalVar{Name: "n", Desc: "I", Start: 1, End: 2, Index: 1}, add.Body.LocalVars[1])

	in := add.Body.Insns[4]
	require.Equal(t, OpGetfield, in.Op)
	require.Equal(t, "demo/Counter", in.Owner)
	require.Equal(t, "count", in.Name)
	require.Equal(t, "I", in.Desc)

	name := c.Method("name", "()Ljava/lang/String;")
	a := name.Annotation("Ldemo/Marker;")
	require.NotNil(t, a)
	level, ok := a.Value("level")
	require.True(t, ok)
	require.Equal(t, int64(3), level.Int)
	label, _ := a.Value("label")
	require.Equal(t, "a b", label.Str)
	on, _ := a.Value("on")
	require.True(t, on.Bool)
}

func TestAssembleFrames(t *testing.T) {
	c := loadFixture(t, "loops.jasm")
	sum := c.Method("sum", "(I)J")

	var frames []*Frame
	for _, in := range sum.Body.Insns {
		if in.Op == OpFrame {
			frames = append(frames, in.Frame)
		}
	}
	require.Len(t, frames, 2)
	require.Equal(t, []VType{Int, Long, Int}, frames[0].Locals)
	require.Empty(t, frames[0].Stack)

	div := c.Method("safeDiv", "(II)I")
	require.Equal(t, []string{"java/lang/Exception"}, div.Exceptions)
	require.Equal(t, []Handler{{Start: 1, End: 2, Target: 3, Type: "java/lang/ArithmeticException"}}, div.Body.Handlers)
}

func TestDisassembleRoundTrip(t *testing.T) {
	for _, name := range []string{"counter.jasm", "loops.jasm"} {
		t.Run(name, func(t *testing.T) {
			c := loadFixture(t, name)
			text := Disassemble(c)

			again, err := Assemble(text)
			require.NoError(t, err, text)
			require.Equal(t, c, again)
			require.Equal(t, text, Disassemble(again))
		})
	}
}

func TestDisassembleInsn(t *testing.T) {
	tests := []struct {
		in   Insn
		want string
	}{
		{Simple(OpIadd), "iadd"},
		{VarInsn(OpAload, 3), "aload 3"},
		{IincInsn(2, -1), "iinc 2 -1"},
		{LdcInsn(LongConst(7)), "ldc 7L"},
		{LdcInsn(FloatConst(1.5)), "ldc 1.5F"},
		{LdcInsn(StringConst("a\"b")), `ldc "a\"b"`},
		{LdcInsn(ClassConst("demo/A")), "ldc class demo/A"},
		{FieldInsn(OpGetstatic, "demo/A", "x", "J"), "getstatic demo/A.x J"},
		{MethodInsn(OpInvokeinterface, "demo/I", "m", "()V", true), "invokeinterface demo/I.m ()V itf"},
		{JumpInsn(OpGotoW, 4), "goto_w L4"},
		{TypeInsn(OpCheckcast, "[Ljava/lang/String;"), "checkcast [Ljava/lang/String;"},
		{FrameInsn(&Frame{Locals: []VType{ObjectV("demo/A"), Uninitialized(2)}, Stack: []VType{Double}}), "frame demo/A uninitialized(L2) | double"},
	}

	for _, tt := range tests {
		got := DisassembleInsn(tt.in)
		if got != tt.want {
			t.Errorf("DisassembleInsn(%v) = %q, want %q", tt.in.Op, got, tt.want)
		}
		parsed, err := parseInsn(mustTokenize(t, got))
		require.NoError(t, err, got)
		require.Equal(t, tt.in, parsed)
	}
}

func mustTokenize(t *testing.T, line string) []string {
	t.Helper()
	toks, err := tokenize(line)
	require.NoError(t, err)
	return toks
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no class", "; nothing\n"},
		{"bad header", "class demo/A\nend\n"},
		{"missing end", "class demo/A version 52 access 0x1\n"},
		{"unknown insn", "class demo/A version 52 access 0x1\n method 0x9 m ()V\n code maxstack=0 maxlocals=0 labels=0\n frobnicate\n end\nend\n"},
		{"undefined label", "class demo/A version 52 access 0x1\n method 0x9 m ()V\n code maxstack=0 maxlocals=0 labels=0\n goto L3\n end\nend\n"},
		{"bad descriptor", "class demo/A version 52 access 0x1\n field 0x1 f Q\nend\n"},
		{"unterminated string", "class demo/A version 52 access 0x1\n source \"abc\nend\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			require.Error(t, err)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Assemble error = %v, want ErrMalformed", err)
			}
		})
	}
}
