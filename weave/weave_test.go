package weave

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/frame"
	"github.com/chazu/stmweave/pkg/stm"
)

func loadFixture(t *testing.T, name string) *bytecode.Class {
	t.Helper()
	ar, err := txtar.ParseFile("testdata/classes.txtar")
	require.NoError(t, err)
	for _, f := range ar.Files {
		if f.Name == name {
			c, err := bytecode.Assemble(string(f.Data))
			require.NoError(t, err, "assembling %s", name)
			return c
		}
	}
	t.Fatalf("fixture %s not found", name)
	return nil
}

func weaveFixture(t *testing.T, name string) (*bytecode.Class, Report) {
	t.Helper()
	out, rep, err := New(DefaultConfig()).Weave(loadFixture(t, name))
	require.NoError(t, err)
	return out, rep
}

func TestWeaveAddsTwins(t *testing.T) {
	in := loadFixture(t, "account.jasm")
	out, rep := weaveFixture(t, "account.jasm")

	require.Equal(t, "demo/Account", rep.Class)
	require.False(t, rep.Skipped)
	require.Equal(t, 5, rep.Atomic)
	// every method but the class initializer, which the fixture lacks
	require.Equal(t, len(in.Methods), rep.Twins)

	for _, m := range in.Methods {
		twinDesc, err := stm.TwinDesc(m.Desc)
		require.NoError(t, err)
		require.NotNil(t, out.Method(m.Name, m.Desc), m.Name)
		twin := out.Method(m.Name, twinDesc)
		require.NotNil(t, twin, "twin of %s", m.Name)
		require.Nil(t, twin.Annotation(stm.AtomicDesc), "twin of %s keeps no atomic marker", m.Name)
	}

	// the input is untouched
	require.Len(t, in.Methods, len(loadFixture(t, "account.jasm").Methods))
	require.Nil(t, in.Field(AddressField("balance")))
}

func TestWeaveFieldsHolder(t *testing.T) {
	out, _ := weaveFixture(t, "account.jasm")

	for _, name := range []string{"balance", "id", "total", "history"} {
		f := out.Field(AddressField(name))
		require.NotNil(t, f, name)
		require.Equal(t, "J", f.Desc)
		require.True(t, f.IsStatic())
	}
	require.Nil(t, out.Field(AddressField("this$0")))
	require.NotNil(t, out.Field(ClassBaseField))

	clinit := out.Method("<clinit>", "()V")
	require.NotNil(t, clinit)
	text := bytecode.DisassembleToLines(clinit.Body)
	require.Contains(t, text, "      ldc -1L")
	require.Equal(t, bytecode.OpReturn, clinit.Body.Insns[len(clinit.Body.Insns)-1].Op)
}

func TestWeaveDeterministic(t *testing.T) {
	data, err := bytecode.Marshal(loadFixture(t, "account.jasm"))
	require.NoError(t, err)

	a, _, err := New(DefaultConfig()).WeaveBytes(data)
	require.NoError(t, err)
	b, _, err := New(DefaultConfig()).WeaveBytes(data)
	require.NoError(t, err)
	require.Equal(t, a, b)

	woven, err := bytecode.Unmarshal(a)
	require.NoError(t, err)
	require.Equal(t, "demo/Account", woven.Name)
}

func TestWeaveBarrierCount(t *testing.T) {
	in := loadFixture(t, "account.jasm")
	w := New(DefaultConfig())
	rw := &Rewriter{Policy: w.Config().Policy, Frames: true}

	for _, m := range in.Methods {
		if m.Body == nil {
			continue
		}
		want := Stats{}
		for _, insn := range m.Body.Insns {
			switch {
			case insn.Op.IsFieldAccess() && (synthetic(insn.Name) || rw.Policy.Excluded(insn.Owner)):
				want.Direct++
			case insn.Op.IsFieldAccess():
				want.Fields++
			case insn.Op.IsArrayLoad() || insn.Op.IsArrayStore():
				want.Arrays++
			case insn.Op.IsInvoke() && !rw.Policy.Excluded(insn.Owner):
				want.Calls++
			}
		}
		_, got, err := rw.Duplicate(in.Name, m)
		require.NoError(t, err, m.Name)
		require.Equal(t, want, got, m.Name)
	}
}

func TestWeaveShiftsLocals(t *testing.T) {
	out, _ := weaveFixture(t, "account.jasm")
	twin := out.Method("sumHistory", "(Lorg/deuce/transaction/Context;)I")
	require.NotNil(t, twin)

	for _, in := range twin.Body.Insns {
		if in.Op.Kind() != bytecode.KindVar && in.Op != bytecode.OpIinc {
			continue
		}
		if in.Var == 1 {
			require.Equal(t, bytecode.OpAload, in.Op, "slot 1 holds only the context")
		}
	}
	require.Equal(t, 4, twin.Body.MaxLocals)

	names := map[int]string{}
	for _, lv := range twin.Body.LocalVars {
		names[lv.Index] = lv.Name
	}
	require.Equal(t, map[int]string{0: "this", 1: stm.ContextLocalName, 2: "sum", 3: "i"}, names)

	var frames []*bytecode.Frame
	for _, in := range twin.Body.Insns {
		if in.Op == bytecode.OpFrame {
			frames = append(frames, in.Frame)
		}
	}
	require.NotEmpty(t, frames)
	for _, f := range frames {
		require.GreaterOrEqual(t, len(f.Locals), 2)
		require.Equal(t, bytecode.ObjectV(stm.ContextInternal), f.Locals[1])
	}
}

func TestWeaveSpecialMethods(t *testing.T) {
	out, _ := weaveFixture(t, "account.jasm")

	hash := out.Method("hash", "(Lorg/deuce/transaction/Context;)I")
	require.NotNil(t, hash)
	require.False(t, hash.IsNative())
	require.Equal(t, []string{
		"      aload 0",
		"      invokevirtual demo/Account.hash ()I",
		"      ireturn",
	}, bytecode.DisassembleToLines(hash.Body))

	shape, rep := weaveFixture(t, "shape.jasm")
	require.Equal(t, 1, rep.Twins)
	area := shape.Method("area", "(Lorg/deuce/transaction/Context;)D")
	require.NotNil(t, area)
	require.True(t, area.IsAbstract())
	require.Nil(t, area.Body)
	require.NotNil(t, shape.Field(AddressField("SIDES")))
	require.Nil(t, shape.Field(ClassBaseField))
}

func TestWeaveExcludedOwnerAccess(t *testing.T) {
	in := loadFixture(t, "account.jasm")
	m := in.Method("out", "()Ljava/io/PrintStream;")
	require.NotNil(t, m)
	orig := m.Body.Insns[0]
	require.Equal(t, bytecode.OpGetstatic, orig.Op)

	rw := &Rewriter{Policy: New(DefaultConfig()).Config().Policy, Frames: true}
	twin, stats, err := rw.Duplicate(in.Name, m)
	require.NoError(t, err)
	require.Equal(t, Stats{Direct: 1}, stats)

	var accesses []bytecode.Insn
	for _, insn := range twin.Body.Insns {
		require.NotEqual(t, stm.DelegatorInternal, insn.Owner, "no barrier for an excluded owner")
		if insn.Op.IsFieldAccess() {
			accesses = append(accesses, insn)
		}
	}
	require.Equal(t, []bytecode.Insn{orig}, accesses)
}

func TestWeaveInterfaceTwins(t *testing.T) {
	out, rep := weaveFixture(t, "util.jasm")
	require.Equal(t, 3, rep.Twins)

	one := out.Method("one", "(Lorg/deuce/transaction/Context;)I")
	require.NotNil(t, one)
	require.True(t, one.IsStatic())
	require.NotNil(t, one.Body)
	twice := out.Method("twice", "(ILorg/deuce/transaction/Context;)I")
	require.NotNil(t, twice)
	require.NotNil(t, twice.Body)
	require.True(t, out.Method("name", "(Lorg/deuce/transaction/Context;)Ljava/lang/String;").IsAbstract())
}

func TestWeaveCastsToMergedElementType(t *testing.T) {
	out, _ := weaveFixture(t, "legacy.jasm")
	twin := out.Method("pick", "(ZLorg/deuce/transaction/Context;)Ljava/lang/Object;")
	require.NotNil(t, twin)
	lines := bytecode.DisassembleToLines(twin.Body)
	require.Contains(t, lines, "      checkcast java/lang/Object")
	require.NotContains(t, lines, "      checkcast java/lang/Integer")
	require.NotContains(t, lines, "      checkcast java/lang/String")
}

func TestWeaveInlinesSubroutines(t *testing.T) {
	out, rep := weaveFixture(t, "ledger.jasm")
	require.Equal(t, 2, rep.Inlined)
	// three accesses in the try block, two in each copy of the finally block
	require.Equal(t, 7, rep.Fields)
	for _, m := range out.Methods {
		if m.Body == nil {
			continue
		}
		for _, in := range m.Body.Insns {
			require.False(t, in.Op.IsSubroutineCall() || in.Op == bytecode.OpRet, "%s%s still has %s", m.Name, m.Desc, in.Op)
		}
	}
}

func TestWeaveExcluded(t *testing.T) {
	data, err := bytecode.Marshal(loadFixture(t, "platform.jasm"))
	require.NoError(t, err)

	out, rep, err := New(DefaultConfig()).WeaveBytes(data)
	require.NoError(t, err)
	require.True(t, rep.Skipped)
	require.Equal(t, data, out)

	policy, err := NewPolicy([]string{"java/util/*"}, DefaultExcludes)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Policy = policy
	_, rep, err = New(cfg).WeaveBytes(data)
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	require.Equal(t, 1, rep.Fields)
}

func TestWeaveRejects(t *testing.T) {
	w := New(DefaultConfig())

	data, err := bytecode.Marshal(loadFixture(t, "future.jasm"))
	require.NoError(t, err)
	_, _, err = w.WeaveBytes(data)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	var verr *VersionError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, 61, verr.Version)

	cfg := DefaultConfig()
	cfg.MaxVersion = 61
	_, _, err = New(cfg).WeaveBytes(data)
	require.NoError(t, err)

	woven, _ := weaveFixture(t, "account.jasm")
	_, _, err = w.Weave(woven)
	require.ErrorIs(t, err, ErrAlreadyWoven)

	_, _, err = w.WeaveBytes([]byte("nope"))
	require.ErrorIs(t, err, bytecode.ErrMalformed)
}

func TestWeaveMethodError(t *testing.T) {
	c := loadFixture(t, "account.jasm")
	m := c.Method("balance", "()I")
	// a field read with nothing on the stack cannot be traced
	m.Body.Insns = m.Body.Insns[1:]

	_, _, err := New(DefaultConfig()).Weave(c)
	require.Error(t, err)
	var merr *MethodError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, "balance", merr.Method)
	require.Equal(t, "()I", merr.Desc)
	require.ErrorIs(t, err, frame.ErrStack)
}

func TestAttemptIDsAreStable(t *testing.T) {
	counter := NewAttemptCounter()
	cfg := DefaultConfig()
	cfg.Counter = counter
	w := New(cfg)

	_, rep, err := w.Weave(loadFixture(t, "account.jasm"))
	require.NoError(t, err)
	require.Equal(t, int32(rep.Atomic), counter.Peek())

	_, _, err = w.Weave(loadFixture(t, "shape.jasm"))
	require.NoError(t, err)
	require.Equal(t, int32(rep.Atomic), counter.Peek())
}
