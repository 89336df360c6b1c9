package weave

import (
	"math"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/frame"
	"github.com/chazu/stmweave/pkg/stm"
	"github.com/chazu/stmweave/pkg/typecode"
)

// Unbounded is the retry budget of an atomic method without a limit.
const Unbounded = math.MaxInt32

// RetryConfig is the configuration of one atomic method.
type RetryConfig struct {
	Retries int32
	Metainf string
}

// AtomicConfig reads the atomic annotation of m. It returns false when m
// is not atomic. A missing retries value means defaultRetries; a value
// that is not positive means unbounded.
func AtomicConfig(m *bytecode.Method, defaultRetries int32) (RetryConfig, bool) {
	a := m.Annotation(stm.AtomicDesc)
	if a == nil {
		return RetryConfig{}, false
	}
	cfg := RetryConfig{Retries: defaultRetries}
	if v, ok := a.Value(stm.AtomicRetries); ok {
		switch {
		case v.Int <= 0 || v.Int > Unbounded:
			cfg.Retries = Unbounded
		default:
			cfg.Retries = int32(v.Int)
		}
	}
	if v, ok := a.Value(stm.AtomicMetainf); ok {
		cfg.Metainf = v.Str
	} else if v, ok := a.Value(stm.AtomicMetadata); ok {
		cfg.Metainf = v.Str
	}
	if cfg.Retries <= 0 {
		cfg.Retries = Unbounded
	}
	return cfg, true
}

// EntryPoint describes an atomic method whose body is replaced by a retry
// loop around its twin.
type EntryPoint struct {
	Owner     string
	Interface bool // owner is an interface
	Method    *bytecode.Method
	TwinDesc  string
	Config    RetryConfig
	Frames    bool
}

// entry holds the slots of the synthesized body.
type entry struct {
	*EntryPoint
	mt     bytecode.MethodType
	b      *bytecode.Body
	loop   frame.State
	args   int
	count  int
	ctx    int
	fault  int
	commit int
	exc    int
	result int
}

// Synthesize returns the retry loop body for e. id is the atomic block
// identifier every attempt initializes the context with.
//
//	fault = null; ctx = getInstance(); commit = true; result = default
//	for i = retries; i > 0; i-- {
//		ctx.init(id, metainf)
//		try { result = twin(args..., ctx) }
//		catch (Abort ex)      { ctx.rollback(); throw ex }
//		catch (Conflict ex)   { commit = false }
//		catch (Throwable ex)  { fault = ex }
//		if commit {
//			if ctx.commit() { if fault != null { throw fault }; return result }
//		} else {
//			ctx.rollback(); commit = true
//		}
//	}
//	throw new RetryBudgetExhausted(...)
func (e *EntryPoint) Synthesize(id int32) (*bytecode.Body, error) {
	mt, err := bytecode.ParseMethodType(e.Method.Desc)
	if err != nil {
		return nil, err
	}
	start, err := frame.Initial(e.Owner, e.Method)
	if err != nil {
		return nil, err
	}
	args := mt.ArgumentsSize(e.Method.IsStatic())
	s := &entry{
		EntryPoint: e,
		mt:         mt,
		b:          &bytecode.Body{},
		args:       args,
		count:      args,
		ctx:        args + 1,
		fault:      args + 2,
		commit:     args + 3,
		exc:        args + 4,
		result:     args + 5,
	}
	s.loop = s.loopState(start)
	s.emitBody(id)
	s.b.MaxStack = 6 + args
	s.b.MaxLocals = s.result + 2
	return s.b, nil
}

// loopState is the state at every join of the loop: the arguments, then
// counter, context, fault, commit flag, an unset exception slot and the
// result.
func (s *entry) loopState(start frame.State) frame.State {
	locals := append([]bytecode.VType(nil), start.Locals...)
	for len(locals) < s.args {
		locals = append(locals, bytecode.Top)
	}
	locals = append(locals,
		bytecode.Int,
		contextVType,
		bytecode.ObjectV(bytecode.ClassThrowable),
		bytecode.Int,
		bytecode.Top,
	)
	if ret := s.mt.Return; ret.Sort != bytecode.SortVoid {
		v := bytecode.VTypeOf(ret)
		locals = append(locals, v)
		if v.IsWide() {
			locals = append(locals, bytecode.Top)
		}
	}
	return frame.State{Locals: locals, Stack: []bytecode.VType{}}
}

func (s *entry) emit(insns ...bytecode.Insn) { s.b.Emit(insns...) }

// join marks l with the loop state, and with caught on the stack when
// caught is not empty.
func (s *entry) join(l bytecode.Label, caught string) {
	s.emit(bytecode.LabelInsn(l))
	if !s.Frames {
		return
	}
	st := s.loop.Clone()
	if caught != "" {
		st.Stack = []bytecode.VType{bytecode.ObjectV(caught)}
	}
	s.emit(bytecode.FrameInsn(st.Frame()))
}

func (s *entry) contextCall(name, desc string) bytecode.Insn {
	return bytecode.MethodInsn(bytecode.OpInvokeinterface, stm.ContextInternal, name, desc, true)
}

func (s *entry) load(slot int) bytecode.Insn  { return bytecode.VarInsn(bytecode.OpAload, slot) }
func (s *entry) store(slot int) bytecode.Insn { return bytecode.VarInsn(bytecode.OpAstore, slot) }

func (s *entry) emitBody(id int32) {
	b := s.b
	ret := s.mt.Return
	void := ret.Sort == bytecode.SortVoid

	b.Mark()
	s.emit(bytecode.Simple(bytecode.OpAconstNull), s.store(s.fault))
	ctxStart := b.Mark()
	s.emit(
		bytecode.MethodInsn(bytecode.OpInvokestatic, stm.DelegatorInternal, stm.GetInstanceMethod, stm.GetInstanceDesc, false),
		s.store(s.ctx),
	)
	commitStart := b.Mark()
	s.emit(bytecode.Simple(bytecode.OpIconst1), bytecode.VarInsn(bytecode.OpIstore, s.commit))
	resultStart := b.Mark()
	if !void {
		s.emit(typecode.Null(ret), typecode.Store(ret, s.result))
	}
	s.emit(bytecode.PushInt(s.Config.Retries), bytecode.VarInsn(bytecode.OpIstore, s.count))

	attempt, cond := b.NewLabel(), b.NewLabel()
	s.emit(bytecode.JumpInsn(bytecode.OpGoto, cond))

	// attempt
	s.join(attempt, "")
	s.emit(
		s.load(s.ctx),
		bytecode.PushInt(id),
		bytecode.LdcInsn(bytecode.StringConst(s.Config.Metainf)),
		s.contextCall(stm.InitMethod, stm.InitDesc),
	)
	tryStart := b.Mark()
	s.emitTwinCall()
	if !void {
		s.emit(typecode.Store(ret, s.result))
	}
	tryEnd := b.Mark()
	after := b.NewLabel()
	s.emit(bytecode.JumpInsn(bytecode.OpGoto, after))

	onAbort, onConflict, onFault := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Handlers = append(b.Handlers,
		bytecode.Handler{Start: tryStart, End: tryEnd, Target: onAbort, Type: stm.AbortTransactionException},
		bytecode.Handler{Start: tryStart, End: tryEnd, Target: onConflict, Type: stm.TransactionException},
		bytecode.Handler{Start: tryStart, End: tryEnd, Target: onFault, Type: bytecode.ClassThrowable},
	)

	s.join(onAbort, stm.AbortTransactionException)
	s.emit(
		s.store(s.exc),
		s.load(s.ctx),
		s.contextCall(stm.RollbackMethod, stm.RollbackDesc),
		s.load(s.exc),
		bytecode.Simple(bytecode.OpAthrow),
	)

	s.join(onConflict, stm.TransactionException)
	s.emit(
		s.store(s.exc),
		bytecode.Simple(bytecode.OpIconst0),
		bytecode.VarInsn(bytecode.OpIstore, s.commit),
		bytecode.JumpInsn(bytecode.OpGoto, after),
	)

	s.join(onFault, bytecode.ClassThrowable)
	s.emit(s.store(s.exc), s.load(s.exc), s.store(s.fault))

	// post-attempt
	rollback, next, done := b.NewLabel(), b.NewLabel(), b.NewLabel()
	s.join(after, "")
	s.emit(
		bytecode.VarInsn(bytecode.OpIload, s.commit),
		bytecode.JumpInsn(bytecode.OpIfeq, rollback),
		s.load(s.ctx),
		s.contextCall(stm.CommitMethod, stm.CommitDesc),
		bytecode.JumpInsn(bytecode.OpIfeq, next),
		s.load(s.fault),
		bytecode.JumpInsn(bytecode.OpIfnull, done),
		s.load(s.fault),
		bytecode.Simple(bytecode.OpAthrow),
	)
	s.join(done, "")
	if void {
		s.emit(bytecode.Simple(bytecode.OpReturn))
	} else {
		s.emit(typecode.Load(ret, s.result), typecode.Return(ret))
	}

	s.join(rollback, "")
	s.emit(
		s.load(s.ctx),
		s.contextCall(stm.RollbackMethod, stm.RollbackDesc),
		bytecode.Simple(bytecode.OpIconst1),
		bytecode.VarInsn(bytecode.OpIstore, s.commit),
	)
	s.join(next, "")
	s.emit(bytecode.IincInsn(s.count, -1))
	s.join(cond, "")
	s.emit(
		bytecode.VarInsn(bytecode.OpIload, s.count),
		bytecode.JumpInsn(bytecode.OpIfgt, attempt),
	)

	exhausted := b.Mark()
	s.emit(
		bytecode.TypeInsn(bytecode.OpNew, stm.RetryBudgetExhaustedException),
		bytecode.Simple(bytecode.OpDup),
		bytecode.LdcInsn(bytecode.StringConst(stm.RetryBudgetExhaustedMessage)),
		bytecode.MethodInsn(bytecode.OpInvokespecial, stm.RetryBudgetExhaustedException, "<init>", "(Ljava/lang/String;)V", false),
		bytecode.Simple(bytecode.OpAthrow),
	)
	end := b.Mark()

	b.LocalVars = append(b.LocalVars,
		bytecode.LocalVar{Name: "throwable", Desc: "Ljava/lang/Throwable;", Start: ctxStart, End: end, Index: s.fault},
		bytecode.LocalVar{Name: "context", Desc: stm.ContextDesc, Start: commitStart, End: end, Index: s.ctx},
		bytecode.LocalVar{Name: "commit", Desc: "Z", Start: resultStart, End: end, Index: s.commit},
		bytecode.LocalVar{Name: "i", Desc: "I", Start: attempt, End: exhausted, Index: s.count},
		bytecode.LocalVar{Name: "ex", Desc: "Lorg/deuce/transaction/AbortTransactionException;", Start: onAbort, End: onConflict, Index: s.exc},
		bytecode.LocalVar{Name: "ex", Desc: "Lorg/deuce/transaction/TransactionException;", Start: onConflict, End: onFault, Index: s.exc},
		bytecode.LocalVar{Name: "ex", Desc: "Ljava/lang/Throwable;", Start: onFault, End: after, Index: s.exc},
	)
	if !void {
		b.LocalVars = append(b.LocalVars, bytecode.LocalVar{Name: "result", Desc: ret.Desc, Start: attempt, End: end, Index: s.result})
	}
}

// emitTwinCall loads the receiver, the arguments and the context and
// invokes the twin.
func (s *entry) emitTwinCall() {
	m := s.Method
	slot := 0
	if !m.IsStatic() {
		s.emit(s.load(0))
		slot = 1
	}
	for _, t := range s.mt.Args {
		s.emit(typecode.Load(t, slot))
		slot += t.Size()
	}
	s.emit(s.load(s.ctx))

	op := bytecode.OpInvokevirtual
	switch {
	case m.IsStatic():
		op = bytecode.OpInvokestatic
	case m.Access&bytecode.AccPrivate != 0:
		op = bytecode.OpInvokespecial
	case s.Interface:
		op = bytecode.OpInvokeinterface
	}
	s.emit(bytecode.MethodInsn(op, s.Owner, m.Name, s.TwinDesc, s.Interface))
}
