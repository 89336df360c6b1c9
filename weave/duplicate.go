package weave

import (
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/frame"
	"github.com/chazu/stmweave/pkg/stm"
	"github.com/chazu/stmweave/pkg/typecode"
)

// stackHeadroom is added to a twin's declared operand depth.
const stackHeadroom = 3

var contextVType = bytecode.ObjectV(stm.ContextInternal)

// Rewriter produces transactional twins of method bodies.
type Rewriter struct {
	Policy *Policy

	// Frames keeps the body's merge-point frames and emits new ones for
	// the branches a rewrite introduces.
	Frames bool
}

// Stats counts what one rewrite did.
type Stats struct {
	Fields int // field accesses routed through barriers
	Arrays int // array accesses routed through barriers
	Calls  int // calls forwarded to twins
	Direct int // field accesses left untouched
}

// Barriers returns the number of barrier sequences emitted.
func (s Stats) Barriers() int { return s.Fields + s.Arrays }

func (s *Stats) add(o Stats) {
	s.Fields += o.Fields
	s.Arrays += o.Arrays
	s.Calls += o.Calls
	s.Direct += o.Direct
}

// duplicate is the state of one rewrite.
type duplicate struct {
	*Rewriter
	owner string
	ctx   int // slot of the injected context
	trace *frame.Trace
	out   *bytecode.Body
	peak  int
	stats Stats
}

// Duplicate returns the twin of m, a method of owner: the same method
// with a trailing context parameter whose body routes every managed
// access through the transaction context. m is not modified.
func (r *Rewriter) Duplicate(owner string, m *bytecode.Method) (*bytecode.Method, Stats, error) {
	desc, err := stm.TwinDesc(m.Desc)
	if err != nil {
		return nil, Stats{}, err
	}
	twin := &bytecode.Method{
		Access:     m.Access,
		Name:       m.Name,
		Desc:       desc,
		Exceptions: append([]string(nil), m.Exceptions...),
	}
	if m.Body == nil {
		return twin, Stats{}, nil
	}
	mt, err := bytecode.ParseMethodType(m.Desc)
	if err != nil {
		return nil, Stats{}, err
	}

	body := m.Body.Clone()
	if _, err := bytecode.InlineSubroutines(body); err != nil {
		return nil, Stats{}, err
	}
	frame.NormalizeNew(body)
	entry, err := frame.Initial(owner, m)
	if err != nil {
		return nil, Stats{}, err
	}
	tr, err := frame.TraceBody(owner, entry, body)
	if err != nil {
		return nil, Stats{}, err
	}

	d := &duplicate{
		Rewriter: r,
		owner:    owner,
		ctx:      mt.ArgumentsSize(m.IsStatic()),
		trace:    tr,
		out: &bytecode.Body{
			Insns:    make([]bytecode.Insn, 0, len(body.Insns)*2),
			Handlers: body.Handlers,
			Labels:   body.Labels,
		},
	}
	for i, in := range body.Insns {
		if err := d.insn(i, in); err != nil {
			return nil, Stats{}, fmt.Errorf("instruction %d (%s): %w", i, in.Op, err)
		}
	}
	d.localVars(body.LocalVars)
	d.out.MaxStack = max(body.MaxStack+stackHeadroom, d.peak)
	d.out.MaxLocals = max(body.MaxLocals, d.ctx) + 1
	twin.Body = d.out
	return twin, d.stats, nil
}

func (d *duplicate) emit(insns ...bytecode.Insn) { d.out.Emit(insns...) }

// shift renumbers a local slot to make room for the context.
func (d *duplicate) shift(slot int) int {
	if slot < d.ctx {
		return slot
	}
	return slot + 1
}

// inject returns s as seen by the twin.
func (d *duplicate) inject(s frame.State) frame.State {
	return s.InsertLocal(d.ctx, contextVType)
}

func (d *duplicate) frame(s frame.State) {
	if d.Frames {
		d.emit(bytecode.FrameInsn(d.inject(s).Frame()))
	}
}

func (d *duplicate) loadContext() bytecode.Insn {
	return typecode.Load(stm.ContextType, d.ctx)
}

func (d *duplicate) reach(i, extra int) {
	if s, ok := d.trace.At(i); ok {
		d.peak = max(d.peak, len(s.Stack)+extra)
	}
}

func delegate(name, desc string) bytecode.Insn {
	return bytecode.MethodInsn(bytecode.OpInvokestatic, stm.DelegatorInternal, name, desc, false)
}

func (d *duplicate) insn(i int, in bytecode.Insn) error {
	switch {
	case in.Op == bytecode.OpFrame:
		d.frame(frame.FromFrame(in.Frame))
	case in.Op.Kind() == bytecode.KindVar || in.Op == bytecode.OpIinc:
		in.Var = d.shift(in.Var)
		d.emit(in)
	case in.Op.IsFieldAccess():
		return d.field(i, in)
	case in.Op.IsArrayLoad() || in.Op.IsArrayStore():
		d.array(i, in)
	case in.Op.IsInvoke():
		return d.call(i, in)
	default:
		d.emit(in)
	}
	return nil
}

// field guards a field access with its address: a negative address takes
// the original access, anything else goes through the barriers.
func (d *duplicate) field(i int, in bytecode.Insn) error {
	if d.Policy.Excluded(in.Owner) || synthetic(in.Name) {
		d.stats.Direct++
		d.emit(in)
		return nil
	}
	t, err := bytecode.ParseType(in.Desc)
	if err != nil {
		return err
	}
	st, known := d.trace.At(i)
	if !known && d.Frames {
		return fmt.Errorf("access to %s.%s: %w", in.Owner, in.Name, frame.ErrNoFrame)
	}

	holder := HolderName(in.Owner)
	addr := bytecode.FieldInsn(bytecode.OpGetstatic, holder, AddressField(in.Name), "J")
	base := bytecode.FieldInsn(bytecode.OpGetstatic, holder, ClassBaseField, ClassBaseDesc)
	ctx := d.loadContext()
	barrier, done := d.out.NewLabel(), d.out.NewLabel()

	d.emit(
		addr,
		bytecode.Simple(bytecode.OpLconst0),
		bytecode.Simple(bytecode.OpLcmp),
		bytecode.JumpInsn(bytecode.OpIfge, barrier),
		in,
		bytecode.JumpInsn(bytecode.OpGoto, done),
		bytecode.LabelInsn(barrier),
	)
	if known {
		d.frame(st)
	}

	beforeRead := []bytecode.Insn{
		bytecode.Simple(bytecode.OpDup),
		addr,
		ctx,
		delegate(stm.BeforeReadMethod, stm.BeforeReadDesc),
	}
	extra := 4 // the guard's two longs
	switch in.Op {
	case bytecode.OpGetfield:
		d.emit(beforeRead...)
		d.emit(bytecode.Simple(bytecode.OpDup), in, addr, ctx, delegate(stm.ReadMethod, stm.ReadDesc(t)))
		d.cast(t)
		extra = max(extra, t.Size()+3)
	case bytecode.OpPutfield:
		d.emit(addr, ctx, delegate(stm.WriteMethod, stm.WriteDesc(t)))
	case bytecode.OpGetstatic:
		d.emit(base)
		d.emit(beforeRead...)
		d.emit(in, addr, ctx, delegate(stm.ReadMethod, stm.ReadDesc(t)))
		d.cast(t)
		extra = t.Size() + 4
	case bytecode.OpPutstatic:
		d.emit(base, addr, ctx, delegate(stm.StaticWriteMethod, stm.StaticWriteDesc(t)))
	}
	d.emit(bytecode.LabelInsn(done))

	if known {
		after, err := frame.Step(d.owner, st, in)
		if err != nil {
			return err
		}
		after.Label = 0
		d.frame(after)
		d.peak = max(d.peak, len(st.Stack)+extra)
	}
	d.stats.Fields++
	return nil
}

// cast restores the static type of a reference returned by a barrier.
func (d *duplicate) cast(t bytecode.Type) {
	if t.IsReference() {
		d.emit(bytecode.TypeInsn(bytecode.OpCheckcast, t.InternalName()))
	}
}

// array routes an element access through the array barriers. A reference
// load is cast to the element type of the array found on the stack.
func (d *duplicate) array(i int, in bytecode.Insn) {
	if in.Op.IsArrayLoad() {
		desc, _ := stm.ArrayReadDesc(in.Op)
		d.emit(d.loadContext(), delegate(stm.ArrayReadMethod, desc))
		if in.Op == bytecode.OpAaload {
			d.emit(bytecode.TypeInsn(bytecode.OpCheckcast, d.elemClass(i)))
		}
	} else {
		desc, _ := stm.ArrayWriteDesc(in.Op)
		d.emit(d.loadContext(), delegate(stm.ArrayWriteMethod, desc))
	}
	d.reach(i, 1)
	d.stats.Arrays++
}

func (d *duplicate) elemClass(i int) string {
	st, ok := d.trace.At(i)
	if !ok {
		return bytecode.ClassObject
	}
	arr, ok := st.Top(1)
	if !ok {
		return bytecode.ClassObject
	}
	if e := frame.ElemOf(arr); e.Kind == bytecode.VObject {
		return e.Name
	}
	return bytecode.ClassObject
}

// call forwards an invocation of a managed owner to the callee's twin.
func (d *duplicate) call(i int, in bytecode.Insn) error {
	if d.Policy.Excluded(in.Owner) {
		d.emit(in)
		return nil
	}
	desc, err := stm.TwinDesc(in.Desc)
	if err != nil {
		return err
	}
	in.Desc = desc
	d.emit(d.loadContext(), in)
	d.reach(i, 1)
	d.stats.Calls++
	return nil
}

// localVars shifts the debug table and adds the context's entry over the
// whole body.
func (d *duplicate) localVars(vars []bytecode.LocalVar) {
	first, last := d.bounds()
	out := make([]bytecode.LocalVar, 0, len(vars)+1)
	added := false
	for _, lv := range vars {
		if lv.Index >= d.ctx && !added {
			out = append(out, d.contextVar(first, last))
			added = true
		}
		lv.Index = d.shift(lv.Index)
		out = append(out, lv)
	}
	if !added {
		out = append(out, d.contextVar(first, last))
	}
	d.out.LocalVars = out
}

func (d *duplicate) contextVar(first, last bytecode.Label) bytecode.LocalVar {
	return bytecode.LocalVar{
		Name:  stm.ContextLocalName,
		Desc:  stm.ContextDesc,
		Start: first,
		End:   last,
		Index: d.ctx,
	}
}

// bounds returns labels at the start and the end of the output, adding
// them when the body does not begin or end with one.
func (d *duplicate) bounds() (bytecode.Label, bytecode.Label) {
	insns := d.out.Insns
	var first, last bytecode.Label
	if len(insns) > 0 && insns[0].Op == bytecode.OpLabel {
		first = insns[0].Target
	} else {
		first = d.out.NewLabel()
		d.out.Insns = append([]bytecode.Insn{bytecode.LabelInsn(first)}, insns...)
	}
	if n := len(d.out.Insns); d.out.Insns[n-1].Op == bytecode.OpLabel {
		last = d.out.Insns[n-1].Target
	} else {
		last = d.out.Mark()
	}
	return first, last
}
