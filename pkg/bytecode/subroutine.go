package bytecode

import "fmt"

// subroutine is the set of instructions reachable from an entry point
// without following jsr into another subroutine.
type subroutine struct {
	entry int
	owned []bool
}

// instance is one copy of a subroutine in the rewritten body. The main
// code is the root instance; every jsr site gets its own child.
type instance struct {
	sub    *subroutine
	parent *instance
	labels map[Label]Label
	ret    Label // where ret continues; zero for the root
}

type inliner struct {
	in    *Body
	out   *Body
	idx   map[Label]int
	subs  map[int]*subroutine
	queue []*instance
	done  []*instance
	sites int
}

// InlineSubroutines replaces every jsr/ret subroutine in b by a private
// copy at each call site. jsr becomes aconst_null and a goto to the copy,
// so the astore that saved the return address stores null instead, and
// ret becomes a goto back to the instruction after the call site.
// Handlers covering subroutine code are copied with it. Frames and the
// local-variable table are kept for the main code only. Returns the
// number of call sites inlined; a body without jsr is left untouched.
func InlineSubroutines(b *Body) (int, error) {
	hasJsr := false
	for _, in := range b.Insns {
		if in.Op.IsSubroutineCall() {
			hasJsr = true
			break
		}
	}
	if !hasJsr {
		return 0, nil
	}
	idx, err := b.LabelIndex()
	if err != nil {
		return 0, err
	}
	x := &inliner{
		in:   b,
		out:  &Body{MaxStack: b.MaxStack, MaxLocals: b.MaxLocals, Labels: b.Labels},
		idx:  idx,
		subs: make(map[int]*subroutine),
	}
	main, err := x.subroutine(0)
	if err != nil {
		return 0, err
	}
	x.queue = append(x.queue, &instance{sub: main})
	for len(x.queue) > 0 {
		inst := x.queue[0]
		x.queue = x.queue[1:]
		if err := x.emit(inst); err != nil {
			return 0, err
		}
		x.done = append(x.done, inst)
	}
	for _, inst := range x.done {
		x.handlers(inst)
	}
	x.out.LocalVars = append([]LocalVar(nil), b.LocalVars...)
	*b = *x.out
	return x.sites, nil
}

// subroutine returns the subroutine entered at instruction entry,
// computing its extent on first use.
func (x *inliner) subroutine(entry int) (*subroutine, error) {
	if s, ok := x.subs[entry]; ok {
		return s, nil
	}
	s := &subroutine{entry: entry, owned: make([]bool, len(x.in.Insns))}
	if err := x.flood(s, entry); err != nil {
		return nil, err
	}
	// Handlers guarding subroutine code belong to it as well.
	for changed := true; changed; {
		changed = false
		for _, h := range x.in.Handlers {
			target := x.idx[h.Target]
			if s.owned[target] || !x.covers(s, h) {
				continue
			}
			if err := x.flood(s, target); err != nil {
				return nil, err
			}
			changed = true
		}
	}
	x.subs[entry] = s
	return s, nil
}

func (x *inliner) covers(s *subroutine, h Handler) bool {
	for i := x.idx[h.Start]; i < x.idx[h.End]; i++ {
		if s.owned[i] && !x.in.Insns[i].Op.IsPseudo() {
			return true
		}
	}
	return false
}

func (x *inliner) flood(s *subroutine, from int) error {
	work := []int{from}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for ; i < len(x.in.Insns) && !s.owned[i]; i++ {
			s.owned[i] = true
			in := x.in.Insns[i]
			switch {
			case in.Op.IsSubroutineCall():
				// The callee is a separate subroutine; control resumes
				// after the call.
				continue
			case in.Op.IsJump():
				work = append(work, x.idx[in.Target])
			case in.Switch != nil:
				work = append(work, x.idx[in.Switch.Default])
				for _, l := range in.Switch.Targets {
					work = append(work, x.idx[l])
				}
			}
			if in.Op.EndsBlock() {
				break
			}
		}
		if i == len(x.in.Insns) && i > 0 && !x.in.Insns[i-1].Op.EndsBlock() {
			return fmt.Errorf("%w: control falls off the end of the body", ErrMalformed)
		}
	}
	return nil
}

// local returns inst's copy of l, allocating it on first use. The root
// keeps the original labels.
func (x *inliner) local(inst *instance, l Label) Label {
	if inst.parent == nil {
		return l
	}
	if c, ok := inst.labels[l]; ok {
		return c
	}
	c := x.out.NewLabel()
	inst.labels[l] = c
	return c
}

// lookup resolves a branch target from inside inst. A label outside the
// subroutine belongs to the nearest enclosing copy that owns it.
func (x *inliner) lookup(inst *instance, l Label) Label {
	at := x.idx[l]
	for p := inst; p != nil; p = p.parent {
		if p.sub.owned[at] {
			return x.local(p, l)
		}
	}
	return l
}

func (x *inliner) emit(inst *instance) error {
	root := inst.parent == nil
	for i, in := range x.in.Insns {
		if in.Op == OpLabel {
			x.out.Emit(LabelInsn(x.local(inst, in.Target)))
			continue
		}
		if !inst.sub.owned[i] {
			continue
		}
		switch {
		case in.Op.IsSubroutineCall():
			callee, err := x.subroutine(x.idx[in.Target])
			if err != nil {
				return err
			}
			for p := inst; p != nil; p = p.parent {
				if p.sub == callee {
					return fmt.Errorf("%w: recursive subroutine at L%d", ErrMalformed, in.Target)
				}
			}
			child := &instance{
				sub:    callee,
				parent: inst,
				labels: make(map[Label]Label),
				ret:    x.out.NewLabel(),
			}
			x.out.Emit(
				Simple(OpAconstNull),
				JumpInsn(OpGoto, x.local(child, in.Target)),
				LabelInsn(child.ret),
			)
			x.queue = append(x.queue, child)
			x.sites++
		case in.Op == OpRet:
			if root {
				return fmt.Errorf("%w: ret outside a subroutine at %d", ErrMalformed, i)
			}
			x.out.Emit(JumpInsn(OpGoto, inst.ret))
		case in.Op.IsJump():
			x.out.Emit(JumpInsn(in.Op, x.lookup(inst, in.Target)))
		case in.Switch != nil:
			c := in.Clone()
			c.Switch.Default = x.lookup(inst, c.Switch.Default)
			for j, l := range c.Switch.Targets {
				c.Switch.Targets[j] = x.lookup(inst, l)
			}
			x.out.Emit(c)
		case in.Op == OpFrame && !root:
		default:
			x.out.Emit(in.Clone())
		}
	}
	return nil
}

// handlers copies every handler whose range covers code of inst.
func (x *inliner) handlers(inst *instance) {
	for _, h := range x.in.Handlers {
		if !x.covers(inst.sub, h) {
			continue
		}
		x.out.Handlers = append(x.out.Handlers, Handler{
			Start:  x.local(inst, h.Start),
			End:    x.local(inst, h.End),
			Target: x.lookup(inst, h.Target),
			Type:   h.Type,
		})
	}
}
