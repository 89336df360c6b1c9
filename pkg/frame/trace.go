package frame

import (
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// Trace holds the state before every instruction of a body. States at
// joins are merged over every path reaching them. An instruction's state
// is unknown when no path reaches it and no frame before it describes it.
type Trace struct {
	states []State
	known  []bool
}

// TraceMethod traces the body of m, a method of owner.
func TraceMethod(owner string, m *bytecode.Method) (*Trace, error) {
	entry, err := Initial(owner, m)
	if err != nil {
		return nil, err
	}
	return TraceBody(owner, entry, m.Body)
}

// TraceBody traces b starting from entry until the state at every reached
// instruction is stable. Frames in the body replace the computed state
// where they appear, and frames in code no path reaches seed it.
func TraceBody(owner string, entry State, b *bytecode.Body) (*Trace, error) {
	idx, err := b.LabelIndex()
	if err != nil {
		return nil, err
	}
	t := &tracer{
		owner:  owner,
		body:   b,
		idx:    idx,
		queued: make([]bool, len(b.Insns)),
		Trace: &Trace{
			states: make([]State, len(b.Insns)),
			known:  make([]bool, len(b.Insns)),
		},
	}
	if len(b.Insns) == 0 {
		return t.Trace, nil
	}
	if err := t.flow(0, entry); err != nil {
		return nil, err
	}
	if err := t.run(); err != nil {
		return nil, err
	}
	for i, in := range b.Insns {
		if in.Op != bytecode.OpFrame || t.known[i] {
			continue
		}
		if err := t.flow(i, State{Label: labelBefore(b, i)}); err != nil {
			return nil, err
		}
		if err := t.run(); err != nil {
			return nil, err
		}
	}
	return t.Trace, nil
}

type tracer struct {
	*Trace
	owner  string
	body   *bytecode.Body
	idx    map[bytecode.Label]int
	work   []int
	queued []bool
}

// flow records s arriving at instruction at and queues it when its state
// changed.
func (t *tracer) flow(at int, s State) error {
	if at >= len(t.states) {
		return nil
	}
	if !t.known[at] {
		t.states[at], t.known[at] = s.Clone(), true
	} else {
		merged, changed, err := t.states[at].Merge(s)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", at, err)
		}
		if !changed {
			return nil
		}
		t.states[at] = merged
	}
	if !t.queued[at] {
		t.queued[at] = true
		t.work = append(t.work, at)
	}
	return nil
}

func (t *tracer) jump(l bytecode.Label, s State) error {
	s.Label = 0
	return t.flow(t.idx[l], s)
}

func (t *tracer) run() error {
	for len(t.work) > 0 {
		i := t.work[len(t.work)-1]
		t.work = t.work[:len(t.work)-1]
		t.queued[i] = false
		cur, in := t.states[i], t.body.Insns[i]

		for _, h := range t.body.Handlers {
			if i < t.idx[h.Start] || i >= t.idx[h.End] {
				continue
			}
			catch := h.Type
			if catch == "" {
				catch = bytecode.ClassThrowable
			}
			err := t.jump(h.Target, State{
				Locals: cur.Locals,
				Stack:  []bytecode.VType{bytecode.ObjectV(catch)},
			})
			if err != nil {
				return err
			}
		}

		next, err := Step(t.owner, cur, in)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		switch {
		case in.Op.IsJump():
			err = t.jump(in.Target, next)
		case in.Switch != nil:
			err = t.jump(in.Switch.Default, next)
			for _, l := range in.Switch.Targets {
				if err == nil {
					err = t.jump(l, next)
				}
			}
		}
		if err != nil {
			return err
		}
		if !in.Op.EndsBlock() {
			if err := t.flow(i+1, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// labelBefore returns the label directly before instruction i, looking
// back over pseudo instructions only.
func labelBefore(b *bytecode.Body, i int) bytecode.Label {
	for j := i - 1; j >= 0 && b.Insns[j].Op.IsPseudo(); j-- {
		if b.Insns[j].Op == bytecode.OpLabel {
			return b.Insns[j].Target
		}
	}
	return 0
}

// Len returns the number of traced instructions.
func (tr *Trace) Len() int { return len(tr.states) }

// At returns the state before instruction i.
func (tr *Trace) At(i int) (State, bool) {
	if i < 0 || i >= len(tr.states) || !tr.known[i] {
		return State{}, false
	}
	return tr.states[i], true
}

// FrameAt returns the compressed frame before instruction i.
func (tr *Trace) FrameAt(i int) (*bytecode.Frame, error) {
	s, ok := tr.At(i)
	if !ok {
		return nil, fmt.Errorf("instruction %d: %w", i, ErrNoFrame)
	}
	return s.Frame(), nil
}

// Resolver returns a bytecode.FrameFunc that traces the body it is given
// from entry, for use by bytecode.ResolveJumps.
func Resolver(owner string, entry State) bytecode.FrameFunc {
	return func(b *bytecode.Body, at int) (*bytecode.Frame, error) {
		tr, err := TraceBody(owner, entry, b)
		if err != nil {
			return nil, err
		}
		return tr.FrameAt(at)
	}
}

// NormalizeNew inserts a fresh label before every new instruction that
// does not directly follow one, so that each uninitialized value can be
// named by the label of the instruction creating it. Returns the number of
// labels added.
func NormalizeNew(b *bytecode.Body) int {
	added := 0
	out := make([]bytecode.Insn, 0, len(b.Insns))
	labeled := false
	for _, in := range b.Insns {
		switch {
		case in.Op == bytecode.OpLabel:
			labeled = true
		case in.Op.IsPseudo():
		case in.Op == bytecode.OpNew:
			if !labeled {
				out = append(out, bytecode.LabelInsn(b.NewLabel()))
				added++
			}
			labeled = false
		default:
			labeled = false
		}
		out = append(out, in)
	}
	if added > 0 {
		b.Insns = out
	}
	return added
}
