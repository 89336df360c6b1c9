package frame

import (
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// State is the symbolic type state before one instruction. Locals and
// Stack are in slot form: a long or double is followed by a top entry.
type State struct {
	Locals []bytecode.VType
	Stack  []bytecode.VType

	// Label is the label marking the current position when only pseudo
	// instructions separate it from the next real one. A new instruction
	// uses it to name the value it creates.
	Label bytecode.Label
}

// Initial returns the state on entry to a method of owner.
func Initial(owner string, m *bytecode.Method) (State, error) {
	mt, err := bytecode.ParseMethodType(m.Desc)
	if err != nil {
		return State{}, err
	}
	var s State
	if !m.IsStatic() {
		if m.IsConstructor() && owner != bytecode.ClassObject {
			s.Locals = append(s.Locals, bytecode.UninitializedThis)
		} else {
			s.Locals = append(s.Locals, bytecode.ObjectV(owner))
		}
	}
	for _, t := range mt.Args {
		s.Locals = push(s.Locals, bytecode.VTypeOf(t))
	}
	return s, nil
}

// FromFrame returns the state described by a merge-point frame.
func FromFrame(f *bytecode.Frame) State {
	return State{
		Locals: bytecode.Expand(f.Locals),
		Stack:  bytecode.Expand(f.Stack),
	}
}

// Frame returns the state as a compressed merge-point frame.
func (s State) Frame() *bytecode.Frame {
	return &bytecode.Frame{
		Locals: bytecode.Compress(s.Locals),
		Stack:  bytecode.Compress(s.Stack),
	}
}

// Clone returns a copy that shares no storage with s.
func (s State) Clone() State {
	return State{
		Locals: append([]bytecode.VType(nil), s.Locals...),
		Stack:  append([]bytecode.VType(nil), s.Stack...),
		Label:  s.Label,
	}
}

// Top returns the stack entry depth values below the top, skipping the
// top half of wide values. Top(0) is the topmost value.
func (s State) Top(depth int) (bytecode.VType, bool) {
	i := len(s.Stack) - 1
	for {
		if i >= 1 && s.Stack[i].Kind == bytecode.VTop && s.Stack[i-1].IsWide() {
			i--
		}
		if i < 0 {
			return bytecode.VType{}, false
		}
		if depth == 0 {
			return s.Stack[i], true
		}
		depth--
		i--
	}
}

// InsertLocal returns a copy of s with v inserted at slot, shifting every
// local at or past slot up by v's width. Missing slots below slot are
// filled with top.
func (s State) InsertLocal(slot int, v bytecode.VType) State {
	out := s.Clone()
	for len(out.Locals) < slot {
		out.Locals = append(out.Locals, bytecode.Top)
	}
	ins := []bytecode.VType{v}
	if v.IsWide() {
		ins = append(ins, bytecode.Top)
	}
	out.Locals = append(out.Locals[:slot], append(ins, s.Locals[min(slot, len(s.Locals)):]...)...)
	return out
}

// Merge returns the state at a join where s meets o, and whether it
// differs from s. The stacks must have the same depth.
func (s State) Merge(o State) (State, bool, error) {
	if len(s.Stack) != len(o.Stack) {
		return s, false, fmt.Errorf("join of stacks %d and %d deep: %w", len(s.Stack), len(o.Stack), ErrStack)
	}
	out := State{
		Locals: make([]bytecode.VType, len(s.Locals)),
		Stack:  make([]bytecode.VType, len(s.Stack)),
		Label:  s.Label,
	}
	changed := false
	for i, v := range s.Stack {
		out.Stack[i] = MergeType(v, o.Stack[i])
		changed = changed || out.Stack[i] != v
	}
	for i, v := range s.Locals {
		w := bytecode.Top
		if i < len(o.Locals) {
			w = o.Locals[i]
		}
		out.Locals[i] = MergeType(v, w)
		changed = changed || out.Locals[i] != v
	}
	return out, changed, nil
}

// MergeType returns the type holding values of both a and b. Null merges
// into any reference; distinct references merge into java/lang/Object, or
// into an array of the merged element type when both are arrays of
// references. Anything else merges to top.
func MergeType(a, b bytecode.VType) bytecode.VType {
	switch {
	case a == b:
		return a
	case a.Kind == bytecode.VNull && b.Kind == bytecode.VObject:
		return b
	case b.Kind == bytecode.VNull && a.Kind == bytecode.VObject:
		return a
	case a.Kind == bytecode.VObject && b.Kind == bytecode.VObject:
		return bytecode.ObjectV(commonSuper(a.Name, b.Name))
	}
	return bytecode.Top
}

func commonSuper(a, b string) string {
	if a == b {
		return a
	}
	if len(a) < 2 || len(b) < 2 || a[0] != '[' || b[0] != '[' {
		return bytecode.ClassObject
	}
	ea, errA := bytecode.ParseType(a[1:])
	eb, errB := bytecode.ParseType(b[1:])
	if errA != nil || errB != nil || !ea.IsReference() || !eb.IsReference() {
		return bytecode.ClassObject
	}
	elem := commonSuper(ea.InternalName(), eb.InternalName())
	return "[" + bytecode.ObjectTypeOf(elem).Desc
}

func (s State) String() string {
	return fmt.Sprintf("%v | %v", s.Locals, s.Stack)
}

// push appends v in slot form.
func push(slots []bytecode.VType, v bytecode.VType) []bytecode.VType {
	slots = append(slots, v)
	if v.IsWide() {
		slots = append(slots, bytecode.Top)
	}
	return slots
}
