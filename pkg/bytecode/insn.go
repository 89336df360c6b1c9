package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// Label identifies a position in a Body's instruction list. Labels are
// allocated per body by NewLabel; the zero Label is never allocated.
type Label int

// ConstKind is the kind of an ldc constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass // Str holds an internal name
)

// Constant is an ldc operand.
type Constant struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
}

// IntConst returns an int constant.
func IntConst(v int32) *Constant { return &Constant{Kind: ConstInt, Int: int64(v)} }

// LongConst returns a long constant.
func LongConst(v int64) *Constant { return &Constant{Kind: ConstLong, Int: v} }

// FloatConst returns a float constant.
func FloatConst(v float32) *Constant { return &Constant{Kind: ConstFloat, Float: float64(v)} }

// DoubleConst returns a double constant.
func DoubleConst(v float64) *Constant { return &Constant{Kind: ConstDouble, Float: v} }

// StringConst returns a string constant.
func StringConst(s string) *Constant { return &Constant{Kind: ConstString, Str: s} }

// ClassConst returns a class literal constant.
func ClassConst(internalName string) *Constant { return &Constant{Kind: ConstClass, Str: internalName} }

// VType returns the verification type pushed by ldc of this constant.
func (c *Constant) VType() VType {
	switch c.Kind {
	case ConstInt:
		return Int
	case ConstLong:
		return Long
	case ConstFloat:
		return Float
	case ConstDouble:
		return Double
	case ConstString:
		return ObjectV("java/lang/String")
	case ConstClass:
		return ObjectV("java/lang/Class")
	}
	return Top
}

// IsWide returns true for long and double constants.
func (c *Constant) IsWide() bool {
	return c.Kind == ConstLong || c.Kind == ConstDouble
}

// String renders the constant in assembler syntax.
func (c *Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstLong:
		return strconv.FormatInt(c.Int, 10) + "L"
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 32) + "F"
	case ConstDouble:
		return strconv.FormatFloat(c.Float, 'g', -1, 64) + "D"
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstClass:
		return "class " + c.Str
	}
	return "?"
}

// SwitchTable holds the operands of tableswitch and lookupswitch.
// For tableswitch, Keys holds Min..Max consecutively.
type SwitchTable struct {
	Default Label   `cbor:"1,keyasint"`
	Keys    []int32 `cbor:"2,keyasint,omitempty"`
	Targets []Label `cbor:"3,keyasint,omitempty"`
}

// Insn is one instruction or pseudo instruction. Only the fields named by
// the opcode's OperandKind are meaningful.
type Insn struct {
	Op     Opcode       `cbor:"1,keyasint"`
	Var    int          `cbor:"2,keyasint,omitempty"`  // KindVar, KindIinc
	Incr   int          `cbor:"3,keyasint,omitempty"`  // KindIinc
	Int    int32        `cbor:"4,keyasint,omitempty"`  // KindInt, KindLine
	Const  *Constant    `cbor:"5,keyasint,omitempty"`  // KindLdc
	Owner  string       `cbor:"6,keyasint,omitempty"`  // KindField, KindMethod, KindType
	Name   string       `cbor:"7,keyasint,omitempty"`  // KindField, KindMethod, KindDynamic
	Desc   string       `cbor:"8,keyasint,omitempty"`  // KindField, KindMethod, KindDynamic, KindMultiArray
	Itf    bool         `cbor:"9,keyasint,omitempty"`  // KindMethod
	Target Label        `cbor:"10,keyasint,omitempty"` // KindJump, KindLabel
	Switch *SwitchTable `cbor:"11,keyasint,omitempty"` // KindSwitch
	Dims   int          `cbor:"12,keyasint,omitempty"` // KindMultiArray
	Frame  *Frame       `cbor:"13,keyasint,omitempty"` // KindFrame
}

// Insn constructors, named after the operand kind they build.

// Simple returns an instruction without operands.
func Simple(op Opcode) Insn { return Insn{Op: op} }

// IntInsn returns bipush, sipush or newarray.
func IntInsn(op Opcode, v int32) Insn { return Insn{Op: op, Int: v} }

// VarInsn returns a local-variable load or store.
func VarInsn(op Opcode, slot int) Insn { return Insn{Op: op, Var: slot} }

// IincInsn returns iinc.
func IincInsn(slot, incr int) Insn { return Insn{Op: OpIinc, Var: slot, Incr: incr} }

// LdcInsn returns ldc.
func LdcInsn(c *Constant) Insn { return Insn{Op: OpLdc, Const: c} }

// FieldInsn returns a field access.
func FieldInsn(op Opcode, owner, name, desc string) Insn {
	return Insn{Op: op, Owner: owner, Name: name, Desc: desc}
}

// MethodInsn returns an invocation.
func MethodInsn(op Opcode, owner, name, desc string, itf bool) Insn {
	return Insn{Op: op, Owner: owner, Name: name, Desc: desc, Itf: itf}
}

// TypeInsn returns new, anewarray, checkcast or instanceof.
func TypeInsn(op Opcode, internalName string) Insn { return Insn{Op: op, Owner: internalName} }

// JumpInsn returns a branch to l.
func JumpInsn(op Opcode, l Label) Insn { return Insn{Op: op, Target: l} }

// LabelInsn marks l.
func LabelInsn(l Label) Insn { return Insn{Op: OpLabel, Target: l} }

// FrameInsn attaches f to the preceding label.
func FrameInsn(f *Frame) Insn { return Insn{Op: OpFrame, Frame: f} }

// LineInsn records a source line for the preceding label.
func LineInsn(line int32) Insn { return Insn{Op: OpLine, Int: line} }

// PushInt returns the shortest instruction pushing v.
func PushInt(v int32) Insn {
	switch {
	case v >= -1 && v <= 5:
		return Simple(OpIconst0 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return IntInsn(OpBipush, v)
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return IntInsn(OpSipush, v)
	}
	return LdcInsn(IntConst(v))
}

// Clone returns a deep copy of the instruction.
func (in Insn) Clone() Insn {
	if in.Const != nil {
		c := *in.Const
		in.Const = &c
	}
	if in.Switch != nil {
		in.Switch = &SwitchTable{
			Default: in.Switch.Default,
			Keys:    append([]int32(nil), in.Switch.Keys...),
			Targets: append([]Label(nil), in.Switch.Targets...),
		}
	}
	in.Frame = in.Frame.Clone()
	return in
}

// Handler is an exception-table entry. An empty Type catches everything.
type Handler struct {
	Start  Label  `cbor:"1,keyasint"`
	End    Label  `cbor:"2,keyasint"`
	Target Label  `cbor:"3,keyasint"`
	Type   string `cbor:"4,keyasint,omitempty"`
}

// LocalVar is a local-variable debug table entry covering [Start, End).
type LocalVar struct {
	Name  string `cbor:"1,keyasint"`
	Desc  string `cbor:"2,keyasint"`
	Start Label  `cbor:"3,keyasint"`
	End   Label  `cbor:"4,keyasint"`
	Index int    `cbor:"5,keyasint"`
}

// Body is a compiled method body: the instruction list plus its tables.
// A Body is owned by whoever is rewriting it; passes never share one.
type Body struct {
	Insns     []Insn     `cbor:"1,keyasint"`
	MaxStack  int        `cbor:"2,keyasint"`
	MaxLocals int        `cbor:"3,keyasint"`
	LocalVars []LocalVar `cbor:"4,keyasint,omitempty"`
	Handlers  []Handler  `cbor:"5,keyasint,omitempty"`
	Labels    Label      `cbor:"6,keyasint,omitempty"` // highest allocated label
}

// NewLabel allocates a fresh label.
func (b *Body) NewLabel() Label {
	b.Labels++
	return b.Labels
}

// Emit appends instructions and returns the index of the first one.
func (b *Body) Emit(insns ...Insn) int {
	idx := len(b.Insns)
	b.Insns = append(b.Insns, insns...)
	return idx
}

// Mark allocates a label, emits it and returns it.
func (b *Body) Mark() Label {
	l := b.NewLabel()
	b.Emit(LabelInsn(l))
	return l
}

// Clone returns a deep copy of the body.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	c := &Body{
		Insns:     make([]Insn, len(b.Insns)),
		MaxStack:  b.MaxStack,
		MaxLocals: b.MaxLocals,
		LocalVars: append([]LocalVar(nil), b.LocalVars...),
		Handlers:  append([]Handler(nil), b.Handlers...),
		Labels:    b.Labels,
	}
	for i, in := range b.Insns {
		c.Insns[i] = in.Clone()
	}
	return c
}

// LabelIndex maps each label to the index of its LABEL instruction.
func (b *Body) LabelIndex() (map[Label]int, error) {
	idx := make(map[Label]int)
	for i, in := range b.Insns {
		if in.Op != OpLabel {
			continue
		}
		if _, dup := idx[in.Target]; dup {
			return nil, fmt.Errorf("%w: label L%d defined twice", ErrMalformed, in.Target)
		}
		idx[in.Target] = i
	}
	return idx, nil
}

// Validate checks that every referenced label is defined and that every
// opcode is modeled.
func (b *Body) Validate() error {
	idx, err := b.LabelIndex()
	if err != nil {
		return err
	}
	ref := func(l Label, what string) error {
		if _, ok := idx[l]; !ok {
			return fmt.Errorf("%w: %s references undefined label L%d", ErrMalformed, what, l)
		}
		return nil
	}
	for i, in := range b.Insns {
		if !in.Op.Known() {
			return fmt.Errorf("%w: unknown opcode 0x%02X at %d", ErrMalformed, byte(in.Op), i)
		}
		switch in.Op.Kind() {
		case KindJump:
			if err := ref(in.Target, in.Op.String()); err != nil {
				return err
			}
		case KindSwitch:
			if in.Switch == nil {
				return fmt.Errorf("%w: %s without table at %d", ErrMalformed, in.Op, i)
			}
			if err := ref(in.Switch.Default, in.Op.String()); err != nil {
				return err
			}
			for _, t := range in.Switch.Targets {
				if err := ref(t, in.Op.String()); err != nil {
					return err
				}
			}
		case KindLdc:
			if in.Const == nil {
				return fmt.Errorf("%w: ldc without constant at %d", ErrMalformed, i)
			}
		case KindFrame:
			if in.Frame == nil {
				return fmt.Errorf("%w: frame without content at %d", ErrMalformed, i)
			}
		}
		if in.Op == OpLabel && in.Target > b.Labels {
			return fmt.Errorf("%w: label L%d above allocated range", ErrMalformed, in.Target)
		}
	}
	for _, h := range b.Handlers {
		for _, l := range []Label{h.Start, h.End, h.Target} {
			if err := ref(l, "handler"); err != nil {
				return err
			}
		}
	}
	for _, lv := range b.LocalVars {
		if err := ref(lv.Start, "local "+lv.Name); err != nil {
			return err
		}
		if err := ref(lv.End, "local "+lv.Name); err != nil {
			return err
		}
	}
	return nil
}
