package frame

import (
	"errors"
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
)

var (
	// ErrNoFrame is returned when the type state at an instruction is
	// unknown: it follows a block end and neither a frame nor a forward
	// branch describes it.
	ErrNoFrame = errors.New("no frame for instruction")

	// ErrUnlabeledNew is returned for a new instruction without a label
	// directly before it. NormalizeNew adds the missing labels.
	ErrUnlabeledNew = errors.New("new instruction without label")

	// ErrStack is returned when an instruction pops more values than the
	// state holds or pops a value of the wrong width.
	ErrStack = errors.New("operand stack mismatch")
)

// Step returns the state after executing in from s. s is not modified.
// owner is the class declaring the method, used when a constructor call
// initializes uninitializedThis. Step does not follow control flow: after
// a branch it returns the fall-through state, and after an instruction
// that ends a block it returns the state with an empty stack.
func Step(owner string, s State, in bytecode.Insn) (State, error) {
	st := &stepper{s: s.Clone(), in: in, pending: s.Label}
	st.s.Label = 0
	st.exec(owner)
	if st.err != nil {
		return State{}, fmt.Errorf("%s: %w", bytecode.DisassembleInsn(in), st.err)
	}
	return st.s, nil
}

type stepper struct {
	s       State
	in      bytecode.Insn
	pending bytecode.Label // label directly before in, if any
	err     error
}

func (st *stepper) push(vs ...bytecode.VType) {
	for _, v := range vs {
		st.s.Stack = push(st.s.Stack, v)
	}
}

// pop removes n slots.
func (st *stepper) pop(n int) []bytecode.VType {
	if st.err != nil {
		return nil
	}
	if n > len(st.s.Stack) {
		st.err = fmt.Errorf("pop %d from %d: %w", n, len(st.s.Stack), ErrStack)
		return nil
	}
	out := append([]bytecode.VType(nil), st.s.Stack[len(st.s.Stack)-n:]...)
	st.s.Stack = st.s.Stack[:len(st.s.Stack)-n]
	return out
}

// popValue removes the top value, one or two slots wide.
func (st *stepper) popValue() bytecode.VType {
	v, ok := st.s.Top(0)
	if !ok {
		st.err = fmt.Errorf("pop from empty stack: %w", ErrStack)
		return bytecode.Top
	}
	if v.IsWide() {
		st.pop(2)
	} else {
		st.pop(1)
	}
	return v
}

func (st *stepper) popType(t bytecode.Type) {
	st.pop(t.Size())
}

func (st *stepper) setLocal(slot int, v bytecode.VType) {
	need := slot + 1
	if v.IsWide() {
		need++
	}
	for len(st.s.Locals) < need {
		st.s.Locals = append(st.s.Locals, bytecode.Top)
	}
	// Overwriting the upper half of a wide value invalidates it.
	if slot > 0 && st.s.Locals[slot-1].IsWide() {
		st.s.Locals[slot-1] = bytecode.Top
	}
	st.s.Locals[slot] = v
	if v.IsWide() {
		st.s.Locals[slot+1] = bytecode.Top
	}
}

func (st *stepper) local(slot int) bytecode.VType {
	if slot >= len(st.s.Locals) {
		return bytecode.Top
	}
	return st.s.Locals[slot]
}

// replace swaps every occurrence of from for to, as a constructor call
// does for the value it initializes.
func (st *stepper) replace(from, to bytecode.VType) {
	for i, v := range st.s.Locals {
		if v == from {
			st.s.Locals[i] = to
		}
	}
	for i, v := range st.s.Stack {
		if v == from {
			st.s.Stack[i] = to
		}
	}
}

func (st *stepper) exec(owner string) {
	in := st.in
	op := in.Op
	switch op {
	case bytecode.OpLabel:
		st.s.Label = in.Target
	case bytecode.OpFrame:
		st.s = FromFrame(in.Frame)
		st.s.Label = st.pending
	case bytecode.OpLine:
		st.s.Label = st.pending
	case bytecode.OpNop:

	case bytecode.OpAconstNull:
		st.push(bytecode.Null)
	case bytecode.OpIconstM1, bytecode.OpIconst0, bytecode.OpIconst1, bytecode.OpIconst2,
		bytecode.OpIconst3, bytecode.OpIconst4, bytecode.OpIconst5, bytecode.OpBipush, bytecode.OpSipush:
		st.push(bytecode.Int)
	case bytecode.OpLconst0, bytecode.OpLconst1:
		st.push(bytecode.Long)
	case bytecode.OpFconst0, bytecode.OpFconst1, bytecode.OpFconst2:
		st.push(bytecode.Float)
	case bytecode.OpDconst0, bytecode.OpDconst1:
		st.push(bytecode.Double)
	case bytecode.OpLdc:
		st.push(in.Const.VType())

	case bytecode.OpIload:
		st.push(bytecode.Int)
	case bytecode.OpLload:
		st.push(bytecode.Long)
	case bytecode.OpFload:
		st.push(bytecode.Float)
	case bytecode.OpDload:
		st.push(bytecode.Double)
	case bytecode.OpAload:
		st.push(st.local(in.Var))
	case bytecode.OpIstore, bytecode.OpLstore, bytecode.OpFstore, bytecode.OpDstore, bytecode.OpAstore:
		st.setLocal(in.Var, st.popValue())
	case bytecode.OpIinc:

	case bytecode.OpIaload, bytecode.OpBaload, bytecode.OpCaload, bytecode.OpSaload:
		st.pop(2)
		st.push(bytecode.Int)
	case bytecode.OpLaload:
		st.pop(2)
		st.push(bytecode.Long)
	case bytecode.OpFaload:
		st.pop(2)
		st.push(bytecode.Float)
	case bytecode.OpDaload:
		st.pop(2)
		st.push(bytecode.Double)
	case bytecode.OpAaload:
		st.pop(1)
		arr := st.popValue()
		st.push(ElemOf(arr))
	case bytecode.OpIastore, bytecode.OpFastore, bytecode.OpAastore, bytecode.OpBastore,
		bytecode.OpCastore, bytecode.OpSastore:
		st.pop(3)
	case bytecode.OpLastore, bytecode.OpDastore:
		st.pop(4)

	case bytecode.OpPop:
		st.pop(1)
	case bytecode.OpPop2:
		st.pop(2)
	case bytecode.OpDup:
		top := st.pop(1)
		st.s.Stack = append(st.s.Stack, append(top, top...)...)
	case bytecode.OpDupX1:
		st.dupX(1, 1)
	case bytecode.OpDupX2:
		st.dupX(1, 2)
	case bytecode.OpDup2:
		top := st.pop(2)
		st.s.Stack = append(st.s.Stack, append(top, top...)...)
	case bytecode.OpDup2X1:
		st.dupX(2, 1)
	case bytecode.OpDup2X2:
		st.dupX(2, 2)
	case bytecode.OpSwap:
		top := st.pop(2)
		if top != nil {
			st.s.Stack = append(st.s.Stack, top[1], top[0])
		}

	case bytecode.OpIadd, bytecode.OpIsub, bytecode.OpImul, bytecode.OpIdiv, bytecode.OpIrem,
		bytecode.OpIshl, bytecode.OpIshr, bytecode.OpIushr, bytecode.OpIand, bytecode.OpIor, bytecode.OpIxor:
		st.pop(2)
		st.push(bytecode.Int)
	case bytecode.OpLadd, bytecode.OpLsub, bytecode.OpLmul, bytecode.OpLdiv, bytecode.OpLrem,
		bytecode.OpLand, bytecode.OpLor, bytecode.OpLxor:
		st.pop(4)
		st.push(bytecode.Long)
	case bytecode.OpLshl, bytecode.OpLshr, bytecode.OpLushr:
		st.pop(3)
		st.push(bytecode.Long)
	case bytecode.OpFadd, bytecode.OpFsub, bytecode.OpFmul, bytecode.OpFdiv, bytecode.OpFrem:
		st.pop(2)
		st.push(bytecode.Float)
	case bytecode.OpDadd, bytecode.OpDsub, bytecode.OpDmul, bytecode.OpDdiv, bytecode.OpDrem:
		st.pop(4)
		st.push(bytecode.Double)
	case bytecode.OpIneg, bytecode.OpLneg, bytecode.OpFneg, bytecode.OpDneg:
		st.push(st.popValue())

	case bytecode.OpI2l, bytecode.OpF2l, bytecode.OpD2l:
		st.popValue()
		st.push(bytecode.Long)
	case bytecode.OpI2f, bytecode.OpL2f, bytecode.OpD2f:
		st.popValue()
		st.push(bytecode.Float)
	case bytecode.OpI2d, bytecode.OpL2d, bytecode.OpF2d:
		st.popValue()
		st.push(bytecode.Double)
	case bytecode.OpL2i, bytecode.OpF2i, bytecode.OpD2i, bytecode.OpI2b, bytecode.OpI2c, bytecode.OpI2s:
		st.popValue()
		st.push(bytecode.Int)

	case bytecode.OpLcmp, bytecode.OpDcmpl, bytecode.OpDcmpg:
		st.pop(4)
		st.push(bytecode.Int)
	case bytecode.OpFcmpl, bytecode.OpFcmpg:
		st.pop(2)
		st.push(bytecode.Int)

	case bytecode.OpIfeq, bytecode.OpIfne, bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt,
		bytecode.OpIfle, bytecode.OpIfnull, bytecode.OpIfnonnull:
		st.pop(1)
	case bytecode.OpIfIcmpeq, bytecode.OpIfIcmpne, bytecode.OpIfIcmplt, bytecode.OpIfIcmpge,
		bytecode.OpIfIcmpgt, bytecode.OpIfIcmple, bytecode.OpIfAcmpeq, bytecode.OpIfAcmpne:
		st.pop(2)
	case bytecode.OpGoto, bytecode.OpGotoW:
	case bytecode.OpJsr, bytecode.OpJsrW, bytecode.OpRet:
		st.err = fmt.Errorf("%w: %s left in body; inline subroutines first", bytecode.ErrMalformed, op)

	case bytecode.OpTableswitch, bytecode.OpLookupswitch:
		st.pop(1)
	case bytecode.OpIreturn, bytecode.OpLreturn, bytecode.OpFreturn, bytecode.OpDreturn,
		bytecode.OpAreturn, bytecode.OpReturn, bytecode.OpAthrow:
		st.s.Stack = nil

	case bytecode.OpGetstatic:
		st.push(bytecode.VTypeOf(st.fieldType()))
	case bytecode.OpPutstatic:
		st.popType(st.fieldType())
	case bytecode.OpGetfield:
		t := st.fieldType()
		st.pop(1)
		st.push(bytecode.VTypeOf(t))
	case bytecode.OpPutfield:
		st.popType(st.fieldType())
		st.pop(1)

	case bytecode.OpInvokevirtual, bytecode.OpInvokespecial, bytecode.OpInvokestatic,
		bytecode.OpInvokeinterface, bytecode.OpInvokedynamic:
		st.invoke(owner)

	case bytecode.OpNew:
		if st.pending == 0 {
			st.err = ErrUnlabeledNew
			return
		}
		st.push(bytecode.Uninitialized(st.pending))
	case bytecode.OpNewarray:
		st.pop(1)
		elem, ok := arrayTypeCodes[in.Int]
		if !ok {
			st.err = fmt.Errorf("newarray type code %d", in.Int)
			return
		}
		st.push(bytecode.ObjectV("[" + elem))
	case bytecode.OpAnewarray:
		st.pop(1)
		st.push(bytecode.ObjectV("[" + bytecode.ObjectTypeOf(in.Owner).Desc))
	case bytecode.OpArraylength:
		st.pop(1)
		st.push(bytecode.Int)
	case bytecode.OpCheckcast:
		st.pop(1)
		st.push(bytecode.ObjectV(in.Owner))
	case bytecode.OpInstanceof:
		st.pop(1)
		st.push(bytecode.Int)
	case bytecode.OpMonitorenter, bytecode.OpMonitorexit:
		st.pop(1)
	case bytecode.OpMultianewarray:
		st.pop(in.Dims)
		st.push(bytecode.ObjectV(in.Desc))
	default:
		st.err = fmt.Errorf("opcode %s has no transfer function", op)
	}
}

func (st *stepper) dupX(n, under int) {
	top := st.pop(n)
	below := st.pop(under)
	if st.err != nil {
		return
	}
	st.s.Stack = append(st.s.Stack, top...)
	st.s.Stack = append(st.s.Stack, below...)
	st.s.Stack = append(st.s.Stack, top...)
}

func (st *stepper) fieldType() bytecode.Type {
	t, err := bytecode.ParseType(st.in.Desc)
	if err != nil && st.err == nil {
		st.err = err
	}
	return t
}

func (st *stepper) invoke(owner string) {
	in := st.in
	mt, err := bytecode.ParseMethodType(in.Desc)
	if err != nil {
		st.err = err
		return
	}
	for i := len(mt.Args) - 1; i >= 0; i-- {
		st.popType(mt.Args[i])
	}
	if in.Op != bytecode.OpInvokestatic && in.Op != bytecode.OpInvokedynamic {
		recv := st.popValue()
		if in.Op == bytecode.OpInvokespecial && in.Name == "<init>" {
			switch recv.Kind {
			case bytecode.VUninitializedThis:
				st.replace(recv, bytecode.ObjectV(owner))
			case bytecode.VUninitialized:
				st.replace(recv, bytecode.ObjectV(in.Owner))
			}
		}
	}
	if mt.Return.Sort != bytecode.SortVoid {
		st.push(bytecode.VTypeOf(mt.Return))
	}
}

var arrayTypeCodes = map[int32]string{
	bytecode.ArrayBoolean: "Z",
	bytecode.ArrayChar:    "C",
	bytecode.ArrayFloat:   "F",
	bytecode.ArrayDouble:  "D",
	bytecode.ArrayByte:    "B",
	bytecode.ArrayShort:   "S",
	bytecode.ArrayInt:     "I",
	bytecode.ArrayLong:    "J",
}

// ElemOf returns the type of the elements of an array of type arr. The
// element of a null array is null; anything that is not a known array
// type yields java/lang/Object.
func ElemOf(arr bytecode.VType) bytecode.VType {
	if arr.Kind == bytecode.VNull {
		return bytecode.Null
	}
	if arr.Kind != bytecode.VObject || len(arr.Name) < 2 || arr.Name[0] != '[' {
		return bytecode.ObjectV(bytecode.ClassObject)
	}
	t, err := bytecode.ParseType(arr.Name[1:])
	if err != nil {
		return bytecode.ObjectV(bytecode.ClassObject)
	}
	return bytecode.VTypeOf(t)
}
