package bytecode

import (
	"fmt"
	"math"
)

// activation is one executing method invocation.
type activation struct {
	vm     *VM
	class  *Class
	method *Method
	body   *Body
	labels map[Label]int
	locals []Value
	stack  []Value
	pc     int
}

func (vm *VM) execute(c *Class, m *Method, args []Value) (Value, error) {
	if vm.MaxDepth > 0 && vm.depth >= vm.MaxDepth {
		return nil, ErrStackOverflow
	}
	vm.depth++
	defer func() { vm.depth-- }()

	b := m.Body
	labels, err := vm.labelIndex(b)
	if err != nil {
		return nil, err
	}
	mt, err := ParseMethodType(m.Desc)
	if err != nil {
		return nil, err
	}
	nargs := len(mt.Args)
	if !m.IsStatic() {
		nargs++
	}
	if len(args) != nargs {
		return nil, fmt.Errorf("%s.%s%s: want %d arguments, got %d", c.Name, m.Name, m.Desc, nargs, len(args))
	}

	a := &activation{
		vm:     vm,
		class:  c,
		method: m,
		body:   b,
		labels: labels,
		locals: make([]Value, max(b.MaxLocals, mt.ArgumentsSize(m.IsStatic()))),
		stack:  make([]Value, 0, b.MaxStack+1),
	}
	slot, ai := 0, 0
	if !m.IsStatic() {
		a.locals[0] = args[0]
		slot, ai = 1, 1
	}
	for _, t := range mt.Args {
		a.locals[slot] = args[ai]
		slot += t.Size()
		ai++
	}
	return a.run()
}

func (a *activation) run() (Value, error) {
	insns := a.body.Insns
	for {
		if a.pc >= len(insns) {
			return nil, fmt.Errorf("%w: execution fell off the end of %s.%s%s", ErrMalformed, a.class.Name, a.method.Name, a.method.Desc)
		}
		if a.vm.MaxSteps > 0 {
			a.vm.steps++
			if a.vm.steps > a.vm.MaxSteps {
				return nil, ErrStepLimit
			}
		}
		at := a.pc
		in := insns[at]
		a.pc++

		ret, done, err := a.step(in)
		if err != nil {
			t, ok := AsThrown(err)
			if !ok {
				return nil, err
			}
			if !a.handle(t, at) {
				return nil, t
			}
			continue
		}
		if done {
			return ret, nil
		}
	}
}

// handle transfers control to the first handler covering at whose type
// matches the thrown object.
func (a *activation) handle(t *Thrown, at int) bool {
	for _, h := range a.body.Handlers {
		if at < a.labels[h.Start] || at >= a.labels[h.End] {
			continue
		}
		if h.Type != "" && !a.vm.IsAssignable(t.Object.Class, h.Type) {
			continue
		}
		a.stack = append(a.stack[:0], t.Object)
		a.pc = a.labels[h.Target]
		return true
	}
	return false
}

func (a *activation) push(v Value) { a.stack = append(a.stack, v) }

func (a *activation) pop() Value {
	v := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]
	return v
}

func (a *activation) popI() int32   { return a.pop().(int32) }
func (a *activation) popL() int64   { return a.pop().(int64) }
func (a *activation) popF() float32 { return a.pop().(float32) }
func (a *activation) popD() float64 { return a.pop().(float64) }

// popWords pops values covering n stack words (wide values count twice)
// and returns them in stack order.
func (a *activation) popWords(n int) []Value {
	var out []Value
	for words := 0; words < n; {
		v := a.pop()
		out = append([]Value{v}, out...)
		words++
		if isWideValue(v) {
			words++
		}
	}
	return out
}

func (a *activation) pushAll(vs ...[]Value) {
	for _, v := range vs {
		a.stack = append(a.stack, v...)
	}
}

func (a *activation) jump(l Label) { a.pc = a.labels[l] }

func (a *activation) branch(cond bool, l Label) {
	if cond {
		a.jump(l)
	}
}

func (a *activation) throw(class, message string) error {
	return a.vm.Throw(class, message)
}

func (a *activation) popArray() (*Array, int32, error) {
	idx := a.popI()
	ref := a.pop()
	if ref == nil {
		return nil, 0, a.throw(ClassNPE, "array is null")
	}
	arr := ref.(*Array)
	if idx < 0 || int(idx) >= len(arr.Data) {
		return nil, 0, a.throw(ClassArrayIndex, fmt.Sprintf("Index %d out of bounds for length %d", idx, len(arr.Data)))
	}
	return arr, idx, nil
}

func (a *activation) step(in Insn) (Value, bool, error) {
	vm := a.vm
	op := in.Op
	switch op {
	case OpNop, OpLabel, OpFrame, OpLine:

	// Constants
	case OpAconstNull:
		a.push(nil)
	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		a.push(int32(op) - int32(OpIconst0))
	case OpLconst0, OpLconst1:
		a.push(int64(op - OpLconst0))
	case OpFconst0, OpFconst1, OpFconst2:
		a.push(float32(op - OpFconst0))
	case OpDconst0, OpDconst1:
		a.push(float64(op - OpDconst0))
	case OpBipush, OpSipush:
		a.push(in.Int)
	case OpLdc:
		a.push(constValue(in.Const))

	// Locals
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		a.push(a.locals[in.Var])
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		a.locals[in.Var] = a.pop()
	case OpIinc:
		a.locals[in.Var] = a.locals[in.Var].(int32) + int32(in.Incr)

	// Arrays
	case OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload:
		arr, idx, err := a.popArray()
		if err != nil {
			return nil, false, err
		}
		a.push(arr.Data[idx])
	case OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore:
		v := a.pop()
		arr, idx, err := a.popArray()
		if err != nil {
			return nil, false, err
		}
		switch op {
		case OpBastore:
			if arr.Elem == "Z" {
				v = v.(int32) & 1
			} else {
				v = int32(int8(v.(int32)))
			}
		case OpCastore:
			v = int32(uint16(v.(int32)))
		case OpSastore:
			v = int32(int16(v.(int32)))
		case OpAastore:
			if v != nil && isRefDesc(arr.Elem) && !vm.IsAssignable(ClassOf(v), descToName(arr.Elem)) {
				return nil, false, a.throw(ClassArrayStore, ClassOf(v))
			}
		}
		arr.Data[idx] = v
	case OpArraylength:
		ref := a.pop()
		if ref == nil {
			return nil, false, a.throw(ClassNPE, "array is null")
		}
		a.push(int32(len(ref.(*Array).Data)))
	case OpNewarray:
		n := a.popI()
		if n < 0 {
			return nil, false, a.throw(ClassNegSize, fmt.Sprint(n))
		}
		elem, ok := primitiveArrayElem[in.Int]
		if !ok {
			return nil, false, fmt.Errorf("%w: newarray type code %d", ErrMalformed, in.Int)
		}
		a.push(newArray(elem, int(n)))
	case OpAnewarray:
		n := a.popI()
		if n < 0 {
			return nil, false, a.throw(ClassNegSize, fmt.Sprint(n))
		}
		a.push(newArray(ObjectTypeOf(in.Owner).Desc, int(n)))
	case OpMultianewarray:
		dims := make([]int, in.Dims)
		for i := in.Dims - 1; i >= 0; i-- {
			n := a.popI()
			if n < 0 {
				return nil, false, a.throw(ClassNegSize, fmt.Sprint(n))
			}
			dims[i] = int(n)
		}
		a.push(newMultiArray(in.Desc, dims))

	// Stack
	case OpPop:
		a.pop()
	case OpPop2:
		a.popWords(2)
	case OpDup:
		v := a.pop()
		a.push(v)
		a.push(v)
	case OpDupX1:
		top, under := a.popWords(1), a.popWords(1)
		a.pushAll(top, under, top)
	case OpDupX2:
		top, under := a.popWords(1), a.popWords(2)
		a.pushAll(top, under, top)
	case OpDup2:
		top := a.popWords(2)
		a.pushAll(top, top)
	case OpDup2X1:
		top, under := a.popWords(2), a.popWords(1)
		a.pushAll(top, under, top)
	case OpDup2X2:
		top, under := a.popWords(2), a.popWords(2)
		a.pushAll(top, under, top)
	case OpSwap:
		v1, v2 := a.pop(), a.pop()
		a.push(v1)
		a.push(v2)

	// Arithmetic
	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor:
		b, x := a.popI(), a.popI()
		r, err := a.intOp(op, x, b)
		if err != nil {
			return nil, false, err
		}
		a.push(r)
	case OpLshl, OpLshr, OpLushr:
		s, x := a.popI(), a.popL()
		switch op {
		case OpLshl:
			a.push(x << (uint32(s) & 63))
		case OpLshr:
			a.push(x >> (uint32(s) & 63))
		default:
			a.push(int64(uint64(x) >> (uint32(s) & 63)))
		}
	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem, OpLand, OpLor, OpLxor:
		b, x := a.popL(), a.popL()
		r, err := a.longOp(op, x, b)
		if err != nil {
			return nil, false, err
		}
		a.push(r)
	case OpFadd, OpFsub, OpFmul, OpFdiv, OpFrem:
		b, x := a.popF(), a.popF()
		a.push(float32(floatOp(op-OpFadd+OpDadd, float64(x), float64(b))))
	case OpDadd, OpDsub, OpDmul, OpDdiv, OpDrem:
		b, x := a.popD(), a.popD()
		a.push(floatOp(op, x, b))
	case OpIneg:
		a.push(-a.popI())
	case OpLneg:
		a.push(-a.popL())
	case OpFneg:
		a.push(-a.popF())
	case OpDneg:
		a.push(-a.popD())

	// Conversions
	case OpI2l:
		a.push(int64(a.popI()))
	case OpI2f:
		a.push(float32(a.popI()))
	case OpI2d:
		a.push(float64(a.popI()))
	case OpL2i:
		a.push(int32(a.popL()))
	case OpL2f:
		a.push(float32(a.popL()))
	case OpL2d:
		a.push(float64(a.popL()))
	case OpF2i:
		a.push(floatToInt32(float64(a.popF())))
	case OpF2l:
		a.push(floatToInt64(float64(a.popF())))
	case OpF2d:
		a.push(float64(a.popF()))
	case OpD2i:
		a.push(floatToInt32(a.popD()))
	case OpD2l:
		a.push(floatToInt64(a.popD()))
	case OpD2f:
		a.push(float32(a.popD()))
	case OpI2b:
		a.push(int32(int8(a.popI())))
	case OpI2c:
		a.push(int32(uint16(a.popI())))
	case OpI2s:
		a.push(int32(int16(a.popI())))

	// Comparison
	case OpLcmp:
		b, x := a.popL(), a.popL()
		a.push(compare(x < b, x > b, false, false))
	case OpFcmpl, OpFcmpg:
		b, x := a.popF(), a.popF()
		nan := math.IsNaN(float64(x)) || math.IsNaN(float64(b))
		a.push(compare(x < b, x > b, nan, op == OpFcmpg))
	case OpDcmpl, OpDcmpg:
		b, x := a.popD(), a.popD()
		nan := math.IsNaN(x) || math.IsNaN(b)
		a.push(compare(x < b, x > b, nan, op == OpDcmpg))

	// Control flow
	case OpIfeq:
		a.branch(a.popI() == 0, in.Target)
	case OpIfne:
		a.branch(a.popI() != 0, in.Target)
	case OpIflt:
		a.branch(a.popI() < 0, in.Target)
	case OpIfge:
		a.branch(a.popI() >= 0, in.Target)
	case OpIfgt:
		a.branch(a.popI() > 0, in.Target)
	case OpIfle:
		a.branch(a.popI() <= 0, in.Target)
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		b, x := a.popI(), a.popI()
		a.branch(intCond(op-OpIfIcmpeq+OpIfeq, x, b), in.Target)
	case OpIfAcmpeq:
		b, x := a.pop(), a.pop()
		a.branch(x == b, in.Target)
	case OpIfAcmpne:
		b, x := a.pop(), a.pop()
		a.branch(x != b, in.Target)
	case OpIfnull:
		a.branch(a.pop() == nil, in.Target)
	case OpIfnonnull:
		a.branch(a.pop() != nil, in.Target)
	case OpGoto, OpGotoW:
		a.jump(in.Target)
	case OpTableswitch, OpLookupswitch:
		key := a.popI()
		target := in.Switch.Default
		for i, k := range in.Switch.Keys {
			if k == key {
				target = in.Switch.Targets[i]
				break
			}
		}
		a.jump(target)
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		return a.pop(), true, nil
	case OpReturn:
		return nil, true, nil

	// Fields
	case OpGetstatic:
		v, err := vm.Static(in.Owner, in.Name)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			v = zeroValue(in.Desc)
		}
		a.push(v)
	case OpPutstatic:
		if err := vm.SetStatic(in.Owner, in.Name, a.pop()); err != nil {
			return nil, false, err
		}
	case OpGetfield:
		ref := a.pop()
		obj, ok := ref.(*Object)
		if !ok {
			return nil, false, a.throw(ClassNPE, fmt.Sprintf("cannot read field %q", in.Name))
		}
		v, ok := obj.Fields[in.Name]
		if !ok {
			v = zeroValue(in.Desc)
		}
		a.push(v)
	case OpPutfield:
		v := a.pop()
		obj, ok := a.pop().(*Object)
		if !ok {
			return nil, false, a.throw(ClassNPE, fmt.Sprintf("cannot assign field %q", in.Name))
		}
		obj.Fields[in.Name] = v

	// Invocation
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return nil, false, a.invoke(in)
	case OpInvokedynamic:
		return nil, false, fmt.Errorf("%w: invokedynamic %s is not supported by the interpreter", ErrNoSuchMethod, in.Name)

	// Objects
	case OpNew:
		if info := vm.lookup(in.Owner); info != nil {
			if err := vm.initialize(info); err != nil {
				return nil, false, err
			}
		}
		a.push(vm.NewObject(in.Owner))
	case OpAthrow:
		obj, ok := a.pop().(*Object)
		if !ok {
			return nil, false, a.throw(ClassNPE, "throw of null")
		}
		return nil, false, &Thrown{Object: obj}
	case OpCheckcast:
		v := a.stack[len(a.stack)-1]
		if v != nil && !vm.IsAssignable(ClassOf(v), in.Owner) {
			return nil, false, a.throw(ClassCast, fmt.Sprintf("%s cannot be cast to %s", ClassOf(v), in.Owner))
		}
	case OpInstanceof:
		v := a.pop()
		if v != nil && vm.IsAssignable(ClassOf(v), in.Owner) {
			a.push(int32(1))
		} else {
			a.push(int32(0))
		}
	case OpMonitorenter, OpMonitorexit:
		if a.pop() == nil {
			return nil, false, a.throw(ClassNPE, "monitor on null")
		}
	default:
		return nil, false, fmt.Errorf("%w: opcode %s not executable", ErrMalformed, op)
	}
	return nil, false, nil
}

func (a *activation) invoke(in Insn) error {
	vm := a.vm
	mt, err := ParseMethodType(in.Desc)
	if err != nil {
		return err
	}
	n := len(mt.Args)
	static := in.Op == OpInvokestatic
	if !static {
		n++
	}
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = a.pop()
	}

	owner := in.Owner
	switch in.Op {
	case OpInvokestatic:
		if info := vm.lookup(owner); info != nil {
			if err := vm.initialize(info); err != nil {
				return err
			}
		}
	case OpInvokevirtual, OpInvokeinterface:
		if args[0] == nil {
			return a.throw(ClassNPE, fmt.Sprintf("cannot invoke %s.%s on null", in.Owner, in.Name))
		}
		if cls := ClassOf(args[0]); cls != "" {
			owner = cls
		}
	case OpInvokespecial:
		if args[0] == nil {
			return a.throw(ClassNPE, fmt.Sprintf("cannot invoke %s.%s on null", in.Owner, in.Name))
		}
	}
	r, ok := vm.resolve(owner, in.Name, in.Desc)
	if !ok && owner != in.Owner {
		r, ok = vm.resolve(in.Owner, in.Name, in.Desc)
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, in.Owner, in.Name, in.Desc)
	}
	ret, err := vm.call(r, args)
	if err != nil {
		return err
	}
	if mt.Return.Sort != SortVoid {
		a.push(ret)
	}
	return nil
}

func (a *activation) intOp(op Opcode, x, b int32) (int32, error) {
	switch op {
	case OpIadd:
		return x + b, nil
	case OpIsub:
		return x - b, nil
	case OpImul:
		return x * b, nil
	case OpIdiv, OpIrem:
		if b == 0 {
			return 0, a.throw(ClassArithmetic, "/ by zero")
		}
		if op == OpIdiv {
			return x / b, nil
		}
		return x % b, nil
	case OpIshl:
		return x << (uint32(b) & 31), nil
	case OpIshr:
		return x >> (uint32(b) & 31), nil
	case OpIushr:
		return int32(uint32(x) >> (uint32(b) & 31)), nil
	case OpIand:
		return x & b, nil
	case OpIor:
		return x | b, nil
	}
	return x ^ b, nil
}

func (a *activation) longOp(op Opcode, x, b int64) (int64, error) {
	switch op {
	case OpLadd:
		return x + b, nil
	case OpLsub:
		return x - b, nil
	case OpLmul:
		return x * b, nil
	case OpLdiv, OpLrem:
		if b == 0 {
			return 0, a.throw(ClassArithmetic, "/ by zero")
		}
		if op == OpLdiv {
			return x / b, nil
		}
		return x % b, nil
	case OpLand:
		return x & b, nil
	case OpLor:
		return x | b, nil
	}
	return x ^ b, nil
}

func floatOp(op Opcode, x, b float64) float64 {
	switch op {
	case OpDadd:
		return x + b
	case OpDsub:
		return x - b
	case OpDmul:
		return x * b
	case OpDdiv:
		return x / b
	}
	return math.Mod(x, b)
}

func intCond(op Opcode, x, b int32) bool {
	switch op {
	case OpIfeq:
		return x == b
	case OpIfne:
		return x != b
	case OpIflt:
		return x < b
	case OpIfge:
		return x >= b
	case OpIfgt:
		return x > b
	}
	return x <= b
}

func compare(less, greater, nan, nanIsGreater bool) int32 {
	switch {
	case nan && nanIsGreater:
		return 1
	case nan:
		return -1
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}
