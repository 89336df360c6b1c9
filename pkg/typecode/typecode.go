// Package typecode maps each value category to the opcodes that move
// values of that category, the instruction that pushes its default value,
// and its width in local slots.
package typecode

import (
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// Code describes one value category.
type Code struct {
	Sort   bytecode.Sort
	Load   bytecode.Opcode
	Store  bytecode.Opcode
	Return bytecode.Opcode
	Null   bytecode.Opcode // pushes the default value; OpNop for void
	Size   int
}

var codes = map[bytecode.Sort]Code{
	bytecode.SortVoid:    {bytecode.SortVoid, bytecode.OpNop, bytecode.OpNop, bytecode.OpReturn, bytecode.OpNop, 0},
	bytecode.SortBoolean: {bytecode.SortBoolean, bytecode.OpIload, bytecode.OpIstore, bytecode.OpIreturn, bytecode.OpIconst0, 1},
	bytecode.SortChar:    {bytecode.SortChar, bytecode.OpIload, bytecode.OpIstore, bytecode.OpIreturn, bytecode.OpIconst0, 1},
	bytecode.SortByte:    {bytecode.SortByte, bytecode.OpIload, bytecode.OpIstore, bytecode.OpIreturn, bytecode.OpIconst0, 1},
	bytecode.SortShort:   {bytecode.SortShort, bytecode.OpIload, bytecode.OpIstore, bytecode.OpIreturn, bytecode.OpIconst0, 1},
	bytecode.SortInt:     {bytecode.SortInt, bytecode.OpIload, bytecode.OpIstore, bytecode.OpIreturn, bytecode.OpIconst0, 1},
	bytecode.SortFloat:   {bytecode.SortFloat, bytecode.OpFload, bytecode.OpFstore, bytecode.OpFreturn, bytecode.OpFconst0, 1},
	bytecode.SortLong:    {bytecode.SortLong, bytecode.OpLload, bytecode.OpLstore, bytecode.OpLreturn, bytecode.OpLconst0, 2},
	bytecode.SortDouble:  {bytecode.SortDouble, bytecode.OpDload, bytecode.OpDstore, bytecode.OpDreturn, bytecode.OpDconst0, 2},
	bytecode.SortArray:   {bytecode.SortArray, bytecode.OpAload, bytecode.OpAstore, bytecode.OpAreturn, bytecode.OpAconstNull, 1},
	bytecode.SortObject:  {bytecode.SortObject, bytecode.OpAload, bytecode.OpAstore, bytecode.OpAreturn, bytecode.OpAconstNull, 1},
}

// Of returns the code for t.
func Of(t bytecode.Type) Code {
	c, ok := codes[t.Sort]
	if !ok {
		panic(fmt.Sprintf("typecode: no code for sort %v", t.Sort))
	}
	return c
}

// Load returns the local-variable load instruction for t at slot.
func Load(t bytecode.Type, slot int) bytecode.Insn {
	return bytecode.VarInsn(Of(t).Load, slot)
}

// Store returns the local-variable store instruction for t at slot.
func Store(t bytecode.Type, slot int) bytecode.Insn {
	return bytecode.VarInsn(Of(t).Store, slot)
}

// Return returns the return instruction for values of t.
func Return(t bytecode.Type) bytecode.Insn {
	return bytecode.Simple(Of(t).Return)
}

// Null returns the instruction pushing the default value of t. It panics
// for void, which has no value.
func Null(t bytecode.Type) bytecode.Insn {
	op := Of(t).Null
	if op == bytecode.OpNop {
		panic("typecode: void has no default value")
	}
	return bytecode.Simple(op)
}

// Erased returns the type used for t in barrier descriptors: every
// reference and array type is passed as java/lang/Object.
func Erased(t bytecode.Type) bytecode.Type {
	if t.IsReference() {
		return bytecode.ObjectType
	}
	return t
}

// ArrayElem returns the erased element type moved by an array load or
// store opcode.
func ArrayElem(op bytecode.Opcode) (bytecode.Type, bool) {
	switch op {
	case bytecode.OpIaload, bytecode.OpIastore:
		return bytecode.IntType, true
	case bytecode.OpLaload, bytecode.OpLastore:
		return bytecode.LongType, true
	case bytecode.OpFaload, bytecode.OpFastore:
		return bytecode.FloatType, true
	case bytecode.OpDaload, bytecode.OpDastore:
		return bytecode.DoubleType, true
	case bytecode.OpAaload, bytecode.OpAastore:
		return bytecode.ObjectType, true
	case bytecode.OpBaload, bytecode.OpBastore:
		return bytecode.ByteType, true
	case bytecode.OpCaload, bytecode.OpCastore:
		return bytecode.CharType, true
	case bytecode.OpSaload, bytecode.OpSastore:
		return bytecode.ShortType, true
	}
	return bytecode.Type{}, false
}
