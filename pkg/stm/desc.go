package stm

import (
	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/typecode"
)

// Categories lists the nine value categories barriers are specialized
// for, by descriptor. References of every type share the last one.
var Categories = []string{"Z", "C", "B", "S", "I", "J", "F", "D", "Ljava/lang/Object;"}

// ArrayCategories lists the element descriptors of the array barriers.
// Boolean arrays use the byte barriers, as baload and bastore do.
var ArrayCategories = []string{"C", "B", "S", "I", "J", "F", "D", "Ljava/lang/Object;"}

// ReadDesc returns the descriptor of onReadAccess for fields of type t:
// (Object owner, T value, long address, Context) T.
func ReadDesc(t bytecode.Type) string {
	e := typecode.Erased(t).Desc
	return "(Ljava/lang/Object;" + e + "J" + ContextDesc + ")" + e
}

// WriteDesc returns the descriptor of onWriteAccess for fields of type t:
// (Object owner, T value, long address, Context) void.
func WriteDesc(t bytecode.Type) string {
	e := typecode.Erased(t).Desc
	return "(Ljava/lang/Object;" + e + "J" + ContextDesc + ")V"
}

// StaticWriteDesc returns the descriptor of addStaticWriteAccess for
// static fields of type t: (T value, Object base, long address, Context)
// void.
func StaticWriteDesc(t bytecode.Type) string {
	e := typecode.Erased(t).Desc
	return "(" + e + "Ljava/lang/Object;J" + ContextDesc + ")V"
}

// ArrayReadDesc returns the descriptor of onArrayReadAccess replacing the
// array load op: ([T array, int index, Context) T.
func ArrayReadDesc(op bytecode.Opcode) (string, bool) {
	e, ok := typecode.ArrayElem(op)
	if !ok || !op.IsArrayLoad() {
		return "", false
	}
	return "([" + e.Desc + "I" + ContextDesc + ")" + e.Desc, true
}

// ArrayWriteDesc returns the descriptor of onArrayWriteAccess replacing
// the array store op: ([T array, int index, T value, Context) void.
func ArrayWriteDesc(op bytecode.Opcode) (string, bool) {
	e, ok := typecode.ArrayElem(op)
	if !ok || !op.IsArrayStore() {
		return "", false
	}
	return "([" + e.Desc + "I" + e.Desc + ContextDesc + ")V", true
}

// TwinDesc returns the descriptor of the instrumented twin of a method
// with descriptor desc: the same arguments followed by the context.
func TwinDesc(desc string) (string, error) {
	return bytecode.AppendArg(desc, ContextType)
}
