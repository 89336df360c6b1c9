package bytecode

import (
	"fmt"
	"strings"
)

// VKind is the kind of a verification type.
type VKind uint8

const (
	VTop VKind = iota
	VInt
	VFloat
	VLong
	VDouble
	VNull
	VUninitializedThis
	VObject        // Name holds the internal name or array descriptor
	VUninitialized // Label marks the new instruction that created the value
)

// VType is a verification type as it appears in merge-point frames.
type VType struct {
	Kind  VKind  `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint,omitempty"`
	Label Label  `cbor:"3,keyasint,omitempty"`
}

// Verification type values without payload.
var (
	Top               = VType{Kind: VTop}
	Int               = VType{Kind: VInt}
	Float             = VType{Kind: VFloat}
	Long              = VType{Kind: VLong}
	Double            = VType{Kind: VDouble}
	Null              = VType{Kind: VNull}
	UninitializedThis = VType{Kind: VUninitializedThis}
)

// ObjectV returns the verification type for references to name.
func ObjectV(name string) VType {
	return VType{Kind: VObject, Name: name}
}

// Uninitialized returns the verification type of a value created by the
// new instruction following label l, before its constructor ran.
func Uninitialized(l Label) VType {
	return VType{Kind: VUninitialized, Label: l}
}

// VTypeOf maps a field type to the verification type of its values on the
// operand stack; sub-int primitives widen to int.
func VTypeOf(t Type) VType {
	switch t.Sort {
	case SortBoolean, SortChar, SortByte, SortShort, SortInt:
		return Int
	case SortFloat:
		return Float
	case SortLong:
		return Long
	case SortDouble:
		return Double
	case SortArray, SortObject:
		return ObjectV(t.InternalName())
	}
	return Top
}

// IsWide returns true for long and double.
func (v VType) IsWide() bool {
	return v.Kind == VLong || v.Kind == VDouble
}

// IsReference returns true for types that hold references.
func (v VType) IsReference() bool {
	switch v.Kind {
	case VNull, VObject, VUninitialized, VUninitializedThis:
		return true
	}
	return false
}

// String renders the type in the assembler's frame syntax.
func (v VType) String() string {
	switch v.Kind {
	case VTop:
		return "top"
	case VInt:
		return "int"
	case VFloat:
		return "float"
	case VLong:
		return "long"
	case VDouble:
		return "double"
	case VNull:
		return "null"
	case VUninitializedThis:
		return "uninitializedThis"
	case VObject:
		return v.Name
	case VUninitialized:
		return fmt.Sprintf("uninitialized(L%d)", v.Label)
	}
	return fmt.Sprintf("VKind(%d)", v.Kind)
}

// Frame is a merge-point frame in compressed form: long and double take a
// single entry, as they do in emitted frame descriptors.
type Frame struct {
	Locals []VType `cbor:"1,keyasint,omitempty"`
	Stack  []VType `cbor:"2,keyasint,omitempty"`
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		Locals: append([]VType(nil), f.Locals...),
		Stack:  append([]VType(nil), f.Stack...),
	}
}

// String renders the frame as "locals | stack".
func (f *Frame) String() string {
	var sb strings.Builder
	for i, v := range f.Locals {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.String())
	}
	sb.WriteString(" |")
	for _, v := range f.Stack {
		sb.WriteByte(' ')
		sb.WriteString(v.String())
	}
	return sb.String()
}

// Expand converts compressed entries to slot form, where every wide value
// is followed by a top entry.
func Expand(types []VType) []VType {
	out := make([]VType, 0, len(types))
	for _, v := range types {
		out = append(out, v)
		if v.IsWide() {
			out = append(out, Top)
		}
	}
	return out
}

// Compress converts slot form back to compressed form, dropping the top
// entry after each wide value and any trailing tops.
func Compress(slots []VType) []VType {
	out := make([]VType, 0, len(slots))
	for i := 0; i < len(slots); i++ {
		v := slots[i]
		out = append(out, v)
		if v.IsWide() && i+1 < len(slots) && slots[i+1].Kind == VTop {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1].Kind == VTop {
		out = out[:len(out)-1]
	}
	return out
}
