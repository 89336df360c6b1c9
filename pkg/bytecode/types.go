package bytecode

import (
	"fmt"
	"strings"
)

// Sort is the category of a type descriptor.
type Sort uint8

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

var sortNames = [...]string{"void", "boolean", "char", "byte", "short", "int", "float", "long", "double", "array", "object"}

// String returns the Java-style name of the sort.
func (s Sort) String() string {
	if int(s) < len(sortNames) {
		return sortNames[s]
	}
	return fmt.Sprintf("Sort(%d)", s)
}

// Type is a parsed field or return type descriptor.
type Type struct {
	Sort Sort
	Desc string // Full descriptor, e.g. "I", "Ljava/lang/String;", "[[J"
}

// Common types.
var (
	VoidType    = Type{SortVoid, "V"}
	BooleanType = Type{SortBoolean, "Z"}
	CharType    = Type{SortChar, "C"}
	ByteType    = Type{SortByte, "B"}
	ShortType   = Type{SortShort, "S"}
	IntType     = Type{SortInt, "I"}
	FloatType   = Type{SortFloat, "F"}
	LongType    = Type{SortLong, "J"}
	DoubleType  = Type{SortDouble, "D"}
	ObjectType  = Type{SortObject, "Ljava/lang/Object;"}
	StringType  = Type{SortObject, "Ljava/lang/String;"}
)

// ParseType parses a single field descriptor (or "V").
func ParseType(desc string) (Type, error) {
	t, n, err := parseTypeAt(desc, 0)
	if err != nil {
		return Type{}, err
	}
	if n != len(desc) {
		return Type{}, fmt.Errorf("%w: trailing characters in type descriptor %q", ErrMalformed, desc)
	}
	return t, nil
}

// MustParseType is ParseType for descriptors known to be valid.
func MustParseType(desc string) Type {
	t, err := ParseType(desc)
	if err != nil {
		panic(err)
	}
	return t
}

// ObjectTypeOf returns the type of references to the class with the given internal name.
func ObjectTypeOf(internalName string) Type {
	if strings.HasPrefix(internalName, "[") {
		return Type{SortArray, internalName}
	}
	return Type{SortObject, "L" + internalName + ";"}
}

func parseTypeAt(desc string, i int) (Type, int, error) {
	if i >= len(desc) {
		return Type{}, i, fmt.Errorf("%w: truncated type descriptor %q", ErrMalformed, desc)
	}
	switch desc[i] {
	case 'V':
		return VoidType, i + 1, nil
	case 'Z':
		return BooleanType, i + 1, nil
	case 'C':
		return CharType, i + 1, nil
	case 'B':
		return ByteType, i + 1, nil
	case 'S':
		return ShortType, i + 1, nil
	case 'I':
		return IntType, i + 1, nil
	case 'F':
		return FloatType, i + 1, nil
	case 'J':
		return LongType, i + 1, nil
	case 'D':
		return DoubleType, i + 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end <= 1 {
			return Type{}, i, fmt.Errorf("%w: bad object descriptor %q", ErrMalformed, desc)
		}
		return Type{SortObject, desc[i : i+end+1]}, i + end + 1, nil
	case '[':
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		elem, n, err := parseTypeAt(desc, j)
		if err != nil {
			return Type{}, i, err
		}
		if elem.Sort == SortVoid {
			return Type{}, i, fmt.Errorf("%w: array of void in %q", ErrMalformed, desc)
		}
		return Type{SortArray, desc[i:n]}, n, nil
	}
	return Type{}, i, fmt.Errorf("%w: unknown descriptor character %q in %q", ErrMalformed, desc[i], desc)
}

// Size returns the number of local slots (and operand-stack words) the type occupies.
func (t Type) Size() int {
	switch t.Sort {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	}
	return 1
}

// IsReference returns true for object and array types.
func (t Type) IsReference() bool {
	return t.Sort == SortObject || t.Sort == SortArray
}

// InternalName returns the internal name for object types ("java/lang/String")
// and the descriptor itself for arrays, as used by checkcast and frames.
func (t Type) InternalName() string {
	if t.Sort == SortObject {
		return t.Desc[1 : len(t.Desc)-1]
	}
	return t.Desc
}

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	if t.Sort != SortArray {
		return Type{}
	}
	return MustParseType(t.Desc[1:])
}

// String returns the descriptor.
func (t Type) String() string {
	return t.Desc
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Args   []Type
	Return Type
}

// ParseMethodType parses a method descriptor such as "(IJLjava/lang/String;)V".
func ParseMethodType(desc string) (MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("%w: bad method descriptor %q", ErrMalformed, desc)
	}
	var mt MethodType
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseTypeAt(desc, i)
		if err != nil {
			return MethodType{}, err
		}
		if t.Sort == SortVoid {
			return MethodType{}, fmt.Errorf("%w: void argument in %q", ErrMalformed, desc)
		}
		mt.Args = append(mt.Args, t)
		i = n
	}
	if i >= len(desc) {
		return MethodType{}, fmt.Errorf("%w: unterminated argument list in %q", ErrMalformed, desc)
	}
	ret, n, err := parseTypeAt(desc, i+1)
	if err != nil {
		return MethodType{}, err
	}
	if n != len(desc) {
		return MethodType{}, fmt.Errorf("%w: trailing characters in method descriptor %q", ErrMalformed, desc)
	}
	mt.Return = ret
	return mt, nil
}

// MustParseMethodType is ParseMethodType for descriptors known to be valid.
func MustParseMethodType(desc string) MethodType {
	mt, err := ParseMethodType(desc)
	if err != nil {
		panic(err)
	}
	return mt
}

// Descriptor rebuilds the method descriptor.
func (mt MethodType) Descriptor() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range mt.Args {
		sb.WriteString(a.Desc)
	}
	sb.WriteByte(')')
	sb.WriteString(mt.Return.Desc)
	return sb.String()
}

// ArgumentsSize returns the number of local slots used by the arguments,
// including the receiver when the method is not static.
func (mt MethodType) ArgumentsSize(static bool) int {
	n := 0
	if !static {
		n = 1
	}
	for _, a := range mt.Args {
		n += a.Size()
	}
	return n
}

// AppendArg returns a descriptor with one extra trailing argument.
func AppendArg(desc string, arg Type) (string, error) {
	end := strings.IndexByte(desc, ')')
	if len(desc) == 0 || desc[0] != '(' || end < 0 {
		return "", fmt.Errorf("%w: bad method descriptor %q", ErrMalformed, desc)
	}
	return desc[:end] + arg.Desc + desc[end:], nil
}
