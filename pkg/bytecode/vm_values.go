package bytecode

import "math"

var primitiveArrayElem = map[int32]string{
	ArrayBoolean: "Z",
	ArrayChar:    "C",
	ArrayFloat:   "F",
	ArrayDouble:  "D",
	ArrayByte:    "B",
	ArrayShort:   "S",
	ArrayInt:     "I",
	ArrayLong:    "J",
}

func constValue(c *Constant) Value {
	switch c.Kind {
	case ConstInt:
		return int32(c.Int)
	case ConstLong:
		return c.Int
	case ConstFloat:
		return float32(c.Float)
	case ConstDouble:
		return c.Float
	case ConstString:
		return c.Str
	case ConstClass:
		return &ClassRef{Name: c.Str}
	}
	return nil
}

// zeroValue returns the default value of a field or array element with
// the given descriptor.
func zeroValue(desc string) Value {
	if desc == "" {
		return nil
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return int32(0)
	case 'J':
		return int64(0)
	case 'F':
		return float32(0)
	case 'D':
		return float64(0)
	}
	return nil
}

func isWideValue(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func isRefDesc(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// descToName converts a reference descriptor to the name used for class
// checks: internal names for objects, descriptors for arrays.
func descToName(desc string) string {
	if desc[0] == 'L' {
		return desc[1 : len(desc)-1]
	}
	return desc
}

func newArray(elem string, n int) *Array {
	arr := &Array{Elem: elem, Data: make([]Value, n)}
	z := zeroValue(elem)
	for i := range arr.Data {
		arr.Data[i] = z
	}
	return arr
}

func newMultiArray(desc string, dims []int) *Array {
	elem := desc[1:]
	arr := newArray(elem, dims[0])
	if len(dims) > 1 {
		for i := range arr.Data {
			arr.Data[i] = newMultiArray(elem, dims[1:])
		}
	}
	return arr
}

func floatToInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func floatToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}
