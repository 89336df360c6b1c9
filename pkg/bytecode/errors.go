package bytecode

import "errors"

var (
	// ErrMalformed indicates structurally invalid input: bad descriptors,
	// dangling labels, unsupported instructions.
	ErrMalformed = errors.New("malformed bytecode")

	// ErrBadMagic indicates a byte stream that is not a class unit.
	ErrBadMagic = errors.New("invalid class unit magic")
)
