package weave

import (
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is the cause of every *VersionError.
var ErrUnsupportedVersion = errors.New("unsupported class format version")

// VersionError rejects a class whose format version is above the
// configured ceiling.
type VersionError struct {
	Class   string
	Version int
	Max     int
}

func (e *VersionError) Error() string {
	msg := fmt.Sprintf("format version %d above ceiling %d", e.Version, e.Max)
	if e.Class == "" {
		return msg
	}
	return e.Class + ": " + msg
}

func (e *VersionError) Unwrap() error { return ErrUnsupportedVersion }
func (e *VersionError) Cause() error  { return ErrUnsupportedVersion }

// MethodError names the method whose rewrite failed.
type MethodError struct {
	Class  string
	Method string
	Desc   string
	Err    error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s.%s%s: %v", e.Class, e.Method, e.Desc, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }
func (e *MethodError) Cause() error  { return e.Err }
