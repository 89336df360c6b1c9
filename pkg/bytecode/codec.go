package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ClassMagic identifies a serialized class unit.
var ClassMagic = []byte("STMC")

// headerLen is the magic plus the big-endian uint16 format version.
const headerLen = 6

// Canonical encoding makes equal classes serialize to identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a class unit: magic, format version, CBOR payload.
func Marshal(c *Class) ([]byte, error) {
	if c.Version < 0 || c.Version > 0xFFFF {
		return nil, fmt.Errorf("%w: format version %d out of range", ErrMalformed, c.Version)
	}
	payload, err := cborEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal class %s: %w", c.Name, err)
	}
	buf := make([]byte, 0, headerLen+len(payload))
	buf = append(buf, ClassMagic...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Version))
	buf = append(buf, payload...)
	return buf, nil
}

// PeekVersion returns the format version from the header without decoding
// the payload.
func PeekVersion(data []byte) (int, error) {
	if len(data) < headerLen {
		return 0, fmt.Errorf("%w: class unit too short: need at least %d bytes, got %d", ErrMalformed, headerLen, len(data))
	}
	if string(data[0:4]) != string(ClassMagic) {
		return 0, fmt.Errorf("%w: expected %q, got %q", ErrBadMagic, ClassMagic, data[0:4])
	}
	return int(binary.BigEndian.Uint16(data[4:6])), nil
}

// Unmarshal decodes a class unit and validates every method body.
func Unmarshal(data []byte) (*Class, error) {
	version, err := PeekVersion(data)
	if err != nil {
		return nil, err
	}
	var c Class
	if err := cbor.Unmarshal(data[headerLen:], &c); err != nil {
		return nil, fmt.Errorf("%w: decode class payload: %v", ErrMalformed, err)
	}
	if c.Version != version {
		return nil, fmt.Errorf("%w: header version %d does not match payload version %d", ErrMalformed, version, c.Version)
	}
	if c.Name == "" {
		return nil, fmt.Errorf("%w: class without name", ErrMalformed)
	}
	for _, m := range c.Methods {
		if m.Body == nil {
			continue
		}
		if err := m.Body.Validate(); err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
		}
	}
	return &c, nil
}
