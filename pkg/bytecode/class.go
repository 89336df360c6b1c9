package bytecode

import "strings"

// Access flags for classes, fields and methods.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// VersionFrames is the first format version whose method bodies carry
// merge-point frames.
const VersionFrames = 50

// AnnotationValue is one element of an annotation. Exactly one of the
// value fields is set, according to Kind ('I' int, 's' string, 'Z' bool).
type AnnotationValue struct {
	Name string `cbor:"1,keyasint"`
	Kind byte   `cbor:"2,keyasint"`
	Int  int64  `cbor:"3,keyasint,omitempty"`
	Str  string `cbor:"4,keyasint,omitempty"`
	Bool bool   `cbor:"5,keyasint,omitempty"`
}

// Annotation is a runtime annotation attached to a class member.
type Annotation struct {
	Desc   string            `cbor:"1,keyasint"`
	Values []AnnotationValue `cbor:"2,keyasint,omitempty"`
}

// Value returns the element with the given name.
func (a *Annotation) Value(name string) (AnnotationValue, bool) {
	for _, v := range a.Values {
		if v.Name == name {
			return v, true
		}
	}
	return AnnotationValue{}, false
}

// Field is a field declaration.
type Field struct {
	Access int    `cbor:"1,keyasint"`
	Name   string `cbor:"2,keyasint"`
	Desc   string `cbor:"3,keyasint"`
}

// IsStatic returns true for class fields.
func (f *Field) IsStatic() bool { return f.Access&AccStatic != 0 }

// Method is a method declaration with an optional body.
type Method struct {
	Access      int          `cbor:"1,keyasint"`
	Name        string       `cbor:"2,keyasint"`
	Desc        string       `cbor:"3,keyasint"`
	Exceptions  []string     `cbor:"4,keyasint,omitempty"`
	Annotations []Annotation `cbor:"5,keyasint,omitempty"`
	Body        *Body        `cbor:"6,keyasint,omitempty"` // nil for abstract and native methods
}

// IsStatic returns true for static methods.
func (m *Method) IsStatic() bool { return m.Access&AccStatic != 0 }

// IsAbstract returns true for abstract methods.
func (m *Method) IsAbstract() bool { return m.Access&AccAbstract != 0 }

// IsNative returns true for native methods.
func (m *Method) IsNative() bool { return m.Access&AccNative != 0 }

// IsConstructor returns true for instance and class initializers.
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// Annotation returns the annotation with the given descriptor.
func (m *Method) Annotation(desc string) *Annotation {
	for i := range m.Annotations {
		if m.Annotations[i].Desc == desc {
			return &m.Annotations[i]
		}
	}
	return nil
}

// Class is one compiled type.
type Class struct {
	Version    int       `cbor:"1,keyasint"`
	Access     int       `cbor:"2,keyasint"`
	Name       string    `cbor:"3,keyasint"`
	Super      string    `cbor:"4,keyasint,omitempty"`
	Interfaces []string  `cbor:"5,keyasint,omitempty"`
	Source     string    `cbor:"6,keyasint,omitempty"`
	Fields     []*Field  `cbor:"7,keyasint,omitempty"`
	Methods    []*Method `cbor:"8,keyasint,omitempty"`
}

// IsInterface returns true for interface types.
func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }

// Field returns the field with the given name.
func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// PackageName returns the internal package prefix of the class name.
func (c *Class) PackageName() string {
	if i := strings.LastIndexByte(c.Name, '/'); i >= 0 {
		return c.Name[:i]
	}
	return ""
}

// Clone returns a deep copy of the class.
func (c *Class) Clone() *Class {
	out := *c
	out.Interfaces = append([]string(nil), c.Interfaces...)
	out.Fields = nil
	for _, f := range c.Fields {
		cp := *f
		out.Fields = append(out.Fields, &cp)
	}
	out.Methods = nil
	for _, m := range c.Methods {
		cp := *m
		cp.Exceptions = append([]string(nil), m.Exceptions...)
		cp.Annotations = nil
		for _, a := range m.Annotations {
			cp.Annotations = append(cp.Annotations, Annotation{Desc: a.Desc, Values: append([]AnnotationValue(nil), a.Values...)})
		}
		cp.Body = m.Body.Clone()
		out.Methods = append(out.Methods, &cp)
	}
	return &out
}
