package weave

import (
	"strings"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// Synthetic members of the fields holder.
const (
	AddressSuffix  = "__ADDRESS__"
	ClassBaseField = "__CLASS_BASE__"
	ClassBaseDesc  = "Ljava/lang/Object;"

	// UnmanagedAddress is stored for fields that must be accessed
	// directly. Any negative address means the same.
	UnmanagedAddress int64 = -1
)

const holderAccess = bytecode.AccPublic | bytecode.AccStatic | bytecode.AccSynthetic

// HolderName returns the type holding the address table of owner's
// fields. Every type holds its own.
func HolderName(owner string) string { return owner }

// AddressField names the static slot holding the address of field.
func AddressField(field string) string { return field + AddressSuffix }

// synthetic reports whether a field name is compiler generated. Accesses
// to such fields are never instrumented.
func synthetic(name string) bool { return strings.Contains(name, "$") }

// HolderField is one entry of a fields holder.
type HolderField struct {
	Name   string
	Static bool
	// Managed is false for final fields: their address slot holds the
	// unmanaged sentinel instead of a resolved address.
	Managed bool
}

// FieldsHolder is the address table layout of one type.
type FieldsHolder struct {
	Owner  string
	Fields []HolderField

	// StaticBase names the managed static field whose storage base is
	// resolved into __CLASS_BASE__, or "" when there is none.
	StaticBase string
}

// NewFieldsHolder lays out the address table for c.
func NewFieldsHolder(c *bytecode.Class) *FieldsHolder {
	h := &FieldsHolder{Owner: HolderName(c.Name)}
	for _, f := range c.Fields {
		if synthetic(f.Name) || strings.HasSuffix(f.Name, AddressSuffix) || f.Name == ClassBaseField {
			continue
		}
		hf := HolderField{
			Name:    f.Name,
			Static:  f.IsStatic(),
			Managed: f.Access&bytecode.AccFinal == 0,
		}
		if hf.Static && hf.Managed && h.StaticBase == "" {
			h.StaticBase = f.Name
		}
		h.Fields = append(h.Fields, hf)
	}
	return h
}

// Empty reports whether the holder has no entries.
func (h *FieldsHolder) Empty() bool { return len(h.Fields) == 0 }

// AddTo declares the holder's static slots on c.
func (h *FieldsHolder) AddTo(c *bytecode.Class) {
	for _, f := range h.Fields {
		c.Fields = append(c.Fields, &bytecode.Field{
			Access: holderAccess | bytecode.AccFinal,
			Name:   AddressField(f.Name),
			Desc:   "J",
		})
	}
	if h.StaticBase != "" {
		c.Fields = append(c.Fields, &bytecode.Field{
			Access: holderAccess | bytecode.AccFinal,
			Name:   ClassBaseField,
			Desc:   ClassBaseDesc,
		})
	}
}
