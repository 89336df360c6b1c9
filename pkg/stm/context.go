package stm

import (
	"fmt"
	"sync"

	"github.com/chazu/stmweave/pkg/bytecode"
)

// Context is one transaction attempt as seen by woven code. Barrier
// methods may fail with a *bytecode.Thrown to raise a signal (a
// TransactionException for a conflict, an AbortTransactionException to
// abort) inside the interpreted program.
type Context interface {
	Init(attempt int32, metainf string)
	Commit() bool
	Rollback()

	BeforeRead(owner bytecode.Value, addr int64) error
	Read(owner, value bytecode.Value, addr int64) (bytecode.Value, error)
	Write(owner, value bytecode.Value, addr int64) error
	StaticWrite(value, base bytecode.Value, addr int64) error
	ArrayRead(arr *bytecode.Array, index int32) (bytecode.Value, error)
	ArrayWrite(arr *bytecode.Array, index int32, value bytecode.Value) error
}

// AddressResolver resolves field address tokens for class initializers.
// A negative address marks a field as unmanaged.
type AddressResolver interface {
	ResolveAddress(owner, field string) int64
	ResolveStaticBase(owner, field string) bytecode.Value
}

// FieldRef names the field an address token was resolved for.
type FieldRef struct {
	Owner string
	Name  string
}

// AddressTable is an AddressResolver that hands out sequential addresses
// and remembers which field each one stands for.
type AddressTable struct {
	mu        sync.Mutex
	next      int64
	byField   map[FieldRef]int64
	byAddr    map[int64]FieldRef
	unmanaged map[string]bool
}

// NewAddressTable returns an empty table.
func NewAddressTable() *AddressTable {
	return &AddressTable{
		byField:   make(map[FieldRef]int64),
		byAddr:    make(map[int64]FieldRef),
		unmanaged: make(map[string]bool),
	}
}

// Unmanage makes owner.field resolve to the unmanaged sentinel.
func (t *AddressTable) Unmanage(owner, field string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unmanaged[owner+"."+field] = true
}

// ResolveAddress returns the address of owner.field, allocating one on
// first use.
func (t *AddressTable) ResolveAddress(owner, field string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unmanaged[owner+"."+field] {
		return -1
	}
	ref := FieldRef{Owner: owner, Name: field}
	if addr, ok := t.byField[ref]; ok {
		return addr
	}
	t.next++
	t.byField[ref] = t.next
	t.byAddr[t.next] = ref
	return t.next
}

// ResolveStaticBase returns the storage base of owner's static fields.
func (t *AddressTable) ResolveStaticBase(owner, field string) bytecode.Value {
	return &bytecode.ClassRef{Name: owner}
}

// Lookup returns the field behind addr.
func (t *AddressTable) Lookup(addr int64) (FieldRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.byAddr[addr]
	return ref, ok
}

// Store performs a field write that a context decided to apply. owner is
// the instance for instance fields and the storage base for statics.
func (t *AddressTable) Store(vm *bytecode.VM, owner bytecode.Value, addr int64, value bytecode.Value) error {
	ref, ok := t.Lookup(addr)
	if !ok {
		return fmt.Errorf("stm: no field at address %d", addr)
	}
	switch o := owner.(type) {
	case *bytecode.Object:
		o.Fields[ref.Name] = value
		return nil
	case *bytecode.ClassRef:
		return vm.SetStatic(o.Name, ref.Name, value)
	}
	return vm.Throw(bytecode.ClassNPE, fmt.Sprintf("cannot assign field %q", ref.Name))
}

// DirectContext applies every access immediately. It always commits and
// never raises a signal: woven code running under it behaves like the
// original code.
type DirectContext struct {
	VM        *bytecode.VM
	Addresses *AddressTable
}

func (c *DirectContext) Init(int32, string) {}
func (c *DirectContext) Commit() bool       { return true }
func (c *DirectContext) Rollback()          {}

func (c *DirectContext) BeforeRead(bytecode.Value, int64) error { return nil }

func (c *DirectContext) Read(_, value bytecode.Value, _ int64) (bytecode.Value, error) {
	return value, nil
}

func (c *DirectContext) Write(owner, value bytecode.Value, addr int64) error {
	return c.Addresses.Store(c.VM, owner, addr, value)
}

func (c *DirectContext) StaticWrite(value, base bytecode.Value, addr int64) error {
	return c.Addresses.Store(c.VM, base, addr, value)
}

func (c *DirectContext) ArrayRead(arr *bytecode.Array, index int32) (bytecode.Value, error) {
	if err := CheckIndex(c.VM, arr, index); err != nil {
		return nil, err
	}
	return arr.Data[index], nil
}

func (c *DirectContext) ArrayWrite(arr *bytecode.Array, index int32, value bytecode.Value) error {
	if err := CheckIndex(c.VM, arr, index); err != nil {
		return err
	}
	arr.Data[index] = value
	return nil
}

// CheckIndex raises the exceptions an array access would raise.
func CheckIndex(vm *bytecode.VM, arr *bytecode.Array, index int32) error {
	if arr == nil {
		return vm.Throw(bytecode.ClassNPE, "array is null")
	}
	if index < 0 || int(index) >= len(arr.Data) {
		return vm.Throw(bytecode.ClassArrayIndex, fmt.Sprintf("Index %d out of bounds for length %d", index, len(arr.Data)))
	}
	return nil
}
