// Package stmtest provides a scripted transaction context for exercising
// woven code in the reference interpreter.
package stmtest

import (
	"fmt"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/stm"
)

// Outcome scripts how one attempt ends.
type Outcome int

const (
	// Proceed lets the attempt run and commit.
	Proceed Outcome = iota
	// Conflict raises a TransactionException from the first barrier.
	Conflict
	// Abort raises an AbortTransactionException from the first barrier.
	Abort
	// CommitConflict lets the attempt run and then fails its commit.
	CommitConflict
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Conflict:
		return "conflict"
	case Abort:
		return "abort"
	case CommitConflict:
		return "commit-conflict"
	}
	return "unknown"
}

// ParseOutcome returns the outcome named by s, as printed by String.
func ParseOutcome(s string) (Outcome, error) {
	for o := Proceed; o <= CommitConflict; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return Proceed, fmt.Errorf("unknown outcome %q", s)
}

// Call records one barrier invocation.
type Call struct {
	Op    string
	Addr  int64
	Index int32
}

type fieldKey struct {
	owner any
	addr  int64
}

type elemKey struct {
	arr   *bytecode.Array
	index int32
}

type write struct {
	field *fieldKey
	elem  *elemKey
	value bytecode.Value
}

// Context is a stm.Context that buffers writes until commit and follows a
// script of per-attempt outcomes. Attempts beyond the script proceed.
type Context struct {
	VM        *bytecode.VM
	Addresses *stm.AddressTable
	Script    []Outcome

	Attempts  []int32
	Metainf   []string
	Calls     []Call
	Commits   int
	Rollbacks int

	raised bool
	log    []write
	fields map[fieldKey]bytecode.Value
	elems  map[elemKey]bytecode.Value
}

// New returns a context applying committed writes to vm through addrs.
func New(vm *bytecode.VM, addrs *stm.AddressTable, script ...Outcome) *Context {
	c := &Context{VM: vm, Addresses: addrs, Script: script}
	c.reset()
	return c
}

func (c *Context) outcome() Outcome {
	n := len(c.Attempts) - 1
	if n < 0 || n >= len(c.Script) {
		return Proceed
	}
	return c.Script[n]
}

func (c *Context) reset() {
	c.raised = false
	c.log = nil
	c.fields = make(map[fieldKey]bytecode.Value)
	c.elems = make(map[elemKey]bytecode.Value)
}

// barrier records a call and raises the scripted signal on the first
// barrier of a conflicting or aborting attempt.
func (c *Context) barrier(call Call) error {
	c.Calls = append(c.Calls, call)
	if c.raised {
		return nil
	}
	switch c.outcome() {
	case Conflict:
		c.raised = true
		return c.VM.Throw(stm.TransactionException, "scripted conflict")
	case Abort:
		c.raised = true
		return c.VM.Throw(stm.AbortTransactionException, "scripted abort")
	}
	return nil
}

func (c *Context) Init(attempt int32, metainf string) {
	c.Attempts = append(c.Attempts, attempt)
	c.Metainf = append(c.Metainf, metainf)
	c.reset()
}

func (c *Context) Commit() bool {
	if c.outcome() == CommitConflict {
		c.reset()
		return false
	}
	for _, w := range c.log {
		if w.elem != nil {
			w.elem.arr.Data[w.elem.index] = w.value
			continue
		}
		owner := w.field.owner
		if name, ok := owner.(string); ok {
			owner = &bytecode.ClassRef{Name: name}
		}
		if err := c.Addresses.Store(c.VM, owner, w.field.addr, w.value); err != nil {
			return false
		}
	}
	c.Commits++
	c.reset()
	return true
}

func (c *Context) Rollback() {
	c.Rollbacks++
	c.reset()
}

func (c *Context) BeforeRead(_ bytecode.Value, addr int64) error {
	return c.barrier(Call{Op: "beforeRead", Addr: addr})
}

func (c *Context) Read(owner, value bytecode.Value, addr int64) (bytecode.Value, error) {
	if err := c.barrier(Call{Op: "read", Addr: addr}); err != nil {
		return nil, err
	}
	if v, ok := c.fields[key(owner, addr)]; ok {
		return v, nil
	}
	return value, nil
}

func (c *Context) Write(owner, value bytecode.Value, addr int64) error {
	if err := c.barrier(Call{Op: "write", Addr: addr}); err != nil {
		return err
	}
	c.record(key(owner, addr), value)
	return nil
}

func (c *Context) StaticWrite(value, base bytecode.Value, addr int64) error {
	if err := c.barrier(Call{Op: "staticWrite", Addr: addr}); err != nil {
		return err
	}
	c.record(key(base, addr), value)
	return nil
}

func (c *Context) ArrayRead(arr *bytecode.Array, index int32) (bytecode.Value, error) {
	if err := c.barrier(Call{Op: "arrayRead", Index: index}); err != nil {
		return nil, err
	}
	if err := stm.CheckIndex(c.VM, arr, index); err != nil {
		return nil, err
	}
	if v, ok := c.elems[elemKey{arr, index}]; ok {
		return v, nil
	}
	return arr.Data[index], nil
}

func (c *Context) ArrayWrite(arr *bytecode.Array, index int32, value bytecode.Value) error {
	if err := c.barrier(Call{Op: "arrayWrite", Index: index}); err != nil {
		return err
	}
	if err := stm.CheckIndex(c.VM, arr, index); err != nil {
		return err
	}
	k := elemKey{arr, index}
	c.elems[k] = value
	c.log = append(c.log, write{elem: &k, value: value})
	return nil
}

func (c *Context) record(k fieldKey, value bytecode.Value) {
	c.fields[k] = value
	c.log = append(c.log, write{field: &k, value: value})
}

// Ops returns the operation names of the recorded calls.
func (c *Context) Ops() []string {
	ops := make([]string, len(c.Calls))
	for i, call := range c.Calls {
		ops[i] = call.Op
	}
	return ops
}

// key identifies a field slot. Static bases are keyed by class name.
func key(owner bytecode.Value, addr int64) fieldKey {
	if ref, ok := owner.(*bytecode.ClassRef); ok {
		return fieldKey{owner: ref.Name, addr: addr}
	}
	return fieldKey{owner: owner, addr: addr}
}
