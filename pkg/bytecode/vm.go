package bytecode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("stmweave.vm")

// Value is a runtime value in the interpreter: int32 (for every int-like
// category), int64, float32, float64, string, nil, *Object, *Array or
// *ClassRef. Natives may also pass through arbitrary host values.
type Value = any

// Object is an instance of a loaded or registered class.
type Object struct {
	Class  string
	Fields map[string]Value
	Host   any // payload for host-implemented classes
}

// Array is a typed array. Elem is the element descriptor.
type Array struct {
	Elem string
	Data []Value
}

// ClassRef is the value of a class literal.
type ClassRef struct {
	Name string
}

// Thrown carries an interpreter exception across Go call boundaries.
// Natives raise exceptions by returning a *Thrown.
type Thrown struct {
	Object *Object
}

func (t *Thrown) Error() string {
	if msg, ok := t.Object.Fields["message"].(string); ok {
		return t.Object.Class + ": " + msg
	}
	return t.Object.Class
}

// Message returns the detail message of the thrown object.
func (t *Thrown) Message() string {
	msg, _ := t.Object.Fields["message"].(string)
	return msg
}

// AsThrown extracts a *Thrown from err.
func AsThrown(err error) (*Thrown, bool) {
	var t *Thrown
	ok := errors.As(err, &t)
	return t, ok
}

// Native implements a method in Go. For instance methods args[0] is the
// receiver.
type Native func(vm *VM, args []Value) (Value, error)

// Interpreter errors that are not exceptions of the interpreted program.
var (
	ErrNoSuchMethod  = errors.New("no such method")
	ErrStackOverflow = errors.New("interpreter call depth exceeded")
	ErrStepLimit     = errors.New("interpreter step limit exceeded")
)

// Well-known class names used by the interpreter itself.
const (
	ClassObject     = "java/lang/Object"
	ClassString     = "java/lang/String"
	ClassClass      = "java/lang/Class"
	ClassThrowable  = "java/lang/Throwable"
	ClassException  = "java/lang/Exception"
	ClassRuntimeExc = "java/lang/RuntimeException"
	ClassError      = "java/lang/Error"
	ClassNPE        = "java/lang/NullPointerException"
	ClassArithmetic = "java/lang/ArithmeticException"
	ClassArrayIndex = "java/lang/ArrayIndexOutOfBoundsException"
	ClassCast       = "java/lang/ClassCastException"
	ClassNegSize    = "java/lang/NegativeArraySizeException"
	ClassIllegalMon = "java/lang/IllegalMonitorStateException"
	ClassArrayStore = "java/lang/ArrayStoreException"
)

type classInfo struct {
	name       string
	super      string
	interfaces []string
	class      *Class // nil for host classes

	statics     map[string]Value
	initialized bool
}

// VM is a reference interpreter for method bodies. It is not a verifier:
// it trusts the code it runs and exists to execute woven classes against
// host implementations of their collaborators.
type VM struct {
	mu      sync.Mutex
	classes map[string]*classInfo
	natives map[string]Native
	layouts map[*Body]map[Label]int

	// MaxDepth bounds nested invocations; MaxSteps bounds executed
	// instructions per top-level call (0 = unbounded).
	MaxDepth int
	MaxSteps int

	depth int
	steps int
}

// NewVM creates an interpreter with the core class hierarchy registered.
func NewVM() *VM {
	vm := &VM{
		classes:  make(map[string]*classInfo),
		natives:  make(map[string]Native),
		layouts:  make(map[*Body]map[Label]int),
		MaxDepth: 512,
	}
	vm.RegisterClass(ClassObject, "")
	vm.RegisterClass(ClassString, ClassObject)
	vm.RegisterClass(ClassClass, ClassObject)
	vm.RegisterClass(ClassThrowable, ClassObject)
	vm.RegisterClass(ClassException, ClassThrowable)
	vm.RegisterClass(ClassError, ClassThrowable)
	vm.RegisterClass(ClassRuntimeExc, ClassException)
	for _, name := range []string{ClassNPE, ClassArithmetic, ClassArrayIndex, ClassCast, ClassNegSize, ClassIllegalMon, ClassArrayStore} {
		vm.RegisterClass(name, ClassRuntimeExc)
	}

	vm.RegisterNative(ClassObject, "<init>", "()V", func(*VM, []Value) (Value, error) { return nil, nil })
	vm.RegisterNative(ClassThrowable, "<init>", "()V", func(*VM, []Value) (Value, error) { return nil, nil })
	vm.RegisterNative(ClassThrowable, "<init>", "(Ljava/lang/String;)V", func(_ *VM, args []Value) (Value, error) {
		if obj, ok := args[0].(*Object); ok {
			obj.Fields["message"] = args[1]
		}
		return nil, nil
	})
	vm.RegisterNative(ClassThrowable, "getMessage", "()Ljava/lang/String;", func(_ *VM, args []Value) (Value, error) {
		if obj, ok := args[0].(*Object); ok {
			return obj.Fields["message"], nil
		}
		return nil, nil
	})
	return vm
}

// RegisterClass declares a host class without code so that it can be
// instantiated, thrown, caught and tested with instanceof.
func (vm *VM) RegisterClass(name, super string, interfaces ...string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.classes[name] = &classInfo{
		name:        name,
		super:       super,
		interfaces:  interfaces,
		statics:     make(map[string]Value),
		initialized: true,
	}
}

// RegisterNative binds a Go function to owner.name+desc.
func (vm *VM) RegisterNative(owner, name, desc string, fn Native) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.natives[nativeKey(owner, name, desc)] = fn
}

func nativeKey(owner, name, desc string) string {
	return owner + "." + name + desc
}

// Load makes a class available to the interpreter. Its class initializer
// runs on first use.
func (vm *VM) Load(c *Class) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	info := &classInfo{
		name:       c.Name,
		super:      c.Super,
		interfaces: c.Interfaces,
		class:      c,
		statics:    make(map[string]Value),
	}
	for _, f := range c.Fields {
		if f.IsStatic() {
			info.statics[f.Name] = zeroValue(f.Desc)
		}
	}
	vm.classes[c.Name] = info
	vmLog.Debugf("loaded %s (%d methods)", c.Name, len(c.Methods))
}

func (vm *VM) lookup(name string) *classInfo {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.classes[name]
}

// IsAssignable reports whether values of class sub can be used where
// class super is expected, following superclasses and interfaces of
// loaded and registered classes. Array types are covariant in their
// reference element types.
func (vm *VM) IsAssignable(sub, super string) bool {
	if sub == super || super == ClassObject {
		return true
	}
	if len(sub) > 0 && sub[0] == '[' {
		if len(super) == 0 || super[0] != '[' {
			return false
		}
		se, pe := sub[1:], super[1:]
		if se == pe {
			return true
		}
		if !isRefDesc(se) || !isRefDesc(pe) {
			return false
		}
		return vm.IsAssignable(descToName(se), descToName(pe))
	}
	seen := make(map[string]bool)
	var walk func(name string) bool
	walk = func(name string) bool {
		if name == "" || seen[name] {
			return false
		}
		seen[name] = true
		if name == super {
			return true
		}
		info := vm.lookup(name)
		if info == nil {
			return false
		}
		for _, itf := range info.interfaces {
			if walk(itf) {
				return true
			}
		}
		return walk(info.super)
	}
	return walk(sub)
}

// ClassOf returns the runtime class name of a value.
func ClassOf(v Value) string {
	switch x := v.(type) {
	case *Object:
		return x.Class
	case *Array:
		return "[" + x.Elem
	case string:
		return ClassString
	case *ClassRef:
		return ClassClass
	}
	return ""
}

// NewObject allocates an instance of class without running a constructor.
func (vm *VM) NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]Value)}
}

// Throw returns a *Thrown carrying a new instance of class with message.
func (vm *VM) Throw(class, message string) *Thrown {
	obj := vm.NewObject(class)
	obj.Fields["message"] = message
	return &Thrown{Object: obj}
}

// Static returns the current value of a static field, running the owning
// class initializer first.
func (vm *VM) Static(owner, name string) (Value, error) {
	info, err := vm.staticOwner(owner, name)
	if err != nil {
		return nil, err
	}
	return info.statics[name], nil
}

// SetStatic assigns a static field.
func (vm *VM) SetStatic(owner, name string, v Value) error {
	info, err := vm.staticOwner(owner, name)
	if err != nil {
		return err
	}
	info.statics[name] = v
	return nil
}

// staticOwner finds the class declaring a static field, initializing it.
func (vm *VM) staticOwner(owner, name string) (*classInfo, error) {
	for n := owner; n != ""; {
		info := vm.lookup(n)
		if info == nil {
			break
		}
		if _, ok := info.statics[name]; ok || info.class == nil || info.class.Field(name) != nil {
			if err := vm.initialize(info); err != nil {
				return nil, err
			}
			return info, nil
		}
		n = info.super
	}
	info := vm.lookup(owner)
	if info == nil {
		return nil, fmt.Errorf("%w: static %s.%s of unknown class", ErrNoSuchMethod, owner, name)
	}
	if err := vm.initialize(info); err != nil {
		return nil, err
	}
	return info, nil
}

func (vm *VM) initialize(info *classInfo) error {
	if info.initialized {
		return nil
	}
	info.initialized = true
	if sup := vm.lookup(info.super); sup != nil {
		if err := vm.initialize(sup); err != nil {
			return err
		}
	}
	if m := info.class.Method("<clinit>", "()V"); m != nil && m.Body != nil {
		vmLog.Debugf("initializing %s", info.name)
		if _, err := vm.execute(info.class, m, nil); err != nil {
			return err
		}
	}
	return nil
}

type resolved struct {
	class  *Class
	method *Method
	native Native
}

// resolve finds owner.name+desc, searching superclasses and then the
// interfaces of every class on the way for natives.
func (vm *VM) resolve(owner, name, desc string) (resolved, bool) {
	var itfs []string
	for n := owner; n != ""; {
		if fn := vm.native(n, name, desc); fn != nil {
			return resolved{native: fn}, true
		}
		info := vm.lookup(n)
		if info == nil {
			break
		}
		if info.class != nil {
			if m := info.class.Method(name, desc); m != nil && m.Body != nil {
				return resolved{class: info.class, method: m}, true
			}
		}
		itfs = append(itfs, info.interfaces...)
		n = info.super
	}
	seen := make(map[string]bool)
	for len(itfs) > 0 {
		n := itfs[0]
		itfs = itfs[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		if fn := vm.native(n, name, desc); fn != nil {
			return resolved{native: fn}, true
		}
		if info := vm.lookup(n); info != nil {
			if info.class != nil {
				if m := info.class.Method(name, desc); m != nil && m.Body != nil {
					return resolved{class: info.class, method: m}, true
				}
			}
			itfs = append(itfs, info.interfaces...)
		}
	}
	return resolved{}, false
}

func (vm *VM) native(owner, name, desc string) Native {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.natives[nativeKey(owner, name, desc)]
}

// Invoke calls a static method, or an instance method with the receiver
// as args[0], dispatching on the receiver's runtime class.
func (vm *VM) Invoke(owner, name, desc string, args ...Value) (ret Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, fmt.Errorf("%w: interpreter fault in %s.%s%s: %v", ErrMalformed, owner, name, desc, r)
		}
	}()
	vm.steps = 0
	target := owner
	info := vm.lookup(owner)
	if info != nil && info.class != nil {
		if m := info.class.Method(name, desc); m != nil && !m.IsStatic() && len(args) > 0 {
			if cls := ClassOf(args[0]); cls != "" {
				target = cls
			}
		}
		if err := vm.initialize(info); err != nil {
			return nil, err
		}
	}
	r, ok := vm.resolve(target, name, desc)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, owner, name, desc)
	}
	return vm.call(r, args)
}

func (vm *VM) call(r resolved, args []Value) (Value, error) {
	if r.native != nil {
		return r.native(vm, args)
	}
	if r.method.Body == nil {
		return nil, fmt.Errorf("%w: %s.%s%s has no body", ErrNoSuchMethod, r.class.Name, r.method.Name, r.method.Desc)
	}
	return vm.execute(r.class, r.method, args)
}

func (vm *VM) labelIndex(b *Body) (map[Label]int, error) {
	vm.mu.Lock()
	idx, ok := vm.layouts[b]
	vm.mu.Unlock()
	if ok {
		return idx, nil
	}
	idx, err := b.LabelIndex()
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	vm.layouts[b] = idx
	vm.mu.Unlock()
	return idx, nil
}
