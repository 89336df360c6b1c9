// Package weave instruments compiled classes for software transactional
// memory. Every method gets a twin taking a transaction context whose
// field and array accesses go through the context's barriers, and every
// atomic method becomes a retry loop driving its twin.
package weave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/frame"
	"github.com/chazu/stmweave/pkg/stm"
	"github.com/chazu/stmweave/pkg/typecode"
)

// DefaultMaxVersion is the newest class format woven by default.
const DefaultMaxVersion = 52

// ErrAlreadyWoven rejects a class that already carries a fields holder.
var ErrAlreadyWoven = errors.New("class is already instrumented")

// Config tunes a Weaver.
type Config struct {
	// MaxVersion is the newest class format accepted.
	MaxVersion int
	// DefaultRetries is the budget of atomic methods that do not set one.
	DefaultRetries int32
	// Frames enables merge-point frames for formats that carry them.
	Frames bool

	Policy  *Policy
	Counter *AttemptCounter
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MaxVersion:     DefaultMaxVersion,
		DefaultRetries: Unbounded,
		Frames:         true,
	}
}

// Report summarizes the weaving of one class.
type Report struct {
	Class   string
	Skipped bool // excluded by policy
	Twins   int
	Atomic  int
	Inlined int // jsr call sites replaced by subroutine copies
	Stats

	// Attempts lists the attempt identifiers baked into the class.
	Attempts []int32
}

// LastAttempt returns the highest identifier in r.Attempts, or -1.
func (r Report) LastAttempt() int32 {
	last := int32(-1)
	for _, id := range r.Attempts {
		last = max(last, id)
	}
	return last
}

// Weaver rewrites classes. It is safe for concurrent use as long as the
// classes differ.
type Weaver struct {
	cfg Config
}

// New returns a Weaver for cfg, filling in a default policy and a fresh
// attempt counter when they are missing.
func New(cfg Config) *Weaver {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Counter == nil {
		cfg.Counter = NewAttemptCounter()
	}
	if cfg.MaxVersion == 0 {
		cfg.MaxVersion = DefaultMaxVersion
	}
	if cfg.DefaultRetries <= 0 {
		cfg.DefaultRetries = Unbounded
	}
	return &Weaver{cfg: cfg}
}

// Config returns the effective configuration.
func (w *Weaver) Config() Config { return w.cfg }

// WeaveBytes weaves one serialized class unit. Excluded classes come back
// unchanged.
func (w *Weaver) WeaveBytes(data []byte) ([]byte, Report, error) {
	version, err := bytecode.PeekVersion(data)
	if err != nil {
		return nil, Report{}, err
	}
	if version > w.cfg.MaxVersion {
		return nil, Report{}, &VersionError{Version: version, Max: w.cfg.MaxVersion}
	}
	c, err := bytecode.Unmarshal(data)
	if err != nil {
		return nil, Report{}, err
	}
	out, rep, err := w.Weave(c)
	if err != nil {
		return nil, rep, err
	}
	if rep.Skipped {
		return data, rep, nil
	}
	woven, err := bytecode.Marshal(out)
	if err != nil {
		return nil, rep, err
	}
	return woven, rep, nil
}

// Weave returns an instrumented copy of c. c is not modified. Any error
// fails the whole class.
func (w *Weaver) Weave(c *bytecode.Class) (*bytecode.Class, Report, error) {
	rep := Report{Class: c.Name}
	if c.Version > w.cfg.MaxVersion {
		return nil, rep, &VersionError{Class: c.Name, Version: c.Version, Max: w.cfg.MaxVersion}
	}
	if w.cfg.Policy.Excluded(c.Name) {
		log.Warningf("%s: excluded, left unchanged", c.Name)
		rep.Skipped = true
		return c, rep, nil
	}
	for _, f := range c.Fields {
		if f.Name == ClassBaseField || strings.HasSuffix(f.Name, AddressSuffix) {
			return nil, rep, fmt.Errorf("%s: %w", c.Name, ErrAlreadyWoven)
		}
	}

	frames := w.cfg.Frames && c.Version >= bytecode.VersionFrames
	rw := &Rewriter{Policy: w.cfg.Policy, Frames: frames}
	out := c.Clone()
	out.Methods = nil

	for _, m := range c.Methods {
		methods, err := w.method(c, m, rw, &rep)
		if err != nil {
			return nil, rep, &MethodError{Class: c.Name, Method: m.Name, Desc: m.Desc, Err: err}
		}
		out.Methods = append(out.Methods, methods...)
	}

	holder := NewFieldsHolder(c)
	holder.AddTo(out)
	addStaticInit(out, holder)
	if m := out.Method("<clinit>", "()V"); m != nil && m.Body != nil {
		if err := w.link(c.Name, m, frames); err != nil {
			return nil, rep, &MethodError{Class: c.Name, Method: m.Name, Desc: m.Desc, Err: err}
		}
	}

	log.Infof("%s: %d twins, %d atomic, %d field and %d array barriers, %d forwarded calls",
		c.Name, rep.Twins, rep.Atomic, rep.Fields, rep.Arrays, rep.Calls)
	return out, rep, nil
}

// method returns what replaces m in the woven class: m itself or its
// retry loop, followed by its twin.
func (w *Weaver) method(c *bytecode.Class, m *bytecode.Method, rw *Rewriter, rep *Report) ([]*bytecode.Method, error) {
	orig := cloneMethod(m)
	if orig.Body != nil {
		n, err := bytecode.InlineSubroutines(orig.Body)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			rep.Inlined += n
			log.Debugf("%s.%s%s: inlined %d subroutine calls", c.Name, m.Name, m.Desc, n)
		}
	}
	if m.Name == "<clinit>" {
		return []*bytecode.Method{orig}, nil
	}

	var (
		twin  *bytecode.Method
		stats Stats
		err   error
	)
	if m.IsNative() {
		twin, err = forwardNative(c, m)
	} else {
		twin, stats, err = rw.Duplicate(c.Name, orig)
	}
	if err != nil {
		return nil, err
	}
	if twin.Body != nil {
		if err := w.link(c.Name, twin, rw.Frames); err != nil {
			return nil, fmt.Errorf("twin: %w", err)
		}
	}
	rep.Twins++
	rep.add(stats)
	log.Debugf("%s.%s%s: twin %s, %d barriers", c.Name, m.Name, m.Desc, twin.Desc, stats.Barriers())

	cfg, atomic := AtomicConfig(m, w.cfg.DefaultRetries)
	switch {
	case !atomic:
	case m.IsConstructor() || m.Body == nil:
		log.Warningf("%s.%s%s: atomic ignored on a constructor or a method without code", c.Name, m.Name, m.Desc)
	default:
		ep := &EntryPoint{
			Owner:     c.Name,
			Interface: c.IsInterface(),
			Method:    m,
			TwinDesc:  twin.Desc,
			Config:    cfg,
			Frames:    rw.Frames,
		}
		id := w.cfg.Counter.Next()
		body, err := ep.Synthesize(id)
		if err != nil {
			return nil, fmt.Errorf("atomic entry point: %w", err)
		}
		orig.Body = body
		if err := w.link(c.Name, orig, rw.Frames); err != nil {
			return nil, fmt.Errorf("atomic entry point: %w", err)
		}
		rep.Atomic++
		rep.Attempts = append(rep.Attempts, id)
		log.Debugf("%s.%s%s: atomic block %d, retries %d", c.Name, m.Name, m.Desc, id, cfg.Retries)
	}
	return []*bytecode.Method{orig, twin}, nil
}

// link resolves long branches in m's body.
func (w *Weaver) link(owner string, m *bytecode.Method, frames bool) error {
	var frameAt bytecode.FrameFunc
	if frames {
		entry, err := frame.Initial(owner, m)
		if err != nil {
			return err
		}
		frameAt = frame.Resolver(owner, entry)
	}
	n, err := bytecode.ResolveJumps(m.Body, frameAt)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debugf("%s.%s%s: widened %d branches", owner, m.Name, m.Desc, n)
	}
	return nil
}

// forwardNative returns the twin of a native method: it drops the context
// and calls the method itself.
func forwardNative(c *bytecode.Class, m *bytecode.Method) (*bytecode.Method, error) {
	desc, err := stm.TwinDesc(m.Desc)
	if err != nil {
		return nil, err
	}
	mt, err := bytecode.ParseMethodType(m.Desc)
	if err != nil {
		return nil, err
	}
	args := mt.ArgumentsSize(m.IsStatic())
	b := &bytecode.Body{MaxStack: max(args, mt.Return.Size()), MaxLocals: args + 1}
	slot := 0
	op := bytecode.OpInvokestatic
	if !m.IsStatic() {
		b.Emit(bytecode.VarInsn(bytecode.OpAload, 0))
		slot = 1
		op = bytecode.OpInvokevirtual
		if m.Access&bytecode.AccPrivate != 0 {
			op = bytecode.OpInvokespecial
		}
	}
	for _, t := range mt.Args {
		b.Emit(typecode.Load(t, slot))
		slot += t.Size()
	}
	b.Emit(bytecode.MethodInsn(op, c.Name, m.Name, m.Desc, c.IsInterface()))
	b.Emit(typecode.Return(mt.Return))
	return &bytecode.Method{
		Access:     m.Access &^ bytecode.AccNative,
		Name:       m.Name,
		Desc:       desc,
		Exceptions: append([]string(nil), m.Exceptions...),
		Body:       b,
	}, nil
}

func cloneMethod(m *bytecode.Method) *bytecode.Method {
	c := &bytecode.Class{Methods: []*bytecode.Method{m}}
	return c.Clone().Methods[0]
}
