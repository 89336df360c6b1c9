package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Assemble parses the listing format produced by Disassemble.
// Lines starting with ';' are comments.
func Assemble(src string) (*Class, error) {
	p := &asmParser{}
	for i, raw := range strings.Split(src, "\n") {
		p.line = i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		toks, err := tokenize(line)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		if err := p.handle(toks); err != nil {
			return nil, err
		}
		if p.done {
			break
		}
	}
	if p.class == nil {
		return nil, fmt.Errorf("%w: no class declaration", ErrMalformed)
	}
	if !p.done {
		return nil, fmt.Errorf("%w: missing end of class %s", ErrMalformed, p.class.Name)
	}
	for _, m := range p.class.Methods {
		if m.Body == nil {
			continue
		}
		if err := m.Body.Validate(); err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", p.class.Name, m.Name, m.Desc, err)
		}
	}
	return p.class, nil
}

type asmParser struct {
	line   int
	class  *Class
	method *Method
	done   bool
}

func (p *asmParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, p.line, fmt.Sprintf(format, args...))
}

func (p *asmParser) handle(toks []string) error {
	if p.class == nil {
		return p.classHeader(toks)
	}
	if p.method == nil {
		return p.classMember(toks)
	}
	return p.methodMember(toks)
}

func (p *asmParser) classHeader(toks []string) error {
	if len(toks) != 6 || toks[0] != "class" || toks[2] != "version" || toks[4] != "access" {
		return p.errorf("expected 'class NAME version N access FLAGS'")
	}
	version, err := strconv.Atoi(toks[3])
	if err != nil {
		return p.errorf("bad version %q", toks[3])
	}
	access, err := parseFlags(toks[5])
	if err != nil {
		return p.errorf("bad access flags %q", toks[5])
	}
	p.class = &Class{Name: toks[1], Version: version, Access: access}
	return nil
}

func (p *asmParser) classMember(toks []string) error {
	c := p.class
	switch toks[0] {
	case "super":
		if len(toks) != 2 {
			return p.errorf("super takes one name")
		}
		c.Super = toks[1]
	case "interface":
		if len(toks) != 2 {
			return p.errorf("interface takes one name")
		}
		c.Interfaces = append(c.Interfaces, toks[1])
	case "source":
		if len(toks) != 2 {
			return p.errorf("source takes one string")
		}
		s, err := strconv.Unquote(toks[1])
		if err != nil {
			return p.errorf("bad source string %s", toks[1])
		}
		c.Source = s
	case "field":
		if len(toks) != 4 {
			return p.errorf("expected 'field FLAGS NAME DESC'")
		}
		access, err := parseFlags(toks[1])
		if err != nil {
			return p.errorf("bad access flags %q", toks[1])
		}
		if _, err := ParseType(toks[3]); err != nil {
			return p.errorf("%v", err)
		}
		c.Fields = append(c.Fields, &Field{Access: access, Name: toks[2], Desc: toks[3]})
	case "method":
		if len(toks) != 4 {
			return p.errorf("expected 'method FLAGS NAME DESC'")
		}
		access, err := parseFlags(toks[1])
		if err != nil {
			return p.errorf("bad access flags %q", toks[1])
		}
		if _, err := ParseMethodType(toks[3]); err != nil {
			return p.errorf("%v", err)
		}
		p.method = &Method{Access: access, Name: toks[2], Desc: toks[3]}
		c.Methods = append(c.Methods, p.method)
	case "end":
		p.done = true
	default:
		return p.errorf("unexpected %q in class body", toks[0])
	}
	return nil
}

func (p *asmParser) methodMember(toks []string) error {
	m := p.method
	switch toks[0] {
	case "end":
		p.method = nil
		return nil
	case "throws":
		if len(toks) != 2 {
			return p.errorf("throws takes one name")
		}
		m.Exceptions = append(m.Exceptions, toks[1])
		return nil
	case "annotation":
		return p.annotation(toks)
	case "code":
		return p.code(toks)
	}
	if m.Body == nil {
		return p.errorf("instruction before code header")
	}
	b := m.Body
	switch toks[0] {
	case "handler":
		if len(toks) != 5 {
			return p.errorf("expected 'handler START END TARGET TYPE'")
		}
		var h Handler
		var err error
		if h.Start, err = parseLabel(toks[1]); err != nil {
			return p.errorf("%v", err)
		}
		if h.End, err = parseLabel(toks[2]); err != nil {
			return p.errorf("%v", err)
		}
		if h.Target, err = parseLabel(toks[3]); err != nil {
			return p.errorf("%v", err)
		}
		if toks[4] != "*" {
			h.Type = toks[4]
		}
		b.Handlers = append(b.Handlers, h)
		return nil
	case "local":
		if len(toks) != 6 {
			return p.errorf("expected 'local INDEX NAME DESC START END'")
		}
		idx, err := strconv.Atoi(toks[1])
		if err != nil {
			return p.errorf("bad local index %q", toks[1])
		}
		lv := LocalVar{Index: idx, Name: toks[2], Desc: toks[3]}
		if lv.Start, err = parseLabel(toks[4]); err != nil {
			return p.errorf("%v", err)
		}
		if lv.End, err = parseLabel(toks[5]); err != nil {
			return p.errorf("%v", err)
		}
		b.LocalVars = append(b.LocalVars, lv)
		return nil
	}
	if len(toks) == 1 && strings.HasSuffix(toks[0], ":") {
		l, err := parseLabel(strings.TrimSuffix(toks[0], ":"))
		if err != nil {
			return p.errorf("%v", err)
		}
		b.Insns = append(b.Insns, LabelInsn(l))
		if l > b.Labels {
			b.Labels = l
		}
		return nil
	}
	in, err := parseInsn(toks)
	if err != nil {
		return p.errorf("%v", err)
	}
	b.Insns = append(b.Insns, in)
	return nil
}

func (p *asmParser) annotation(toks []string) error {
	if len(toks) < 2 {
		return p.errorf("annotation needs a descriptor")
	}
	a := Annotation{Desc: toks[1]}
	for _, kv := range toks[2:] {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return p.errorf("bad annotation element %q", kv)
		}
		v := AnnotationValue{Name: name}
		switch {
		case strings.HasPrefix(val, `"`):
			s, err := strconv.Unquote(val)
			if err != nil {
				return p.errorf("bad annotation string %s", val)
			}
			v.Kind, v.Str = 's', s
		case val == "true" || val == "false":
			v.Kind, v.Bool = 'Z', val == "true"
		default:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return p.errorf("bad annotation value %q", val)
			}
			v.Kind, v.Int = 'I', n
		}
		a.Values = append(a.Values, v)
	}
	p.method.Annotations = append(p.method.Annotations, a)
	return nil
}

func (p *asmParser) code(toks []string) error {
	if p.method.Body != nil {
		return p.errorf("duplicate code header")
	}
	b := &Body{}
	for _, kv := range toks[1:] {
		name, val, ok := strings.Cut(kv, "=")
		n, err := strconv.Atoi(val)
		if !ok || err != nil {
			return p.errorf("bad code attribute %q", kv)
		}
		switch name {
		case "maxstack":
			b.MaxStack = n
		case "maxlocals":
			b.MaxLocals = n
		case "labels":
			b.Labels = Label(n)
		default:
			return p.errorf("unknown code attribute %q", name)
		}
	}
	p.method.Body = b
	return nil
}

func parseInsn(toks []string) (Insn, error) {
	op, ok := LookupOpcode(toks[0])
	if !ok || op == OpLabel {
		return Insn{}, fmt.Errorf("unknown instruction %q", toks[0])
	}
	args := toks[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d operand(s), got %d", op, n, len(args))
		}
		return nil
	}
	in := Insn{Op: op}
	switch op.Kind() {
	case KindNone:
		return in, want(0)
	case KindInt, KindLine:
		if err := want(1); err != nil {
			return in, err
		}
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return in, fmt.Errorf("bad operand %q", args[0])
		}
		in.Int = int32(n)
	case KindVar:
		if err := want(1); err != nil {
			return in, err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return in, fmt.Errorf("bad slot %q", args[0])
		}
		in.Var = n
	case KindIinc:
		if err := want(2); err != nil {
			return in, err
		}
		slot, err1 := strconv.Atoi(args[0])
		incr, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil || slot < 0 {
			return in, fmt.Errorf("bad iinc operands %v", args)
		}
		in.Var, in.Incr = slot, incr
	case KindLdc:
		c, err := parseConst(args)
		if err != nil {
			return in, err
		}
		in.Const = c
	case KindField, KindMethod:
		if op.Kind() == KindMethod && len(args) == 3 && args[2] == "itf" {
			in.Itf = true
			args = args[:2]
		}
		if err := want(2); err != nil {
			return in, err
		}
		dot := strings.LastIndexByte(args[0], '.')
		if dot <= 0 || dot == len(args[0])-1 {
			return in, fmt.Errorf("bad member reference %q", args[0])
		}
		in.Owner, in.Name, in.Desc = args[0][:dot], args[0][dot+1:], args[1]
	case KindDynamic:
		if err := want(3); err != nil {
			return in, err
		}
		bsm, err := strconv.Unquote(args[2])
		if err != nil {
			return in, fmt.Errorf("bad bootstrap %s", args[2])
		}
		in.Name, in.Desc, in.Owner = args[0], args[1], bsm
	case KindType:
		if err := want(1); err != nil {
			return in, err
		}
		in.Owner = args[0]
	case KindJump:
		if err := want(1); err != nil {
			return in, err
		}
		l, err := parseLabel(args[0])
		if err != nil {
			return in, err
		}
		in.Target = l
	case KindSwitch:
		if len(args) < 1 {
			return in, fmt.Errorf("%s needs a default label", op)
		}
		def, err := parseLabel(args[0])
		if err != nil {
			return in, err
		}
		st := &SwitchTable{Default: def}
		for _, kv := range args[1:] {
			k, l, ok := strings.Cut(kv, ":")
			key, err := strconv.ParseInt(k, 10, 32)
			if !ok || err != nil {
				return in, fmt.Errorf("bad switch case %q", kv)
			}
			target, err := parseLabel(l)
			if err != nil {
				return in, err
			}
			st.Keys = append(st.Keys, int32(key))
			st.Targets = append(st.Targets, target)
		}
		in.Switch = st
	case KindMultiArray:
		if err := want(2); err != nil {
			return in, err
		}
		dims, err := strconv.Atoi(args[1])
		if err != nil || dims < 1 {
			return in, fmt.Errorf("bad dimensions %q", args[1])
		}
		in.Desc, in.Dims = args[0], dims
	case KindFrame:
		f, err := parseFrame(args)
		if err != nil {
			return in, err
		}
		in.Frame = f
	}
	return in, nil
}

func parseConst(args []string) (*Constant, error) {
	if len(args) == 2 && args[0] == "class" {
		return ClassConst(args[1]), nil
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("ldc takes one constant")
	}
	s := args[0]
	switch {
	case strings.HasPrefix(s, `"`):
		str, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("bad string constant %s", s)
		}
		return StringConst(str), nil
	case strings.HasSuffix(s, "L"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "L"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad long constant %q", s)
		}
		return LongConst(n), nil
	case strings.HasSuffix(s, "F"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "F"), 32)
		if err != nil {
			return nil, fmt.Errorf("bad float constant %q", s)
		}
		return FloatConst(float32(f)), nil
	case strings.HasSuffix(s, "D"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "D"), 64)
		if err != nil {
			return nil, fmt.Errorf("bad double constant %q", s)
		}
		return DoubleConst(f), nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad int constant %q", s)
	}
	return IntConst(int32(n)), nil
}

func parseFrame(args []string) (*Frame, error) {
	f := &Frame{}
	inStack := false
	for _, tok := range args {
		if tok == "|" {
			if inStack {
				return nil, fmt.Errorf("frame has more than one separator")
			}
			inStack = true
			continue
		}
		v, err := parseVType(tok)
		if err != nil {
			return nil, err
		}
		if inStack {
			f.Stack = append(f.Stack, v)
		} else {
			f.Locals = append(f.Locals, v)
		}
	}
	if !inStack {
		return nil, fmt.Errorf("frame without '|' separator")
	}
	return f, nil
}

func parseVType(tok string) (VType, error) {
	switch tok {
	case "top":
		return Top, nil
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "long":
		return Long, nil
	case "double":
		return Double, nil
	case "null":
		return Null, nil
	case "uninitializedThis":
		return UninitializedThis, nil
	}
	if rest, ok := strings.CutPrefix(tok, "uninitialized("); ok {
		l, err := parseLabel(strings.TrimSuffix(rest, ")"))
		if err != nil || !strings.HasSuffix(rest, ")") {
			return VType{}, fmt.Errorf("bad verification type %q", tok)
		}
		return Uninitialized(l), nil
	}
	return ObjectV(tok), nil
}

func parseLabel(s string) (Label, error) {
	if !strings.HasPrefix(s, "L") {
		return 0, fmt.Errorf("bad label %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad label %q", s)
	}
	return Label(n), nil
}

func parseFlags(s string) (int, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	return int(n), err
}

// tokenize splits a line on whitespace, keeping double-quoted strings
// (which may start mid-token, as in name="a b") intact.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote, escaped, have := false, false, false
	for _, r := range line {
		switch {
		case inQuote:
			cur.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inQuote = false
			}
		case r == '"':
			inQuote, have = true, true
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if have {
				toks = append(toks, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string")
	}
	if have {
		toks = append(toks, cur.String())
	}
	return toks, nil
}
