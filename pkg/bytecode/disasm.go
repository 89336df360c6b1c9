package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a listing of the class in the format read by
// Assemble.
func Disassemble(c *Class) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; class unit v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("class %s version %d access 0x%04X\n", c.Name, c.Version, c.Access))
	if c.Super != "" {
		sb.WriteString(fmt.Sprintf("  super %s\n", c.Super))
	}
	for _, itf := range c.Interfaces {
		sb.WriteString(fmt.Sprintf("  interface %s\n", itf))
	}
	if c.Source != "" {
		sb.WriteString(fmt.Sprintf("  source %s\n", strconv.Quote(c.Source)))
	}
	for _, f := range c.Fields {
		sb.WriteString(fmt.Sprintf("  field 0x%04X %s %s\n", f.Access, f.Name, f.Desc))
	}
	for _, m := range c.Methods {
		sb.WriteString("\n")
		writeMethod(&sb, m)
	}
	sb.WriteString("end\n")
	return sb.String()
}

func writeMethod(sb *strings.Builder, m *Method) {
	sb.WriteString(fmt.Sprintf("  method 0x%04X %s %s\n", m.Access, m.Name, m.Desc))
	for _, e := range m.Exceptions {
		sb.WriteString(fmt.Sprintf("    throws %s\n", e))
	}
	for _, a := range m.Annotations {
		sb.WriteString("    annotation " + a.Desc)
		for _, v := range a.Values {
			sb.WriteString(" " + v.Name + "=")
			switch v.Kind {
			case 's':
				sb.WriteString(strconv.Quote(v.Str))
			case 'Z':
				sb.WriteString(strconv.FormatBool(v.Bool))
			default:
				sb.WriteString(strconv.FormatInt(v.Int, 10))
			}
		}
		sb.WriteString("\n")
	}
	if b := m.Body; b != nil {
		sb.WriteString(fmt.Sprintf("    code maxstack=%d maxlocals=%d labels=%d\n", b.MaxStack, b.MaxLocals, b.Labels))
		for _, line := range DisassembleToLines(b) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		for _, h := range b.Handlers {
			typ := h.Type
			if typ == "" {
				typ = "*"
			}
			sb.WriteString(fmt.Sprintf("    handler L%d L%d L%d %s\n", h.Start, h.End, h.Target, typ))
		}
		for _, lv := range b.LocalVars {
			sb.WriteString(fmt.Sprintf("    local %d %s %s L%d L%d\n", lv.Index, lv.Name, lv.Desc, lv.Start, lv.End))
		}
	}
	sb.WriteString("  end\n")
}

// DisassembleToLines returns the instruction listing of a body, one
// instruction per line. Labels are flush with the method; everything else
// is indented beneath them.
func DisassembleToLines(b *Body) []string {
	lines := make([]string, 0, len(b.Insns))
	for _, in := range b.Insns {
		if in.Op == OpLabel {
			lines = append(lines, fmt.Sprintf("    L%d:", in.Target))
			continue
		}
		lines = append(lines, "      "+DisassembleInsn(in))
	}
	return lines
}

// DisassembleInsn returns the assembler text of a single instruction.
func DisassembleInsn(in Insn) string {
	name := in.Op.String()
	switch in.Op.Kind() {
	case KindInt:
		return fmt.Sprintf("%s %d", name, in.Int)
	case KindVar:
		return fmt.Sprintf("%s %d", name, in.Var)
	case KindIinc:
		return fmt.Sprintf("%s %d %d", name, in.Var, in.Incr)
	case KindLdc:
		if in.Const == nil {
			return name + " ?"
		}
		return name + " " + in.Const.String()
	case KindField:
		return fmt.Sprintf("%s %s.%s %s", name, in.Owner, in.Name, in.Desc)
	case KindMethod:
		s := fmt.Sprintf("%s %s.%s %s", name, in.Owner, in.Name, in.Desc)
		if in.Itf {
			s += " itf"
		}
		return s
	case KindDynamic:
		return fmt.Sprintf("%s %s %s %s", name, in.Name, in.Desc, strconv.Quote(in.Owner))
	case KindType:
		return fmt.Sprintf("%s %s", name, in.Owner)
	case KindJump:
		return fmt.Sprintf("%s L%d", name, in.Target)
	case KindSwitch:
		if in.Switch == nil {
			return name + " ?"
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%s L%d", name, in.Switch.Default))
		for i, t := range in.Switch.Targets {
			sb.WriteString(fmt.Sprintf(" %d:L%d", in.Switch.Keys[i], t))
		}
		return sb.String()
	case KindMultiArray:
		return fmt.Sprintf("%s %s %d", name, in.Desc, in.Dims)
	case KindFrame:
		if in.Frame == nil {
			return name + " ?"
		}
		return name + " " + in.Frame.String()
	case KindLine:
		return fmt.Sprintf("%s %d", name, in.Int)
	}
	return name
}
