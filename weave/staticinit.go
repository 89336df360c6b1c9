package weave

import (
	"github.com/chazu/stmweave/pkg/bytecode"
	"github.com/chazu/stmweave/pkg/stm"
)

// staticInitStack is the operand depth the resolution code needs: a class
// and a name, or one long.
const staticInitStack = 2

// StaticInit returns the code populating h: one resolved address per
// managed field, the sentinel for the others, then the static storage
// base when the type has managed static fields.
func StaticInit(h *FieldsHolder) []bytecode.Insn {
	var code []bytecode.Insn
	for _, f := range h.Fields {
		if f.Managed {
			code = append(code,
				bytecode.LdcInsn(bytecode.ClassConst(h.Owner)),
				bytecode.LdcInsn(bytecode.StringConst(f.Name)),
				bytecode.MethodInsn(bytecode.OpInvokestatic, stm.AddressUtilInternal, stm.ResolveAddressMethod, stm.ResolveAddressDesc, false),
			)
		} else {
			code = append(code, bytecode.LdcInsn(bytecode.LongConst(UnmanagedAddress)))
		}
		code = append(code, bytecode.FieldInsn(bytecode.OpPutstatic, h.Owner, AddressField(f.Name), "J"))
	}
	if h.StaticBase != "" {
		code = append(code,
			bytecode.LdcInsn(bytecode.ClassConst(h.Owner)),
			bytecode.LdcInsn(bytecode.StringConst(h.StaticBase)),
			bytecode.MethodInsn(bytecode.OpInvokestatic, stm.AddressUtilInternal, stm.ResolveStaticBaseMethod, stm.ResolveStaticBaseDesc, false),
			bytecode.FieldInsn(bytecode.OpPutstatic, h.Owner, ClassBaseField, ClassBaseDesc),
		)
	}
	return code
}

// addStaticInit prepends the holder initialization to c's class
// initializer, creating one if c has none. The inserted code leaves the
// operand stack empty and touches no locals, so frames of an existing
// initializer stay valid.
func addStaticInit(c *bytecode.Class, h *FieldsHolder) {
	if h.Empty() {
		return
	}
	code := StaticInit(h)
	m := c.Method("<clinit>", "()V")
	if m == nil || m.Body == nil {
		body := &bytecode.Body{MaxStack: staticInitStack}
		body.Emit(code...)
		body.Emit(bytecode.Simple(bytecode.OpReturn))
		if m == nil {
			c.Methods = append(c.Methods, &bytecode.Method{
				Access: bytecode.AccStatic,
				Name:   "<clinit>",
				Desc:   "()V",
				Body:   body,
			})
		} else {
			m.Body = body
		}
		return
	}
	b := m.Body
	b.Insns = append(code, b.Insns...)
	b.MaxStack = max(b.MaxStack, staticInitStack)
}
