package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Real opcodes use the standard stack-machine numbering; the three pseudo
// opcodes (labels, frames, line numbers) live in the unused 0xE0 range and
// never reach an encoded method body.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x14)
	// ========================================================================

	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10 // push sign-extended byte: Int
	OpSipush     Opcode = 0x11 // push sign-extended short: Int
	OpLdc        Opcode = 0x12 // push constant: Const (ldc_w/ldc2_w chosen at encoding)

	// ========================================================================
	// Loads (0x15-0x35)
	// ========================================================================

	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIaload Opcode = 0x2E
	OpLaload Opcode = 0x2F
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35

	// ========================================================================
	// Stores (0x36-0x56)
	// ========================================================================

	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIastore Opcode = 0x4F
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56

	// ========================================================================
	// Stack manipulation (0x57-0x5F)
	// ========================================================================

	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F

	// ========================================================================
	// Arithmetic and logic (0x60-0x84)
	// ========================================================================

	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6A
	OpDmul  Opcode = 0x6B
	OpIdiv  Opcode = 0x6C
	OpLdiv  Opcode = 0x6D
	OpFdiv  Opcode = 0x6E
	OpDdiv  Opcode = 0x6F
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7A
	OpLshr  Opcode = 0x7B
	OpIushr Opcode = 0x7C
	OpLushr Opcode = 0x7D
	OpIand  Opcode = 0x7E
	OpLand  Opcode = 0x7F
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // increment local: Var, Incr

	// ========================================================================
	// Conversions (0x85-0x93)
	// ========================================================================

	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8A
	OpF2i Opcode = 0x8B
	OpF2l Opcode = 0x8C
	OpF2d Opcode = 0x8D
	OpD2i Opcode = 0x8E
	OpD2l Opcode = 0x8F
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93

	// ========================================================================
	// Comparison and control flow (0x94-0xAB)
	// ========================================================================

	OpLcmp         Opcode = 0x94
	OpFcmpl        Opcode = 0x95
	OpFcmpg        Opcode = 0x96
	OpDcmpl        Opcode = 0x97
	OpDcmpg        Opcode = 0x98
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9A
	OpIflt         Opcode = 0x9B
	OpIfge         Opcode = 0x9C
	OpIfgt         Opcode = 0x9D
	OpIfle         Opcode = 0x9E
	OpIfIcmpeq     Opcode = 0x9F
	OpIfIcmpne     Opcode = 0xA0
	OpIfIcmplt     Opcode = 0xA1
	OpIfIcmpge     Opcode = 0xA2
	OpIfIcmpgt     Opcode = 0xA3
	OpIfIcmple     Opcode = 0xA4
	OpIfAcmpeq     Opcode = 0xA5
	OpIfAcmpne     Opcode = 0xA6
	OpGoto         Opcode = 0xA7
	OpJsr          Opcode = 0xA8 // subroutine call; removed by InlineSubroutines
	OpRet          Opcode = 0xA9 // Var holds the return address
	OpTableswitch  Opcode = 0xAA // Switch
	OpLookupswitch Opcode = 0xAB // Switch

	// ========================================================================
	// Returns (0xAC-0xB1)
	// ========================================================================

	OpIreturn Opcode = 0xAC
	OpLreturn Opcode = 0xAD
	OpFreturn Opcode = 0xAE
	OpDreturn Opcode = 0xAF
	OpAreturn Opcode = 0xB0
	OpReturn  Opcode = 0xB1

	// ========================================================================
	// Fields and invocation (0xB2-0xBA)
	// ========================================================================

	OpGetstatic       Opcode = 0xB2 // Owner, Name, Desc
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6 // Owner, Name, Desc
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9
	OpInvokedynamic   Opcode = 0xBA // Name, Desc; bootstrap kept opaque in Owner

	// ========================================================================
	// Objects and arrays (0xBB-0xC9)
	// ========================================================================

	OpNew            Opcode = 0xBB // Owner = class internal name
	OpNewarray       Opcode = 0xBC // Int = primitive array type code
	OpAnewarray      Opcode = 0xBD // Owner = element internal name or descriptor
	OpArraylength    Opcode = 0xBE
	OpAthrow         Opcode = 0xBF
	OpCheckcast      Opcode = 0xC0 // Owner
	OpInstanceof     Opcode = 0xC1 // Owner
	OpMonitorenter   Opcode = 0xC2
	OpMonitorexit    Opcode = 0xC3
	OpMultianewarray Opcode = 0xC5 // Desc, Dims
	OpIfnull         Opcode = 0xC6
	OpIfnonnull      Opcode = 0xC7
	OpGotoW          Opcode = 0xC8
	OpJsrW           Opcode = 0xC9

	// ========================================================================
	// Pseudo instructions (0xE0-0xE2)
	// ========================================================================

	OpLabel Opcode = 0xE0 // marks Label
	OpFrame Opcode = 0xE1 // merge-point frame valid at the preceding label
	OpLine  Opcode = 0xE2 // source line number for the preceding label
)

// Primitive array type codes used by newarray.
const (
	ArrayBoolean = 4
	ArrayChar    = 5
	ArrayFloat   = 6
	ArrayDouble  = 7
	ArrayByte    = 8
	ArrayShort   = 9
	ArrayInt     = 10
	ArrayLong    = 11
)

// OperandKind says which Insn fields an opcode uses.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindInt
	KindVar
	KindIinc
	KindLdc
	KindField
	KindMethod
	KindDynamic
	KindType
	KindJump
	KindSwitch
	KindMultiArray
	KindLabel
	KindFrame
	KindLine
)

// OpcodeInfo provides metadata about each opcode for encoding and listing.
type OpcodeInfo struct {
	Name string      // Mnemonic
	Kind OperandKind // Operand layout
	Len  int         // Encoded length in bytes (0 = depends on operands)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:        {"nop", KindNone, 1},
	OpAconstNull: {"aconst_null", KindNone, 1},
	OpIconstM1:   {"iconst_m1", KindNone, 1},
	OpIconst0:    {"iconst_0", KindNone, 1},
	OpIconst1:    {"iconst_1", KindNone, 1},
	OpIconst2:    {"iconst_2", KindNone, 1},
	OpIconst3:    {"iconst_3", KindNone, 1},
	OpIconst4:    {"iconst_4", KindNone, 1},
	OpIconst5:    {"iconst_5", KindNone, 1},
	OpLconst0:    {"lconst_0", KindNone, 1},
	OpLconst1:    {"lconst_1", KindNone, 1},
	OpFconst0:    {"fconst_0", KindNone, 1},
	OpFconst1:    {"fconst_1", KindNone, 1},
	OpFconst2:    {"fconst_2", KindNone, 1},
	OpDconst0:    {"dconst_0", KindNone, 1},
	OpDconst1:    {"dconst_1", KindNone, 1},
	OpBipush:     {"bipush", KindInt, 2},
	OpSipush:     {"sipush", KindInt, 3},
	OpLdc:        {"ldc", KindLdc, 3},

	OpIload:  {"iload", KindVar, 0},
	OpLload:  {"lload", KindVar, 0},
	OpFload:  {"fload", KindVar, 0},
	OpDload:  {"dload", KindVar, 0},
	OpAload:  {"aload", KindVar, 0},
	OpIaload: {"iaload", KindNone, 1},
	OpLaload: {"laload", KindNone, 1},
	OpFaload: {"faload", KindNone, 1},
	OpDaload: {"daload", KindNone, 1},
	OpAaload: {"aaload", KindNone, 1},
	OpBaload: {"baload", KindNone, 1},
	OpCaload: {"caload", KindNone, 1},
	OpSaload: {"saload", KindNone, 1},

	OpIstore:  {"istore", KindVar, 0},
	OpLstore:  {"lstore", KindVar, 0},
	OpFstore:  {"fstore", KindVar, 0},
	OpDstore:  {"dstore", KindVar, 0},
	OpAstore:  {"astore", KindVar, 0},
	OpIastore: {"iastore", KindNone, 1},
	OpLastore: {"lastore", KindNone, 1},
	OpFastore: {"fastore", KindNone, 1},
	OpDastore: {"dastore", KindNone, 1},
	OpAastore: {"aastore", KindNone, 1},
	OpBastore: {"bastore", KindNone, 1},
	OpCastore: {"castore", KindNone, 1},
	OpSastore: {"sastore", KindNone, 1},

	OpPop:    {"pop", KindNone, 1},
	OpPop2:   {"pop2", KindNone, 1},
	OpDup:    {"dup", KindNone, 1},
	OpDupX1:  {"dup_x1", KindNone, 1},
	OpDupX2:  {"dup_x2", KindNone, 1},
	OpDup2:   {"dup2", KindNone, 1},
	OpDup2X1: {"dup2_x1", KindNone, 1},
	OpDup2X2: {"dup2_x2", KindNone, 1},
	OpSwap:   {"swap", KindNone, 1},

	OpIadd:  {"iadd", KindNone, 1},
	OpLadd:  {"ladd", KindNone, 1},
	OpFadd:  {"fadd", KindNone, 1},
	OpDadd:  {"dadd", KindNone, 1},
	OpIsub:  {"isub", KindNone, 1},
	OpLsub:  {"lsub", KindNone, 1},
	OpFsub:  {"fsub", KindNone, 1},
	OpDsub:  {"dsub", KindNone, 1},
	OpImul:  {"imul", KindNone, 1},
	OpLmul:  {"lmul", KindNone, 1},
	OpFmul:  {"fmul", KindNone, 1},
	OpDmul:  {"dmul", KindNone, 1},
	OpIdiv:  {"idiv", KindNone, 1},
	OpLdiv:  {"ldiv", KindNone, 1},
	OpFdiv:  {"fdiv", KindNone, 1},
	OpDdiv:  {"ddiv", KindNone, 1},
	OpIrem:  {"irem", KindNone, 1},
	OpLrem:  {"lrem", KindNone, 1},
	OpFrem:  {"frem", KindNone, 1},
	OpDrem:  {"drem", KindNone, 1},
	OpIneg:  {"ineg", KindNone, 1},
	OpLneg:  {"lneg", KindNone, 1},
	OpFneg:  {"fneg", KindNone, 1},
	OpDneg:  {"dneg", KindNone, 1},
	OpIshl:  {"ishl", KindNone, 1},
	OpLshl:  {"lshl", KindNone, 1},
	OpIshr:  {"ishr", KindNone, 1},
	OpLshr:  {"lshr", KindNone, 1},
	OpIushr: {"iushr", KindNone, 1},
	OpLushr: {"lushr", KindNone, 1},
	OpIand:  {"iand", KindNone, 1},
	OpLand:  {"land", KindNone, 1},
	OpIor:   {"ior", KindNone, 1},
	OpLor:   {"lor", KindNone, 1},
	OpIxor:  {"ixor", KindNone, 1},
	OpLxor:  {"lxor", KindNone, 1},
	OpIinc:  {"iinc", KindIinc, 0},

	OpI2l: {"i2l", KindNone, 1},
	OpI2f: {"i2f", KindNone, 1},
	OpI2d: {"i2d", KindNone, 1},
	OpL2i: {"l2i", KindNone, 1},
	OpL2f: {"l2f", KindNone, 1},
	OpL2d: {"l2d", KindNone, 1},
	OpF2i: {"f2i", KindNone, 1},
	OpF2l: {"f2l", KindNone, 1},
	OpF2d: {"f2d", KindNone, 1},
	OpD2i: {"d2i", KindNone, 1},
	OpD2l: {"d2l", KindNone, 1},
	OpD2f: {"d2f", KindNone, 1},
	OpI2b: {"i2b", KindNone, 1},
	OpI2c: {"i2c", KindNone, 1},
	OpI2s: {"i2s", KindNone, 1},

	OpLcmp:         {"lcmp", KindNone, 1},
	OpFcmpl:        {"fcmpl", KindNone, 1},
	OpFcmpg:        {"fcmpg", KindNone, 1},
	OpDcmpl:        {"dcmpl", KindNone, 1},
	OpDcmpg:        {"dcmpg", KindNone, 1},
	OpIfeq:         {"ifeq", KindJump, 3},
	OpIfne:         {"ifne", KindJump, 3},
	OpIflt:         {"iflt", KindJump, 3},
	OpIfge:         {"ifge", KindJump, 3},
	OpIfgt:         {"ifgt", KindJump, 3},
	OpIfle:         {"ifle", KindJump, 3},
	OpIfIcmpeq:     {"if_icmpeq", KindJump, 3},
	OpIfIcmpne:     {"if_icmpne", KindJump, 3},
	OpIfIcmplt:     {"if_icmplt", KindJump, 3},
	OpIfIcmpge:     {"if_icmpge", KindJump, 3},
	OpIfIcmpgt:     {"if_icmpgt", KindJump, 3},
	OpIfIcmple:     {"if_icmple", KindJump, 3},
	OpIfAcmpeq:     {"if_acmpeq", KindJump, 3},
	OpIfAcmpne:     {"if_acmpne", KindJump, 3},
	OpGoto:         {"goto", KindJump, 3},
	OpJsr:          {"jsr", KindJump, 3},
	OpRet:          {"ret", KindVar, 0},
	OpTableswitch:  {"tableswitch", KindSwitch, 0},
	OpLookupswitch: {"lookupswitch", KindSwitch, 0},

	OpIreturn: {"ireturn", KindNone, 1},
	OpLreturn: {"lreturn", KindNone, 1},
	OpFreturn: {"freturn", KindNone, 1},
	OpDreturn: {"dreturn", KindNone, 1},
	OpAreturn: {"areturn", KindNone, 1},
	OpReturn:  {"return", KindNone, 1},

	OpGetstatic:       {"getstatic", KindField, 3},
	OpPutstatic:       {"putstatic", KindField, 3},
	OpGetfield:        {"getfield", KindField, 3},
	OpPutfield:        {"putfield", KindField, 3},
	OpInvokevirtual:   {"invokevirtual", KindMethod, 3},
	OpInvokespecial:   {"invokespecial", KindMethod, 3},
	OpInvokestatic:    {"invokestatic", KindMethod, 3},
	OpInvokeinterface: {"invokeinterface", KindMethod, 5},
	OpInvokedynamic:   {"invokedynamic", KindDynamic, 5},

	OpNew:            {"new", KindType, 3},
	OpNewarray:       {"newarray", KindInt, 2},
	OpAnewarray:      {"anewarray", KindType, 3},
	OpArraylength:    {"arraylength", KindNone, 1},
	OpAthrow:         {"athrow", KindNone, 1},
	OpCheckcast:      {"checkcast", KindType, 3},
	OpInstanceof:     {"instanceof", KindType, 3},
	OpMonitorenter:   {"monitorenter", KindNone, 1},
	OpMonitorexit:    {"monitorexit", KindNone, 1},
	OpMultianewarray: {"multianewarray", KindMultiArray, 4},
	OpIfnull:         {"ifnull", KindJump, 3},
	OpIfnonnull:      {"ifnonnull", KindJump, 3},
	OpGotoW:          {"goto_w", KindJump, 5},
	OpJsrW:           {"jsr_w", KindJump, 5},

	OpLabel: {"label", KindLabel, 0},
	OpFrame: {"frame", KindFrame, 0},
	OpLine:  {"line", KindLine, 0},
}

// opcodeByName is the reverse of opcodeInfoTable, used by the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Kind returns the operand layout of this opcode.
func (op Opcode) Kind() OperandKind {
	return GetOpcodeInfo(op).Kind
}

// Known reports whether op is a modeled opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsPseudo returns true for labels, frames and line numbers.
func (op Opcode) IsPseudo() bool {
	return op >= OpLabel && op <= OpLine
}

// IsJump returns true for conditional and unconditional branches.
func (op Opcode) IsJump() bool {
	return op.Kind() == KindJump
}

// IsConditionalJump returns true for branches that may fall through.
func (op Opcode) IsConditionalJump() bool {
	return op.IsJump() && op != OpGoto && op != OpGotoW && !op.IsSubroutineCall()
}

// IsSubroutineCall returns true for jsr and jsr_w.
func (op Opcode) IsSubroutineCall() bool {
	return op == OpJsr || op == OpJsrW
}

// IsReturn returns true if this opcode returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// EndsBlock returns true if control never falls through to the next instruction.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpAthrow, OpTableswitch, OpLookupswitch, OpRet:
		return true
	}
	return op.IsReturn()
}

// IsFieldAccess returns true for get/put of static and instance fields.
func (op Opcode) IsFieldAccess() bool {
	return op >= OpGetstatic && op <= OpPutfield
}

// IsInvoke returns true for the four method invocation opcodes (not invokedynamic).
func (op Opcode) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokeinterface
}

// IsArrayLoad returns true for the eight typed array element loads.
func (op Opcode) IsArrayLoad() bool {
	return op >= OpIaload && op <= OpSaload
}

// IsArrayStore returns true for the eight typed array element stores.
func (op Opcode) IsArrayStore() bool {
	return op >= OpIastore && op <= OpSastore
}

// IsLoad returns true for local-variable loads.
func (op Opcode) IsLoad() bool {
	return op >= OpIload && op <= OpAload
}

// IsStore returns true for local-variable stores.
func (op Opcode) IsStore() bool {
	return op >= OpIstore && op <= OpAstore
}

// Invert returns the conditional branch with the opposite condition.
func (op Opcode) Invert() Opcode {
	switch {
	case op >= OpIfeq && op <= OpIfAcmpne:
		// Conditions come in adjacent pairs: eq/ne, lt/ge, gt/le.
		if (op-OpIfeq)%2 == 0 {
			return op + 1
		}
		return op - 1
	case op == OpIfnull:
		return OpIfnonnull
	case op == OpIfnonnull:
		return OpIfnull
	}
	return op
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
