// Package bytecode models compiled classes for a stack-based managed
// runtime and provides the tooling the weaver needs around them.
//
// The instruction model keeps method bodies as flat, owned instruction
// lists rather than encoded byte arrays, so rewriting passes can splice
// freely and resolve offsets at the end.
//
// # Architecture Overview
//
//   - Opcodes: the standard stack-machine instruction set (0x00-0xC9) with
//     three pseudo instructions for labels, merge-point frames and line
//     numbers
//
//   - Insn, Body, Class: one instruction, one method body with its
//     exception and local-variable tables, one compiled type
//
//   - Type, MethodType: parsed field and method descriptors with slot sizes
//
//   - VType, Frame: verification types and merge-point frames in compressed
//     form, with Expand/Compress to and from slot form
//
//   - Marshal/Unmarshal: the class-unit byte format, a "STMC" header with
//     the format version followed by a canonical CBOR payload
//
//   - ResolveJumps: the fix-up pass that widens branches whose
//     displacement overflows a 16-bit offset once rewriting is done
//
//   - InlineSubroutines: replaces jsr/ret subroutines with per-call-site
//     copies, so later passes only see plain branches
//
//   - Disassemble/Assemble: a text listing that round-trips classes, used
//     for fixtures and by the CLI
//
//   - VM: a reference interpreter. It does not verify; it runs woven code
//     against Go implementations of host classes registered as natives
//
// # Labels
//
// Branch targets, handler ranges and debug ranges refer to labels, not
// offsets. A LABEL pseudo instruction marks a position; a FRAME directly
// after a LABEL gives the frame valid there.
package bytecode
