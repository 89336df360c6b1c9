package bytecode

import (
	"fmt"
	"math"
)

// MaxCodeLength is the largest encodable method body.
const MaxCodeLength = 65535

// Layout is the encoded shape of a body: per-instruction offsets and the
// offset of every label.
type Layout struct {
	Offsets []int
	Labels  map[Label]int
	Length  int
}

// EncodedLen returns the encoded size of in when it starts at offset.
// Pseudo instructions occupy no space.
func EncodedLen(in Insn, offset int) int {
	switch in.Op.Kind() {
	case KindLabel, KindFrame, KindLine:
		return 0
	case KindVar:
		switch {
		case in.Op == OpRet && in.Var <= math.MaxUint8:
			return 2
		case in.Var <= 3:
			return 1
		case in.Var <= math.MaxUint8:
			return 2
		}
		return 4 // wide
	case KindIinc:
		if in.Var <= math.MaxUint8 && in.Incr >= math.MinInt8 && in.Incr <= math.MaxInt8 {
			return 3
		}
		return 6 // wide
	case KindSwitch:
		pad := (4 - (offset+1)%4) % 4
		n := 0
		if in.Switch != nil {
			n = len(in.Switch.Targets)
		}
		if in.Op == OpTableswitch {
			return 1 + pad + 12 + 4*n
		}
		return 1 + pad + 8 + 8*n
	}
	return GetOpcodeInfo(in.Op).Len
}

// Encode computes the layout of b without modifying it.
func Encode(b *Body) (*Layout, error) {
	lay := &Layout{
		Offsets: make([]int, len(b.Insns)),
		Labels:  make(map[Label]int),
	}
	off := 0
	for i, in := range b.Insns {
		if !in.Op.Known() {
			return nil, fmt.Errorf("%w: unknown opcode 0x%02X at %d", ErrMalformed, byte(in.Op), i)
		}
		lay.Offsets[i] = off
		if in.Op == OpLabel {
			lay.Labels[in.Target] = off
		}
		off += EncodedLen(in, off)
	}
	lay.Length = off
	if off > MaxCodeLength {
		return lay, fmt.Errorf("%w: code length %d exceeds %d", ErrMalformed, off, MaxCodeLength)
	}
	return lay, nil
}

// FrameFunc computes the merge-point frame valid before instruction at.
// ResolveJumps uses it for the labels it introduces when a body carries
// frames.
type FrameFunc func(b *Body, at int) (*Frame, error)

// ResolveJumps widens every branch whose displacement does not fit in a
// signed 16-bit offset. An unconditional goto becomes goto_w; a
// conditional branch is inverted to skip over a new goto_w. The pass
// repeats until the layout is stable. When frameAt is non-nil, each
// introduced skip label gets a frame. Returns the number of widened
// branches.
func ResolveJumps(b *Body, frameAt FrameFunc) (int, error) {
	widened := 0
	for {
		lay, err := Encode(b)
		if err != nil {
			return widened, err
		}
		at := -1
		for i, in := range b.Insns {
			if !in.Op.IsJump() || in.Op == OpGotoW || in.Op == OpJsrW {
				continue
			}
			target, ok := lay.Labels[in.Target]
			if !ok {
				return widened, fmt.Errorf("%w: %s references undefined label L%d", ErrMalformed, in.Op, in.Target)
			}
			if d := target - lay.Offsets[i]; d < math.MinInt16 || d > math.MaxInt16 {
				at = i
				break
			}
		}
		if at < 0 {
			return widened, nil
		}
		if err := widen(b, at, frameAt); err != nil {
			return widened, err
		}
		widened++
	}
}

func widen(b *Body, at int, frameAt FrameFunc) error {
	in := b.Insns[at]
	switch in.Op {
	case OpGoto:
		b.Insns[at].Op = OpGotoW
		return nil
	case OpJsr:
		b.Insns[at].Op = OpJsrW
		return nil
	}
	next := at + 1
	hasLabel := next < len(b.Insns) && b.Insns[next].Op == OpLabel
	hasFrame := hasLabel && next+1 < len(b.Insns) && b.Insns[next+1].Op == OpFrame

	var skipFrame *Frame
	if frameAt != nil && !hasFrame {
		// The skip target sees the state after the condition was consumed,
		// which is the state before the following instruction.
		f, err := frameAt(b, next)
		if err != nil {
			return err
		}
		skipFrame = f
	}
	var skip Label
	if hasLabel {
		skip = b.Insns[next].Target
	} else {
		skip = b.NewLabel()
	}
	repl := []Insn{
		JumpInsn(in.Op.Invert(), skip),
		JumpInsn(OpGotoW, in.Target),
	}
	tail := b.Insns[next:]
	if hasLabel {
		repl = append(repl, tail[0])
		tail = tail[1:]
	} else {
		repl = append(repl, LabelInsn(skip))
	}
	if skipFrame != nil {
		repl = append(repl, FrameInsn(skipFrame))
	}
	out := make([]Insn, 0, len(b.Insns)+len(repl))
	out = append(out, b.Insns[:at]...)
	out = append(out, repl...)
	out = append(out, tail...)
	b.Insns = out
	return nil
}
