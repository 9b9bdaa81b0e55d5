// Package arm holds the CPU register file and the exception-entry machinery
// the execution core needs to inject interrupts and recover from resets.
// Instruction decode and execute live behind the emu.Runner interface and
// are not part of this package.
package arm

import (
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// processor modes (low five CPSR bits)
const (
	ModeUsr uint32 = 0x10
	ModeFiq uint32 = 0x11
	ModeIrq uint32 = 0x12
	ModeSvc uint32 = 0x13
	ModeAbt uint32 = 0x17
	ModeUnd uint32 = 0x1B
	ModeSys uint32 = 0x1F
)

// CPSR bits
const (
	FlagThumb uint32 = 1 << 5 // narrow-instruction mode
	FlagFiq   uint32 = 1 << 6 // FIQ disabled
	FlagIrq   uint32 = 1 << 7 // IRQ disabled
)

// documented reset values
const (
	ResetControl = 0x00050078
	ResetCpsr    = ModeSvc | FlagFiq | FlagIrq
)

// control register bit selecting the high exception vector base
const ctrlHighVectors = 1 << 13

// Exception identifies an exception-entry kind.
type Exception int

const (
	ExReset Exception = iota
	ExUndefined
	ExSwi
	ExPrefetchAbort
	ExDataAbort
	ExIrq
	ExFiq
)

// vector table offsets, indexed by Exception (0x14 is reserved)
var vectors = [...]uint32{0x00, 0x04, 0x08, 0x0C, 0x10, 0x18, 0x1C}

// register banks for r13/r14 and the SPSRs
const (
	bankUsr = iota // shared with sys
	bankFiq
	bankIrq
	bankSvc
	bankAbt
	bankUnd
	numBanks
)

func modeBank(mode uint32) int {
	switch mode {
	case ModeFiq:
		return bankFiq
	case ModeIrq:
		return bankIrq
	case ModeSvc:
		return bankSvc
	case ModeAbt:
		return bankAbt
	case ModeUnd:
		return bankUnd
	default:
		return bankUsr
	}
}

// Core is the register file. Reg[15] is the program counter. It is owned by
// the execution loop: interrupt injection mutates it only between
// instructions.
type Core struct {
	Reg     [16]uint32
	Cpsr    uint32
	Control uint32

	// banked state for the mode not currently in Reg
	r13Bank [numBanks]uint32
	r14Bank [numBanks]uint32
	spsr    [numBanks]uint32
	fiqBank [5]uint32 // r8-r12 of FIQ mode
	usrBank [5]uint32 // r8-r12 of every other mode, valid while in FIQ
}

// Mode returns the current processor mode bits.
func (c *Core) Mode() uint32 {
	return c.Cpsr & 0x1F
}

// Thumb reports whether the narrow-instruction status bit is set.
func (c *Core) Thumb() bool {
	return c.Cpsr&FlagThumb != 0
}

// Spsr returns the saved status word of the current mode.
func (c *Core) Spsr() uint32 {
	return c.spsr[modeBank(c.Mode())]
}

// SetMode switches the processor mode, swapping the banked registers in and
// out of Reg.
func (c *Core) SetMode(mode uint32) {
	old := modeBank(c.Mode())
	next := modeBank(mode)
	if old == next {
		c.Cpsr = c.Cpsr&^uint32(0x1F) | mode
		return
	}
	c.r13Bank[old], c.r14Bank[old] = c.Reg[13], c.Reg[14]
	c.Reg[13], c.Reg[14] = c.r13Bank[next], c.r14Bank[next]
	if old == bankFiq {
		copy(c.fiqBank[:], c.Reg[8:13])
		copy(c.Reg[8:13], c.usrBank[:])
	} else if next == bankFiq {
		copy(c.usrBank[:], c.Reg[8:13])
		copy(c.Reg[8:13], c.fiqBank[:])
	}
	c.Cpsr = c.Cpsr&^uint32(0x1F) | mode
}

// Exception performs exception entry: bank-switch to the handler mode, save
// the status word, disable further interrupts of the same (or lower)
// priority, leave Thumb, and vector. Reg[15] must already hold the return
// address the handler expects; the loop adjusts it before calling.
func (c *Core) Exception(ex Exception) {
	var mode uint32
	switch ex {
	case ExFiq:
		mode = ModeFiq
	case ExIrq:
		mode = ModeIrq
	case ExUndefined:
		mode = ModeUnd
	case ExPrefetchAbort, ExDataAbort:
		mode = ModeAbt
	default:
		mode = ModeSvc
	}
	old := c.Cpsr
	ret := c.Reg[15]
	c.SetMode(mode)
	c.spsr[modeBank(mode)] = old
	c.Reg[14] = ret
	c.Cpsr &^= FlagThumb
	c.Cpsr |= FlagIrq
	if ex == ExFiq || ex == ExReset {
		c.Cpsr |= FlagFiq
	}
	base := uint32(0)
	if c.Control&ctrlHighVectors != 0 {
		base = 0xFFFF0000
	}
	c.Reg[15] = base + vectors[ex]
}

// Reset zeroes the register file and restores the documented reset values
// for the status and control words.
func (c *Core) Reset() {
	*c = Core{}
	c.Control = ResetControl
	c.Cpsr = ResetCpsr
}

// serialized register file
type state struct {
	Reg     [16]uint32
	Cpsr    uint32
	Control uint32
	R13Bank [numBanks]uint32
	R14Bank [numBanks]uint32
	Spsr    [numBanks]uint32
	FiqBank [5]uint32
	UsrBank [5]uint32
}

// Suspend writes the register file to w.
func (c *Core) Suspend(w io.Writer) error {
	st := state{
		Reg:     c.Reg,
		Cpsr:    c.Cpsr,
		Control: c.Control,
		R13Bank: c.r13Bank,
		R14Bank: c.r14Bank,
		Spsr:    c.spsr,
		FiqBank: c.fiqBank,
		UsrBank: c.usrBank,
	}
	return errors.Wrap(struc.Pack(w, &st), "failed to pack cpu state")
}

// Resume restores the register file from r.
func (c *Core) Resume(r io.Reader) error {
	var st state
	if err := struc.Unpack(r, &st); err != nil {
		return errors.Wrap(err, "failed to unpack cpu state")
	}
	c.Reg = st.Reg
	c.Cpsr = st.Cpsr
	c.Control = st.Control
	c.r13Bank = st.R13Bank
	c.r14Bank = st.R14Bank
	c.spsr = st.Spsr
	c.fiqBank = st.FiqBank
	c.usrBank = st.UsrBank
	return nil
}
