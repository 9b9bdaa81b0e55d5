// Package debug holds the three debug surfaces of the machine: a local
// interactive debugger invoked synchronously on faults, a GDB-compatible
// remote stub, and a raw remote debug console. The remote listeners are
// polled from the pacing tick, so they never run commands concurrently with
// instruction execution.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

// Emulator is the machine surface the debug layer operates on. Implemented
// by emu.Machine.
type Emulator interface {
	RegRead(i int) uint32
	RegWrite(i int, v uint32)
	Cpsr() uint32
	ReadMem(addr uint32, p []byte) error
	WriteMem(addr uint32, p []byte) error

	RequestReset()
	RequestStep()
	Interrupt(fiq bool)
	Stop()
	Speed() float64
}

// Reason says why the debugger was entered.
type Reason int

const (
	ReasonUser Reason = iota
	ReasonException
	ReasonWarning
	ReasonStep
)

func (r Reason) String() string {
	switch r {
	case ReasonException:
		return "exception"
	case ReasonWarning:
		return "warning"
	case ReasonStep:
		return "step"
	default:
		return "user"
	}
}

// runCommand executes one debugger command line and returns its output.
// done reports that control should return to the machine.
func runCommand(emu Emulator, line string) (out string, done bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "r", "regs":
		var b strings.Builder
		for i := 0; i < 16; i++ {
			fmt.Fprintf(&b, "r%-2d %08x", i, emu.RegRead(i))
			if i%4 == 3 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		fmt.Fprintf(&b, "cpsr %08x\n", emu.Cpsr())
		return b.String(), false
	case "m", "mem":
		if len(fields) < 2 {
			return "usage: m <addr> [len]\n", false
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
		if err != nil {
			return "bad address\n", false
		}
		n := uint64(64)
		if len(fields) > 2 {
			if n, err = strconv.ParseUint(fields[2], 0, 16); err != nil {
				return "bad length\n", false
			}
		}
		p := make([]byte, n)
		if err := emu.ReadMem(uint32(addr), p); err != nil {
			return fmt.Sprintf("%v\n", err), false
		}
		var b strings.Builder
		for i := 0; i < len(p); i += 16 {
			end := i + 16
			if end > len(p) {
				end = len(p)
			}
			fmt.Fprintf(&b, "%08x:", addr+uint64(i))
			for _, c := range p[i:end] {
				fmt.Fprintf(&b, " %02x", c)
			}
			b.WriteByte('\n')
		}
		return b.String(), false
	case "w", "write":
		if len(fields) < 3 {
			return "usage: w <addr> <word>\n", false
		}
		addr, err1 := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
		val, err2 := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err1 != nil || err2 != nil {
			return "bad argument\n", false
		}
		var p [4]byte
		p[0], p[1], p[2], p[3] = byte(val), byte(val>>8), byte(val>>16), byte(val>>24)
		if err := emu.WriteMem(uint32(addr), p[:]); err != nil {
			return fmt.Sprintf("%v\n", err), false
		}
		return "", false
	case "reset":
		emu.RequestReset()
		return "", true
	case "irq":
		emu.Interrupt(false)
		return "", false
	case "fiq":
		emu.Interrupt(true)
		return "", false
	case "s", "step":
		emu.RequestStep()
		return "", true
	case "c", "cont":
		return "", true
	case "speed":
		return fmt.Sprintf("%.2f\n", emu.Speed()), false
	case "q", "quit":
		emu.Stop()
		return "", true
	case "h", "help":
		return "commands: r m w reset irq fiq s c speed q\n", false
	default:
		return "unknown command (try h)\n", false
	}
}
