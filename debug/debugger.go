package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/lunixbochs/readline"
	"github.com/pkg/errors"
)

// Debugger is the local interactive debugger. Enter blocks the emulation
// thread until the user resumes. It is invoked between instructions as a
// diagnostic breakpoint, never on the hot path.
type Debugger struct {
	emu Emulator
	rl  *readline.Instance
}

// NewDebugger opens a readline console on the process terminal.
func NewDebugger(emu Emulator) (*Debugger, error) {
	rl, err := readline.New("dbg> ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open debugger console")
	}
	return &Debugger{emu: emu, rl: rl}, nil
}

// Enter runs the debugger REPL until the user hands control back.
func (d *Debugger) Enter(reason Reason) {
	fmt.Fprintf(os.Stderr, "stopped: %s\n", reason)
	for {
		line, err := d.rl.Readline()
		if err != nil { // io.EOF, readline.ErrInterrupt
			if err != io.EOF && err != readline.ErrInterrupt {
				fmt.Fprintln(os.Stderr, err)
			}
			return
		}
		out, done := runCommand(d.emu, line)
		if out != "" {
			fmt.Fprint(os.Stderr, out)
		}
		if done {
			return
		}
	}
}

// Close shuts the console input stream. Safe to call repeatedly.
func (d *Debugger) Close() {
	if d.rl != nil {
		d.rl.Close()
		d.rl = nil
	}
}
