package emu

import (
	"fmt"

	"github.com/emberemu/ember/debug"
)

// Fault is a fatal internal fault. Resuming mid-instruction after one is
// unsafe, so the loop abandons the current dispatch and performs a full
// reset. Faults never propagate out of Run.
type Fault struct {
	PC  uint32
	msg string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %08x: %s", f.PC, f.msg)
}

// Errorf reports a fatal fault: print it with the current program counter,
// hand control to the attached debugger if there is one (blocking there is
// fine; faults are not the hot path), request a full reset,
// and return the fault for the caller to propagate up to the loop.
func (m *Machine) Errorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	pc := m.Cpu.Reg[15]
	m.front.Printf("Error (%08x): %s\n", pc, msg)
	if m.dbg != nil {
		m.dbg.Enter(debug.ReasonException)
	}
	m.Events.Set(EventReset)
	return &Fault{PC: pc, msg: msg}
}

// Warnf reports a recoverable anomaly. Unless break-on-warning is
// configured it returns normally without disturbing execution.
func (m *Machine) Warnf(format string, args ...interface{}) {
	m.front.Printf("Warning (%08x): %s\n", m.Cpu.Reg[15], fmt.Sprintf(format, args...))
	if m.cfg.DebugOnWarn && m.dbg != nil {
		m.dbg.Enter(debug.ReasonWarning)
	}
}
