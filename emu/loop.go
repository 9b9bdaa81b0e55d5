package emu

import (
	"sync/atomic"

	"github.com/emberemu/ember/arm"
	"github.com/emberemu/ember/debug"
)

type loopState int

const (
	stateRunning loopState = iota
	stateResetting
	stateExiting
)

// Early boot on real units traps here when the first-stage loader is
// missing; recognize it and bounce back to the caller instead of spinning.
const execHackPC = 0x10040

// Run drives the machine until Stop is called. With reset true it performs
// a full reset first (cold boot); with reset false it continues from the
// current state (snapshot resume). Faults inside the loop never escape: they
// are reported and folded into a reset.
//
// The exit flag is consumed exactly once, here. A Stop issued at any point
// after entry, including from the debugger while a fault is being handled,
// must survive the reset that follows.
func (m *Machine) Run(reset bool) {
	atomic.StoreUint32(&m.exiting, 0)
	if !reset {
		m.prepare()
	}
	state := stateRunning
	if reset {
		state = stateResetting
	}
	for state != stateExiting {
		switch state {
		case stateResetting:
			m.front.Status("Reset")
			m.resetMachine()
			m.prepare()
			state = stateRunning
		case stateRunning:
			state = m.slice()
		}
	}
}

// prepare readies the caches and remote surfaces before (re-)entering the
// loop. Stale translations must never run against fresh machine state.
func (m *Machine) prepare() {
	m.AddrCache.Flush()
	m.Translate.Flush()
	if m.gdb != nil {
		m.gdb.Reset()
	}
	m.Sched.UpdateNextEvent()
}

// resetMachine puts every subsystem back into its power-on state. The
// single-step flag survives so a requested break lands on the first
// instruction after reset; everything else pending is stale.
func (m *Machine) resetMachine() {
	m.Mem.Reset()
	m.Cpu.Reset()
	m.Events.ClearExcept(EventDebugStep)
	m.Sched.Reset()
	m.armThrottle()
	m.Usb.Reset()
}

// slice runs scheduled events, then dispatches instructions until the cycle
// budget is exhausted or a state change is demanded.
func (m *Machine) slice() loopState {
	m.Sched.ProcessPending()
	for m.Sched.Budget() < 0 {
		if m.exitRequested() {
			return stateExiting
		}
		ev := m.Events.Load()
		if ev&EventReset != 0 {
			return stateResetting
		}
		if ev&(EventFIQ|EventIRQ) != 0 {
			m.inject(ev)
		}
		m.Events.Clear(EventWaiting)
		m.execHack()
		var err error
		if m.Cpu.Thumb() {
			err = m.runner.RunThumb(m)
		} else {
			err = m.runner.RunARM(m)
		}
		if err != nil {
			if _, ok := err.(*Fault); !ok {
				m.Errorf("%s", err)
			}
			return stateResetting
		}
		if m.Events.Test(EventDebugStep) {
			m.Events.Clear(EventDebugStep)
			if m.dbg != nil {
				m.dbg.Enter(debug.ReasonStep)
			}
		}
	}
	if m.exitRequested() {
		return stateExiting
	}
	return stateRunning
}

// inject performs interrupt entry if a pending line is unmasked. FIQ wins
// over IRQ. The program counter is realigned to the current instruction
// width, advanced past a wait-for-event slot, and advanced once more so the
// banked link register holds the return address exception handlers expect.
func (m *Machine) inject(ev uint32) {
	fiq := ev&EventFIQ != 0 && m.Cpu.Cpsr&arm.FlagFiq == 0
	irq := ev&EventIRQ != 0 && m.Cpu.Cpsr&arm.FlagIrq == 0
	if !fiq && !irq {
		return
	}
	if m.Cpu.Thumb() {
		m.Cpu.Reg[15] &^= 1
	} else {
		m.Cpu.Reg[15] &^= 3
	}
	if ev&EventWaiting != 0 {
		m.Cpu.Reg[15] += 4
	}
	m.Cpu.Reg[15] += 4
	if fiq {
		m.Cpu.Exception(arm.ExFiq)
		m.Events.Clear(EventFIQ)
	} else {
		m.Cpu.Exception(arm.ExIrq)
		m.Events.Clear(EventIRQ)
	}
}

func (m *Machine) execHack() {
	if m.Cpu.Reg[15] == execHackPC {
		m.Cpu.Reg[15] = m.Cpu.Reg[14]
		m.Warnf("BOOT2 called back into a missing BOOT1; returning to caller")
	}
}
