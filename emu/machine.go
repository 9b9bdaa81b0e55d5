// Package emu is the execution core: the machine context, the execution
// loop that alternates between instruction dispatch and scheduled events,
// the wall-clock pacing unit, snapshot persistence, and the fault recovery
// path that turns internal errors into a clean machine reset.
package emu

import (
	"io"
	"io/ioutil"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/emberemu/ember/arm"
	"github.com/emberemu/ember/debug"
	"github.com/emberemu/ember/flash"
	"github.com/emberemu/ember/gui"
	"github.com/emberemu/ember/mem"
	"github.com/emberemu/ember/sched"
	"github.com/emberemu/ember/translate"
	"github.com/emberemu/ember/usblink"
)

// Config carries everything Start needs. Zero values are safe: a nil
// Frontend becomes gui.Null, a nil Runner becomes IdleRunner, port 0
// disables the matching listener.
type Config struct {
	PathBoot1 string
	PathFlash string
	BootOrder flash.BootOrder

	// SnapshotPath resumes from a snapshot file instead of cold-booting.
	SnapshotPath string

	PortGDB  int // gdb remote stub listen port
	PortRDBG int // raw remote console listen port

	Turbo        bool // run unthrottled
	Debugger     bool // open the local interactive debugger console
	DebugOnStart bool // break before the first instruction
	DebugOnWarn  bool // break on recoverable warnings

	Frontend gui.Frontend
	Runner   Runner
	Serial   io.Writer // sink for emulated serial output, may be nil
}

// Machine is the whole emulated machine. It is owned by one goroutine (the
// emulation thread); the only cross-thread surfaces are the event flags,
// Stop, and the USB link queue.
type Machine struct {
	cfg Config

	Events    Events
	Cpu       arm.Core
	Sched     *sched.Scheduler
	Mem       mem.Memory
	Flash     flash.Flash
	Translate translate.Cache
	AddrCache translate.AddrCache
	Usb       usblink.Link

	front  gui.Frontend
	runner Runner
	dbg    *debug.Debugger
	gdb    *debug.Gdbstub
	rdbg   *debug.RDebug

	product  uint32
	features uint32

	throttle throttle

	serialMu sync.Mutex
	serialRx []byte

	turbo   uint32
	exiting uint32
}

// NewMachine builds a machine around the config. Nothing is opened or
// allocated until Start.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		cfg:   cfg,
		Sched: sched.New(),
	}
	m.front = cfg.Frontend
	if m.front == nil {
		m.front = gui.Null{}
	}
	m.runner = cfg.Runner
	if m.runner == nil {
		m.runner = IdleRunner{}
	}
	if cfg.Turbo {
		m.turbo = 1
	}
	m.throttle.now = timeNow
	return m
}

// Start brings the machine up: storage, memory, CPU, caches, pacing, and
// the debug surfaces. On any failure it tears down whatever already came up
// and returns the error.
func (m *Machine) Start() error {
	if err := m.start(); err != nil {
		m.Cleanup()
		return err
	}
	return nil
}

func (m *Machine) start() error {
	if m.cfg.Debugger || m.cfg.DebugOnStart || m.cfg.DebugOnWarn {
		dbg, err := debug.NewDebugger(m)
		if err != nil {
			return err
		}
		m.dbg = dbg
	}
	if m.cfg.DebugOnStart {
		m.Events.Set(EventDebugStep)
	}
	if m.cfg.SnapshotPath != "" {
		if err := m.resume(m.cfg.SnapshotPath); err != nil {
			return err
		}
	} else {
		if err := m.coldBoot(); err != nil {
			return err
		}
	}
	// the caches survive resets, so they come up once per machine
	m.Translate.Init(&m.Mem)
	m.AddrCache.Init()
	m.throttleTimerOn()
	if m.cfg.PortGDB != 0 {
		m.gdb = debug.NewGdbstub(m)
		if err := m.gdb.Bind(m.cfg.PortGDB); err != nil {
			return err
		}
	}
	if m.cfg.PortRDBG != 0 {
		m.rdbg = debug.NewRDebug(m)
		if err := m.rdbg.Bind(m.cfg.PortRDBG); err != nil {
			return err
		}
	}
	return nil
}

// coldBoot opens the flash image, sizes memory from its settings, and puts
// the CPU and schedule into their reset state.
func (m *Machine) coldBoot() error {
	if err := m.Flash.Open(m.cfg.PathFlash); err != nil {
		m.front.Perror(m.cfg.PathFlash, err)
		return err
	}
	m.Flash.SetBootOrder(m.cfg.BootOrder)
	sdramSize, product, features := m.Flash.ReadSettings()
	m.product, m.features = product, features
	if err := m.Mem.Initialize(sdramSize); err != nil {
		return err
	}
	if err := m.installBootRom(); err != nil {
		return err
	}
	m.Cpu.Reset()
	m.Sched.Reset()
	m.armThrottle()
	return nil
}

// installBootRom fills the ROM window with erased-flash bytes, overlays the
// boot1 image if one is configured, and write-protects every word. A short
// image is fine; the remainder stays 0xFF.
func (m *Machine) installBootRom() error {
	rom := m.Mem.Rom()
	for i := range rom.Data {
		rom.Data[i] = 0xFF
	}
	if m.cfg.PathBoot1 != "" {
		data, err := ioutil.ReadFile(m.cfg.PathBoot1)
		if err != nil {
			m.front.Perror(m.cfg.PathBoot1, err)
			return errors.Wrapf(err, "failed to open boot1 image %s", m.cfg.PathBoot1)
		}
		copy(rom.Data, data)
	}
	for addr := rom.Base; addr-rom.Base < rom.Size; addr += 4 {
		*rom.Flags(addr) |= mem.FlagReadOnly
	}
	return nil
}

// Cleanup tears the machine down in reverse bring-up order. Idempotent, and
// safe on a machine that never fully started.
func (m *Machine) Cleanup() {
	m.Stop()
	if m.dbg != nil {
		m.dbg.Close()
		m.dbg = nil
	}
	if m.gdb != nil {
		m.gdb.Quit()
		m.gdb = nil
	}
	if m.rdbg != nil {
		m.rdbg.Quit()
		m.rdbg = nil
	}
	m.throttleTimerOff()
	m.Translate.Deinit()
	m.Mem.Deinit()
	m.Flash.Close()
}

// Product returns the product identifier the flash image declared.
func (m *Machine) Product() uint32 {
	return m.product
}

// Features returns the feature flags the flash image declared.
func (m *Machine) Features() uint32 {
	return m.features
}

// SetTurbo toggles pacing at runtime. Safe from any goroutine.
func (m *Machine) SetTurbo(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&m.turbo, v)
}

// Turbo reports whether pacing is disabled.
func (m *Machine) Turbo() bool {
	return atomic.LoadUint32(&m.turbo) != 0
}

func (m *Machine) exitRequested() bool {
	return atomic.LoadUint32(&m.exiting) != 0
}

// SerialOut emits one byte of emulated serial output.
func (m *Machine) SerialOut(b byte) {
	if m.cfg.Serial != nil {
		m.cfg.Serial.Write([]byte{b})
	}
}

// serialIn buffers one byte of host input for the emulated UART to pick up.
func (m *Machine) serialIn(b byte) {
	m.serialMu.Lock()
	if len(m.serialRx) < 4096 {
		m.serialRx = append(m.serialRx, b)
	}
	m.serialMu.Unlock()
}

// SerialRead pops one buffered input byte, if any.
func (m *Machine) SerialRead() (byte, bool) {
	m.serialMu.Lock()
	defer m.serialMu.Unlock()
	if len(m.serialRx) == 0 {
		return 0, false
	}
	b := m.serialRx[0]
	m.serialRx = m.serialRx[1:]
	return b, true
}

// debug.Emulator implementation. All of these run on the emulation thread:
// the local debugger and both remote surfaces are invoked between
// instructions only.

func (m *Machine) RegRead(i int) uint32     { return m.Cpu.Reg[i&15] }
func (m *Machine) RegWrite(i int, v uint32) { m.Cpu.Reg[i&15] = v }
func (m *Machine) Cpsr() uint32             { return m.Cpu.Cpsr }

func (m *Machine) ReadMem(addr uint32, p []byte) error {
	return m.Mem.Read(addr, p)
}

func (m *Machine) WriteMem(addr uint32, p []byte) error {
	return m.Mem.Write(addr, p)
}

// RequestReset asks the loop to perform a full machine reset at the next
// instruction boundary.
func (m *Machine) RequestReset() {
	m.Events.Set(EventReset)
}

// RequestStep asks the loop to stop after the next instruction.
func (m *Machine) RequestStep() {
	m.Events.Set(EventDebugStep)
}

// Interrupt raises an external interrupt line.
func (m *Machine) Interrupt(fiq bool) {
	if fiq {
		m.Events.Set(EventFIQ)
	} else {
		m.Events.Set(EventIRQ)
	}
}

// Stop asks the loop to exit. Safe from any goroutine; the loop observes it
// at the next instruction boundary or pacing tick.
func (m *Machine) Stop() {
	atomic.StoreUint32(&m.exiting, 1)
}

// Speed returns the most recent pacing measurement, 1.0 meaning real time.
func (m *Machine) Speed() float64 {
	return m.throttle.speed
}
