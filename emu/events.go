package emu

import "sync/atomic"

// Event flag bits. Producers anywhere may set bits concurrently; only the
// execution loop clears them, once per iteration, so set-versus-set races
// are harmless and set-versus-clear never happens off the loop thread.
const (
	EventIRQ       uint32 = 1 << 0
	EventFIQ       uint32 = 1 << 1
	EventReset     uint32 = 1 << 2
	EventDebugStep uint32 = 1 << 3
	EventWaiting   uint32 = 1 << 4
)

// Events is the pending-hardware-condition bitset.
type Events struct {
	bits uint32
}

// Set raises the given bits. Safe from any goroutine.
func (e *Events) Set(mask uint32) {
	for {
		old := atomic.LoadUint32(&e.bits)
		if atomic.CompareAndSwapUint32(&e.bits, old, old|mask) {
			return
		}
	}
}

// Clear lowers the given bits. Loop thread only.
func (e *Events) Clear(mask uint32) {
	for {
		old := atomic.LoadUint32(&e.bits)
		if atomic.CompareAndSwapUint32(&e.bits, old, old&^mask) {
			return
		}
	}
}

// ClearExcept lowers every bit not in keep. Loop thread only.
func (e *Events) ClearExcept(keep uint32) {
	for {
		old := atomic.LoadUint32(&e.bits)
		if atomic.CompareAndSwapUint32(&e.bits, old, old&keep) {
			return
		}
	}
}

// Load returns the current bits.
func (e *Events) Load() uint32 {
	return atomic.LoadUint32(&e.bits)
}

// Test reports whether any of the given bits is set.
func (e *Events) Test(mask uint32) bool {
	return e.Load()&mask != 0
}
