// Package translate exposes the lifecycle surface of the binary-translation
// subsystem: the translated-code cache and the address cache. The execution
// core only ever initializes, flushes, and tears these down at defined
// points (loop entry, reset, fault recovery, shutdown); the internal
// representation of translated blocks belongs to the translator.
package translate

import "github.com/emberemu/ember/mem"

// Cache is the translated-code cache. Blocks register the words they
// compiled from by setting mem.FlagCode; a flush drops every block and
// clears those marks.
type Cache struct {
	mem     *mem.Memory
	enabled bool
	blocks  map[uint32]struct{}
	flushes uint64
}

// Init prepares the cache. Expensive in the real translator, so the
// lifecycle controller calls it once per machine, not per reset.
func (c *Cache) Init(m *mem.Memory) {
	c.mem = m
	c.blocks = make(map[uint32]struct{})
	c.enabled = true
}

// Enabled reports whether translation is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Mark records a translated block starting at addr.
func (c *Cache) Mark(addr uint32) {
	if !c.enabled {
		return
	}
	c.blocks[addr] = struct{}{}
	if c.mem != nil && c.mem.Initialized() {
		if a := c.mem.Sdram(); a.Contains(addr) {
			*a.Flags(addr) |= mem.FlagCode
		}
	}
}

// Blocks returns the number of live translated blocks.
func (c *Cache) Blocks() int {
	return len(c.blocks)
}

// Flushes returns how many times the cache has been flushed.
func (c *Cache) Flushes() uint64 {
	return c.flushes
}

// Flush drops every translated block. Called before (re-)entering the
// execution loop and on any reset, so stale code can never run against
// reinitialized state.
func (c *Cache) Flush() {
	if c.blocks == nil {
		return
	}
	for addr := range c.blocks {
		if c.mem != nil && c.mem.Initialized() {
			if a := c.mem.Sdram(); a.Contains(addr) {
				*a.Flags(addr) &^= mem.FlagCode
			}
		}
		delete(c.blocks, addr)
	}
	c.flushes++
}

// Deinit tears the cache down. Safe to call repeatedly and on a cache that
// was never initialized.
func (c *Cache) Deinit() {
	c.blocks = nil
	c.mem = nil
	c.enabled = false
}

// AddrCache is the virtual-to-physical address cache. Only its lifecycle is
// the core's business.
type AddrCache struct {
	valid   bool
	flushes uint64
}

// Init prepares the address cache. Like Cache.Init it runs once per
// machine.
func (a *AddrCache) Init() {
	a.valid = true
}

// Flush invalidates every cached mapping.
func (a *AddrCache) Flush() {
	a.flushes++
}

// Flushes returns how many times the cache has been flushed.
func (a *AddrCache) Flushes() uint64 {
	return a.flushes
}
