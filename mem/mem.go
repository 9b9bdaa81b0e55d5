// Package mem implements the memory subsystem: a small set of fixed,
// physically addressed areas plus a per-32-bit-word flag array used to
// protect the boot ROM and to let the translation layer mark compiled
// words.
package mem

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// fixed area layout
const (
	RomBase uint32 = 0x00000000
	RomSize uint32 = 0x00080000 // 512 KiB boot ROM window

	SdramBase uint32 = 0x10000000
)

// per-word flag bits
const (
	FlagReadOnly uint32 = 1 << 0
	FlagCode     uint32 = 1 << 1 // word is covered by a translated block
)

// access kinds for MemError
const (
	AccessRead = iota
	AccessWrite
	AccessExec
)

// MemError reports a faulting access. The execution core escalates these to
// a full reset via the fault path.
type MemError struct {
	Addr uint32
	Size int
	Kind int
}

func (m *MemError) Error() string {
	reason := "unmapped read"
	switch m.Kind {
	case AccessWrite:
		reason = "bad write"
	case AccessExec:
		reason = "bad fetch"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// Area is one physically contiguous region.
type Area struct {
	Base  uint32
	Size  uint32
	Data  []byte
	flags []uint32 // one per 32-bit word
}

// Contains reports whether addr falls inside the area.
func (a *Area) Contains(addr uint32) bool {
	return addr >= a.Base && addr-a.Base < a.Size
}

// Flags returns a pointer to the flag word covering addr.
func (a *Area) Flags(addr uint32) *uint32 {
	return &a.flags[(addr-a.Base)>>2]
}

// Memory is the memory subsystem. Area 0 is always the boot ROM window;
// area 1 is the working SDRAM whose size the storage subsystem declares.
type Memory struct {
	areas []*Area
}

// Initialize allocates the fixed areas. sdramSize comes from the storage
// subsystem's settings.
func (m *Memory) Initialize(sdramSize uint32) error {
	if sdramSize == 0 || sdramSize%4 != 0 {
		return errors.Errorf("bad sdram size %#x", sdramSize)
	}
	m.areas = []*Area{
		{Base: RomBase, Size: RomSize, Data: make([]byte, RomSize), flags: make([]uint32, RomSize/4)},
		{Base: SdramBase, Size: sdramSize, Data: make([]byte, sdramSize), flags: make([]uint32, sdramSize/4)},
	}
	return nil
}

// Initialized reports whether Initialize has run since the last Deinit.
func (m *Memory) Initialized() bool {
	return m.areas != nil
}

// Rom returns the boot ROM area.
func (m *Memory) Rom() *Area {
	return m.areas[0]
}

// Sdram returns the working memory area.
func (m *Memory) Sdram() *Area {
	return m.areas[1]
}

// Reset zeroes the working memory and its flags. The ROM window is left
// alone: its contents never change while the machine is up.
func (m *Memory) Reset() {
	if m.areas == nil {
		return
	}
	sdram := m.Sdram()
	for i := range sdram.Data {
		sdram.Data[i] = 0
	}
	for i := range sdram.flags {
		sdram.flags[i] = 0
	}
}

// Deinit releases the areas. Safe to call repeatedly.
func (m *Memory) Deinit() {
	m.areas = nil
}

// area finds the area containing [addr, addr+size).
func (m *Memory) area(addr uint32, size int) *Area {
	for _, a := range m.areas {
		if a.Contains(addr) && a.Contains(addr+uint32(size)-1) {
			return a
		}
	}
	return nil
}

// Read copies len(p) bytes at addr into p.
func (m *Memory) Read(addr uint32, p []byte) error {
	a := m.area(addr, len(p))
	if a == nil {
		return &MemError{Addr: addr, Size: len(p), Kind: AccessRead}
	}
	copy(p, a.Data[addr-a.Base:])
	return nil
}

// Write stores p at addr, honoring the per-word read-only flags.
func (m *Memory) Write(addr uint32, p []byte) error {
	a := m.area(addr, len(p))
	if a == nil {
		return &MemError{Addr: addr, Size: len(p), Kind: AccessWrite}
	}
	for w := addr &^ 3; w < addr+uint32(len(p)); w += 4 {
		if *a.Flags(w)&FlagReadOnly != 0 {
			return &MemError{Addr: addr, Size: len(p), Kind: AccessWrite}
		}
	}
	copy(a.Data[addr-a.Base:], p)
	return nil
}

// Load32 reads one aligned word.
func (m *Memory) Load32(addr uint32) (uint32, error) {
	a := m.area(addr&^3, 4)
	if a == nil {
		return 0, &MemError{Addr: addr, Size: 4, Kind: AccessRead}
	}
	return binary.LittleEndian.Uint32(a.Data[addr&^3-a.Base:]), nil
}

// Store32 writes one aligned word, honoring the read-only flag.
func (m *Memory) Store32(addr uint32, v uint32) error {
	a := m.area(addr&^3, 4)
	if a == nil {
		return &MemError{Addr: addr, Size: 4, Kind: AccessWrite}
	}
	if *a.Flags(addr)&FlagReadOnly != 0 {
		return &MemError{Addr: addr, Size: 4, Kind: AccessWrite}
	}
	binary.LittleEndian.PutUint32(a.Data[addr&^3-a.Base:], v)
	return nil
}
