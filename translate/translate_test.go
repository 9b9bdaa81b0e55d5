package translate

import (
	"testing"

	"github.com/emberemu/ember/mem"
)

func TestMarkAndFlush(t *testing.T) {
	var m mem.Memory
	if err := m.Initialize(1 << 20); err != nil {
		t.Fatal(err)
	}
	var c Cache
	c.Init(&m)

	addr := mem.SdramBase + 0x100
	c.Mark(addr)
	if c.Blocks() != 1 {
		t.Fatalf("blocks = %d, want 1", c.Blocks())
	}
	if *m.Sdram().Flags(addr)&mem.FlagCode == 0 {
		t.Error("code flag not set on marked word")
	}

	c.Flush()
	if c.Blocks() != 0 {
		t.Error("flush left blocks behind")
	}
	if *m.Sdram().Flags(addr)&mem.FlagCode != 0 {
		t.Error("flush left code flag behind")
	}
	if c.Flushes() != 1 {
		t.Errorf("flushes = %d, want 1", c.Flushes())
	}
}

func TestDeinitIdempotent(t *testing.T) {
	var c Cache
	c.Flush() // never initialized: must not panic
	c.Deinit()
	c.Deinit()
	if c.Enabled() {
		t.Error("cache enabled after deinit")
	}
}

func TestAddrCacheFlushCount(t *testing.T) {
	var a AddrCache
	a.Init()
	a.Flush()
	a.Flush()
	if a.Flushes() != 2 {
		t.Errorf("flushes = %d, want 2", a.Flushes())
	}
}
