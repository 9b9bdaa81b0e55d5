package emu

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/emberemu/ember/arm"
	"github.com/emberemu/ember/mem"
	"github.com/emberemu/ember/sched"
)

func TestSuspendResume(t *testing.T) {
	m := testMachine(t, nil)

	// dirty every serialized subsystem
	m.Cpu.Reg[0] = 0x11111111
	m.Cpu.Reg[15] = 0x10000020
	m.Cpu.Cpsr = arm.ModeSvc | arm.FlagThumb
	if err := m.Mem.Store32(mem.SdramBase+0x40, 0xFEEDFACE); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Flash.WriteAt([]byte{0x5A}, 100); err != nil {
		t.Fatal(err)
	}
	m.Sched.Register(sched.SlotTimers, sched.Clock32K, func(sched.Slot) {})
	m.Sched.Once(sched.SlotTimers, 320)
	m.Sched.UpdateNextEvent()
	m.Sched.Consume(50)

	path := filepath.Join(t.TempDir(), "snap")
	if err := m.Suspend(path); err != nil {
		t.Fatal("suspend failed:", err)
	}

	r := NewMachine(Config{SnapshotPath: path})
	if err := r.Start(); err != nil {
		t.Fatal("resume failed:", err)
	}
	defer r.Cleanup()

	if r.Cpu != m.Cpu {
		t.Error("cpu state differs after resume")
	}
	if !r.Sched.Equal(m.Sched) {
		t.Error("schedule differs after resume")
	}
	if v, _ := r.Mem.Load32(mem.SdramBase + 0x40); v != 0xFEEDFACE {
		t.Errorf("sdram word = %#x after resume", v)
	}
	var b [1]byte
	if _, err := r.Flash.ReadAt(b[:], 100); err != nil || b[0] != 0x5A {
		t.Errorf("flash byte = %#x (%v) after resume", b[0], err)
	}
	if r.Product() != testProduct {
		t.Errorf("product = %#x after resume", r.Product())
	}
	// the ROM window is rebuilt, not serialized
	if v, _ := r.Mem.Load32(mem.RomBase); v != 0xFFFFFFFF {
		t.Errorf("rom word = %#x after resume", v)
	}
}

func TestResumeRejectsBadSignature(t *testing.T) {
	m := testMachine(t, nil)
	path := filepath.Join(t.TempDir(), "snap")
	if err := m.Suspend(path); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0}, 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r := NewMachine(Config{SnapshotPath: path})
	if err := r.Start(); err == nil {
		r.Cleanup()
		t.Fatal("resume accepted a corrupted signature")
	}
}

func TestResumeRejectsTruncated(t *testing.T) {
	m := testMachine(t, nil)
	path := filepath.Join(t.TempDir(), "snap")
	if err := m.Suspend(path); err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, st.Size()-16); err != nil {
		t.Fatal(err)
	}

	r := NewMachine(Config{SnapshotPath: path})
	if err := r.Start(); err == nil {
		r.Cleanup()
		t.Fatal("resume accepted a truncated snapshot")
	}
}

// A file that was signed but never carried its segments must not resume.
func TestResumeRejectsEmptyBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	body := make([]byte, headerSize)
	body[0], body[1], body[2], body[3] = 0xCA, 0xFE, 0xBE, 0xEF
	if err := ioutil.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	r := NewMachine(Config{SnapshotPath: path})
	if err := r.Start(); err == nil {
		r.Cleanup()
		t.Fatal("resume accepted a snapshot with no segments")
	}
}

func TestSuspendRejectsBadPath(t *testing.T) {
	m := testMachine(t, nil)
	// a path under a regular file can never be created
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := ioutil.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Suspend(filepath.Join(blocker, "snap")); err == nil {
		t.Fatal("suspend succeeded under a regular file")
	}
}
