package flash

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/lunixbochs/struc"
)

// writeImage builds a flash image file with a manufacturing block followed
// by filler bytes.
func writeImage(t *testing.T, product, features, sdram uint32, size int) string {
	t.Helper()
	var buf bytes.Buffer
	st := settingsBlock{Magic: settingsMagic, Product: product, Features: features, SdramSize: sdram}
	if err := struc.Pack(&buf, &st); err != nil {
		t.Fatal("failed to pack settings block:", err)
	}
	for buf.Len() < size {
		buf.WriteByte(byte(buf.Len()))
	}
	path := filepath.Join(t.TempDir(), "flash.img")
	if err := ioutil.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal("failed to write image:", err)
	}
	return path
}

func TestOpenAndSettings(t *testing.T) {
	path := writeImage(t, 0x0F0, 3, 0x100000, 4096)
	var f Flash
	if err := f.Open(path); err != nil {
		t.Fatal("open failed:", err)
	}
	sdram, product, features := f.ReadSettings()
	if sdram != 0x100000 || product != 0x0F0 || features != 3 {
		t.Errorf("settings = (%#x, %#x, %#x)", sdram, product, features)
	}
	if f.Size() != 4096 {
		t.Errorf("size = %d, want 4096", f.Size())
	}
}

func TestBareImageDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.img")
	if err := ioutil.WriteFile(path, bytes.Repeat([]byte{0xFF}, 1024), 0644); err != nil {
		t.Fatal(err)
	}
	var f Flash
	if err := f.Open(path); err != nil {
		t.Fatal("open failed:", err)
	}
	sdram, product, _ := f.ReadSettings()
	if sdram != DefaultSdramSize || product != DefaultProduct {
		t.Errorf("defaults not applied: (%#x, %#x)", sdram, product)
	}
}

func TestOpenMissing(t *testing.T) {
	var f Flash
	if err := f.Open(filepath.Join(t.TempDir(), "missing.img")); err == nil {
		t.Error("open succeeded on missing file")
	}
	if f.Opened() {
		t.Error("flash claims to be open after failure")
	}
}

func TestSuspendResume(t *testing.T) {
	path := writeImage(t, 0x0E0, 1, 0x200000, 8192)
	var f Flash
	if err := f.Open(path); err != nil {
		t.Fatal("open failed:", err)
	}
	f.SetBootOrder(OrderDiags)
	if _, err := f.WriteAt([]byte{1, 2, 3}, 100); err != nil {
		t.Fatal("write failed:", err)
	}

	var buf bytes.Buffer
	if err := f.Suspend(&buf); err != nil {
		t.Fatal("suspend failed:", err)
	}
	if buf.Len() > f.SuspendSize() {
		t.Errorf("suspend wrote %d bytes, above the declared bound %d", buf.Len(), f.SuspendSize())
	}

	var o Flash
	if err := o.Resume(&buf); err != nil {
		t.Fatal("resume failed:", err)
	}
	if o.BootOrder() != OrderDiags {
		t.Error("boot order lost across suspend")
	}
	if !bytes.Equal(o.data, f.data) {
		t.Error("image contents differ after resume")
	}
	sdram, _, _ := o.ReadSettings()
	if sdram != 0x200000 {
		t.Errorf("settings lost across suspend: sdram = %#x", sdram)
	}
}

func TestResumeRejectsGarbage(t *testing.T) {
	var o Flash
	if err := o.Resume(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("resume accepted garbage")
	}
}
