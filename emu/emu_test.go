package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/emberemu/ember/gui"
)

const testProduct = 0x1C2
const testSdram = 1 << 20

// writeFlashImage creates a small image carrying a settings block.
func writeFlashImage(t *testing.T, path string, sdramSize uint32) {
	t.Helper()
	var img bytes.Buffer
	img.WriteString("EMBR")
	binary.Write(&img, binary.BigEndian, uint32(testProduct))
	binary.Write(&img, binary.BigEndian, uint32(0))
	binary.Write(&img, binary.BigEndian, sdramSize)
	img.Write(make([]byte, 4096))
	if err := ioutil.WriteFile(path, img.Bytes(), 0644); err != nil {
		t.Fatal("failed to write flash image:", err)
	}
}

// recordFront captures frontend traffic and feeds canned input.
type recordFront struct {
	gui.Null
	lines    []string
	statuses []string
	speeds   []float64
	input    []int
}

func (f *recordFront) Printf(format string, args ...interface{}) {
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
}

func (f *recordFront) Status(format string, args ...interface{}) {
	f.statuses = append(f.statuses, fmt.Sprintf(format, args...))
}

func (f *recordFront) ShowSpeed(speed float64) {
	f.speeds = append(f.speeds, speed)
}

func (f *recordFront) Getchar() int {
	if len(f.input) == 0 {
		return -1
	}
	c := f.input[0]
	f.input = f.input[1:]
	return c
}

// runnerFunc adapts a function into a Runner for both instruction widths.
type runnerFunc func(m *Machine) error

func (f runnerFunc) RunARM(m *Machine) error   { return f(m) }
func (f runnerFunc) RunThumb(m *Machine) error { return f(m) }

// testMachine cold-boots a machine from a scratch flash image.
func testMachine(t *testing.T, mut func(*Config)) *Machine {
	t.Helper()
	flashPath := filepath.Join(t.TempDir(), "flash.img")
	writeFlashImage(t, flashPath, testSdram)
	cfg := Config{PathFlash: flashPath}
	if mut != nil {
		mut(&cfg)
	}
	m := NewMachine(cfg)
	if err := m.Start(); err != nil {
		t.Fatal("start failed:", err)
	}
	t.Cleanup(m.Cleanup)
	return m
}
