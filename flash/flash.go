// Package flash implements the storage subsystem: the NAND image file the
// machine boots from. The image is held in memory for the lifetime of the
// machine; the execution core only ever talks to it through open, settings,
// boot order, and the symmetric suspend/resume pair.
package flash

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// BootOrder selects which image the boot ROM hands control to.
type BootOrder int32

const (
	OrderDefault BootOrder = iota
	OrderBoot2
	OrderDiags
)

// defaults used when the image carries no settings block
const (
	DefaultProduct   = 0x0E0
	DefaultSdramSize = 32 * 1024 * 1024
)

// settingsMagic marks the manufacturing block at the start of an image.
var settingsMagic = [4]byte{'E', 'M', 'B', 'R'}

// manufacturing block, at offset 0 of a prepared image
type settingsBlock struct {
	Magic     [4]byte
	Product   uint32
	Features  uint32
	SdramSize uint32
}

// Flash is the storage subsystem.
type Flash struct {
	data      []byte
	path      string
	bootOrder BootOrder

	product   uint32
	features  uint32
	sdramSize uint32
}

// Open loads the image at path.
func (f *Flash) Open(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open flash image %s", path)
	}
	if len(data) == 0 {
		return errors.Errorf("flash image %s is empty", path)
	}
	f.data = data
	f.path = path
	f.readSettings()
	return nil
}

// Opened reports whether an image is loaded.
func (f *Flash) Opened() bool {
	return f.data != nil
}

// Close drops the image. Safe to call repeatedly.
func (f *Flash) Close() {
	f.data = nil
	f.path = ""
}

// readSettings parses the manufacturing block, falling back to defaults for
// bare images.
func (f *Flash) readSettings() {
	f.product = DefaultProduct
	f.features = 0
	f.sdramSize = DefaultSdramSize
	var st settingsBlock
	if err := struc.Unpack(bytes.NewReader(f.data), &st); err != nil {
		return
	}
	if st.Magic != settingsMagic {
		return
	}
	f.product = st.Product
	f.features = st.Features
	if st.SdramSize != 0 {
		f.sdramSize = st.SdramSize
	}
}

// ReadSettings returns the machine configuration the image declares:
// working-memory size, product identifier, and feature flags.
func (f *Flash) ReadSettings() (sdramSize, product, features uint32) {
	return f.sdramSize, f.product, f.features
}

// SetBootOrder applies the configured boot order to the image state.
func (f *Flash) SetBootOrder(order BootOrder) {
	f.bootOrder = order
}

// BootOrder returns the current boot order.
func (f *Flash) BootOrder() BootOrder {
	return f.bootOrder
}

// Size returns the image size in bytes.
func (f *Flash) Size() int {
	return len(f.data)
}

// ReadAt implements random access into the image for collaborators (boot
// code loading, debugger inspection).
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	return copy(p, f.data[off:]), nil
}

// WriteAt stores bytes into the image (the NAND controller collaborator
// writes through this).
func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(f.data)) {
		return 0, errors.New("write outside flash image")
	}
	return copy(f.data[off:], p), nil
}

// SuspendSize is an upper bound on the serialized size, queried before the
// snapshot file is created.
func (f *Flash) SuspendSize() int {
	// header + worst-case snappy framing overhead
	return 16 + len(f.data) + len(f.data)/8 + 64
}

// serialized header preceding the compressed image
type state struct {
	Size      uint32
	BootOrder int32
}

// Suspend writes the image and its mutable state to w.
func (f *Flash) Suspend(w io.Writer) error {
	if f.data == nil {
		return errors.New("no flash image open")
	}
	st := state{Size: uint32(len(f.data)), BootOrder: int32(f.bootOrder)}
	if err := struc.Pack(w, &st); err != nil {
		return errors.Wrap(err, "failed to pack flash state")
	}
	zw := snappy.NewBufferedWriter(w)
	if _, err := zw.Write(f.data); err != nil {
		return errors.Wrap(err, "failed to compress flash image")
	}
	return errors.Wrap(zw.Close(), "failed to flush flash image")
}

// Resume restores the image and its mutable state from r.
func (f *Flash) Resume(r io.Reader) error {
	var st state
	if err := struc.Unpack(r, &st); err != nil {
		return errors.Wrap(err, "failed to unpack flash state")
	}
	data, err := ioutil.ReadAll(snappy.NewReader(r))
	if err != nil {
		return errors.Wrap(err, "failed to decompress flash image")
	}
	if uint32(len(data)) != st.Size {
		return errors.Errorf("flash blob is %d bytes, want %d", len(data), st.Size)
	}
	f.data = data
	f.bootOrder = BootOrder(st.BootOrder)
	f.readSettings()
	return nil
}
