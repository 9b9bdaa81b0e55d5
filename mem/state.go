package mem

import (
	"io"
	"io/ioutil"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// serialized form: a fixed header followed by the snappy-compressed SDRAM
// contents. The ROM window and the protection flags are rebuilt by the
// lifecycle controller, which re-installs the boot image on both the fresh
// and the resumed path.
type state struct {
	SdramSize uint32
}

// Suspend writes the working-memory contents to w.
func (m *Memory) Suspend(w io.Writer) error {
	if m.areas == nil {
		return errors.New("memory not initialized")
	}
	sdram := m.Sdram()
	if err := struc.Pack(w, &state{SdramSize: sdram.Size}); err != nil {
		return errors.Wrap(err, "failed to pack memory state")
	}
	zw := snappy.NewBufferedWriter(w)
	if _, err := zw.Write(sdram.Data); err != nil {
		return errors.Wrap(err, "failed to compress sdram")
	}
	return errors.Wrap(zw.Close(), "failed to flush sdram")
}

// Resume restores the working-memory contents from r, allocating the areas
// if needed.
func (m *Memory) Resume(r io.Reader) error {
	var st state
	if err := struc.Unpack(r, &st); err != nil {
		return errors.Wrap(err, "failed to unpack memory state")
	}
	if err := m.Initialize(st.SdramSize); err != nil {
		return err
	}
	data, err := ioutil.ReadAll(snappy.NewReader(r))
	if err != nil {
		return errors.Wrap(err, "failed to decompress sdram")
	}
	if uint32(len(data)) != st.SdramSize {
		return errors.Errorf("sdram blob is %d bytes, want %d", len(data), st.SdramSize)
	}
	copy(m.Sdram().Data, data)
	return nil
}
