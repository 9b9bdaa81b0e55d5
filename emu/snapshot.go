package emu

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Snapshot layout: a fixed header, then one length-prefixed segment per
// subsystem in suspend order (flash, cpu, scheduler, memory). The signature
// is written last, after every segment landed, so a crash or full disk
// mid-suspend leaves a file that resume rejects.
const snapshotSig uint32 = 0xCAFEBEEF

const pathMax = 256

type snapshotHeader struct {
	Sig       uint32
	Product   uint32
	Features  uint32
	PathBoot1 string `struc:"[256]byte"`
	PathFlash string `struc:"[256]byte"`
}

const headerSize = 12 + 2*pathMax

func writeSegment(w io.Writer, suspend func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := suspend(&buf); err != nil {
		return err
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(buf.Len()))
	if _, err := w.Write(n[:]); err != nil {
		return errors.Wrap(err, "failed to write snapshot segment")
	}
	_, err := w.Write(buf.Bytes())
	return errors.Wrap(err, "failed to write snapshot segment")
}

func readSegment(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, errors.New("snapshot truncated")
	}
	n := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if n < 0 || n > len(data)-off {
		return nil, 0, errors.New("snapshot truncated")
	}
	return data[off : off+n], off + n, nil
}

func trimZero(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

// Suspend freezes the machine into the file at path. The machine must be
// paused: call it from the emulation thread between slices, or from a
// debugger breakpoint. The machine keeps running afterwards.
func (m *Machine) Suspend(path string) error {
	if len(m.cfg.PathBoot1) >= pathMax || len(m.cfg.PathFlash) >= pathMax {
		return errors.New("image path too long for snapshot header")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		m.front.Perror(path, err)
		return errors.Wrapf(err, "failed to create snapshot %s", path)
	}
	defer f.Close()
	// preallocate for the dominant segment so a full disk fails here, not
	// halfway through writing
	if err := f.Truncate(int64(headerSize + m.Flash.SuspendSize())); err != nil {
		return errors.Wrapf(err, "failed to grow snapshot %s", path)
	}
	hdr := snapshotHeader{
		Product:   m.product,
		Features:  m.features,
		PathBoot1: m.cfg.PathBoot1,
		PathFlash: m.cfg.PathFlash,
	}
	if err := struc.Pack(f, &hdr); err != nil {
		return errors.Wrap(err, "failed to write snapshot header")
	}
	segments := []func(io.Writer) error{
		m.Flash.Suspend,
		m.Cpu.Suspend,
		m.Sched.Suspend,
		m.Mem.Suspend,
	}
	for _, seg := range segments {
		if err := writeSegment(f, seg); err != nil {
			return err
		}
	}
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.Wrap(err, "failed to finish snapshot")
	}
	if err := f.Truncate(end); err != nil {
		return errors.Wrap(err, "failed to finish snapshot")
	}
	var sig [4]byte
	binary.BigEndian.PutUint32(sig[:], snapshotSig)
	if _, err := f.WriteAt(sig[:], 0); err != nil {
		return errors.Wrap(err, "failed to sign snapshot")
	}
	return errors.Wrapf(f.Sync(), "failed to sync snapshot %s", path)
}

// resume restores the machine from a snapshot file during Start. Segments
// are read in stored order but applied storage-first, so memory sizing is
// known before the memory image lands, with the schedule applied last.
func (m *Machine) resume(path string) error {
	f, err := os.Open(path)
	if err != nil {
		m.front.Perror(path, err)
		return errors.Wrapf(err, "failed to open snapshot %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat snapshot %s", path)
	}
	if st.Size() < headerSize {
		return errors.Errorf("snapshot %s is too small", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return errors.Wrapf(err, "failed to map snapshot %s", path)
	}
	defer unix.Munmap(data)

	var hdr snapshotHeader
	if err := struc.Unpack(bytes.NewReader(data[:headerSize]), &hdr); err != nil {
		return errors.Wrap(err, "failed to read snapshot header")
	}
	if hdr.Sig != snapshotSig {
		return errors.Errorf("%s is not a snapshot (or an interrupted one)", path)
	}
	m.product = hdr.Product
	m.features = hdr.Features
	if m.cfg.PathBoot1 == "" {
		m.cfg.PathBoot1 = trimZero(hdr.PathBoot1)
	}
	if m.cfg.PathFlash == "" {
		m.cfg.PathFlash = trimZero(hdr.PathFlash)
	}

	off := headerSize
	var segs [4][]byte
	for i := range segs {
		if segs[i], off, err = readSegment(data, off); err != nil {
			return errors.Wrapf(err, "failed to read snapshot %s", path)
		}
	}
	if err := m.Flash.Resume(bytes.NewReader(segs[0])); err != nil {
		return err
	}
	if err := m.Cpu.Resume(bytes.NewReader(segs[1])); err != nil {
		return err
	}
	if err := m.Mem.Resume(bytes.NewReader(segs[3])); err != nil {
		return err
	}
	if err := m.Sched.Resume(bytes.NewReader(segs[2])); err != nil {
		return err
	}
	m.registerThrottle()
	return m.installBootRom()
}
