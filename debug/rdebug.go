package debug

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// RDebug is the raw remote debug console: the same command set as the local
// debugger, over a line-oriented TCP connection. Like the GDB stub it is
// polled from the pacing tick and never blocks the emulation thread.
type RDebug struct {
	emu  Emulator
	ln   *net.TCPListener
	conn net.Conn
	rx   []byte
}

// NewRDebug returns an unbound remote console for the machine.
func NewRDebug(emu Emulator) *RDebug {
	return &RDebug{emu: emu}
}

// Bind listens on the given TCP port.
func (d *RDebug) Bind(port int) error {
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind remote debug to %s", addr)
	}
	d.ln = ln.(*net.TCPListener)
	return nil
}

// Addr returns the bound listener address.
func (d *RDebug) Addr() net.Addr {
	return d.ln.Addr()
}

// Quit closes the client and the listener. Safe to call repeatedly.
func (d *RDebug) Quit() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	if d.ln != nil {
		d.ln.Close()
		d.ln = nil
	}
}

// Recv polls the console: accepts a pending client, reads whatever bytes
// have arrived, and runs every complete line. Never blocks.
func (d *RDebug) Recv() {
	if d.ln == nil {
		return
	}
	if d.conn == nil {
		d.ln.SetDeadline(time.Now())
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "remote debug connection from %s\n", conn.RemoteAddr())
		d.conn = conn
		d.rx = d.rx[:0]
		fmt.Fprintf(d.conn, "> ")
	}
	var buf [1024]byte
	d.conn.SetReadDeadline(time.Now())
	for {
		n, err := d.conn.Read(buf[:])
		d.rx = append(d.rx, buf[:n]...)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			d.conn.Close()
			d.conn = nil
			return
		}
	}
	for {
		nl := bytes.IndexByte(d.rx, '\n')
		if nl < 0 {
			return
		}
		line := string(bytes.TrimRight(d.rx[:nl], "\r"))
		d.rx = d.rx[nl+1:]
		out, _ := runCommand(d.emu, line)
		if out != "" {
			d.conn.Write([]byte(out))
		}
		fmt.Fprintf(d.conn, "> ")
	}
}
