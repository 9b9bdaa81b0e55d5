package debug

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

func escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		if c == '#' || c == '$' || c == '}' {
			out = append(out, '}')
			out = append(out, c^0x20)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	escaped := false
	for _, c := range p {
		if escaped {
			out = append(out, c^0x20)
			escaped = false
		} else if c == '}' {
			escaped = true
		} else {
			out = append(out, c)
		}
	}
	return out
}

func checksum(p []byte) []byte {
	chk := 0
	for _, c := range p {
		chk = (chk + int(c)) % 256
	}
	return []byte(fmt.Sprintf("%02x", chk))
}

func parseRange(s string) (uint64, uint64) {
	tmp := strings.Split(s, ",")
	if len(tmp) != 2 {
		return 0, 0
	}
	a, _ := strconv.ParseUint(tmp[0], 16, 0)
	b, _ := strconv.ParseUint(tmp[1], 16, 0)
	return a, b
}

// Gdbstub is a GDB-compatible remote stub. It owns no goroutine: Recv is
// polled once per pacing tick, accepts at most one client, and answers
// whatever complete packets have arrived. Commands therefore always run
// between instructions.
type Gdbstub struct {
	emu  Emulator
	ln   *net.TCPListener
	conn net.Conn
	rx   []byte

	noAck     bool
	noAckTest bool
	stopped   bool
}

// NewGdbstub returns an unbound stub for the machine.
func NewGdbstub(emu Emulator) *Gdbstub {
	return &Gdbstub{emu: emu}
}

// Bind listens on the given TCP port.
func (g *Gdbstub) Bind(port int) error {
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind gdb stub to %s", addr)
	}
	g.ln = ln.(*net.TCPListener)
	return nil
}

// Addr returns the bound listener address.
func (g *Gdbstub) Addr() net.Addr {
	return g.ln.Addr()
}

// Reset drops per-session run state. Called when the execution loop is
// (re-)entered.
func (g *Gdbstub) Reset() {
	g.stopped = false
}

// Quit closes the client and the listener. Safe to call repeatedly.
func (g *Gdbstub) Quit() {
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	if g.ln != nil {
		g.ln.Close()
		g.ln = nil
	}
}

// Recv polls the stub: accepts a pending client if there is none, then
// drains and handles any complete packets. Never blocks.
func (g *Gdbstub) Recv() {
	if g.ln == nil {
		return
	}
	if g.conn == nil {
		g.ln.SetDeadline(time.Now())
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "GDB stub connected from %s\n", conn.RemoteAddr())
		g.conn = conn
		g.rx = g.rx[:0]
		g.noAck = false
	}
	var buf [4096]byte
	g.conn.SetReadDeadline(time.Now())
	for {
		n, err := g.conn.Read(buf[:])
		g.rx = append(g.rx, buf[:n]...)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			g.conn.Close()
			g.conn = nil
			return
		}
	}
	g.drain()
}

// drain consumes complete packets from the receive buffer.
func (g *Gdbstub) drain() {
	for len(g.rx) > 0 {
		switch g.rx[0] {
		case '+':
			if g.noAckTest {
				g.noAck = true
				g.noAckTest = false
			}
			g.rx = g.rx[1:]
			continue
		case '-':
			g.noAckTest = false
			g.rx = g.rx[1:]
			continue
		case 0x03: // interrupt
			g.rx = g.rx[1:]
			// one stop reply per stop: gdb gets confused by duplicates
			if !g.stopped {
				g.stopped = true
				g.wait()
			}
			continue
		case '$':
		default:
			g.rx = g.rx[1:]
			continue
		}
		end := bytes.IndexByte(g.rx, '#')
		if end < 0 || len(g.rx) < end+3 {
			return // incomplete packet, try again next tick
		}
		data := g.rx[1:end]
		chk := g.rx[end+1 : end+3]
		g.rx = g.rx[end+3:]
		if !bytes.Equal(checksum(data), chk) {
			g.ack('-')
			continue
		}
		g.ack('+')
		g.handle(unescape(data))
	}
}

func (g *Gdbstub) ack(b byte) {
	if !g.noAck && g.conn != nil {
		g.conn.Write([]byte{b})
	}
}

func (g *Gdbstub) send(s string) {
	if g.conn == nil {
		return
	}
	data := escape([]byte(s))
	g.conn.Write([]byte("$" + string(data) + "#" + string(checksum(data))))
}

func (g *Gdbstub) fmtreg(v uint32) string {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return hex.EncodeToString(tmp[:])
}

func (g *Gdbstub) wait() {
	pc := g.emu.RegRead(15)
	g.send(fmt.Sprintf("T05thread:1;0f:%s;", g.fmtreg(pc)))
}

func (g *Gdbstub) handle(cmdb []byte) {
	if len(cmdb) == 0 {
		return
	}
	b, rest := cmdb[0], string(cmdb[1:])
	var cmd, args string
	if strings.Contains(rest, ":") {
		tmp := strings.SplitN(rest, ":", 2)
		cmd, args = tmp[0], tmp[1]
	} else {
		cmd = rest
	}
	switch b {
	case 'q':
		switch cmd {
		case "Supported":
			g.send("PacketSize=4000;QStartNoAckMode+")
		case "Attached":
			g.send("1")
		case "Symbol", "C":
			g.send("OK")
		case "TStatus":
			g.send("T0")
		default:
			g.send("")
		}
	case 'Q':
		if cmd == "StartNoAckMode" {
			g.noAckTest = true
			g.send("OK")
		} else {
			g.send("")
		}
	case '?':
		// an explicit status query always gets an answer
		g.stopped = true
		g.wait()
	case 'g':
		var out strings.Builder
		for i := 0; i < 16; i++ {
			out.WriteString(g.fmtreg(g.emu.RegRead(i)))
		}
		out.WriteString(g.fmtreg(g.emu.Cpsr()))
		g.send(out.String())
	case 'p':
		i, _ := strconv.ParseUint(cmd, 16, 0)
		if i < 16 {
			g.send(g.fmtreg(g.emu.RegRead(int(i))))
		} else if i == 25 { // cpsr in the gdb arm numbering
			g.send(g.fmtreg(g.emu.Cpsr()))
		} else {
			g.send("00000000")
		}
	case 'P':
		tmp := strings.SplitN(rest, "=", 2)
		if len(tmp) == 2 {
			i, _ := strconv.ParseUint(tmp[0], 16, 0)
			raw, err := hex.DecodeString(tmp[1])
			if i < 16 && err == nil && len(raw) == 4 {
				g.emu.RegWrite(int(i), binary.LittleEndian.Uint32(raw))
				g.send("OK")
				return
			}
		}
		g.send("E01")
	case 'm':
		a, n := parseRange(rest)
		p := make([]byte, n)
		if err := g.emu.ReadMem(uint32(a), p); err != nil {
			g.send("E01")
		} else {
			g.send(hex.EncodeToString(p))
		}
	case 'M':
		a, n := parseRange(cmd)
		raw, err := hex.DecodeString(args)
		if err != nil || uint64(len(raw)) != n {
			g.send("E01")
			return
		}
		if err := g.emu.WriteMem(uint32(a), raw); err != nil {
			g.send("E01")
		} else {
			g.send("OK")
		}
	case 'c':
		g.stopped = false
		// no reply until the next stop
	case 's':
		g.emu.RequestStep()
		g.stopped = true
		g.wait()
	case 'R':
		g.emu.RequestReset()
	case 'H', 'T':
		g.send("OK")
	case 'k':
		g.emu.Stop()
	case 'D':
		g.send("OK")
		g.conn.Close()
		g.conn = nil
	default:
		g.send("")
	}
}
