package gui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	warnColor   = ansi.ColorCode("yellow")
	statusColor = ansi.ColorCode("cyan+b")
	speedColor  = ansi.ColorCode("green")
)

// Console is a Frontend writing to stderr, coloring output when stderr is a
// terminal. Stdin is drained by a reader goroutine into a bounded buffer so
// Getchar never blocks.
type Console struct {
	w     io.Writer
	color bool

	mu  sync.Mutex
	in  []byte
	eof bool
}

// NewConsole returns a console frontend reading from stdin and writing to
// stderr.
func NewConsole() *Console {
	c := &Console{}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		c.w = colorable.NewColorableStderr()
		c.color = true
	} else {
		c.w = colorable.NewNonColorable(os.Stderr)
	}
	go c.readInput(os.Stdin)
	return c
}

func (c *Console) readInput(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		c.mu.Lock()
		if err != nil {
			c.eof = true
			c.mu.Unlock()
			return
		}
		// drop input instead of growing without bound
		if len(c.in) < 4096 {
			c.in = append(c.in, b)
		}
		c.mu.Unlock()
	}
}

func (c *Console) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + ansi.Reset
}

// Printf implements Frontend.
func (c *Console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}

// Status implements Frontend.
func (c *Console) Status(format string, args ...interface{}) {
	fmt.Fprintln(c.w, c.paint(statusColor, fmt.Sprintf(format, args...)))
}

// Perror implements Frontend.
func (c *Console) Perror(path string, err error) {
	fmt.Fprintln(c.w, c.paint(warnColor, fmt.Sprintf("%s: %v", path, err)))
}

// ShowSpeed implements Frontend.
func (c *Console) ShowSpeed(speed float64) {
	fmt.Fprintf(c.w, "%s\r", c.paint(speedColor, fmt.Sprintf("speed: %3.0f%%", speed*100)))
}

// Pump implements Frontend. The console has no event loop of its own.
func (c *Console) Pump(bool) {}

// Getchar implements Frontend.
func (c *Console) Getchar() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return -1
	}
	b := c.in[0]
	c.in = c.in[1:]
	return int(b)
}
