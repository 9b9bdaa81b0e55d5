// Package gui defines the presentation-layer contract the execution core
// talks to, plus a console implementation. The core never blocks on the
// frontend except through the explicit Pump hook; character input is
// polled, never pushed.
package gui

// Frontend is the presentation layer seen by the execution core.
type Frontend interface {
	// Printf writes a diagnostic line (warnings, faults, emulator chatter).
	Printf(format string, args ...interface{})
	// Status reports a one-line machine state change ("Reset").
	Status(format string, args ...interface{})
	// Perror reports a path-related failure.
	Perror(path string, err error)
	// ShowSpeed reports achieved emulation speed, 1.0 meaning real time.
	ShowSpeed(speed float64)
	// Pump gives the frontend a chance to run pending work. Called once per
	// pacing tick; must not block when wait is false.
	Pump(wait bool)
	// Getchar polls for one byte of user input, returning -1 when none is
	// buffered. The frontend buffers input internally and thread-safely.
	Getchar() int
}

// Null is a Frontend that discards everything. Useful for tests and for
// embedding the core without a user interface.
type Null struct{}

func (Null) Printf(string, ...interface{}) {}
func (Null) Status(string, ...interface{}) {}
func (Null) Perror(string, error)          {}
func (Null) ShowSpeed(float64)             {}
func (Null) Pump(bool)                     {}
func (Null) Getchar() int                  { return -1 }
