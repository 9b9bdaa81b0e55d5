// Package usblink models the computer-link cable endpoint. External
// producers (a GUI file-transfer dialog, a remote tool) enqueue packets
// from any goroutine; the emulation thread drains the queue once per
// pacing tick, so no locking is ever needed between the link and the
// execution loop.
package usblink

import "sync"

// Packet is one link-layer message.
type Packet struct {
	Addr uint8
	Data []byte
}

// Receiver consumes packets on the emulation thread.
type Receiver func(Packet)

// Link is the USB link endpoint.
type Link struct {
	mu    sync.Mutex
	queue []Packet

	recv     Receiver
	ticks    uint32
	timeouts uint32
}

// SetReceiver installs the packet consumer. Must be called before the
// machine starts ticking.
func (l *Link) SetReceiver(r Receiver) {
	l.recv = r
}

// Put enqueues a packet. Safe from any goroutine.
func (l *Link) Put(p Packet) {
	l.mu.Lock()
	l.queue = append(l.queue, p)
	l.mu.Unlock()
}

// Pending returns the number of queued packets.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Timer advances the link's retransmission clock. Called once per pacing
// tick on the emulation thread.
func (l *Link) Timer() {
	l.ticks++
	// a packet sitting unconsumed for a full second counts as a timeout
	if l.ticks%100 == 0 && l.Pending() > 0 {
		l.timeouts++
	}
}

// Timeouts returns the number of stale-queue intervals observed.
func (l *Link) Timeouts() uint32 {
	return l.timeouts
}

// QueueDo drains the queue into the receiver. Called once per pacing tick
// on the emulation thread.
func (l *Link) QueueDo() {
	l.mu.Lock()
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()
	if l.recv == nil {
		return
	}
	for _, p := range pending {
		l.recv(p)
	}
}

// Reset drops queued packets and clears the link clocks.
func (l *Link) Reset() {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
	l.ticks = 0
	l.timeouts = 0
}
