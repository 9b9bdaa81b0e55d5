package usblink

import (
	"sync"
	"testing"
)

func TestQueueDrainsToReceiver(t *testing.T) {
	var l Link
	var got []Packet
	l.SetReceiver(func(p Packet) { got = append(got, p) })

	// producers may enqueue from any goroutine
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(addr uint8) {
			defer wg.Done()
			l.Put(Packet{Addr: addr, Data: []byte{addr}})
		}(uint8(i))
	}
	wg.Wait()

	if l.Pending() != 4 {
		t.Fatalf("pending = %d, want 4", l.Pending())
	}
	l.QueueDo()
	if len(got) != 4 || l.Pending() != 0 {
		t.Errorf("delivered %d packets, %d left", len(got), l.Pending())
	}
}

func TestStaleQueueTimesOut(t *testing.T) {
	var l Link
	l.Put(Packet{Addr: 1})
	for i := 0; i < 200; i++ {
		l.Timer()
	}
	if l.Timeouts() != 2 {
		t.Errorf("timeouts = %d, want 2", l.Timeouts())
	}
	l.QueueDo() // no receiver: packets are dropped, not requeued
	l.Timer()
	if l.Pending() != 0 {
		t.Error("queue not drained")
	}
}

func TestResetDropsQueue(t *testing.T) {
	var l Link
	l.Put(Packet{Addr: 1})
	for i := 0; i < 100; i++ {
		l.Timer()
	}
	l.Reset()
	if l.Pending() != 0 || l.Timeouts() != 0 {
		t.Error("reset left link state behind")
	}
}
