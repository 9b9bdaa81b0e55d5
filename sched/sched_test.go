package sched

import (
	"bytes"
	"testing"
)

func TestFireOrder(t *testing.T) {
	s := New()
	var fired []Slot
	log := func(slot Slot) { fired = append(fired, slot) }

	s.Register(SlotTimers, ClockCPU, log)
	s.Register(SlotWatchdog, ClockCPU, log)
	s.Once(SlotTimers, 200)
	s.Once(SlotWatchdog, 100)
	s.UpdateNextEvent()

	if s.Budget() >= 0 {
		t.Fatal("budget not negative with pending events")
	}
	// run until both deadlines have elapsed
	s.Consume(-s.Budget() + 200)
	s.ProcessPending()

	if len(fired) != 2 {
		t.Fatalf("fired %d events, want 2", len(fired))
	}
	if fired[0] != SlotWatchdog || fired[1] != SlotTimers {
		t.Error("events fired out of deadline order:", fired)
	}
}

func TestBudgetRecomputedAfterProc(t *testing.T) {
	s := New()
	// the fired proc schedules a second, much closer event
	s.Register(SlotTimers, ClockCPU, func(Slot) {
		s.Once(SlotWatchdog, 5)
	})
	s.Register(SlotWatchdog, ClockCPU, func(Slot) {})
	s.Once(SlotTimers, 100)
	s.UpdateNextEvent()

	s.Consume(-s.Budget())
	s.ProcessPending()

	// budget must now reflect the short deadline set by the proc
	if got := s.Budget(); got < -5 || got >= 0 {
		t.Errorf("budget %d does not match rescheduled deadline", got)
	}
}

func TestRepeat(t *testing.T) {
	s := New()
	count := 0
	s.Register(SlotThrottle, Clock27M, func(slot Slot) {
		s.Repeat(slot, 27000000/100)
		count++
	})
	s.Repeat(SlotThrottle, 27000000/100)
	s.UpdateNextEvent()

	for i := 0; i < 10; i++ {
		s.Consume(-s.Budget())
		s.ProcessPending()
	}
	if count != 10 {
		t.Errorf("throttle fired %d times, want 10", count)
	}
}

func TestResetDisablesItems(t *testing.T) {
	s := New()
	s.Register(SlotTimers, ClockCPU, func(Slot) { t.Error("fired after reset") })
	s.Once(SlotTimers, 1)
	s.Reset()
	s.UpdateNextEvent()
	s.Consume(-s.Budget())
	s.ProcessPending()
}

func TestClockConversion(t *testing.T) {
	s := New()
	fired := false
	s.Register(SlotThrottle, Clock27M, func(Slot) { fired = true })
	// 27MHz/100 ticks is 1/100s, which is rateCPU/100 CPU cycles
	s.Repeat(SlotThrottle, 27000000/100)
	s.UpdateNextEvent()

	want := int32(rateCPU / 100)
	if got := -s.Budget(); got != want {
		t.Errorf("throttle interval is %d cycles, want %d", got, want)
	}
	s.Consume(want)
	s.ProcessPending()
	if !fired {
		t.Error("throttle did not fire at its deadline")
	}
}

func TestSuspendResume(t *testing.T) {
	s := New()
	s.Register(SlotThrottle, Clock27M, func(Slot) {})
	s.Register(SlotTimers, Clock32K, func(Slot) {})
	s.Repeat(SlotThrottle, 27000000/100)
	s.Once(SlotTimers, 32)
	s.UpdateNextEvent()
	s.Consume(100)

	var buf bytes.Buffer
	if err := s.Suspend(&buf); err != nil {
		t.Fatal("suspend failed:", err)
	}

	o := New()
	if err := o.Resume(&buf); err != nil {
		t.Fatal("resume failed:", err)
	}
	if !s.Equal(o) {
		t.Error("resumed schedule differs from suspended schedule")
	}
	if o.Budget() != s.Budget() {
		t.Errorf("resumed budget %d, want %d", o.Budget(), s.Budget())
	}
}

func TestResumeRejectsTruncated(t *testing.T) {
	s := New()
	var buf bytes.Buffer
	if err := s.Suspend(&buf); err != nil {
		t.Fatal("suspend failed:", err)
	}
	short := buf.Bytes()[:buf.Len()-4]
	if err := New().Resume(bytes.NewReader(short)); err == nil {
		t.Error("resume accepted truncated state")
	}
}
