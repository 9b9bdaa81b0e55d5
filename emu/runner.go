package emu

// Runner is the instruction-set executor, one routine per instruction-width
// mode. A routine consumes cycle budget through the scheduler and returns
// when the budget crosses zero or an event flag is raised; a fatal fault is
// returned as an error built by Machine.Errorf.
type Runner interface {
	RunARM(m *Machine) error
	RunThumb(m *Machine) error
}

// IdleRunner treats every instruction slot as a wait-for-event: it raises
// the waiting flag and burns the remaining budget. It stands in for a real
// decoder or translator, which plug in through the same interface, and it
// exercises the whole scheduler/throttle/injection path.
type IdleRunner struct{}

func (IdleRunner) RunARM(m *Machine) error   { return m.idle() }
func (IdleRunner) RunThumb(m *Machine) error { return m.idle() }

func (m *Machine) idle() error {
	m.Events.Set(EventWaiting)
	if b := m.Sched.Budget(); b < 0 {
		m.Sched.Consume(-b)
	}
	return nil
}
