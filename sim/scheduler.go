package sim

import "fmt"

// Simulation is the event scheduler driving one iteration. It is a PURE
// discrete event loop with no concurrency primitives: all state is
// advanced single-threaded through Step(), and "blocking" in the
// simulated world is expressed only by scheduling a future event.
type Simulation struct {
	queue           *EventQueue
	now             VirtualTime
	eventsProcessed uint64

	maxEvents uint64
	maxTime   VirtualTime

	// LogEvent is an optional logging callback (for CLI/debugging).
	// Logging must never feed back into simulated state.
	LogEvent func(msg string)
}

// NewSimulation creates a scheduler with the given iteration budgets.
// A budget of zero means unlimited.
func NewSimulation(maxEvents uint64, maxTime VirtualTime) *Simulation {
	return &Simulation{
		queue:     NewEventQueue(),
		maxEvents: maxEvents,
		maxTime:   maxTime,
	}
}

// Now returns the current virtual time.
func (s *Simulation) Now() VirtualTime {
	return s.now
}

// EventsProcessed returns the number of events dispatched so far.
func (s *Simulation) EventsProcessed() uint64 {
	return s.eventsProcessed
}

// QueueLen returns the number of pending events.
func (s *Simulation) QueueLen() int {
	return s.queue.Len()
}

// Schedule inserts an event into the pending queue. Events scheduled in
// the past are treated as immediate: virtual time never moves backwards.
func (s *Simulation) Schedule(event Event) {
	s.queue.Push(event)
}

// Step pops the earliest event by (VirtualTime, sequence number),
// advances the clock to it, and returns it for dispatch. Returns nil
// when the queue is drained or an iteration budget is exhausted.
func (s *Simulation) Step() Event {
	if s.queue.IsEmpty() {
		return nil
	}
	if s.maxEvents > 0 && s.eventsProcessed >= s.maxEvents {
		return nil
	}
	next := s.queue.Peek()
	if s.maxTime > 0 && next.Timestamp() > s.maxTime {
		return nil
	}

	event := s.queue.Pop()
	// Virtual time is monotonic: an event scheduled "in the past" is
	// processed at the current time rather than rewinding the clock.
	if event.Timestamp() > s.now {
		s.now = event.Timestamp()
	}
	s.eventsProcessed++
	return event
}

// RunUntil repeatedly steps, dispatching each event through handle, until
// the termination predicate holds or the scheduler runs out of events or
// budget. handle may schedule further events.
func (s *Simulation) RunUntil(done func() bool, handle func(Event) error) error {
	for !done() {
		event := s.Step()
		if event == nil {
			return nil
		}
		if err := handle(event); err != nil {
			return err
		}
	}
	return nil
}

// Drain removes all pending events, used when an iteration is torn down
// early so nothing leaks into a subsequent inspection of the queue.
func (s *Simulation) Drain() {
	s.queue.Clear()
}

func (s *Simulation) logf(format string, args ...interface{}) {
	if s.LogEvent != nil {
		s.LogEvent(fmt.Sprintf(format, args...))
	}
}
