package sim

import "container/heap"

// EventQueue is a priority queue for simulation events, ordered by
// (timestamp, insertion sequence number). The sequence number is assigned
// at Push so that ties at the same virtual time break in a reproducible
// order independent of payload contents or memory layout.
type EventQueue struct {
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	eq := &EventQueue{
		events: make(eventHeap, 0),
	}
	heap.Init(&eq.events)
	return eq
}

// Push adds an event to the queue
func (eq *EventQueue) Push(event Event) {
	heap.Push(&eq.events, scheduledEvent{event: event, seq: eq.nextSeq})
	eq.nextSeq++
}

// Pop removes and returns the next event
func (eq *EventQueue) Pop() Event {
	if eq.IsEmpty() {
		return nil
	}
	return heap.Pop(&eq.events).(scheduledEvent).event
}

// Peek returns the next event without removing it
func (eq *EventQueue) Peek() Event {
	if eq.IsEmpty() {
		return nil
	}
	return eq.events[0].event
}

// IsEmpty returns true if the queue is empty
func (eq *EventQueue) IsEmpty() bool {
	return eq.events.Len() == 0
}

// Len returns the number of events in the queue
func (eq *EventQueue) Len() int {
	return eq.events.Len()
}

// Clear removes all events from the queue. The sequence counter is not
// reset: ordering stays comparable across a clear within one iteration.
func (eq *EventQueue) Clear() {
	eq.events = make(eventHeap, 0)
	heap.Init(&eq.events)
}

// scheduledEvent pairs an event with its insertion sequence number.
type scheduledEvent struct {
	event Event
	seq   uint64
}

// eventHeap implements heap.Interface for scheduledEvent
type eventHeap []scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].event.Timestamp(), h[j].event.Timestamp()
	if ti != tj {
		return ti < tj
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(scheduledEvent))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
