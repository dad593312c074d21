package session

import (
	"fmt"
	"slices"
	"sync"

	"miku/bus"
	"miku/model"
)

// transitions lists the moves allowed besides the universal ones: done and
// idle can be entered from any state, and re-entering the current state is
// a no-op.
var transitions = map[model.Status][]model.Status{
	model.StatusIdle:      {model.StatusThinking},
	model.StatusThinking:  {model.StatusSearching, model.StatusTyping},
	model.StatusSearching: {model.StatusTyping, model.StatusThinking},
	model.StatusTyping:    {model.StatusSearching, model.StatusThinking},
	model.StatusDone:      {model.StatusThinking},
}

// StatusChange is the payload of bus.KindStatusChanged.
type StatusChange struct {
	Slug string
	From model.Status
	To   model.Status
}

// Machine tracks the turn status of one conversation and mirrors every
// change onto the bus for the presentation layer.
type Machine struct {
	mu      sync.RWMutex
	slug    string
	current model.Status
	bus     *bus.Bus
}

func NewMachine(slug string, b *bus.Bus) *Machine {
	return &Machine{slug: slug, current: model.StatusIdle, bus: b}
}

func (m *Machine) Current() model.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Active reports whether a turn is in progress.
func (m *Machine) Active() bool {
	s := m.Current()
	return s != model.StatusIdle && s != model.StatusDone
}

// Transition moves to the given status or returns an error if the move is
// not allowed.
func (m *Machine) Transition(to model.Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}

	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if to != model.StatusDone && to != model.StatusIdle && !slices.Contains(transitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindStatusChanged, StatusChange{Slug: m.slug, From: from, To: to})
	return nil
}

// Reset forces the machine back to idle.
func (m *Machine) Reset() {
	_ = m.Transition(model.StatusIdle)
}
