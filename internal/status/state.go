package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/deskcache/internal/bus"
)

// State is the refresh state of one cached collection.
type State string

const (
	Idle       State = "IDLE"
	Refreshing State = "REFRESHING"
	Committed  State = "COMMITTED"
	Failed     State = "FAILED"
)

// validTransitions defines allowed state transitions. COMMITTED and FAILED
// are terminal for a single refresh and fold straight back into IDLE.
var validTransitions = map[State][]State{
	Idle:       {Refreshing},
	Refreshing: {Committed, Failed},
	Committed:  {Idle},
	Failed:     {Idle},
}

// Machine tracks and enforces the refresh state of one collection.
type Machine struct {
	mu         sync.RWMutex
	collection string
	current    State
	bus        *bus.Bus
}

// NewMachine creates a new state machine for collection starting in Idle state.
func NewMachine(collection string, b *bus.Bus) *Machine {
	return &Machine{
		collection: collection,
		current:    Idle,
		bus:        b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("%s: invalid transition from %s to %s", m.collection, m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStateChanged, StatusChange{
		Collection: m.collection,
		From:       from,
		To:         to,
	})
	return nil
}

// Settle moves a finished refresh through its terminal state back to Idle.
func (m *Machine) Settle(terminal State) error {
	if err := m.Transition(terminal); err != nil {
		return err
	}
	return m.Transition(Idle)
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	Collection string
	From       State
	To         State
}
