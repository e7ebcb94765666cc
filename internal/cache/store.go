// Package cache holds the in-memory snapshots of every cached collection.
//
// Each collection publishes an immutable Snapshot through an atomic
// pointer. Readers never block and never observe a partially built
// snapshot. Writers go through Collection.BeginRefresh and finish with
// Commit or Abort; only one refresh per collection runs at a time.
package cache

import (
	"fmt"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/model"
)

// Collection names.
const (
	Admins        = "admins"
	Contacts      = "contacts"
	Companies     = "companies"
	Conversations = "conversations"
	Threads       = "conversation_threads"
)

type member interface {
	Name() string
	Status() CollectionStatus
	lock()
	unlock()
	busy() bool
	clear()
}

// Store groups the collections of one workspace.
type Store struct {
	Admins        *Collection[model.Admin]
	Contacts      *Collection[model.Contact]
	Companies     *Collection[model.Company]
	Conversations *Collection[model.Conversation]
	Threads       *Collection[model.Thread]

	bus     *bus.Bus
	members []member
}

// New creates a store with every collection empty.
func New(b *bus.Bus) *Store {
	s := &Store{
		Admins:        NewCollection[model.Admin](Admins, b),
		Contacts:      NewCollection[model.Contact](Contacts, b),
		Companies:     NewCollection[model.Company](Companies, b),
		Conversations: NewCollection[model.Conversation](Conversations, b),
		Threads:       NewCollection[model.Thread](Threads, b),
		bus:           b,
	}
	s.members = []member{s.Admins, s.Contacts, s.Companies, s.Conversations, s.Threads}
	return s
}

// Status returns the status of every collection in a fixed order.
func (s *Store) Status() []CollectionStatus {
	out := make([]CollectionStatus, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.Status())
	}
	return out
}

// CollectionStatus returns the status of the named collection.
func (s *Store) CollectionStatus(name string) (CollectionStatus, bool) {
	for _, m := range s.members {
		if m.Name() == name {
			return m.Status(), true
		}
	}
	return CollectionStatus{}, false
}

// Reset drops every snapshot at once. It is refused while any collection
// is refreshing.
func (s *Store) Reset() error {
	for _, m := range s.members {
		m.lock()
	}
	defer func() {
		for _, m := range s.members {
			m.unlock()
		}
	}()

	for _, m := range s.members {
		if m.busy() {
			return fmt.Errorf("reset %s: %w", m.Name(), ErrRefreshInProgress)
		}
	}
	for _, m := range s.members {
		m.clear()
	}
	s.bus.Emit(bus.KindReset, nil)
	return nil
}
