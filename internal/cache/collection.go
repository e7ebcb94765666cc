package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/metrics"
	"github.com/matheus3301/deskcache/internal/model"
	"github.com/matheus3301/deskcache/internal/status"
)

var (
	// ErrStaleHandle is returned when a handle no longer owns the refresh.
	ErrStaleHandle = errors.New("refresh handle is not the in-flight refresh")
	// ErrRefreshInProgress is returned by Reset while any collection refreshes.
	ErrRefreshInProgress = errors.New("refresh in progress")
)

// CollectionStatus is the derived, read-only view of one collection.
type CollectionStatus struct {
	Name              string       `json:"name"`
	State             status.State `json:"state"`
	Count             int          `json:"count"`
	Refreshed         bool         `json:"refreshed"`
	LastRefreshedAt   *time.Time   `json:"last_refreshed_at"`
	RefreshInProgress bool         `json:"refresh_in_progress"`
	RunID             string       `json:"run_id,omitempty"`
	Progress          *Progress    `json:"progress,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
	LastFailedAt      *time.Time   `json:"last_failed_at,omitempty"`
}

// CommitEvent is published on every commit.
type CommitEvent struct {
	Collection string
	RunID      string
	Count      int
}

// AbortEvent is published on every abort.
type AbortEvent struct {
	Collection string
	RunID      string
	Err        error
}

// Collection holds the published snapshot of one collection and its
// refresh bookkeeping. Get is lock-free; every mutation goes through
// the in-flight Handle.
type Collection[T model.Keyed] struct {
	name    string
	snap    atomic.Pointer[Snapshot[T]]
	machine *status.Machine
	bus     *bus.Bus
	now     func() time.Time

	mu              sync.Mutex
	inflight        *Handle
	lastRefreshedAt time.Time
	lastError       string
	lastFailedAt    time.Time
}

// NewCollection creates an empty, never refreshed collection.
func NewCollection[T model.Keyed](name string, b *bus.Bus) *Collection[T] {
	return &Collection[T]{
		name:    name,
		machine: status.NewMachine(name, b),
		bus:     b,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Get returns the last committed snapshot. ok is false if the collection
// was never refreshed (or was reset).
func (c *Collection[T]) Get() (*Snapshot[T], bool) {
	s := c.snap.Load()
	return s, s != nil
}

// BeginRefresh starts a refresh and returns its handle with started=true.
// If a refresh is already running it returns that handle and started=false.
func (c *Collection[T]) BeginRefresh() (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		return c.inflight, false
	}
	if err := c.machine.Transition(status.Refreshing); err != nil {
		// The machine only leaves Idle through here, so this is a bug.
		panic(err)
	}
	c.inflight = newHandle(c.name, c.now())
	return c.inflight, true
}

// Commit publishes items as the new snapshot and ends the refresh.
func (c *Collection[T]) Commit(h *Handle, items []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == nil || c.inflight != h {
		return fmt.Errorf("%s commit: %w", c.name, ErrStaleHandle)
	}

	snap := c.publish(items)
	c.inflight = nil
	c.lastError = ""
	_ = c.machine.Settle(status.Committed)

	metrics.RefreshTotal.WithLabelValues(c.name, "committed").Inc()
	metrics.RefreshDuration.WithLabelValues(c.name).Observe(time.Since(h.StartedAt).Seconds())
	c.bus.Emit(bus.KindCommitted, CommitEvent{Collection: c.name, RunID: h.ID, Count: snap.Len()})
	h.finish(nil)
	return nil
}

// Checkpoint publishes items as an intermediate snapshot without ending
// the refresh.
func (c *Collection[T]) Checkpoint(h *Handle, items []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == nil || c.inflight != h {
		return fmt.Errorf("%s checkpoint: %w", c.name, ErrStaleHandle)
	}
	c.publish(items)
	return nil
}

// publish swaps in a new snapshot. Callers hold c.mu.
func (c *Collection[T]) publish(items []T) *Snapshot[T] {
	at := c.now()
	if at.Before(c.lastRefreshedAt) {
		at = c.lastRefreshedAt
	}
	snap := newSnapshot(items, at)
	c.snap.Store(snap)
	c.lastRefreshedAt = at
	metrics.CollectionSize.WithLabelValues(c.name).Set(float64(snap.Len()))
	return snap
}

// Abort ends the refresh without touching the published snapshot and
// records err for status reporting.
func (c *Collection[T]) Abort(h *Handle, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == nil || c.inflight != h {
		return fmt.Errorf("%s abort: %w", c.name, ErrStaleHandle)
	}
	if err == nil {
		err = errors.New("aborted")
	}

	c.inflight = nil
	c.lastError = err.Error()
	c.lastFailedAt = c.now()
	_ = c.machine.Settle(status.Failed)

	metrics.RefreshTotal.WithLabelValues(c.name, "failed").Inc()
	c.bus.Emit(bus.KindAborted, AbortEvent{Collection: c.name, RunID: h.ID, Err: err})
	h.finish(err)
	return nil
}

// Status derives the collection's current status.
func (c *Collection[T]) Status() CollectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap.Load()
	st := CollectionStatus{
		Name:              c.name,
		State:             c.machine.Current(),
		Count:             snap.Len(),
		Refreshed:         snap != nil,
		RefreshInProgress: c.inflight != nil,
		LastError:         c.lastError,
	}
	if !c.lastRefreshedAt.IsZero() {
		t := c.lastRefreshedAt
		st.LastRefreshedAt = &t
	}
	if !c.lastFailedAt.IsZero() {
		t := c.lastFailedAt
		st.LastFailedAt = &t
	}
	if c.inflight != nil {
		st.RunID = c.inflight.ID
		p := c.inflight.Progress()
		st.Progress = &p
	}
	return st
}

func (c *Collection[T]) lock()   { c.mu.Lock() }
func (c *Collection[T]) unlock() { c.mu.Unlock() }

// busy reports whether a refresh is running. Callers hold c.mu.
func (c *Collection[T]) busy() bool { return c.inflight != nil }

// clear drops the snapshot. lastRefreshedAt is kept so it never goes
// backwards. Callers hold c.mu.
func (c *Collection[T]) clear() {
	c.snap.Store(nil)
	c.lastError = ""
	c.lastFailedAt = time.Time{}
	metrics.CollectionSize.WithLabelValues(c.name).Set(0)
}
