package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Progress counts work units of a long refresh.
type Progress struct {
	Total  int64 `json:"total"`
	Done   int64 `json:"done"`
	Failed int64 `json:"failed"`
}

// Handle identifies one in-flight refresh of a collection. Callers that
// find a refresh already running receive the same Handle and can Wait on it.
type Handle struct {
	ID         string
	Collection string
	StartedAt  time.Time

	done     chan struct{}
	doneOnce sync.Once
	err      error

	total  atomic.Int64
	ok     atomic.Int64
	failed atomic.Int64
}

func newHandle(collection string, now time.Time) *Handle {
	return &Handle{
		ID:         uuid.NewString(),
		Collection: collection,
		StartedAt:  now,
		done:       make(chan struct{}),
	}
}

func (h *Handle) finish(err error) {
	h.doneOnce.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the refresh was committed or aborted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the refresh ends or ctx is done. It returns the abort
// error, nil after a commit, or ctx.Err().
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTotal records how many work units the refresh will process.
func (h *Handle) SetTotal(n int) { h.total.Store(int64(n)) }

// AddDone counts finished work units.
func (h *Handle) AddDone(n int) { h.ok.Add(int64(n)) }

// AddFailed counts failed work units.
func (h *Handle) AddFailed(n int) { h.failed.Add(int64(n)) }

// Progress returns the current counters.
func (h *Handle) Progress() Progress {
	return Progress{
		Total:  h.total.Load(),
		Done:   h.ok.Load(),
		Failed: h.failed.Load(),
	}
}
