// Package refresh pulls the structured collections from the support
// platform into the cache.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/metrics"
	"github.com/matheus3301/deskcache/internal/model"
	"github.com/matheus3301/deskcache/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownCollection is returned for a name RefreshCollection cannot refresh.
var ErrUnknownCollection = errors.New("unknown collection")

// Order is the order RefreshAll walks the collections in.
var Order = []string{cache.Admins, cache.Contacts, cache.Companies, cache.Conversations}

// Source is the subset of the remote client the orchestrator pages through.
type Source interface {
	ListAdmins(ctx context.Context) (remote.Page[model.Admin], error)
	ListContacts(ctx context.Context, cursor string) (remote.Page[model.Contact], error)
	ListCompanies(ctx context.Context, cursor string) (remote.Page[model.Company], error)
	ListConversations(ctx context.Context, cursor string) (remote.Page[model.Conversation], error)
}

// Options tunes the orchestrator.
type Options struct {
	// Timeout bounds one shared run. Zero means no limit.
	Timeout time.Duration
	// MaxPages stops a collection whose cursor never runs out. Zero means no limit.
	MaxPages int
}

// CollectionResult is the outcome of refreshing one collection.
type CollectionResult struct {
	Collection string        `json:"collection"`
	Committed  bool          `json:"committed"`
	Attached   bool          `json:"attached,omitempty"`
	Count      int           `json:"count"`
	Pages      int           `json:"pages"`
	Dropped    int           `json:"dropped"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// Result is the outcome of one refresh run.
type Result struct {
	RunID       string             `json:"run_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Collections []CollectionResult `json:"collections"`
	// Shared is true when the run served more than one caller.
	Shared bool `json:"shared"`
}

// OK reports whether every collection committed.
func (r *Result) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the collections that did not commit.
func (r *Result) Failed() []CollectionResult {
	var out []CollectionResult
	for _, c := range r.Collections {
		if !c.Committed {
			out = append(out, c)
		}
	}
	return out
}

// Orchestrator runs collection refreshes with a single-flight guarantee:
// concurrent callers of the same refresh share one run and its result.
type Orchestrator struct {
	src    Source
	store  *cache.Store
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	group singleflight.Group
	base  context.Context
	stop  context.CancelFunc
}

// New creates an orchestrator writing into store.
func New(src Source, store *cache.Store, b *bus.Bus, logger *zap.Logger, opts Options) *Orchestrator {
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		src:    src,
		store:  store,
		bus:    b,
		logger: logging.OrNop(logger),
		opts:   opts,
		base:   base,
		stop:   stop,
	}
}

// Stop cancels any running refresh.
func (o *Orchestrator) Stop() {
	o.stop()
}

// RefreshAll refreshes admins, contacts, companies and conversations in
// that order. A collection that fails is aborted and reported; the others
// continue. If a RefreshAll is already running the caller attaches to it.
// ctx only bounds how long the caller waits; the run itself continues.
func (o *Orchestrator) RefreshAll(ctx context.Context) (*Result, error) {
	return o.shared(ctx, "all", func(runCtx context.Context, res *Result) {
		for _, name := range Order {
			res.Collections = append(res.Collections, o.refreshOne(runCtx, name))
		}
	})
}

// RefreshCollection refreshes a single structured collection with the same
// guarantees as RefreshAll.
func (o *Orchestrator) RefreshCollection(ctx context.Context, name string) (*Result, error) {
	if !known(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return o.shared(ctx, name, func(runCtx context.Context, res *Result) {
		res.Collections = append(res.Collections, o.refreshOne(runCtx, name))
	})
}

func known(name string) bool {
	for _, n := range Order {
		if n == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) shared(ctx context.Context, key string, run func(context.Context, *Result)) (*Result, error) {
	ch := o.group.DoChan(key, func() (any, error) {
		runCtx := o.base
		if o.opts.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, o.opts.Timeout)
			defer cancel()
		}

		res := &Result{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
		log := o.logger.With(zap.String("run_id", res.RunID), zap.String("scope", key))
		log.Info("refresh started")

		run(runCtx, res)

		res.FinishedAt = time.Now().UTC()
		fields := []zap.Field{zap.Duration("took", res.FinishedAt.Sub(res.StartedAt))}
		for _, c := range res.Collections {
			fields = append(fields, zap.Int(c.Collection, c.Count))
		}
		if failed := res.Failed(); len(failed) > 0 {
			log.Warn("refresh finished with failures", append(fields, zap.Int("failed", len(failed)))...)
		} else {
			log.Info("refresh finished", fields...)
		}
		o.bus.Emit(bus.KindRefreshFinished, *res)
		return res, nil
	})

	select {
	case r := <-ch:
		res := *r.Val.(*Result)
		res.Shared = r.Shared
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) refreshOne(ctx context.Context, name string) CollectionResult {
	switch name {
	case cache.Admins:
		return collect(ctx, o, o.store.Admins, func(ctx context.Context, _ string) (remote.Page[model.Admin], error) {
			return o.src.ListAdmins(ctx)
		})
	case cache.Contacts:
		return collect(ctx, o, o.store.Contacts, o.src.ListContacts)
	case cache.Companies:
		return collect(ctx, o, o.store.Companies, o.src.ListCompanies)
	case cache.Conversations:
		return collect(ctx, o, o.store.Conversations, o.src.ListConversations)
	}
	return CollectionResult{Collection: name, Error: ErrUnknownCollection.Error()}
}

// collect pages fetch to exhaustion into a staging slice, then commits it.
// Any failure aborts the collection and leaves its snapshot untouched.
func collect[T model.Keyed](
	ctx context.Context,
	o *Orchestrator,
	coll *cache.Collection[T],
	fetch func(context.Context, string) (remote.Page[T], error),
) CollectionResult {
	start := time.Now()
	res := CollectionResult{Collection: coll.Name()}
	log := o.logger.With(zap.String("collection", coll.Name()))

	h, started := coll.BeginRefresh()
	if !started {
		// Another caller (a webhook or RefreshCollection) owns this one.
		res.Attached = true
		err := h.Wait(ctx)
		res.Duration = time.Since(start)
		if err != nil {
			return failed(res, err)
		}
		snap, _ := coll.Get()
		res.Committed = true
		res.Count = snap.Len()
		return res
	}
	log = log.With(zap.String("handle", h.ID))

	abort := func(err error) CollectionResult {
		if aerr := coll.Abort(h, err); aerr != nil {
			log.Error("abort refresh", zap.Error(aerr))
		}
		res.Duration = time.Since(start)
		log.Warn("collection refresh failed",
			zap.Int("pages", res.Pages),
			zap.Stringer("kind", remote.KindOf(err)),
			zap.Error(err),
		)
		return failed(res, fmt.Errorf("%s: %w", coll.Name(), err))
	}

	var (
		staged []T
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return abort(fmt.Errorf("page %d: %w", res.Pages+1, err))
		}
		res.Pages++
		res.Dropped += page.Dropped
		staged = append(staged, page.Items...)
		h.AddDone(len(page.Items))

		if page.Next == "" {
			break
		}
		// A scroll id ends on an empty page, bounded by MaxPages.
		if !page.Scroll && page.Next == cursor {
			return abort(fmt.Errorf("cursor %q repeated after page %d", cursor, res.Pages))
		}
		if o.opts.MaxPages > 0 && res.Pages >= o.opts.MaxPages {
			return abort(fmt.Errorf("cursor still open after %d pages", res.Pages))
		}
		cursor = page.Next
	}

	if res.Dropped > 0 {
		metrics.DroppedRecordsTotal.WithLabelValues(coll.Name()).Add(float64(res.Dropped))
	}
	if err := coll.Commit(h, staged); err != nil {
		res.Duration = time.Since(start)
		return failed(res, err)
	}
	snap, _ := coll.Get()
	res.Committed = true
	res.Count = snap.Len()
	res.Duration = time.Since(start)
	log.Debug("collection committed", zap.Int("count", res.Count), zap.Int("pages", res.Pages), zap.Int("dropped", res.Dropped))
	return res
}

func failed(res CollectionResult, err error) CollectionResult {
	res.Committed = false
	res.Error = err.Error()
	if k := remote.KindOf(err); k != 0 {
		res.ErrorKind = k.String()
	}
	return res
}
