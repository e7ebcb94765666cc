// Package hydrate fetches full conversation threads for the cached
// conversation summaries.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/metrics"
	"github.com/matheus3301/deskcache/internal/model"
	"github.com/matheus3301/deskcache/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInProgress is returned by Run while another hydration owns the
// thread collection.
var ErrInProgress = errors.New("thread hydration already in progress")

// Fetcher loads one conversation thread.
type Fetcher interface {
	GetConversation(ctx context.Context, id string) (model.Thread, error)
}

// Options tunes a hydrator.
type Options struct {
	Concurrency     int
	Staleness       time.Duration
	CheckpointEvery int
	MaxPerRun       int
}

// ItemError is the failure of one conversation.
type ItemError struct {
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind,omitempty"`
	Message        string `json:"error"`
	Err            error  `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("conversation %s: %s", e.ConversationID, e.Message)
}

func (e ItemError) Unwrap() error { return e.Err }

// PartialError reports a batch where some conversations failed.
type PartialError struct {
	Hydrated int
	Failed   []ItemError
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("hydrated %d threads, %d failed", e.Hydrated, len(e.Failed))
}

// Result is the outcome of one hydration run.
type Result struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Candidates int         `json:"candidates"`
	Hydrated   int         `json:"hydrated"`
	Failed     []ItemError `json:"failed"`
	Skipped    int         `json:"skipped"`
	Cancelled  bool        `json:"cancelled"`
	// NoSummaries is set when conversations were never refreshed.
	NoSummaries bool `json:"no_summaries,omitempty"`
}

// Err returns a *PartialError when any conversation failed.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialError{Hydrated: r.Hydrated, Failed: r.Failed}
}

// Hydrator keeps the thread collection in step with the conversation
// summaries.
type Hydrator struct {
	fetch  Fetcher
	store  *cache.Store
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	base context.Context
	stop context.CancelFunc

	mu  sync.Mutex
	job *Job
}

// New creates a hydrator.
func New(fetch Fetcher, store *cache.Store, b *bus.Bus, logger *zap.Logger, opts Options) *Hydrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Hydrator{
		fetch:  fetch,
		store:  store,
		bus:    b,
		logger: logging.OrNop(logger),
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		base:   base,
		stop:   stop,
	}
}

// Stop cancels the background job, if any, and prevents new ones from
// making progress.
func (h *Hydrator) Stop() {
	h.stop()
}

// Run hydrates synchronously. Cancelling ctx stops new fetches; threads
// fetched before that are still committed.
func (h *Hydrator) Run(ctx context.Context) (*Result, error) {
	return h.run(ctx, uuid.NewString())
}

func (h *Hydrator) run(ctx context.Context, runID string) (*Result, error) {
	res := &Result{RunID: runID, StartedAt: h.now(), Failed: []ItemError{}}
	log := h.logger.With(zap.String("run_id", runID))

	convs, ok := h.store.Conversations.Get()
	if !ok {
		res.NoSummaries = true
		res.FinishedAt = h.now()
		log.Info("no conversation summaries, nothing to hydrate")
		h.bus.Emit(bus.KindHydrationDone, *res)
		return res, nil
	}

	handle, started := h.store.Threads.BeginRefresh()
	if !started {
		return nil, ErrInProgress
	}
	prev, _ := h.store.Threads.Get()

	work := h.selectWork(convs, prev)
	res.Candidates = len(work)
	handle.SetTotal(len(work))
	log.Info("hydration started", zap.Int("conversations", convs.Len()), zap.Int("candidates", len(work)))
	h.bus.Emit(bus.KindHydrationStarted, *res)

	var (
		mu              sync.Mutex
		fresh           = make(map[string]model.Thread, len(work))
		sinceCheckpoint int
	)

	g := errgroup.Group{}
	g.SetLimit(h.opts.Concurrency)
	for _, conv := range work {
		conv := conv
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			metrics.HydrationInFlight.Inc()
			thread, err := h.fetch.GetConversation(ctx, conv.ID)
			metrics.HydrationInFlight.Dec()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					// Interrupted by cancellation; counted as skipped.
					return nil
				}
				ie := ItemError{ConversationID: conv.ID, Message: err.Error(), Err: err}
				if k := remote.KindOf(err); k != 0 {
					ie.Kind = k.String()
				}
				res.Failed = append(res.Failed, ie)
				handle.AddFailed(1)
				metrics.HydrationItemsTotal.WithLabelValues("failed").Inc()
				log.Warn("hydrate conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
				return nil
			}

			fresh[conv.ID] = thread
			res.Hydrated++
			handle.AddDone(1)
			metrics.HydrationItemsTotal.WithLabelValues("hydrated").Inc()

			sinceCheckpoint++
			if h.opts.CheckpointEvery > 0 && sinceCheckpoint >= h.opts.CheckpointEvery {
				sinceCheckpoint = 0
				if err := h.store.Threads.Checkpoint(handle, merge(convs, prev, fresh)); err != nil {
					log.Error("checkpoint threads", zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Skipped = res.Candidates - res.Hydrated - len(res.Failed)
	res.Cancelled = ctx.Err() != nil
	if res.Skipped > 0 {
		metrics.HydrationItemsTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	}

	if err := h.store.Threads.Commit(handle, merge(convs, prev, fresh)); err != nil {
		return nil, fmt.Errorf("commit threads: %w", err)
	}
	res.FinishedAt = h.now()

	log.Info("hydration finished",
		zap.Int("hydrated", res.Hydrated),
		zap.Int("failed", len(res.Failed)),
		zap.Int("skipped", res.Skipped),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	)
	h.bus.Emit(bus.KindHydrationDone, *res)
	return res, nil
}

// selectWork picks the conversations whose thread is missing, older than
// the staleness window, or older than the conversation's last update.
func (h *Hydrator) selectWork(convs *cache.Snapshot[model.Conversation], prev *cache.Snapshot[model.Thread]) []model.Conversation {
	now := h.now()
	var work []model.Conversation
	convs.Each(func(c model.Conversation) bool {
		t, ok := prev.Lookup(c.ID)
		switch {
		case !ok:
		case h.opts.Staleness > 0 && now.Sub(t.HydratedAt) > h.opts.Staleness:
		case c.UpdatedAt.After(t.HydratedAt):
		default:
			return true
		}
		work = append(work, c)
		return h.opts.MaxPerRun <= 0 || len(work) < h.opts.MaxPerRun
	})
	return work
}

// merge builds the thread list in conversation order. Fresh threads
// replace previous ones wholesale; threads of conversations that are no
// longer listed are dropped.
func merge(convs *cache.Snapshot[model.Conversation], prev *cache.Snapshot[model.Thread], fresh map[string]model.Thread) []model.Thread {
	out := make([]model.Thread, 0, convs.Len())
	convs.Each(func(c model.Conversation) bool {
		if t, ok := fresh[c.ID]; ok {
			out = append(out, t)
		} else if t, ok := prev.Lookup(c.ID); ok {
			out = append(out, t)
		}
		return true
	})
	return out
}
