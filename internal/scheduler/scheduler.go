// Package scheduler triggers refreshes on a timer and in response to
// webhook notifications.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/refresh"
	"go.uber.org/zap"
)

// Refresher runs collection refreshes.
type Refresher interface {
	RefreshAll(ctx context.Context) (*refresh.Result, error)
	RefreshCollection(ctx context.Context, name string) (*refresh.Result, error)
}

// Hydrator starts background thread hydration.
type Hydrator interface {
	Start() (*hydrate.Job, bool)
}

// Notification is the payload of a webhook.received event.
type Notification struct {
	ID    string
	Topic string
}

var topicPrefixes = []struct {
	prefix     string
	collection string
}{
	{"contact.", cache.Contacts},
	{"user.", cache.Contacts},
	{"visitor.", cache.Contacts},
	{"company.", cache.Companies},
	{"conversation.", cache.Conversations},
	{"conversation_part.", cache.Conversations},
	{"admin.", cache.Admins},
}

// CollectionForTopic maps a webhook topic to the collection it invalidates.
func CollectionForTopic(topic string) (string, bool) {
	for _, tp := range topicPrefixes {
		if strings.HasPrefix(topic, tp.prefix) {
			return tp.collection, true
		}
	}
	return "", false
}

// Options configures the scheduler.
type Options struct {
	// Interval between full refresh cycles. Zero disables the timer.
	Interval time.Duration
	// OnStart runs one cycle as soon as the scheduler starts.
	OnStart bool
}

// Scheduler runs refresh cycles: RefreshAll followed by a background
// hydration when conversations committed.
type Scheduler struct {
	refresher Refresher
	hydrator  Hydrator
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Per-collection webhook workers. A notification for a collection
	// whose worker is running sets dirty, and the worker runs once more.
	mu      sync.Mutex
	running map[string]bool
	dirty   map[string]bool
}

// New creates a scheduler.
func New(r Refresher, h Hydrator, b *bus.Bus, logger *zap.Logger, opts Options) *Scheduler {
	return &Scheduler{
		refresher: r,
		hydrator:  h,
		bus:       b,
		logger:    logging.OrNop(logger),
		opts:      opts,
		running:   make(map[string]bool),
		dirty:     make(map[string]bool),
	}
}

// Start begins the timer loop and the webhook listener.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	notes, unsub := s.bus.Subscribe(bus.KindWebhookReceived, 64)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-notes:
				if n, ok := evt.Payload.(Notification); ok {
					s.dispatch(ctx, n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.opts.OnStart {
		s.Cycle(ctx)
	}
	if s.opts.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Cycle refreshes every collection, then starts hydration if the
// conversations committed.
func (s *Scheduler) Cycle(ctx context.Context) {
	res, err := s.refresher.RefreshAll(ctx)
	if err != nil {
		s.logger.Warn("scheduled refresh", zap.Error(err))
		return
	}
	s.afterRefresh(res)
}

// dispatch hands n to its collection's worker without blocking the
// listener. Bursts for one collection collapse into one follow-up refresh.
func (s *Scheduler) dispatch(ctx context.Context, n Notification) {
	name, ok := CollectionForTopic(n.Topic)
	if !ok {
		s.logger.Debug("ignoring webhook topic", zap.String("topic", n.Topic))
		return
	}

	s.mu.Lock()
	if s.running[name] {
		s.dirty[name] = true
		s.mu.Unlock()
		s.logger.Debug("webhook refresh pending", zap.String("collection", name), zap.String("notification_id", n.ID))
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.HandleNotification(ctx, n)

			s.mu.Lock()
			if !s.dirty[name] || ctx.Err() != nil {
				delete(s.running, name)
				delete(s.dirty, name)
				s.mu.Unlock()
				return
			}
			s.dirty[name] = false
			s.mu.Unlock()
		}
	}()
}

// HandleNotification refreshes the collection a webhook topic points at
// and waits for the result.
func (s *Scheduler) HandleNotification(ctx context.Context, n Notification) {
	name, ok := CollectionForTopic(n.Topic)
	if !ok {
		s.logger.Debug("ignoring webhook topic", zap.String("topic", n.Topic))
		return
	}
	s.logger.Info("webhook refresh", zap.String("topic", n.Topic), zap.String("collection", name), zap.String("notification_id", n.ID))

	res, err := s.refresher.RefreshCollection(ctx, name)
	if err != nil {
		s.logger.Warn("webhook refresh", zap.String("collection", name), zap.Error(err))
		return
	}
	s.afterRefresh(res)
}

func (s *Scheduler) afterRefresh(res *refresh.Result) {
	for _, c := range res.Collections {
		if c.Collection != cache.Conversations || !c.Committed {
			continue
		}
		if job, started := s.hydrator.Start(); started {
			s.logger.Info("hydration started", zap.String("job_id", job.ID))
		}
	}
}
