package journal

import (
	"context"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/refresh"
	"go.uber.org/zap"
)

// Recorder writes finished refresh and hydration runs to the journal.
// It subscribes to "refresh." and "hydration." events on the bus.
type Recorder struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a recorder.
func NewRecorder(db *DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    b,
		logger: logging.OrNop(logger),
	}
}

// Start subscribes to run events on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	refreshes, unsubRefresh := r.bus.Subscribe("refresh.", 64)
	hydrations, unsubHydration := r.bus.Subscribe("hydration.", 64)

	go func() {
		defer close(r.done)
		defer unsubRefresh()
		defer unsubHydration()
		for {
			select {
			case evt := <-refreshes:
				r.handleEvent(evt)
			case evt := <-hydrations:
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder and waits for the current write.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Recorder) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRefreshFinished:
		res, ok := evt.Payload.(refresh.Result)
		if !ok {
			return
		}
		if err := r.db.RecordRefresh(res); err != nil {
			r.logger.Error("failed to record refresh run", zap.Error(err), zap.String("run_id", res.RunID))
		}
	case bus.KindHydrationDone:
		res, ok := evt.Payload.(hydrate.Result)
		if !ok {
			return
		}
		if err := r.db.RecordHydration(res); err != nil {
			r.logger.Error("failed to record hydration run", zap.Error(err), zap.String("run_id", res.RunID))
		}
	}
}
