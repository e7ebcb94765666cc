package bus

import "time"

// Event kinds published by the cache engine.
const (
	KindStateChanged     = "cache.state_changed"
	KindCommitted        = "cache.committed"
	KindAborted          = "cache.aborted"
	KindReset            = "cache.reset"
	KindRefreshFinished  = "refresh.finished"
	KindHydrationStarted = "hydration.started"
	KindHydrationDone    = "hydration.finished"
	KindWebhookReceived  = "webhook.received"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
