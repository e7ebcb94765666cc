// Package api serves the HTTP surface of the daemon: cache reads, refresh
// triggers, contact search, the raw proxy and the webhook receiver.
package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/journal"
	"github.com/matheus3301/deskcache/internal/logging"
	"github.com/matheus3301/deskcache/internal/metrics"
	"github.com/matheus3301/deskcache/internal/proxy"
	"github.com/matheus3301/deskcache/internal/refresh"
	"github.com/matheus3301/deskcache/internal/search"
	"go.uber.org/zap"
)

// Refresher runs collection refreshes.
type Refresher interface {
	RefreshAll(ctx context.Context) (*refresh.Result, error)
	RefreshCollection(ctx context.Context, name string) (*refresh.Result, error)
}

// Hydration controls the background thread hydration job.
type Hydration interface {
	Start() (*hydrate.Job, bool)
	Cancel() bool
	Current() *hydrate.Job
}

// ContactSearcher answers contact queries.
type ContactSearcher interface {
	SearchContacts(ctx context.Context, q search.Query) (*search.Result, error)
}

// Proxy forwards raw reads to the support platform.
type Proxy interface {
	Get(ctx context.Context, path string, params url.Values) (*proxy.Response, error)
}

// History lists journal rows.
type History interface {
	ListRuns(collection string, limit int) ([]journal.Run, error)
	HydrationFailures(runID string) ([]journal.Failure, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Store         *cache.Store
	Refresher     Refresher
	Hydration     Hydration
	Search        ContactSearcher
	Proxy         Proxy
	History       History
	Bus           *bus.Bus
	WebhookSecret string
	Logger        *zap.Logger
}

// Handler implements the HTTP routes.
type Handler struct {
	store     *cache.Store
	refresher Refresher
	hydration Hydration
	search    ContactSearcher
	proxy     Proxy
	history   History
	bus       *bus.Bus
	secret    string
	logger    *zap.Logger

	// background carries refreshes started with wait=false.
	background context.Context
}

// NewHandler creates a handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:      d.Store,
		refresher:  d.Refresher,
		hydration:  d.Hydration,
		search:     d.Search,
		proxy:      d.Proxy,
		history:    d.History,
		bus:        d.Bus,
		secret:     d.WebhookSecret,
		logger:     logging.OrNop(d.Logger),
		background: context.Background(),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(h.logger), Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v := r.Group("/api")
	{
		v.GET("/status", h.getStatus)

		v.POST("/refresh", h.refreshAll)
		v.POST("/refresh/threads", h.startHydration)
		v.GET("/refresh/threads", h.getHydration)
		v.DELETE("/refresh/threads", h.cancelHydration)
		v.GET("/refresh/history", h.getHistory)
		v.GET("/refresh/history/:run_id/failures", h.getFailures)
		v.POST("/refresh/:collection", h.refreshCollection)

		v.GET("/contacts/search", h.searchContacts)
		v.GET("/proxy", h.proxyGet)

		v.GET("/admins", listCollection(h.store.Admins))
		v.GET("/contacts", listCollection(h.store.Contacts))
		v.GET("/companies", listCollection(h.store.Companies))
		v.GET("/conversations", listCollection(h.store.Conversations))
		v.GET("/conversations/:id", h.getConversation)

		v.POST("/cache/reset", h.resetCache)
	}

	r.POST("/webhooks/intercom", WebhookSignature(h.secret), h.receiveWebhook)
	return r
}
