package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/model"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status          string                   `json:"status"`
	Counts          map[string]int           `json:"counts"`
	LastRefreshedAt map[string]*time.Time    `json:"lastRefreshedAt"`
	Collections     []cache.CollectionStatus `json:"collections"`
	Hydration       *hydrate.JobStatus       `json:"hydration,omitempty"`
}

var statusKeys = map[string]string{
	cache.Admins:        "admins",
	cache.Contacts:      "contacts",
	cache.Companies:     "companies",
	cache.Conversations: "conversations",
	cache.Threads:       "conversationThreads",
}

func (h *Handler) getStatus(c *gin.Context) {
	resp := StatusResponse{
		Status:          "ok",
		Counts:          make(map[string]int, len(statusKeys)),
		LastRefreshedAt: make(map[string]*time.Time, len(statusKeys)),
		Collections:     h.store.Status(),
	}
	for _, st := range resp.Collections {
		key := statusKeys[st.Name]
		resp.Counts[key] = st.Count
		resp.LastRefreshedAt[key] = st.LastRefreshedAt
		switch {
		case st.RefreshInProgress:
			resp.Status = "refreshing"
		case st.LastError != "" && resp.Status == "ok":
			resp.Status = "degraded"
		}
	}
	if h.hydration != nil {
		if job := h.hydration.Current(); job != nil {
			js := job.Status()
			resp.Hydration = &js
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListResponse is the body of a collection listing.
type ListResponse[T any] struct {
	Collection      string     `json:"collection"`
	Refreshed       bool       `json:"refreshed"`
	Total           int        `json:"total"`
	Count           int        `json:"count"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt"`
	Items           []T        `json:"items"`
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

func listCollection[T model.Keyed](coll *cache.Collection[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, err := intQuery(c, "offset", 0)
		if err != nil {
			handleError(c, err)
			return
		}
		limit, err := intQuery(c, "limit", 0)
		if err != nil {
			handleError(c, err)
			return
		}

		snap, ok := coll.Get()
		items := snap.Items()
		if items == nil {
			items = []T{}
		}
		total := len(items)
		if offset > total {
			offset = total
		}
		items = items[offset:]
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}

		c.JSON(http.StatusOK, ListResponse[T]{
			Collection:      coll.Name(),
			Refreshed:       ok,
			Total:           total,
			Count:           len(items),
			LastRefreshedAt: coll.Status().LastRefreshedAt,
			Items:           items,
		})
	}
}

// ConversationResponse is a conversation summary with its thread, if hydrated.
type ConversationResponse struct {
	Conversation model.Conversation `json:"conversation"`
	Thread       *model.Thread      `json:"thread"`
}

func (h *Handler) getConversation(c *gin.Context) {
	id := c.Param("id")
	convs, _ := h.store.Conversations.Get()
	conv, ok := convs.Lookup(id)
	if !ok {
		abort(c, http.StatusNotFound, "not_found", "conversation "+id+" is not cached")
		return
	}

	resp := ConversationResponse{Conversation: conv}
	threads, _ := h.store.Threads.Get()
	if t, ok := threads.Lookup(id); ok {
		resp.Thread = &t
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) resetCache(c *gin.Context) {
	if err := h.store.Reset(); err != nil {
		handleError(c, err)
		return
	}
	h.logger.Info("cache reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
