package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/journal"
	"github.com/matheus3301/deskcache/internal/refresh"
	"go.uber.org/zap"
)

// RefreshResponse is the body of a finished refresh.
type RefreshResponse struct {
	OK     bool            `json:"ok"`
	Result *refresh.Result `json:"result"`
}

func boolQuery(c *gin.Context, name string, def bool) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, name)
	}
	return v, nil
}

func (h *Handler) refreshAll(c *gin.Context) {
	h.runRefresh(c, "all", h.refresher.RefreshAll)
}

func (h *Handler) refreshCollection(c *gin.Context) {
	name := c.Param("collection")
	if name == cache.Threads {
		h.startHydration(c)
		return
	}
	h.runRefresh(c, name, func(ctx context.Context) (*refresh.Result, error) {
		return h.refresher.RefreshCollection(ctx, name)
	})
}

func (h *Handler) runRefresh(c *gin.Context, scope string, run func(context.Context) (*refresh.Result, error)) {
	wait, err := boolQuery(c, "wait", true)
	if err != nil {
		handleError(c, err)
		return
	}

	if !wait {
		go func() {
			if _, err := run(h.background); err != nil {
				h.logger.Warn("background refresh", zap.String("scope", scope), zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "scope": scope})
		return
	}

	res, err := run(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, RefreshResponse{OK: res.OK(), Result: res})
}

// HydrationResponse describes the hydration job.
type HydrationResponse struct {
	Started  bool              `json:"started"`
	Job      hydrate.JobStatus `json:"job"`
	Progress *cache.Progress   `json:"progress,omitempty"`
}

func (h *Handler) hydrationResponse(job *hydrate.Job, started bool) HydrationResponse {
	resp := HydrationResponse{Started: started, Job: job.Status()}
	if st, ok := h.store.CollectionStatus(cache.Threads); ok && st.Progress != nil {
		resp.Progress = st.Progress
	}
	return resp
}

func (h *Handler) startHydration(c *gin.Context) {
	wait, err := boolQuery(c, "wait", false)
	if err != nil {
		handleError(c, err)
		return
	}

	job, started := h.hydration.Start()
	if !wait {
		c.JSON(http.StatusAccepted, h.hydrationResponse(job, started))
		return
	}

	if _, err := job.Wait(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.hydrationResponse(job, started))
}

func (h *Handler) getHydration(c *gin.Context) {
	job := h.hydration.Current()
	if job == nil {
		abort(c, http.StatusNotFound, "not_found", "no hydration has run yet")
		return
	}
	c.JSON(http.StatusOK, h.hydrationResponse(job, false))
}

func (h *Handler) cancelHydration(c *gin.Context) {
	if !h.hydration.Cancel() {
		abort(c, http.StatusConflict, "not_running", "no hydration is running")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// HistoryResponse is the body of GET /api/refresh/history.
type HistoryResponse struct {
	Runs []journal.Run `json:"runs"`
}

func (h *Handler) getHistory(c *gin.Context) {
	if h.history == nil {
		abort(c, http.StatusServiceUnavailable, "unavailable", "refresh history is not recorded")
		return
	}
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		handleError(c, err)
		return
	}
	runs, err := h.history.ListRuns(c.Query("collection"), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Runs: runs})
}

// FailuresResponse lists the conversations a hydration run failed on.
type FailuresResponse struct {
	RunID    string            `json:"run_id"`
	Failures []journal.Failure `json:"failures"`
}

func (h *Handler) getFailures(c *gin.Context) {
	if h.history == nil {
		abort(c, http.StatusServiceUnavailable, "unavailable", "refresh history is not recorded")
		return
	}
	runID := c.Param("run_id")
	failures, err := h.history.HydrationFailures(runID)
	if err != nil {
		handleError(c, err)
		return
	}
	if failures == nil {
		failures = []journal.Failure{}
	}
	c.JSON(http.StatusOK, FailuresResponse{RunID: runID, Failures: failures})
}
