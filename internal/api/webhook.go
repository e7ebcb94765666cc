package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/scheduler"
	"go.uber.org/zap"
)

// notification is the part of an Intercom webhook body the daemon reads.
type notification struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// WebhookResponse acknowledges a notification.
type WebhookResponse struct {
	Status     string `json:"status"`
	Topic      string `json:"topic"`
	Collection string `json:"collection,omitempty"`
}

func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "read body: "+err.Error())
		return
	}
	var n notification
	if err := json.Unmarshal(body, &n); err != nil || n.Topic == "" {
		abort(c, http.StatusBadRequest, "invalid_request", "body is not a webhook notification")
		return
	}

	if n.Topic == "ping" {
		c.JSON(http.StatusOK, WebhookResponse{Status: "pong", Topic: n.Topic})
		return
	}

	collection, ok := scheduler.CollectionForTopic(n.Topic)
	if !ok {
		h.logger.Debug("webhook topic ignored", zap.String("topic", n.Topic), zap.String("id", n.ID))
		c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Topic: n.Topic})
		return
	}

	h.logger.Info("webhook received",
		zap.String("topic", n.Topic),
		zap.String("id", n.ID),
		zap.String("collection", collection),
	)
	h.bus.Emit(bus.KindWebhookReceived, scheduler.Notification{ID: n.ID, Topic: n.Topic})
	c.JSON(http.StatusAccepted, WebhookResponse{Status: "accepted", Topic: n.Topic, Collection: collection})
}
