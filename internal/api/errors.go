package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/proxy"
	"github.com/matheus3301/deskcache/internal/refresh"
	"github.com/matheus3301/deskcache/internal/remote"
	"github.com/matheus3301/deskcache/internal/signature"
)

// ErrorResponse is the body of every non-2xx answer produced here.
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// errBadRequest marks request parameter problems.
var errBadRequest = errors.New("bad request")

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    code,
		Error:   http.StatusText(status),
		Message: message,
	})
}

// handleError maps err onto a status code and writes the error body.
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, proxy.ErrInvalidPath):
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, refresh.ErrUnknownCollection):
		abort(c, http.StatusNotFound, "unknown_collection", err.Error())
	case errors.Is(err, signature.ErrMissing), errors.Is(err, signature.ErrMismatch):
		abort(c, http.StatusUnauthorized, "invalid_signature", err.Error())
	case errors.Is(err, cache.ErrRefreshInProgress), errors.Is(err, hydrate.ErrInProgress):
		abort(c, http.StatusConflict, "refresh_in_progress", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		abort(c, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		c.AbortWithStatus(499)
	case remote.IsAuth(err):
		abort(c, http.StatusBadGateway, "remote_auth", err.Error())
	case remote.KindOf(err) != 0:
		abort(c, http.StatusBadGateway, "remote_"+remote.KindOf(err).String(), err.Error())
	default:
		abort(c, http.StatusInternalServerError, "internal", err.Error())
	}
}
