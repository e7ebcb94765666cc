package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/deskcache/internal/proxy"
	"github.com/matheus3301/deskcache/internal/search"
)

func (h *Handler) searchContacts(c *gin.Context) {
	live, err := boolQuery(c, "live", false)
	if err != nil {
		handleError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		handleError(c, err)
		return
	}

	res, err := h.search.SearchContacts(c.Request.Context(), search.Query{
		Email: c.Query("email"),
		Name:  c.Query("name"),
		Live:  live,
		Limit: limit,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) proxyGet(c *gin.Context) {
	resp, err := h.proxy.Get(c.Request.Context(), c.Query(proxy.PathParam), c.Request.URL.Query())
	if err != nil {
		handleError(c, err)
		return
	}
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	c.Data(resp.StatusCode, ct, resp.Body)
}
