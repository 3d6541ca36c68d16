package server

import (
	"context"
	"net/http"

	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// requestLookup is implemented by stores that can filter by request id.
type requestLookup interface {
	ForRequest(ctx context.Context, requestID string) ([]audit.Entry, error)
}

type AuditHandler struct {
	store audit.Store
}

func NewAuditHandler(store audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

func (h *AuditHandler) GetAuditLog(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "audit store not configured",
		})
	}

	ctx := c.Request().Context()
	requestID := c.QueryParam("request_id")

	var (
		entries []audit.Entry
		err     error
	)
	if lookup, ok := h.store.(requestLookup); ok && requestID != "" {
		entries, err = lookup.ForRequest(ctx, requestID)
	} else {
		entries, err = h.store.GetAll(ctx)
	}
	if err != nil {
		log.Error().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("failed to retrieve audit log")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve audit log",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   len(entries),
		"entries": entries,
	})
}
