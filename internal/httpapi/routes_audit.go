package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/wire"
)

const defaultAuditTake = 100

func (s *Server) handleAuditLatest(c echo.Context) error {
	take := defaultAuditTake
	if v := c.QueryParam("take"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			take = n
		}
	}

	entries, err := s.store.GetLatestAudit(take)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]wire.AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.AuditEntry{
			ID: e.ID, TimestampUtc: e.TimestampUtc, Action: e.Action, Actor: e.Actor, Details: e.Details,
		})
	}
	return c.JSON(http.StatusOK, out)
}
