package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/detection"
	"github.com/controledu/classroom/internal/wire"
)

const settingDetectionPolicyOverride = "detection.policyOverride"

// handleGetDetectionSettings always serves the fixed production policy:
// a persisted override is accepted by PUT for audit purposes but never
// reflected back, to prevent UI-driven downgrades.
func (s *Server) handleGetDetectionSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, detection.ProductionPolicy())
}

func (s *Server) handlePutDetectionSettings(c echo.Context) error {
	var req wire.DetectionPolicy
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// Persisted for operator visibility only; GetDetectionPolicy and this
	// GET handler continue to serve ProductionPolicy() regardless.
	raw, err := json.Marshal(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SetSetting(settingDetectionPolicyOverride, string(raw)); err != nil {
		return err
	}
	_ = s.store.InsertAuditLog("detection.settings.put", "teacher-console", "")
	return c.NoContent(http.StatusAccepted)
}

const defaultDetectionEventsTake = 200

func (s *Server) handleDetectionEvents(c echo.Context) error {
	take := defaultDetectionEventsTake
	if v := c.QueryParam("take"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			take = n
		}
	}
	if s.alerts == nil {
		return c.JSON(http.StatusOK, []wire.AlertEvent{})
	}
	return c.JSON(http.StatusOK, s.alerts.Recent(take))
}
