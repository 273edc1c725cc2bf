package httpapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/wire"
)

// handleRevokeStudent deletes the paired-client row and pushes ForceUnpair
// to any live session.
func (s *Server) handleRevokeStudent(c echo.Context) error {
	clientID := c.Param("clientId")

	if err := s.pairingMgr.Revoke(clientID, "teacher-console"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "no such paired client")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.hub.PushToStudent(clientID, wire.EventForceUnpair, struct{}{})
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStudentTts(c echo.Context) error {
	clientID := c.Param("clientId")
	var req wire.TtsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ClientID = clientID

	delivered := s.hub.PushToStudent(clientID, wire.EventTeacherTtsRequested, req)
	if !delivered {
		return echo.NewHTTPError(http.StatusConflict, "student is not currently connected")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleStudentChat(c echo.Context) error {
	clientID := c.Param("clientId")
	var req wire.ChatMessage
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ClientID = clientID
	req.SenderRole = wire.SenderTeacher
	req.TimestampUtc = nowUTC().UTC().UnixMilli()

	delivered := s.hub.PushToStudent(clientID, wire.EventTeacherChatMessageRequested, req)
	if !delivered {
		return echo.NewHTTPError(http.StatusConflict, "student is not currently connected")
	}
	_ = s.store.InsertAuditLog("chat.teacher", "teacher-console", clientID)
	return c.NoContent(http.StatusAccepted)
}

// handleStudentRequestExport asks a connected student to upload a
// detection-evidence bundle; DetectionExportReady fans out to teacher
// consoles once the upload lands.
func (s *Server) handleStudentRequestExport(c echo.Context) error {
	clientID := c.Param("clientId")
	req := wire.DetectionExportRequest{ClientID: clientID, RequestID: uuid.NewString()}

	delivered := s.hub.PushToStudent(clientID, wire.EventDetectionExportRequested, req)
	if !delivered {
		return echo.NewHTTPError(http.StatusConflict, "student is not currently connected")
	}
	_ = s.store.InsertAuditLog("export.request", "teacher-console", clientID)
	return c.JSON(http.StatusAccepted, req)
}

func (s *Server) handleStudentAccessibilityProfile(c echo.Context) error {
	clientID := c.Param("clientId")
	var req wire.AccessibilityProfile
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ClientID = clientID

	delivered := s.hub.PushToStudent(clientID, wire.EventAccessibilityProfileAssigned, req)
	if !delivered {
		return echo.NewHTTPError(http.StatusConflict, "student is not currently connected")
	}
	_ = s.store.InsertAuditLog("accessibility.assign", "teacher-console", clientID)
	return c.NoContent(http.StatusAccepted)
}
