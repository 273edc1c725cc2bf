package httpapi

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/wire"
)

// handleListGroups returns every classroom group with its current
// membership.
func (s *Server) handleListGroups(c echo.Context) error {
	groups, err := s.store.ListGroups()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]wire.ClassroomGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, wire.ClassroomGroup{GroupID: g.GroupID, Name: g.Name, MemberClientIDs: g.MemberClientIDs})
	}
	return c.JSON(http.StatusOK, out)
}

// handlePutGroup creates a group (when groupId is new) or renames one and
// replaces its membership (when it already exists). Purely a tag over
// PairedClient rows: member client IDs are not validated against the
// current roster, so a revoked student simply drops out of the view.
func (s *Server) handlePutGroup(c echo.Context) error {
	var req wire.ClassroomGroup
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.GroupID == "" {
		req.GroupID = uuid.NewString()
	}

	if err := s.store.UpsertGroup(storage.ClassroomGroup{
		GroupID: req.GroupID, Name: req.Name, MemberClientIDs: req.MemberClientIDs,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.hub.PushToTeachers(wire.EventGroupsChanged, req)
	return c.JSON(http.StatusOK, req)
}

// handleDeleteGroup removes a group. Deleting a group never pushes anything
// to the students it named as members — it's a teacher-console filter, not
// a live assignment.
func (s *Server) handleDeleteGroup(c echo.Context) error {
	groupID := c.Param("groupId")
	if err := s.store.DeleteGroup(groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "no such group")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.hub.PushToTeachers(wire.EventGroupsChanged, struct {
		GroupID string `json:"groupId"`
		Deleted bool   `json:"deleted"`
	}{groupID, true})
	return c.NoContent(http.StatusNoContent)
}

// handleGetAnnouncement returns the current server-wide banner.
func (s *Server) handleGetAnnouncement(c echo.Context) error {
	a, err := s.store.GetAnnouncement()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, wire.AnnouncementBanner{Text: a.Text, PostedBy: a.PostedBy, PostedAtUtc: a.PostedAtUtc})
}

// handlePostAnnouncement replaces the current banner and pushes it to every
// connected teacher console. Posting an empty string clears it.
func (s *Server) handlePostAnnouncement(c echo.Context) error {
	var req wire.AnnouncementBanner
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PostedAtUtc = nowUTC().UTC().UnixMilli()

	if err := s.store.SetAnnouncement(storage.AnnouncementBanner{
		Text: req.Text, PostedBy: req.PostedBy, PostedAtUtc: req.PostedAtUtc,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_ = s.store.InsertAuditLog("announcement.post", req.PostedBy, req.Text)

	s.hub.PushToTeachers(wire.EventAnnouncementPosted, req)
	return c.JSON(http.StatusOK, req)
}
