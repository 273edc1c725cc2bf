package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/controledu/classroom/internal/errkind"
	"github.com/controledu/classroom/internal/transfer"
	"github.com/controledu/classroom/internal/wire"
)

func (s *Server) handleUploadInit(c echo.Context) error {
	var req wire.InitUploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.transfers.InitUpload(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUploadChunk(c echo.Context) error {
	transferID := c.Param("transferId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chunk index")
	}
	header := c.Request().Header.Get(wire.ChunkHashHeader)
	if header == "" {
		return echo.NewHTTPError(http.StatusBadRequest, wire.ChunkHashHeader+" header is required")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.transfers.UploadChunk(transferID, index, body, header); err != nil {
		return transferHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDispatch(c echo.Context) error {
	transferID := c.Param("transferId")
	var req wire.DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.transfers.Dispatch(transferID, req.TargetClientIDs)
	if err != nil {
		return transferHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleMissing is the student-facing resume query, authenticated by a
// header-bound student token.
func (s *Server) handleMissing(c echo.Context) error {
	if err := s.authenticateStudentHeader(c); err != nil {
		return err
	}

	transferID := c.Param("transferId")
	var req wire.MissingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	missing, err := s.transfers.Missing(transferID, req.Existing)
	if err != nil {
		return transferHTTPError(err)
	}
	return c.JSON(http.StatusOK, wire.MissingResponse{Missing: missing})
}

func (s *Server) handleDownloadChunk(c echo.Context) error {
	if err := s.authenticateStudentHeader(c); err != nil {
		return err
	}

	transferID := c.Param("transferId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chunk index")
	}

	body, sha256, err := s.transfers.Chunk(transferID, index)
	if err != nil {
		return transferHTTPError(err)
	}
	c.Response().Header().Set(wire.ChunkHashHeader, sha256)
	return c.Blob(http.StatusOK, "application/octet-stream", body)
}

// authenticateStudentHeader validates the bearer token carried by
// X-Controledu-Token against the caller's clientId query param.
func (s *Server) authenticateStudentHeader(c echo.Context) error {
	token := c.Request().Header.Get(wire.StudentTokenHeader)
	clientID := c.QueryParam("clientId")
	if token == "" || clientID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing client credentials")
	}
	ok, err := s.store.ValidateToken(clientID, token, nowUTC())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}
	return nil
}

// transferHTTPError maps a transfer.Coordinator error to an HTTP status by
// its errkind.Kind rather than by re-deriving the taxonomy from the
// sentinel's identity. errors.Is is used only to pick between two HTTP
// statuses that share the same Kind (a missing transfer and an incomplete
// one are both Protocol violations, but warrant 404 vs 412 respectively).
func transferHTTPError(err error) error {
	switch errkind.Classify(err) {
	case errkind.Integrity:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errkind.Protocol:
		if errors.Is(err, transfer.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
