package httpapi

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Detection-alert export bundles: zip bundles of a manifest plus the
// student agent's last persisted detection state, stored under
// {base}/exports/detection-exports/{clientId}/{timestamp}-{uuid}-{name}.zip
// and served as whole files (no chunking). Download IDs are URL-safe base64
// of the path relative to exportsDir; resolveExportPath rejects anything
// that escapes that root.

func (s *Server) handleExportUpload(c echo.Context) error {
	clientID := c.QueryParam("clientId")
	if clientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clientId query parameter is required")
	}
	if err := s.authenticateStudentHeader(c); err != nil {
		return err
	}

	dir := filepath.Join(s.exportsDir, clientID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	name := filepath.Base(c.QueryParam("name"))
	if name == "." || name == "/" || name == "" {
		name = "export"
	}
	fileName := fmt.Sprintf("%s-%s-%s.zip", nowUTC().Format("20060102T150405Z"), uuid.NewString(), strings.TrimSuffix(name, ".zip"))
	rel := filepath.Join(clientID, fileName)
	full := filepath.Join(s.exportsDir, rel)

	f, err := os.Create(full)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer f.Close()

	if _, err := io.Copy(f, c.Request().Body); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	exportID := encodeExportID(rel)
	if s.hub != nil {
		s.hub.PushToTeachers("DetectionExportReady", struct {
			ClientID string `json:"clientId"`
			ExportID string `json:"exportId"`
		}{clientID, exportID})
	}
	return c.JSON(http.StatusCreated, struct {
		ExportID string `json:"exportId"`
	}{exportID})
}

type exportListEntry struct {
	ExportID string `json:"exportId"`
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

func (s *Server) handleExportList(c echo.Context) error {
	var out []exportListEntry
	entries, err := os.ReadDir(s.exportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(http.StatusOK, out)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, clientDir := range entries {
		if !clientDir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.exportsDir, clientDir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			rel := filepath.Join(clientDir.Name(), f.Name())
			out = append(out, exportListEntry{
				ExportID: encodeExportID(rel), ClientID: clientDir.Name(), Name: f.Name(),
			})
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleExportDownload(c echo.Context) error {
	rel, err := decodeExportID(c.Param("exportId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid export id")
	}
	full, err := resolveExportPath(s.exportsDir, rel)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "export not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentType, "application/zip")
	return c.Stream(http.StatusOK, "application/zip", f)
}

func encodeExportID(relPath string) string {
	return base64.URLEncoding.EncodeToString([]byte(filepath.ToSlash(relPath)))
}

func decodeExportID(id string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// resolveExportPath joins rel onto root and rejects any result that escapes
// root.
func resolveExportPath(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(os.PathSeparator)) {
		return "", os.ErrPermission
	}
	return fullAbs, nil
}
