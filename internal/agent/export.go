package agent

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/controledu/classroom/internal/wire"
)

// runExportUpload answers a DetectionExportRequested push: it zips the
// agent's current detection evidence and streams the bundle to the
// server's export upload endpoint, authenticated by the binding token.
// The server mints the exportId and fans DetectionExportReady out to
// teacher consoles.
func (l *Loop) runExportUpload(ctx context.Context, req wire.DetectionExportRequest) {
	bundle, err := l.buildExportBundle(req)
	if err != nil {
		if l.cfg.Log != nil {
			l.cfg.Log.Error(err, "export bundle failed")
		}
		return
	}

	uploadURL := fmt.Sprintf("%s/api/detection/exports/upload?clientId=%s",
		l.cfg.BaseURL, url.QueryEscape(l.binding.ClientID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(bundle))
	if err != nil {
		return
	}
	httpReq.Header.Set(wire.StudentTokenHeader, l.token)
	httpReq.Header.Set("Content-Type", "application/zip")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		if l.cfg.Log != nil {
			l.cfg.Log.Error(err, "export upload failed")
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && l.cfg.Log != nil {
		l.cfg.Log.Warn(fmt.Sprintf("export upload rejected (status %d)", resp.StatusCode))
	}
}

// buildExportBundle zips a manifest plus the last persisted detection
// state. The bundle stays small: production policy keeps the
// data-collection flags off, so no raw frames are retained to export.
func (l *Loop) buildExportBundle(req wire.DetectionExportRequest) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := struct {
		ClientID       string `json:"clientId"`
		RequestID      string `json:"requestId"`
		GeneratedAtUtc int64  `json:"generatedAtUtc"`
	}{l.binding.ClientID, req.RequestID, time.Now().UTC().UnixMilli()}
	if err := writeZipJSON(zw, "manifest.json", manifest); err != nil {
		return nil, err
	}

	if state, ok, err := l.cfg.Store.LoadDetectionState(); err == nil && ok {
		if err := writeZipJSON(zw, "detection-state.json", state); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeZipJSON(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
