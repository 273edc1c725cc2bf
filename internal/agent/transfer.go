package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/controledu/classroom/internal/chunking"
	"github.com/controledu/classroom/internal/localstore"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// downloadManager drives one assigned file transfer to completion against
// the teacher's REST download surface, resuming from persisted
// TransferState on restart. It speaks the same missing/chunk/hash contract
// internal/transfer implements server-side.
type downloadManager struct {
	baseURL     string
	clientID    string
	token       string
	downloadDir string
	store       *localstore.Store
	httpClient  *http.Client
	log         *telemetry.Logger
}

func newDownloadManager(baseURL, clientID, token, downloadDir string, store *localstore.Store, log *telemetry.Logger) *downloadManager {
	return &downloadManager{
		baseURL: baseURL, clientID: clientID, token: token, downloadDir: downloadDir,
		store: store, httpClient: &http.Client{Timeout: 30 * time.Second}, log: log,
	}
}

// Start begins (or resumes) downloading assignment, writing partial chunks
// into one file under downloadDir and promoting it to final once every
// chunk is present and the whole-file hash matches.
func (d *downloadManager) Start(ctx context.Context, assignment wire.FileTransferAssignment) error {
	partialPath := filepath.Join(d.downloadDir, assignment.TransferID+".partial")
	if err := os.MkdirAll(d.downloadDir, 0o755); err != nil {
		return err
	}

	state, ok, err := d.store.LoadTransferState(assignment.TransferID)
	if err != nil {
		return err
	}
	if !ok {
		state = localstore.TransferState{
			TransferID: assignment.TransferID, FileName: assignment.FileName,
			Sha256: assignment.Sha256, ChunkSize: assignment.ChunkSize,
			TotalChunks: assignment.TotalChunks, PartialFilePath: partialPath,
		}
	}

	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	missing, err := d.queryMissing(ctx, assignment.TransferID, state.CompletedChunkIndexes)
	if err != nil {
		return err
	}

	for _, idx := range missing {
		body, sha256, err := d.fetchChunk(ctx, assignment.TransferID, idx)
		if err != nil {
			return fmt.Errorf("agent: fetch chunk %d: %w", idx, err)
		}
		if chunking.Sha256Hex(body) != sha256 {
			return fmt.Errorf("agent: chunk %d hash mismatch", idx)
		}
		if _, err := f.WriteAt(body, int64(idx)*assignment.ChunkSize); err != nil {
			return err
		}
		state.CompletedChunkIndexes = append(state.CompletedChunkIndexes, idx)
		state.UpdatedAtUtc = time.Now().UTC().UnixMilli()
		if err := d.store.SaveTransferState(state); err != nil {
			return err
		}
	}

	if len(state.CompletedChunkIndexes) < assignment.TotalChunks {
		return fmt.Errorf("agent: transfer %s incomplete after fetch pass", assignment.TransferID)
	}

	if err := f.Close(); err != nil {
		return err
	}
	if err := d.verifyAndPromote(partialPath, assignment); err != nil {
		return err
	}
	return d.store.DeleteTransferState(assignment.TransferID)
}

func (d *downloadManager) verifyAndPromote(partialPath string, assignment wire.FileTransferAssignment) error {
	data, err := os.ReadFile(partialPath)
	if err != nil {
		return err
	}
	if chunking.Sha256Hex(data) != assignment.Sha256 {
		return fmt.Errorf("agent: transfer %s whole-file hash mismatch", assignment.TransferID)
	}
	finalPath := filepath.Join(d.downloadDir, assignment.FileName)
	if err := os.Rename(partialPath, finalPath); err != nil {
		return err
	}
	if d.log != nil {
		d.log.Info(fmt.Sprintf("agent: transfer %s complete (%s)", assignment.TransferID, humanize.Bytes(uint64(len(data)))))
	}
	return nil
}

func (d *downloadManager) queryMissing(ctx context.Context, transferID string, existing []int) ([]int, error) {
	reqBody, err := jsonBody(wire.MissingRequest{TransferID: transferID, Existing: existing})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/files/%s/missing?clientId=%s", d.baseURL, transferID, d.clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(wire.StudentTokenHeader, d.token)

	var resp wire.MissingResponse
	if err := d.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return resp.Missing, nil
}

func (d *downloadManager) fetchChunk(ctx context.Context, transferID string, index int) (body []byte, sha256 string, err error) {
	url := fmt.Sprintf("%s/api/files/%s/chunk/%d?clientId=%s", d.baseURL, transferID, index, d.clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set(wire.StudentTokenHeader, d.token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("agent: chunk fetch status %d", resp.StatusCode)
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get(wire.ChunkHashHeader), nil
}

func (d *downloadManager) doJSON(req *http.Request, out any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: request %s status %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
