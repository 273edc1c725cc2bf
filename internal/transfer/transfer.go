// Package transfer implements the server-side file-transfer coordinator:
// upload, per-chunk integrity, dispatch, and the student-facing
// missing-chunk/download surface. Chunk bodies live on disk under
// {base}/transfers/{transferId}/{index:08d}.chunk; the manifest and
// per-chunk hash ledger live in internal/storage. A per-transfer mutex
// serializes mutations so chunk uploads and missing-chunk queries observe a
// consistent set.
package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/chunking"
	"github.com/controledu/classroom/internal/errkind"
	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// Sentinel errors are tagged with their errkind.Kind at the point they're
// produced, so callers upstream (httpapi's transferHTTPError) can route on
// errkind.Classify instead of re-deriving the taxonomy from scratch. Each
// var is still a single fixed error value, so direct equality/errors.Is
// checks against it keep working exactly as before the tagging.
var (
	// ErrHashMismatch is returned when an uploaded chunk's body does not
	// hash to the caller-supplied header.
	ErrHashMismatch = errkind.New(errkind.Integrity, errors.New("transfer: chunk hash does not match header"))
	// ErrIndexOutOfRange is returned for an index outside [0,totalChunks);
	// tagged Integrity alongside ErrHashMismatch since both are chunk-level
	// invariant violations, not a missing/incomplete
	// transfer.
	ErrIndexOutOfRange = errkind.New(errkind.Integrity, errors.New("transfer: chunk index out of range"))
	// ErrNotFullyUploaded is returned by Dispatch before every chunk has
	// been accepted.
	ErrNotFullyUploaded = errkind.New(errkind.Protocol, errors.New("transfer: not all chunks have been uploaded"))
	// ErrNotFound is returned for an unknown transferId.
	ErrNotFound = errkind.New(errkind.Protocol, errors.New("transfer: unknown transfer id"))
)

// Pusher is the subset of *hub.Hub the coordinator needs to deliver
// FileTransferAssigned pushes and to know who is online.
type Pusher interface {
	PushToStudent(clientID, method string, payload any) bool
}

// Coordinator owns chunk storage and manifest bookkeeping for every
// in-flight and completed transfer.
type Coordinator struct {
	store   *storage.Store
	baseDir string
	hub     Pusher
	log     *telemetry.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // transferId -> per-transfer lock
}

// New builds a Coordinator. baseDir is the root transfers directory
//.
func New(store *storage.Store, baseDir string, hub Pusher, log *telemetry.Logger) *Coordinator {
	return &Coordinator{store: store, baseDir: baseDir, hub: hub, log: log, locks: make(map[string]*sync.Mutex)}
}

func (c *Coordinator) lockFor(transferID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[transferID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[transferID] = l
	}
	return l
}

func (c *Coordinator) transferDir(transferID string) string {
	return filepath.Join(c.baseDir, transferID)
}

func chunkFileName(index int) string {
	return fmt.Sprintf("%08d.chunk", index)
}

// InitUpload begins a new transfer and returns its manifest.
func (c *Coordinator) InitUpload(req wire.InitUploadRequest) (wire.InitUploadResponse, error) {
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = wire.DefaultChunkSize
	}
	total := chunking.ChunkCount(req.FileSize, chunkSize)
	transferID := uuid.NewString()

	if err := os.MkdirAll(c.transferDir(transferID), 0o755); err != nil {
		return wire.InitUploadResponse{}, err
	}

	now := nowUtcMillis()
	if err := c.store.CreateTransfer(storage.TransferRecord{
		TransferID: transferID, FileName: req.FileName, Sha256: req.Sha256,
		FileSize: req.FileSize, ChunkSize: chunkSize, TotalChunks: total,
		UploadedBy: req.UploadedBy,
	}); err != nil {
		return wire.InitUploadResponse{}, err
	}

	return wire.InitUploadResponse{TransferID: transferID, TotalChunks: total, CreatedAtUtc: now}, nil
}

// UploadChunk stores body for transferID at index, provided headerSha256
// matches its computed hash AND index is in range. Idempotent: re-uploading
// an already-stored index with the same bytes is a no-op success.
func (c *Coordinator) UploadChunk(transferID string, index int, body []byte, headerSha256 string) error {
	t, err := c.store.GetTransfer(transferID)
	if err != nil {
		return ErrNotFound
	}
	if index < 0 || index >= t.TotalChunks {
		return ErrIndexOutOfRange
	}
	computed := chunking.Sha256Hex(body)
	if computed != headerSha256 {
		return ErrHashMismatch
	}

	lock := c.lockFor(transferID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(c.transferDir(transferID), chunkFileName(index))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	return c.store.RecordChunk(transferID, index, computed)
}

// Missing returns the chunk indexes the server has that the caller-reported
// existing set does not, intersected with [0,totalChunks).
func (c *Coordinator) Missing(transferID string, existing []int) ([]int, error) {
	t, err := c.store.GetTransfer(transferID)
	if err != nil {
		return nil, ErrNotFound
	}
	lock := c.lockFor(transferID)
	lock.Lock()
	defer lock.Unlock()

	haveOnServer, err := c.store.ExistingChunkIndexes(transferID)
	if err != nil {
		return nil, err
	}
	have := make(map[int]bool, len(haveOnServer))
	for _, i := range haveOnServer {
		have[i] = true
	}
	reported := make(map[int]bool, len(existing))
	for _, i := range existing {
		reported[i] = true
	}

	var missing []int
	for i := 0; i < t.TotalChunks; i++ {
		if have[i] && !reported[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// Chunk returns the raw bytes and stored hash for transferID's chunk index,
// for a student download call.
func (c *Coordinator) Chunk(transferID string, index int) (body []byte, sha256 string, err error) {
	t, err := c.store.GetTransfer(transferID)
	if err != nil {
		return nil, "", ErrNotFound
	}
	if index < 0 || index >= t.TotalChunks {
		return nil, "", ErrIndexOutOfRange
	}
	ok, err := c.store.HasChunk(transferID, index)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrNotFound
	}
	path := filepath.Join(c.transferDir(transferID), chunkFileName(index))
	body, err = os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	sha256, err = c.store.ChunkSha256(transferID, index)
	return body, sha256, err
}

// Dispatch assigns transferID to every target client, requiring every chunk
// to already be uploaded. Offline targets are skipped; the response reports
// both sets.
func (c *Coordinator) Dispatch(transferID string, targetClientIDs []string) (wire.DispatchResponse, error) {
	t, err := c.store.GetTransfer(transferID)
	if err != nil {
		return wire.DispatchResponse{}, ErrNotFound
	}
	uploaded, err := c.store.UploadedChunkCount(transferID)
	if err != nil {
		return wire.DispatchResponse{}, err
	}
	if uploaded != t.TotalChunks {
		return wire.DispatchResponse{}, ErrNotFullyUploaded
	}

	assignment := wire.FileTransferAssignment{
		TransferID: t.TransferID, FileName: t.FileName, Sha256: t.Sha256,
		FileSize: t.FileSize, ChunkSize: t.ChunkSize, TotalChunks: t.TotalChunks,
	}

	var resp wire.DispatchResponse
	for _, clientID := range targetClientIDs {
		delivered := c.hub != nil && c.hub.PushToStudent(clientID, wire.EventFileTransferAssigned, assignment)
		if delivered {
			resp.Assigned = append(resp.Assigned, clientID)
		} else {
			resp.Skipped = append(resp.Skipped, clientID)
		}
	}
	if c.log != nil {
		c.log.Info(fmt.Sprintf("transfer: dispatched %s (%s) to %d assigned, %d skipped",
			transferID, humanize.Bytes(uint64(t.FileSize)), len(resp.Assigned), len(resp.Skipped)))
	}
	return resp, nil
}

// ReportProgress satisfies hub.TransferSink; it currently just logs, since
// the authoritative per-client progress is the teacher console's own
// reconciliation of FileProgressUpdated events (the hub already fans those
// out independently of this call).
func (c *Coordinator) ReportProgress(clientID string, report wire.FileProgressReport) error {
	if report.Error != "" && c.log != nil {
		c.log.Warn(fmt.Sprintf("transfer: %s reported resumable error on %s: %s", clientID, report.TransferID, report.Error))
		return nil
	}
	if report.Done && c.log != nil {
		t, err := c.store.GetTransfer(report.TransferID)
		if err == nil {
			c.log.Info(fmt.Sprintf("transfer: %s finished %s (%s)", clientID, report.TransferID, humanize.Bytes(uint64(t.FileSize))))
		}
	}
	return nil
}

// nowUtcMillisFn is overridable in tests; production always uses time.Now.
var nowUtcMillisFn = func() int64 { return time.Now().UTC().UnixMilli() }

func nowUtcMillis() int64 { return nowUtcMillisFn() }
