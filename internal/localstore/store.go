// Package localstore is the student agent's on-disk state: the at-most-one
// StudentBinding to a paired teacher server, and per-transfer resume state
// for in-flight downloads. Backed by bbolt, which keeps the agent free of
// any external database dependency.
package localstore

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/controledu/classroom/internal/wire"
)

var (
	bucketBinding   = []byte("binding")
	bucketTransfers = []byte("transfers")
	bucketDetection = []byte("detection")
)

const bindingKey = "current"
const detectionStateKey = "current"

// Store wraps a bbolt database file for the student agent's local state.
type Store struct {
	db *bbolt.DB
}

// Open creates (or reopens) the bbolt file at path, creating the top-level
// buckets if absent.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBinding); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTransfers); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDetection)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Binding is the student's durable pairing record.
// ProtectedToken is the output of a secretbox.Protector — opaque to this
// package.
type Binding struct {
	ServerID          string
	ServerName        string
	ServerBaseURL     string
	ServerFingerprint string
	ClientID          string
	ProtectedToken    []byte
	UpdatedAtUtc      int64
}

// SaveBinding persists b, replacing any previous binding (at-most-one per
// device).
func (s *Store) SaveBinding(b Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBinding).Put([]byte(bindingKey), data)
	})
}

// LoadBinding returns the current binding. ok is false if the device has
// never been paired.
func (s *Store) LoadBinding() (b Binding, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBinding).Get([]byte(bindingKey))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &b)
	})
	return b, ok, err
}

// ClearBinding removes the stored binding (e.g. after a ForceUnpair).
func (s *Store) ClearBinding() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBinding).Delete([]byte(bindingKey))
	})
}

// DetectionState is the main loop's persisted view of its own last
// evaluation): when it last ran the pipeline, what it
// concluded, and which policy produced that conclusion, so a restarted
// agent doesn't immediately re-alert on stale state.
type DetectionState struct {
	LastCheckUtc    int64                `json:"lastCheckUtc"`
	LastResult      wire.DetectionResult `json:"lastResult"`
	EffectivePolicy wire.DetectionPolicy `json:"effectivePolicy"`
}

// SaveDetectionState persists the agent's latest detection evaluation.
func (s *Store) SaveDetectionState(d DetectionState) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDetection).Put([]byte(detectionStateKey), data)
	})
}

// LoadDetectionState returns the last persisted detection state. ok is
// false before the first evaluation has ever completed.
func (s *Store) LoadDetectionState() (d DetectionState, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDetection).Get([]byte(detectionStateKey))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &d)
	})
	return d, ok, err
}

// TransferState is the persisted form of a TransferResumeState: the
// completed chunk indexes plus enough manifest detail to resume a
// download after a restart.
type TransferState struct {
	TransferID            string
	FileName              string
	Sha256                string
	ChunkSize             int64
	TotalChunks           int
	CompletedChunkIndexes []int
	PartialFilePath       string
	UpdatedAtUtc          int64
}

// SaveTransferState upserts one transfer's resume state.
func (s *Store) SaveTransferState(t TransferState) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTransfers).Put([]byte(t.TransferID), data)
	})
}

// LoadTransferState returns the resume state for transferID. ok is false if
// none is stored.
func (s *Store) LoadTransferState(transferID string) (t TransferState, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTransfers).Get([]byte(transferID))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &t)
	})
	return t, ok, err
}

// DeleteTransferState removes the resume state once a transfer is promoted
// to final or abandoned.
func (s *Store) DeleteTransferState(transferID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTransfers).Delete([]byte(transferID))
	})
}

// ListTransferStates returns every in-flight transfer's resume state, for
// reconnect-time resumption of all pending downloads.
func (s *Store) ListTransferStates() ([]TransferState, error) {
	var out []TransferState
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTransfers).ForEach(func(k, v []byte) error {
			var t TransferState
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}
