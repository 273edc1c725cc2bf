// Package storage provides the teacher server's durable state backed by an
// embedded SQLite database. It owns the database lifecycle and exposes the
// six families the rest of the server depends on: settings, paired clients,
// audit log, per-transfer resume state (one row per stored chunk), classroom
// groups, and the announcement banner.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package storage

import (
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/controledu/classroom/internal/chunking"
)

var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — paired clients
	`CREATE TABLE IF NOT EXISTS paired_clients (
		client_id          TEXT PRIMARY KEY,
		token              TEXT NOT NULL,
		host_name          TEXT NOT NULL DEFAULT '',
		user_name          TEXT NOT NULL DEFAULT '',
		os_description     TEXT NOT NULL DEFAULT '',
		local_ip           TEXT NOT NULL DEFAULT '',
		created_at         INTEGER NOT NULL DEFAULT (unixepoch()),
		token_expires_at   INTEGER NOT NULL
	)`,
	// v3 — audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		action        TEXT NOT NULL,
		actor         TEXT NOT NULL DEFAULT '',
		details       TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	// v4 — server-side transfer records and per-chunk hash ledger
	`CREATE TABLE IF NOT EXISTS transfers (
		transfer_id    TEXT PRIMARY KEY,
		file_name      TEXT NOT NULL,
		sha256         TEXT NOT NULL,
		file_size      INTEGER NOT NULL,
		chunk_size     INTEGER NOT NULL,
		total_chunks   INTEGER NOT NULL,
		uploaded_by    TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS transfer_chunks (
		transfer_id TEXT NOT NULL,
		idx         INTEGER NOT NULL,
		sha256      TEXT NOT NULL,
		PRIMARY KEY (transfer_id, idx)
	)`,
	// v5 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
	// v6 — classroom groups and the current announcement banner
	`CREATE TABLE IF NOT EXISTS classroom_groups (
		group_id   TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS classroom_group_members (
		group_id  TEXT NOT NULL,
		client_id TEXT NOT NULL,
		PRIMARY KEY (group_id, client_id)
	)`,
	`CREATE TABLE IF NOT EXISTS announcement_banner (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		text           TEXT NOT NULL DEFAULT '',
		posted_by      TEXT NOT NULL DEFAULT '',
		posted_at_utc  INTEGER NOT NULL DEFAULT 0
	)`,
}

// Store wraps a SQLite database and exposes teacher-server state operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// --- Settings ----------------------------------------------------------------

// GetSetting returns the value stored under key. The second return value is
// false when the key does not exist; an error is only returned for real I/O
// failures.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSetting upserts key → value in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// --- Paired clients ------------------------------------------------------

// PairedClient is a durable row describing one paired student device.
type PairedClient struct {
	ClientID        string
	Token           string
	HostName        string
	UserName        string
	OsDescription   string
	LocalIP         string
	CreatedAtUtc    int64
	TokenExpiresUtc int64
}

// UpsertPairedClient inserts or replaces the row for clientId. Called both
// on first pairing and on re-pair (token rotation).
func (s *Store) UpsertPairedClient(c PairedClient) error {
	_, err := s.db.Exec(`
		INSERT INTO paired_clients(client_id, token, host_name, user_name, os_description, local_ip, token_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			token = excluded.token,
			host_name = excluded.host_name,
			user_name = excluded.user_name,
			os_description = excluded.os_description,
			local_ip = excluded.local_ip,
			token_expires_at = excluded.token_expires_at`,
		c.ClientID, c.Token, c.HostName, c.UserName, c.OsDescription, c.LocalIP, c.TokenExpiresUtc,
	)
	return err
}

// GetPairedClient returns the row for clientId, or sql.ErrNoRows.
func (s *Store) GetPairedClient(clientID string) (PairedClient, error) {
	var c PairedClient
	err := s.db.QueryRow(`
		SELECT client_id, token, host_name, user_name, os_description, local_ip, created_at, token_expires_at
		FROM paired_clients WHERE client_id = ?`, clientID,
	).Scan(&c.ClientID, &c.Token, &c.HostName, &c.UserName, &c.OsDescription, &c.LocalIP, &c.CreatedAtUtc, &c.TokenExpiresUtc)
	return c, err
}

// ListPairedClients returns every paired client, most recently created first.
func (s *Store) ListPairedClients() ([]PairedClient, error) {
	rows, err := s.db.Query(`
		SELECT client_id, token, host_name, user_name, os_description, local_ip, created_at, token_expires_at
		FROM paired_clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairedClient
	for rows.Next() {
		var c PairedClient
		if err := rows.Scan(&c.ClientID, &c.Token, &c.HostName, &c.UserName, &c.OsDescription, &c.LocalIP, &c.CreatedAtUtc, &c.TokenExpiresUtc); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RevokePairedClient deletes the paired-client row. Returns sql.ErrNoRows
// if no such client exists; the caller is responsible for pushing a
// ForceUnpair command to any live session.
func (s *Store) RevokePairedClient(clientID string) error {
	res, err := s.db.Exec(`DELETE FROM paired_clients WHERE client_id = ?`, clientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ValidateToken reports whether token is the current, unexpired token for
// clientId. Comparison against the stored value runs in constant time
// to avoid leaking a timing side-channel on token guesses.
func (s *Store) ValidateToken(clientID, token string, now time.Time) (bool, error) {
	c, err := s.GetPairedClient(clientID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if now.Unix() >= c.TokenExpiresUtc {
		return false, nil
	}
	match := subtle.ConstantTimeCompare([]byte(token), []byte(c.Token)) == 1
	return match, nil
}

// --- Audit log -----------------------------------------------------------

// AuditEntry is one durable row in the audit log.
type AuditEntry struct {
	ID           int64
	TimestampUtc int64
	Action       string
	Actor        string
	Details      string
}

// InsertAuditLog appends an entry. Every pairing, revocation, connect,
// disconnect, chat, export, and remote-control event is recorded here
//.
func (s *Store) InsertAuditLog(action, actor, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log(action, actor, details) VALUES (?, ?, ?)`,
		action, actor, details,
	)
	return err
}

// GetLatestAudit returns the n most recent audit entries, newest first.
func (s *Store) GetLatestAudit(n int) ([]AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, action, actor, details FROM audit_log ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.TimestampUtc, &e.Action, &e.Actor, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Transfers -------------------------------------------------------------

// TransferRecord is the durable manifest for one upload.
type TransferRecord struct {
	TransferID   string
	FileName     string
	Sha256       string
	FileSize     int64
	ChunkSize    int64
	TotalChunks  int
	UploadedBy   string
	CreatedAtUtc int64
}

// CreateTransfer inserts the manifest row for a new upload.
func (s *Store) CreateTransfer(t TransferRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO transfers(transfer_id, file_name, sha256, file_size, chunk_size, total_chunks, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TransferID, t.FileName, t.Sha256, t.FileSize, t.ChunkSize, t.TotalChunks, t.UploadedBy,
	)
	return err
}

// GetTransfer returns the manifest row for transferId, or sql.ErrNoRows.
func (s *Store) GetTransfer(transferID string) (TransferRecord, error) {
	var t TransferRecord
	err := s.db.QueryRow(`
		SELECT transfer_id, file_name, sha256, file_size, chunk_size, total_chunks, uploaded_by, created_at
		FROM transfers WHERE transfer_id = ?`, transferID,
	).Scan(&t.TransferID, &t.FileName, &t.Sha256, &t.FileSize, &t.ChunkSize, &t.TotalChunks, &t.UploadedBy, &t.CreatedAtUtc)
	return t, err
}

// RecordChunk stores the fact that index was accepted for transferID, with
// the hash it was verified against. Idempotent: re-uploading the same
// index is a no-op.
func (s *Store) RecordChunk(transferID string, index int, sha256 string) error {
	_, err := s.db.Exec(`
		INSERT INTO transfer_chunks(transfer_id, idx, sha256) VALUES (?, ?, ?)
		ON CONFLICT(transfer_id, idx) DO NOTHING`,
		transferID, index, sha256,
	)
	return err
}

// HasChunk reports whether index has already been stored for transferID.
func (s *Store) HasChunk(transferID string, index int) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM transfer_chunks WHERE transfer_id = ? AND idx = ?`, transferID, index,
	).Scan(&n)
	return n > 0, err
}

// UploadedChunkCount returns how many distinct chunks have been accepted
// for transferID.
func (s *Store) UploadedChunkCount(transferID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM transfer_chunks WHERE transfer_id = ?`, transferID,
	).Scan(&n)
	return n, err
}

// ExistingChunkIndexes returns every chunk index already stored for
// transferID, unordered.
func (s *Store) ExistingChunkIndexes(transferID string) ([]int, error) {
	rows, err := s.db.Query(`SELECT idx FROM transfer_chunks WHERE transfer_id = ?`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// MissingChunks returns the ordered-ascending chunk indexes for transferID
// that the server does not yet have, intersected with [0,totalChunks)
//.
func (s *Store) MissingChunks(transferID string) ([]int, error) {
	t, err := s.GetTransfer(transferID)
	if err != nil {
		return nil, err
	}
	existing, err := s.ExistingChunkIndexes(transferID)
	if err != nil {
		return nil, err
	}
	return chunking.MissingChunks(t.TotalChunks, existing), nil
}

// ChunkSha256 returns the hash index was stored against, for building a
// download response header.
func (s *Store) ChunkSha256(transferID string, index int) (string, error) {
	var h string
	err := s.db.QueryRow(
		`SELECT sha256 FROM transfer_chunks WHERE transfer_id = ? AND idx = ?`, transferID, index,
	).Scan(&h)
	return h, err
}

// --- Classroom groups --------------------------------------------------------

// ClassroomGroup is a durable row naming a teacher-defined tag over a subset
// of paired students. Purely a view over paired_clients:
// deleting a group never touches the underlying rows it points at.
type ClassroomGroup struct {
	GroupID         string
	Name            string
	MemberClientIDs []string
}

// UpsertGroup creates or renames a group and replaces its member list
// wholesale. Membership isn't diffed; the caller always sends the full set.
func (s *Store) UpsertGroup(g ClassroomGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO classroom_groups(group_id, name) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET name = excluded.name`,
		g.GroupID, g.Name,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM classroom_group_members WHERE group_id = ?`, g.GroupID); err != nil {
		return err
	}
	for _, clientID := range g.MemberClientIDs {
		if _, err := tx.Exec(
			`INSERT INTO classroom_group_members(group_id, client_id) VALUES (?, ?)`,
			g.GroupID, clientID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteGroup removes a group and its membership rows. Returns sql.ErrNoRows
// if no such group exists.
func (s *Store) DeleteGroup(groupID string) error {
	res, err := s.db.Exec(`DELETE FROM classroom_groups WHERE group_id = ?`, groupID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	_, err = s.db.Exec(`DELETE FROM classroom_group_members WHERE group_id = ?`, groupID)
	return err
}

// ListGroups returns every group with its current membership, ordered by
// creation time.
func (s *Store) ListGroups() ([]ClassroomGroup, error) {
	rows, err := s.db.Query(`SELECT group_id, name FROM classroom_groups ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClassroomGroup
	for rows.Next() {
		var g ClassroomGroup
		if err := rows.Scan(&g.GroupID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		members, err := s.groupMembers(out[i].GroupID)
		if err != nil {
			return nil, err
		}
		out[i].MemberClientIDs = members
	}
	return out, nil
}

func (s *Store) groupMembers(groupID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT client_id FROM classroom_group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, err
		}
		out = append(out, clientID)
	}
	return out, rows.Err()
}

// --- Announcement banner -----------------------------------------------------

// AnnouncementBanner is the single current server-wide banner row; at most
// one is live at a time.
type AnnouncementBanner struct {
	Text        string
	PostedBy    string
	PostedAtUtc int64
}

// SetAnnouncement replaces the current banner. There is exactly one live
// row, enforced by the table's CHECK(id = 1) constraint.
func (s *Store) SetAnnouncement(a AnnouncementBanner) error {
	_, err := s.db.Exec(`
		INSERT INTO announcement_banner(id, text, posted_by, posted_at_utc) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, posted_by = excluded.posted_by, posted_at_utc = excluded.posted_at_utc`,
		a.Text, a.PostedBy, a.PostedAtUtc,
	)
	return err
}

// GetAnnouncement returns the current banner. A never-set banner reads back
// as the zero value, not an error — there's nothing to 404 on.
func (s *Store) GetAnnouncement() (AnnouncementBanner, error) {
	var a AnnouncementBanner
	err := s.db.QueryRow(`SELECT text, posted_by, posted_at_utc FROM announcement_banner WHERE id = 1`).
		Scan(&a.Text, &a.PostedBy, &a.PostedAtUtc)
	if err == sql.ErrNoRows {
		return AnnouncementBanner{}, nil
	}
	return a, err
}
