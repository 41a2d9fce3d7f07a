package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// SQLiteStore implements SQLite-based snapshot storage. The workspace
// tree is stored as a JSON payload per client; pending jobs get their
// own table so they can be listed without decoding the tree.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite snapshot store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = events.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// _fk is a connection parameter so every pooled connection
	// enforces foreign keys.
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_snapshot_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS snapshots (
        client_id TEXT PRIMARY KEY,
        payload TEXT NOT NULL,
        fetched_at TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS pending_jobs (
        job_id TEXT PRIMARY KEY,
        client_id TEXT NOT NULL,
        product_id TEXT NOT NULL,
        session_id TEXT NOT NULL,
        message_id TEXT NOT NULL,
        created_at TIMESTAMP,
        FOREIGN KEY (client_id) REFERENCES snapshots(client_id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_pending_jobs_client ON pending_jobs(client_id);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load retrieves a snapshot from the database.
func (s *SQLiteStore) Load(clientID string) (*Snapshot, error) {
	s.logger.WithField("client_id", clientID).Debug("Loading snapshot from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload string
	var fetchedAt sql.NullTime

	err = tx.QueryRow(`
        SELECT payload, fetched_at
        FROM snapshots
        WHERE client_id = ?
    `, clientID).Scan(&payload, &fetchedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	snap := &Snapshot{}
	if fetchedAt.Valid {
		snap.FetchedAt = fetchedAt.Time
	}

	var client models.Client
	if err := json.Unmarshal([]byte(payload), &client); err != nil {
		s.logger.WithError(err).WithField("client_id", clientID).Error("Snapshot payload is not valid JSON")
		return nil, ErrSnapshotCorrupt
	}
	snap.Client = &client

	rows, err := tx.Query(`
        SELECT job_id, client_id, product_id, session_id, message_id, created_at
        FROM pending_jobs
        WHERE client_id = ?
        ORDER BY created_at, job_id
    `, clientID)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var job PendingJob
		var createdAt sql.NullTime
		if err := rows.Scan(&job.JobID, &job.ClientID, &job.ProductID, &job.SessionID, &job.MessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		if createdAt.Valid {
			job.CreatedAt = createdAt.Time
		}
		snap.PendingJobs = append(snap.PendingJobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}

	return snap, nil
}

// Save persists a snapshot to the database.
func (s *SQLiteStore) Save(clientID string, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	s.logger.WithFields(map[string]interface{}{
		"client_id":    clientID,
		"pending_jobs": len(snap.PendingJobs),
	}).Debug("Saving snapshot to SQLite")

	payload, err := json.Marshal(snap.Client)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
        INSERT INTO snapshots (client_id, payload, fetched_at, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(client_id) DO UPDATE SET
            payload = excluded.payload,
            fetched_at = excluded.fetched_at,
            updated_at = CURRENT_TIMESTAMP
    `, clientID, string(payload), snap.FetchedAt)

	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	_, err = tx.Exec("DELETE FROM pending_jobs WHERE client_id = ?", clientID)
	if err != nil {
		return fmt.Errorf("delete old pending jobs: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO pending_jobs (job_id, client_id, product_id, session_id, message_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, job := range snap.PendingJobs {
		if _, err := stmt.Exec(job.JobID, clientID, job.ProductID, job.SessionID, job.MessageID, job.CreatedAt); err != nil {
			return fmt.Errorf("insert pending job %s: %w", job.JobID, err)
		}
	}

	return tx.Commit()
}

// Reset removes the snapshot for a client.
func (s *SQLiteStore) Reset(clientID string) error {
	s.logger.WithField("client_id", clientID).Info("Resetting snapshot in SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM pending_jobs WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("delete pending jobs: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM snapshots WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	return tx.Commit()
}

// List returns all client IDs with a stored snapshot.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT client_id FROM snapshots ORDER BY client_id")
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var clientIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan client ID: %w", err)
		}
		clientIDs = append(clientIDs, id)
	}

	return clientIDs, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
