package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scenergy/scenesync/internal/events"
)

// snapshotFile wraps a snapshot with integrity metadata on disk.
type snapshotFile struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Checksum      string    `json:"checksum,omitempty"`
	Snapshot      *Snapshot `json:"snapshot"`
}

// JSONStore implements file-based snapshot storage, one file per
// client under a base directory.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based snapshot store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = events.Discard()
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_snapshot_store"),
	}, nil
}

// Load reads a snapshot from its JSON file.
func (s *JSONStore) Load(clientID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.snapshotPath(clientID)

	s.logger.WithFields(map[string]interface{}{
		"client_id": clientID,
		"path":      path,
	}).Debug("Loading snapshot")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrSnapshotNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var wrapper snapshotFile
	if err := json.Unmarshal(data, &wrapper); err != nil {
		if snap, err := s.loadBackup(clientID); err == nil {
			s.logger.Warn("Loaded snapshot from backup due to corruption")
			return snap, nil
		}
		return nil, ErrSnapshotCorrupt
	}

	if wrapper.Checksum != "" {
		verification := wrapper
		verification.Checksum = ""
		verifyData, _ := json.Marshal(verification)
		hash := sha256.Sum256(verifyData)
		calculated := hex.EncodeToString(hash[:])

		if calculated != wrapper.Checksum {
			s.logger.WithFields(map[string]interface{}{
				"expected": wrapper.Checksum,
				"actual":   calculated,
			}).Error("Snapshot checksum mismatch")

			if snap, err := s.loadBackup(clientID); err == nil {
				s.logger.Warn("Loaded snapshot from backup due to corruption")
				return snap, nil
			}
			return nil, ErrSnapshotCorrupt
		}
	}

	if wrapper.Snapshot == nil {
		return nil, ErrSnapshotCorrupt
	}

	if wrapper.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", wrapper.SchemaVersion).Warn("Snapshot schema version mismatch")
	}

	return wrapper.Snapshot, nil
}

// Save writes a snapshot atomically, keeping the previous file as a
// backup.
func (s *JSONStore) Save(clientID string, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(clientID)

	s.logger.WithFields(map[string]interface{}{
		"client_id":    clientID,
		"pending_jobs": len(snap.PendingJobs),
	}).Debug("Saving snapshot")

	wrapper := snapshotFile{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Snapshot:      snap,
	}

	checksumData, err := json.Marshal(wrapper)
	if err != nil {
		return fmt.Errorf("marshal snapshot for checksum: %w", err)
	}

	hash := sha256.Sum256(checksumData)
	wrapper.Checksum = hex.EncodeToString(hash[:])

	jsonData, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		backupPath := path + ".backup"
		if err := s.copyFile(path, backupPath); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot file: %w", err)
	}

	return nil
}

// Reset removes the snapshot for a client.
func (s *JSONStore) Reset(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("client_id", clientID).Info("Resetting snapshot")

	path := s.snapshotPath(clientID)
	_ = os.Remove(path)
	_ = os.Remove(path + ".backup")

	return nil
}

// List returns all client IDs with a stored snapshot.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var clientIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".json" {
			clientIDs = append(clientIDs, strings.TrimSuffix(name, ".json"))
		}
	}

	return clientIDs, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) snapshotPath(clientID string) string {
	return filepath.Join(s.baseDir, clientID+".json")
}

func (s *JSONStore) loadBackup(clientID string) (*Snapshot, error) {
	backupPath := s.snapshotPath(clientID) + ".backup"

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, err
	}

	var wrapper snapshotFile
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Snapshot == nil {
		return nil, ErrSnapshotCorrupt
	}

	return wrapper.Snapshot, nil
}

func (s *JSONStore) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
