package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scenergy/scenesync/internal/events"
)

const (
	// maxAssetSize caps a single written asset.
	maxAssetSize = 100 * 1024 * 1024

	// maxPathLength keeps asset paths portable across platforms.
	maxPathLength = 260
)

// LocalStore implements AssetStore on the local file system. Every
// asset lands under one base directory; names that would escape it
// are rejected.
type LocalStore struct {
	baseDir string
	logger  *events.Logger
}

// NewLocalStore creates an asset store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = events.Discard()
	}

	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir: absPath,
		logger:  logger.WithField("component", "asset_store"),
	}, nil
}

// Write saves an asset atomically and returns the path written.
func (s *LocalStore) Write(name string, data []byte) (string, error) {
	safePath, err := s.sanitizeName(name)
	if err != nil {
		return "", err
	}

	if int64(len(data)) > maxAssetSize {
		return "", fmt.Errorf("asset too large: %d bytes (max %d)", len(data), maxAssetSize)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tempPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"name": name,
		"size": len(data),
		"path": safePath,
	}).Debug("Asset written")

	return safePath, nil
}

// Exists reports whether an asset is already stored.
func (s *LocalStore) Exists(name string) bool {
	safePath, err := s.sanitizeName(name)
	if err != nil {
		return false
	}

	info, err := os.Stat(safePath)
	return err == nil && !info.IsDir()
}

// Read retrieves asset contents. Symlinks are refused so a planted
// link cannot read outside the base directory.
func (s *LocalStore) Read(name string) ([]byte, error) {
	safePath, err := s.sanitizeName(name)
	if err != nil {
		return nil, err
	}

	if stat, err := os.Lstat(safePath); err == nil && stat.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not allowed: %s", name)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("asset not found: %s", name)
		}
		return nil, fmt.Errorf("read asset: %w", err)
	}

	return data, nil
}

// sanitizeName validates an asset name and resolves it to an absolute
// path inside the base directory.
func (s *LocalStore) sanitizeName(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid asset name: contains null byte")
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid asset name: %q", name)
	}

	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset name: escapes base directory")
	}

	fullPath := filepath.Join(s.baseDir, cleaned)
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset name: escapes base directory")
	}

	if len(fullPath) > maxPathLength {
		return "", fmt.Errorf("asset path too long: %d characters (max %d)", len(fullPath), maxPathLength)
	}

	return fullPath, nil
}
