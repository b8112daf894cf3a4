package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	apperrors "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"
)

// Store reads and writes a single watermark per source
type Store interface {
	// Load returns the stored watermark. ok is false when nothing usable is
	// stored; err is non-nil only to explain why a present file was unusable.
	Load(sourceID string) (watermark int64, ok bool, err error)
	// Save overwrites the watermark durably
	Save(sourceID string, watermark int64) error
	// Delete removes the stored watermark, if any
	Delete(sourceID string) error
}

// FileStore keeps one file per source under dir
type FileStore struct {
	dir    string
	logger logger.Logger
}

// NewFileStore creates the checkpoint directory if needed
func NewFileStore(dir string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, logger: log}, nil
}

// Path returns the checkpoint file for a source
func (s *FileStore) Path(sourceID string) (string, error) {
	if sourceID == "" || sourceID == "." || sourceID == ".." || strings.ContainsAny(sourceID, `/\`) {
		return "", apperrors.New(apperrors.ErrorTypeCheckpoint, "invalid source id %q", sourceID)
	}
	return filepath.Join(s.dir, sourceID), nil
}

// Load reads the watermark for sourceID
func (s *FileStore) Load(sourceID string) (int64, bool, error) {
	path, err := s.Path(sourceID)
	if err != nil {
		return 0, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, apperrors.Wrap(apperrors.ErrorTypeCheckpoint, err, "failed to read checkpoint %s", path)
	}

	watermark, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrorTypeCheckpoint, err, "corrupt checkpoint %s", path)
	}

	s.logger.DebugWithFields("checkpoint loaded", map[string]interface{}{
		"source":    sourceID,
		"watermark": watermark,
	})
	return watermark, true, nil
}

// Save writes the watermark atomically
func (s *FileStore) Save(sourceID string, watermark int64) error {
	path, err := s.Path(sourceID)
	if err != nil {
		return err
	}

	file, err := os.CreateTemp(s.dir, "."+sourceID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.WriteString(strconv.FormatInt(watermark, 10)); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	// Ensure data is written to disk
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	syncDir(s.dir)

	s.logger.DebugWithFields("checkpoint saved", map[string]interface{}{
		"source":    sourceID,
		"watermark": watermark,
	})
	return nil
}

// Delete removes the checkpoint file
func (s *FileStore) Delete(sourceID string) error {
	path, err := s.Path(sourceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.logger.InfoWithFields("checkpoint deleted", map[string]interface{}{"source": sourceID})
	return nil
}

// syncDir makes the rename durable. Not every platform supports fsync on a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]int64

	// SaveError, when set, is returned by Save
	SaveError error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]int64)}
}

func (m *MemoryStore) Load(sourceID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[sourceID]
	return v, ok, nil
}

func (m *MemoryStore) Save(sourceID string, watermark int64) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[sourceID] = watermark
	return nil
}

func (m *MemoryStore) Delete(sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, sourceID)
	return nil
}
