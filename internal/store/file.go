package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"fieldsync-service/internal/logger"
)

const (
	queueFile    = "queue.json"
	metadataFile = "metadata.json"
	changesFile  = "changes.json"
	historyFile  = "history.json"
)

// FileStore persists each collection as a JSON document under an
// application-private directory. Missing or corrupt documents degrade to
// empty defaults rather than failing startup.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) LoadQueue(ctx context.Context) ([]PendingOperation, error) {
	var ops []PendingOperation
	s.load(queueFile, &ops)
	return ops, nil
}

func (s *FileStore) SaveQueue(ctx context.Context, ops []PendingOperation) error {
	return s.save(queueFile, ops)
}

func (s *FileStore) LoadMetadata(ctx context.Context) (*SyncMetadata, error) {
	var meta SyncMetadata
	s.load(metadataFile, &meta)
	return &meta, nil
}

func (s *FileStore) SaveMetadata(ctx context.Context, meta *SyncMetadata) error {
	return s.save(metadataFile, meta)
}

func (s *FileStore) LoadChanges(ctx context.Context) ([]TrackedChange, error) {
	var changes []TrackedChange
	s.load(changesFile, &changes)
	return changes, nil
}

func (s *FileStore) SaveChanges(ctx context.Context, changes []TrackedChange) error {
	return s.save(changesFile, changes)
}

func (s *FileStore) AppendHistory(ctx context.Context, h *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []SyncHistory
	s.loadLocked(historyFile, &history)
	history = append(history, *h)
	return s.saveLocked(historyFile, history)
}

func (s *FileStore) ListHistory(ctx context.Context, limit int) ([]SyncHistory, error) {
	var history []SyncHistory
	s.load(historyFile, &history)

	// Newest first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (s *FileStore) load(name string, out interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(name, out)
}

// loadLocked reads a JSON document into out. A missing file is normal on
// first run; a corrupt file is logged and treated as empty.
func (s *FileStore) loadLocked(name string, out interface{}) {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Log.Warn("Failed to read store document, starting empty",
				zap.String("file", name), zap.Error(err))
		}
		return
	}

	if err := json.Unmarshal(data, out); err != nil {
		logger.Log.Warn("Corrupt store document, starting empty",
			zap.String("file", name), zap.Error(err))
	}
}

func (s *FileStore) save(name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(name, v)
}

// saveLocked writes to a temp file and renames it into place so readers
// never observe a partially written document.
func (s *FileStore) saveLocked(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
