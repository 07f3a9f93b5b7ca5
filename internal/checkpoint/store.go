// Package checkpoint persists source offsets between runs of the source
// connector.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/jittakal/kafcsvconnect/pkg/connector"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ connector.OffsetReader = (*FileStore)(nil)
	_ connector.OffsetWriter = (*FileStore)(nil)
)

// DefaultFileName is the name of the checkpoint file inside its directory.
const DefaultFileName = "offsets.json"

// Config contains checkpoint store configuration.
type Config struct {
	Dir      string
	FileName string
}

// entry is one persisted source partition with its latest offset.
type entry struct {
	Partition map[string]string `json:"partition"`
	Offset    map[string]any    `json:"offset"`
}

// FileStore keeps source offsets in memory and rewrites a JSON file on every
// commit. The file is replaced atomically, so a crash leaves either the old
// or the new content. FileStore is safe for concurrent use.
type FileStore struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]entry
}

// NewFileStore opens the checkpoint file under cfg.Dir, creating the
// directory when missing. An absent file starts an empty store.
func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	name := cfg.FileName
	if name == "" {
		name = DefaultFileName
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	s := &FileStore{
		path:    filepath.Join(cfg.Dir, name),
		logger:  logger,
		entries: make(map[string]entry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	logger.Info("checkpoint store opened", "path", s.path, "partitions", len(s.entries))
	return s, nil
}

// Offset returns the latest offset committed for sourcePartition.
func (s *FileStore) Offset(ctx context.Context, sourcePartition map[string]string) (map[string]any, bool, error) {
	key, err := partitionKey(sourcePartition)
	if err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(e.Offset), true, nil
}

// Commit stores offset as the latest position of sourcePartition and
// persists the store.
func (s *FileStore) Commit(ctx context.Context, sourcePartition map[string]string, offset map[string]any) error {
	key, err := partitionKey(sourcePartition)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, had := s.entries[key]
	s.entries[key] = entry{Partition: maps.Clone(sourcePartition), Offset: maps.Clone(offset)}
	if err := s.persist(); err != nil {
		if had {
			s.entries[key] = previous
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

// Len returns the number of source partitions with a stored offset.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.logger.Info("closing checkpoint store", "path", s.path)
	return nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	var entries []entry
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode checkpoint file %s: %w", s.path, err)
	}

	for _, e := range entries {
		key, err := partitionKey(e.Partition)
		if err != nil {
			return err
		}
		s.entries[key] = e
	}
	return nil
}

// persist must be called with s.mu held.
func (s *FileStore) persist() error {
	entries := make([]entry, 0, len(s.entries))
	for _, key := range sortedKeys(s.entries) {
		entries = append(entries, s.entries[key])
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".offsets-*.json")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// partitionKey is the canonical form of a source partition. encoding/json
// sorts map keys, so equal maps give equal keys.
func partitionKey(partition map[string]string) (string, error) {
	data, err := json.Marshal(partition)
	if err != nil {
		return "", fmt.Errorf("invalid source partition: %w", err)
	}
	return string(data), nil
}

func sortedKeys(entries map[string]entry) []string {
	return slices.Sorted(maps.Keys(entries))
}
