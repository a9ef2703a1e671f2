// Package durable provides the optional disk-backed DurableStore used
// write-behind for warm starts. Payloads live in per-asset gzip files
// with a SHA-256 integrity check; a JSON index is synced periodically
// and on close.
package durable

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/utils"
)

const (
	indexFileName = "durable-index.json"
	syncInterval  = time.Minute
)

type indexEntry struct {
	Key      string    `json:"key"`
	FileName string    `json:"file_name"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
	Checksum string    `json:"checksum"`
}

// DiskStore implements types.DurableStore on the local filesystem. It is
// safe for concurrent use. When the byte cap is exceeded the oldest
// entries are dropped first.
type DiskStore struct {
	mu          sync.Mutex
	directory   string
	maxBytes    int64
	minEntry    int64
	currentSize int64
	index       map[string]*indexEntry
	dirty       bool
	logger      *utils.StructuredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewDiskStore opens or creates the store under cfg.Directory, loading
// any index left by a previous run. Entries whose backing file vanished
// are silently dropped from the index.
func NewDiskStore(cfg config.DurableConfig, logger *utils.StructuredLogger) (*DiskStore, error) {
	if cfg.Directory == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "durable directory cannot be empty")
	}
	maxBytes, err := config.ParseSize(cfg.MaxSize)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid durable max_size", err)
	}
	var minEntry int64
	if cfg.MinEntrySize != "" {
		minEntry, err = config.ParseSize(cfg.MinEntrySize)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid durable min_entry_size", err)
		}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDurableWrite, "failed to create durable directory", err)
	}

	s := &DiskStore{
		directory: cfg.Directory,
		maxBytes:  maxBytes,
		minEntry:  minEntry,
		index:     make(map[string]*indexEntry),
		logger:    logger.WithField("component", "durable-store"),
		stopCh:    make(chan struct{}),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Store writes a payload to disk, replacing any previous copy. Payloads
// below the minimum entry size are skipped without error; the durable
// tier is not worth a file per tiny asset.
func (s *DiskStore) Store(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payload) == 0 {
		return errors.New(errors.ErrCodeDurableWrite, "payload cannot be empty").
			WithContext("key", key)
	}
	if int64(len(payload)) < s.minEntry {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrCodeStoreClosed, "durable store is closed")
	}

	if old, exists := s.index[key]; exists {
		_ = os.Remove(filepath.Join(s.directory, old.FileName))
		s.currentSize -= old.Size
		delete(s.index, key)
	}

	entry := &indexEntry{
		Key:      key,
		FileName: fileNameFor(key),
		StoredAt: time.Now(),
		Checksum: checksum(payload),
	}

	onDisk, err := s.writeFile(entry.FileName, payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDurableWrite, "failed to write durable entry", err).
			WithContext("key", key)
	}
	entry.Size = onDisk

	s.index[key] = entry
	s.currentSize += onDisk
	s.dirty = true
	s.evictWhileOver()

	return nil
}

// Load reads a payload back, verifying its checksum. A missing key
// returns ErrCodeEntryNotFound; a corrupt file is removed and reported
// as ErrCodeCorruptEntry so the caller treats it as absent.
func (s *DiskStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "durable store is closed")
	}

	entry, exists := s.index[key]
	if !exists {
		return nil, errors.New(errors.ErrCodeEntryNotFound, "key not in durable store").
			WithContext("key", key)
	}

	payload, err := s.readFile(entry)
	if err != nil {
		s.dropLocked(entry)
		return nil, errors.Wrap(errors.ErrCodeCorruptEntry, "durable entry unreadable", err).
			WithContext("key", key)
	}
	return payload, nil
}

// Delete removes an entry. Deleting an absent key is not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrCodeStoreClosed, "durable store is closed")
	}

	if entry, exists := s.index[key]; exists {
		s.dropLocked(entry)
	}
	return nil
}

// Keys returns every stored key, oldest first, so warm-start loading
// fills the cache in storage order.
func (s *DiskStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.ErrCodeStoreClosed, "durable store is closed")
	}

	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	for i := 0; i < len(keys)-1; i++ {
		for j := i + 1; j < len(keys); j++ {
			if s.index[keys[i]].StoredAt.After(s.index[keys[j]].StoredAt) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys, nil
}

// Size returns the current on-disk byte footprint, index file excluded.
func (s *DiskStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// Close stops the sync goroutine and writes the index one last time.
// Close is idempotent.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndexLocked()
}

func (s *DiskStore) dropLocked(entry *indexEntry) {
	_ = os.Remove(filepath.Join(s.directory, entry.FileName))
	delete(s.index, entry.Key)
	s.currentSize -= entry.Size
	s.dirty = true
}

func (s *DiskStore) evictWhileOver() {
	for s.currentSize > s.maxBytes && len(s.index) > 0 {
		var oldest *indexEntry
		for _, entry := range s.index {
			if oldest == nil || entry.StoredAt.Before(oldest.StoredAt) {
				oldest = entry
			}
		}
		s.logger.Debug("evicting durable entry", map[string]interface{}{
			"key":  oldest.Key,
			"size": oldest.Size,
		})
		s.dropLocked(oldest)
	}
}

func (s *DiskStore) writeFile(name string, payload []byte) (int64, error) {
	path := filepath.Join(s.directory, name)
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	gz := gzip.NewWriter(file)
	if _, err := gz.Write(payload); err != nil {
		_ = gz.Close()
		_ = file.Close()
		_ = os.Remove(path)
		return 0, err
	}
	if err := gz.Close(); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return 0, err
	}

	stat, statErr := file.Stat()
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	if statErr != nil {
		return int64(len(payload)), nil
	}
	return stat.Size(), nil
}

func (s *DiskStore) readFile(entry *indexEntry) ([]byte, error) {
	file, err := os.Open(filepath.Join(s.directory, entry.FileName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	if checksum(payload) != entry.Checksum {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}

func (s *DiskStore) loadIndex() error {
	file, err := os.Open(filepath.Join(s.directory, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeDurableRead, "failed to open durable index", err)
	}
	defer func() { _ = file.Close() }()

	var entries map[string]*indexEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		// A mangled index means a fresh start, not a startup failure.
		s.logger.Warn("durable index unreadable, starting empty", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	for key, entry := range entries {
		if _, err := os.Stat(filepath.Join(s.directory, entry.FileName)); os.IsNotExist(err) {
			continue
		}
		s.index[key] = entry
		s.currentSize += entry.Size
	}
	return nil
}

func (s *DiskStore) saveIndexLocked() error {
	path := filepath.Join(s.directory, indexFileName)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDurableWrite, "failed to create durable index", err)
	}
	if err := json.NewEncoder(file).Encode(s.index); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrCodeDurableWrite, "failed to encode durable index", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrCodeDurableWrite, "failed to close durable index", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(errors.ErrCodeDurableWrite, "failed to replace durable index", err)
	}
	s.dirty = false
	return nil
}

func (s *DiskStore) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty {
				if err := s.saveIndexLocked(); err != nil {
					s.logger.Warn("durable index sync failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}
			s.mu.Unlock()
		}
	}
}

func fileNameFor(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x.gz", hash[:8])
}

func checksum(payload []byte) string {
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("%x", hash)
}
