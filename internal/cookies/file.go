package cookies

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileJar persists cookies as a JSON file, for command line use.
// The Jar interface has no error returns, so the first failed write is kept
// and reported by Err.
type FileJar struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	err    error
}

// NewFileJar returns a jar stored at path, creating the parent directory.
func NewFileJar(path string, logger *zap.Logger) (*FileJar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cookie dir: %w", err)
	}
	return &FileJar{path: path, logger: logger}, nil
}

// Err returns the first write error since the jar was opened.
func (j *FileJar) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *FileJar) load() map[string]fileEntry {
	entries := make(map[string]fileEntry)
	data, err := os.ReadFile(j.path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("read cookie file", zap.String("path", j.path), zap.Error(err))
		}
		return entries
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		j.logger.Warn("cookie file is corrupt, starting empty", zap.String("path", j.path), zap.Error(err))
		return make(map[string]fileEntry)
	}
	return entries
}

func (j *FileJar) save(entries map[string]fileEntry) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err == nil {
		err = os.WriteFile(j.path, data, 0o600)
	}
	if err != nil {
		j.logger.Warn("write cookie file", zap.String("path", j.path), zap.Error(err))
		if j.err == nil {
			j.err = fmt.Errorf("write cookies: %w", err)
		}
	}
}

// Get returns an unexpired value.
func (j *FileJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.load()[name]
	if !ok || !time.Now().Before(e.ExpiresAt) {
		return "", false
	}
	return e.Value, true
}

// Set stores value until ttl elapses.
func (j *FileJar) Set(name, value string, ttl time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.load()
	if ttl <= 0 {
		delete(entries, name)
	} else {
		entries[name] = fileEntry{Value: value, ExpiresAt: time.Now().Add(ttl)}
	}
	j.save(entries)
}

// Remove deletes the cookie.
func (j *FileJar) Remove(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.load()
	if _, ok := entries[name]; !ok {
		return
	}
	delete(entries, name)
	j.save(entries)
}
