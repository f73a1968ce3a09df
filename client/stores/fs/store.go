// Package fs provides a file system-based key-value store for the client.
// Values are partitioned by backend origin, like browser local storage.
package fs

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/iam-ankon/TADREACT-sub005/client"
)

// FSStore stores values for every origin in one JSON file
type FSStore struct {
	mu      sync.RWMutex
	path    string
	origins map[string]map[string]string
}

// storageFile is the JSON structure stored on disk
type storageFile struct {
	Origins map[string]map[string]string `json:"origins"`
}

// NewFSStore creates a new FS-based store.
// If path is empty, defaults to ~/.config/<appName>/storage.json
func NewFSStore(path string, appName string) (*FSStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "supplierctl"
		}
		path = filepath.Join(configDir, appName, "storage.json")
	}

	store := &FSStore{
		path:    path,
		origins: make(map[string]map[string]string),
	}

	// Load existing values if the file exists
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// load reads values from disk
func (s *FSStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file storageFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse storage file: %w", err)
	}

	s.origins = file.Origins
	if s.origins == nil {
		s.origins = make(map[string]map[string]string)
	}

	return nil
}

// normalizeOrigin turns a backend URL into its scheme://host origin
func normalizeOrigin(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// ForOrigin returns a client.KeyValueStore scoped to the origin of serverURL
func (s *FSStore) ForOrigin(serverURL string) (client.KeyValueStore, error) {
	origin, err := normalizeOrigin(serverURL)
	if err != nil {
		return nil, err
	}
	return &originStore{fs: s, origin: origin}, nil
}

// Origins returns all origins with stored values
func (s *FSStore) Origins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.origins))
	for k := range s.origins {
		out = append(out, k)
	}
	return out
}

func (s *FSStore) get(origin, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origins[origin][key]
}

func (s *FSStore) set(origin, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.origins[origin][key]; ok && cur == value {
		return nil
	}
	next := s.cloneLocked(origin)
	if next[origin] == nil {
		next[origin] = make(map[string]string)
	}
	next[origin][key] = value
	return s.commitLocked(next)
}

func (s *FSStore) delete(origin, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.origins[origin][key]; !ok {
		return nil
	}
	next := s.cloneLocked(origin)
	delete(next[origin], key)
	if len(next[origin]) == 0 {
		delete(next, origin)
	}
	return s.commitLocked(next)
}

// cloneLocked copies the origin table, deep-copying only the origin about
// to change. Caller must hold s.mu
func (s *FSStore) cloneLocked(origin string) map[string]map[string]string {
	next := make(map[string]map[string]string, len(s.origins)+1)
	for o, values := range s.origins {
		next[o] = values
	}
	if values, ok := s.origins[origin]; ok {
		next[origin] = maps.Clone(values)
	}
	return next
}

// commitLocked writes next to disk and adopts it only once the write
// succeeded. Caller must hold s.mu
func (s *FSStore) commitLocked(next map[string]map[string]string) error {
	if err := s.save(next); err != nil {
		return err
	}
	s.origins = next
	return nil
}

// save persists origins to disk
func (s *FSStore) save(origins map[string]map[string]string) error {
	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := storageFile{Origins: origins}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	return nil
}

// Path returns the path to the storage file
func (s *FSStore) Path() string {
	return s.path
}

// originStore is the per-origin view handed to the gateway
type originStore struct {
	fs     *FSStore
	origin string
}

func (o *originStore) Get(key string) (string, error) {
	return o.fs.get(o.origin, key), nil
}

func (o *originStore) Set(key, value string) error {
	return o.fs.set(o.origin, key, value)
}

func (o *originStore) Delete(key string) error {
	return o.fs.delete(o.origin, key)
}
