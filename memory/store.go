package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists long-term facts per namespace. Load returns the facts
// previously saved under a namespace; implementations should treat a missing
// namespace as empty rather than an error. Save replaces the stored list
// wholesale.
type Store interface {
	Load(namespace string) ([]Fact, error)
	Save(namespace string, facts []Fact) error
}

// InMemoryStore keeps facts in process memory. Suitable for tests and
// short-lived contexts; nothing survives a restart.
type InMemoryStore struct {
	mu    sync.RWMutex
	facts map[string][]Fact
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{facts: make(map[string][]Fact)}
}

// Load implements Store.
func (s *InMemoryStore) Load(namespace string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.facts[namespace]
	if !ok {
		return nil, nil
	}
	out := make([]Fact, len(stored))
	copy(out, stored)
	return out, nil
}

// Save implements Store.
func (s *InMemoryStore) Save(namespace string, facts []Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]Fact, len(facts))
	copy(stored, facts)
	s.facts[namespace] = stored
	return nil
}

// FileStore persists facts as one JSON file per namespace under a base
// directory. Corrupt or unreadable files degrade to an empty fact list so a
// damaged store never blocks a context from starting.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements Store.
func (s *FileStore) Load(namespace string) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	var facts []Fact
	if err := json.Unmarshal(data, &facts); err != nil {
		// a corrupt file is treated as empty, not fatal
		return nil, nil
	}
	return facts, nil
}

// Save implements Store.
func (s *FileStore) Save(namespace string, facts []Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}

	path := s.path(namespace)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write facts: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace facts file: %w", err)
	}
	return nil
}

func (s *FileStore) path(namespace string) string {
	name := sanitizeNamespace(namespace)
	return filepath.Join(s.dir, name+".json")
}

// sanitizeNamespace maps a namespace onto a safe file name.
func sanitizeNamespace(namespace string) string {
	if namespace == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range namespace {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
