package health

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go-proxy-rotator/internal/database/models"
)

// Persister is the durable side of the Store. Save always receives the full
// document; implementations overwrite, they never merge.
type Persister interface {
	Load() (*models.Snapshot, error)
	Save(snapshot *models.Snapshot) error
}

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	return &FileStore{path: path}, nil
}

func (fs *FileStore) Path() string {
	return fs.path
}

// Load returns an empty snapshot when the file does not exist yet.
func (fs *FileStore) Load() (*models.Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("reading store: %w", err)
	}

	snapshot := models.NewSnapshot()
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("parsing store: %w", err)
	}

	if snapshot.ProxyErrors == nil {
		snapshot.ProxyErrors = make(map[string]models.HealthRecord)
	}
	if snapshot.ProxyList == nil {
		snapshot.ProxyList = []string{}
	}

	return snapshot, nil
}

// Save writes to a temp file and renames it over the old one so a crash
// mid-write never leaves a truncated document behind.
func (fs *FileStore) Save(snapshot *models.Snapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}

	return nil
}

// MemoryStore is a Persister that never touches disk. SaveErr, when set, is
// returned from every Save.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot *models.Snapshot
	saves    int
	SaveErr  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snapshot == nil {
		return models.NewSnapshot(), nil
	}
	return cloneSnapshot(m.snapshot), nil
}

func (m *MemoryStore) Save(snapshot *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snapshot = cloneSnapshot(snapshot)
	m.saves++
	return nil
}

// Saves returns how many snapshots were written successfully.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneSnapshot(s *models.Snapshot) *models.Snapshot {
	out := &models.Snapshot{
		ProxyList:   append([]string{}, s.ProxyList...),
		ProxyErrors: make(map[string]models.HealthRecord, len(s.ProxyErrors)),
		LastUpdated: s.LastUpdated,
	}
	for k, v := range s.ProxyErrors {
		out.ProxyErrors[k] = v
	}
	return out
}
