// Package storage persists pipeline run summaries. The store keeps run
// history in memory behind a RWMutex and persists it to a JSON file with
// atomic writes, rotating the oldest runs out once the configured limit is
// reached, so repeated runs never grow the file without bound.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Store provides thread-safe run-summary storage with file persistence.
type Store struct {
	runs []models.RunSummary // ordered oldest first
	mu   sync.RWMutex

	maxRuns         int
	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// persistenceFile is the on-disk JSON layout.
type persistenceFile struct {
	Version string              `json:"version"`
	SavedAt time.Time           `json:"saved_at"`
	Runs    []models.RunSummary `json:"runs"`
}

// New creates a store persisting to filePath. An empty path falls back to
// an OS-appropriate tmp location.
func New(maxRuns int, filePath string, filePermissions, dirPermissions os.FileMode) *Store {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "qalyboot", "runs.json")
	}
	return &Store{
		runs:            make([]models.RunSummary, 0),
		maxRuns:         maxRuns,
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// AddRun validates and appends a run, rotating the oldest runs out when the
// history exceeds the limit.
func (s *Store) AddRun(run *models.RunSummary) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.runs {
		if existing.RunID == run.RunID {
			return fmt.Errorf("run already stored: %s", run.RunID)
		}
	}

	s.runs = append(s.runs, *run)
	sort.Slice(s.runs, func(i, j int) bool {
		return s.runs[i].CreatedAt.Before(s.runs[j].CreatedAt)
	})
	if s.maxRuns > 0 && len(s.runs) > s.maxRuns {
		s.runs = s.runs[len(s.runs)-s.maxRuns:]
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.runs {
		if s.runs[i].RunID == id {
			run := s.runs[i]
			return &run, nil
		}
	}
	return nil, fmt.Errorf("run not found: %s", id)
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun() (*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, fmt.Errorf("no runs stored")
	}
	run := s.runs[len(s.runs)-1]
	return &run, nil
}

// AllRuns returns the stored history, oldest first.
func (s *Store) AllRuns() []models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RunSummary, len(s.runs))
	copy(out, s.runs)
	return out
}

// Save persists the history to file. The write goes to a temporary file
// first and is renamed into place, so a crash never corrupts the store.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := persistenceFile{
		Version: "1.0",
		SavedAt: time.Now(),
		Runs:    s.runs,
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal runs: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Load restores the history from file. A missing file starts fresh; a stale
// temporary file from an earlier crash is removed.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}

	jsonData, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data persistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal runs: %w", err)
	}

	s.runs = data.Runs
	if s.runs == nil {
		s.runs = make([]models.RunSummary, 0)
	}
	sort.Slice(s.runs, func(i, j int) bool {
		return s.runs[i].CreatedAt.Before(s.runs[j].CreatedAt)
	})
	return nil
}
