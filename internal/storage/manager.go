package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ProjectExt is the file extension of stored project documents.
const ProjectExt = ".cutroom"

// Manager handles file storage operations
type Manager struct {
	basePath string
	logger   *zap.Logger
	lock     *flock.Flock
}

// NewManager creates a new storage manager
func NewManager(basePath string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		basePath: basePath,
		logger:   logger,
		lock:     flock.New(filepath.Join(basePath, ".lock")),
	}
}

// Initialize creates the storage directory structure
func (m *Manager) Initialize() error {
	dirs := []string{
		m.ProjectsDir(),
		m.OutputsDir(),
		m.TempDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		m.logger.Debug("Created storage directory", zap.String("path", dir))
	}

	return nil
}

// Lock takes an exclusive lock on the storage root so that only one server
// process manages its temp directory. It fails if another process holds it.
func (m *Manager) Lock() error {
	ok, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock storage %s: %w", m.basePath, err)
	}
	if !ok {
		return fmt.Errorf("storage %s is in use by another process", m.basePath)
	}
	return nil
}

// Close releases the storage lock if held.
func (m *Manager) Close() error {
	if !m.lock.Locked() {
		return nil
	}
	return m.lock.Unlock()
}

// BasePath returns the storage root
func (m *Manager) BasePath() string {
	return m.basePath
}

// ProjectsDir returns the projects directory path
func (m *Manager) ProjectsDir() string {
	return filepath.Join(m.basePath, "projects")
}

// OutputsDir returns the outputs directory path
func (m *Manager) OutputsDir() string {
	return filepath.Join(m.basePath, "outputs")
}

// TempDir returns the temp directory path
func (m *Manager) TempDir() string {
	return filepath.Join(m.basePath, "temp")
}

// GetOutputPath returns the full path for an output file
func (m *Manager) GetOutputPath(filename string) string {
	return filepath.Join(m.OutputsDir(), filename)
}

// GetProjectPath returns the full path for a project file
func (m *Manager) GetProjectPath(projectID string) string {
	return filepath.Join(m.ProjectsDir(), projectID+ProjectExt)
}

// ReadProject returns the stored document of a project. A missing project
// yields an error satisfying os.IsNotExist.
func (m *Manager) ReadProject(projectID string) ([]byte, error) {
	return os.ReadFile(m.GetProjectPath(projectID))
}

// WriteProject stores a project document atomically.
func (m *Manager) WriteProject(projectID string, data []byte) error {
	path := m.GetProjectPath(projectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write project: %w", err)
	}
	return nil
}

// ListProjectIDs returns the ids of all stored projects, sorted.
func (m *Manager) ListProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(m.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ProjectExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ProjectExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteProject deletes a project file
func (m *Manager) DeleteProject(projectID string) error {
	return m.DeleteFile(m.GetProjectPath(projectID))
}

// DeleteFile removes a file
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ClearTemp removes everything left in the temp directory, typically by a
// previous process that did not shut down cleanly. It returns the number of
// removed entries.
func (m *Manager) ClearTemp() (int, error) {
	return m.clearDir(m.TempDir(), time.Time{})
}

// CleanupOutputs removes output files last modified before now-maxAge.
func (m *Manager) CleanupOutputs(maxAge time.Duration) (int, error) {
	return m.clearDir(m.OutputsDir(), time.Now().Add(-maxAge))
}

func (m *Manager) clearDir(dir string, before time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if !before.IsZero() {
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(before) {
				continue
			}
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("Failed to delete file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("Cleaned storage directory", zap.String("dir", dir), zap.Int("removed", removed))
	}
	return removed, nil
}
