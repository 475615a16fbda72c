package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/apperr"
)

// TempState is a temp resource's lifecycle position.
type TempState string

const (
	TempReserved TempState = "reserved"
	TempWritten  TempState = "written"
	TempReleased TempState = "released"
)

// TempResource is an intermediate file owned by exactly one operation.
type TempResource struct {
	Path        string
	OperationID string
	State       TempState
}

// TempRegistry tracks every temp resource by owning operation. Resources are
// only handed out through a Scope, which guarantees release on Close.
type TempRegistry struct {
	dir    string
	logger *zap.Logger

	mu  sync.Mutex
	ops map[string]map[string]*TempResource
}

// NewTempRegistry creates a registry placing files under dir.
func NewTempRegistry(dir string, logger *zap.Logger) *TempRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TempRegistry{
		dir:    dir,
		logger: logger,
		ops:    make(map[string]map[string]*TempResource),
	}
}

// Acquire opens the resource scope of an operation.
func (r *TempRegistry) Acquire(operationID string) *Scope {
	return &Scope{reg: r, operationID: operationID}
}

// Outstanding returns the operation's resources that are not released yet,
// sorted by path.
func (r *TempRegistry) Outstanding(operationID string) []TempResource {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []TempResource
	for _, res := range r.ops[operationID] {
		if res.State != TempReleased {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// OutstandingCount returns the number of unreleased resources across all
// operations.
func (r *TempRegistry) OutstandingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, resources := range r.ops {
		for _, res := range resources {
			if res.State != TempReleased {
				n++
			}
		}
	}
	return n
}

func (r *TempRegistry) lookup(operationID, path string) (*TempResource, error) {
	res, ok := r.ops[operationID][path]
	if !ok {
		return nil, apperr.New(apperr.KindResource, "temp %s is not owned by operation %s", path, operationID)
	}
	if res.State == TempReleased {
		return nil, apperr.New(apperr.KindResource, "temp %s already released", path)
	}
	return res, nil
}

// Scope is one operation's handle on the registry. It is safe for
// concurrent use by the operation's stages.
type Scope struct {
	reg         *TempRegistry
	operationID string
}

// Reserve registers a new, not yet existing temp path with the given
// extension (".mp4").
func (s *Scope) Reserve(ext string) (string, error) {
	if err := os.MkdirAll(s.reg.dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.KindResource, err, "create temp directory")
	}
	path := filepath.Join(s.reg.dir, fmt.Sprintf("%s-%s%s", s.operationID, uuid.NewString(), ext))

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if s.reg.ops[s.operationID] == nil {
		s.reg.ops[s.operationID] = make(map[string]*TempResource)
	}
	s.reg.ops[s.operationID][path] = &TempResource{Path: path, OperationID: s.operationID, State: TempReserved}
	return path, nil
}

// MarkWritten records that the engine finished writing path.
func (s *Scope) MarkWritten(path string) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	res, err := s.reg.lookup(s.operationID, path)
	if err != nil {
		return err
	}
	if res.State != TempReserved {
		return apperr.New(apperr.KindResource, "temp %s is %s, want %s", path, res.State, TempReserved)
	}
	res.State = TempWritten
	return nil
}

// Release deletes path and marks it released. Each resource is released
// exactly once; a second release is an error.
func (s *Scope) Release(path string) error {
	s.reg.mu.Lock()
	res, err := s.reg.lookup(s.operationID, path)
	if err == nil {
		res.State = TempReleased
	}
	s.reg.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.KindResource, err, "remove temp %s", path)
	}
	return nil
}

// HandOff moves a written temp to its durable destination, releasing it
// from the registry.
func (s *Scope) HandOff(path, dest string) error {
	s.reg.mu.Lock()
	res, err := s.reg.lookup(s.operationID, path)
	if err == nil && res.State != TempWritten {
		err = apperr.New(apperr.KindResource, "temp %s is %s, want %s", path, res.State, TempWritten)
	}
	s.reg.mu.Unlock()
	if err != nil {
		return err
	}

	if err := moveFile(path, dest); err != nil {
		return apperr.Wrap(apperr.KindResource, err, "hand off %s to %s", path, dest)
	}

	s.reg.mu.Lock()
	res.State = TempReleased
	s.reg.mu.Unlock()
	return nil
}

// Close releases every resource of the operation that is still outstanding,
// whatever its state. With keepPartial, files stay on disk for inspection
// but are no longer tracked. The combined removal errors are
// returned as a resource error.
func (s *Scope) Close(keepPartial bool) error {
	s.reg.mu.Lock()
	resources := s.reg.ops[s.operationID]
	delete(s.reg.ops, s.operationID)
	s.reg.mu.Unlock()

	var errs error
	for _, res := range resources {
		if res.State == TempReleased {
			continue
		}
		res.State = TempReleased
		if keepPartial {
			if _, err := os.Stat(res.Path); err == nil {
				s.reg.logger.Info("Keeping partial temp output",
					zap.String("operation_id", s.operationID), zap.String("path", res.Path))
			}
			continue
		}
		if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return apperr.Wrap(apperr.KindResource, errs, "release temps of operation %s", s.operationID)
	}
	return nil
}

// moveFile renames src to dst, falling back to copy and remove when they
// are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
