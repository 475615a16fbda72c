package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutroom/backend/internal/apperr"
	"github.com/cutroom/backend/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	op := models.Operation{
		ID:          "op-1",
		Type:        models.OperationTypeMerge,
		State:       models.OperationStateFailed,
		Progress:    40,
		Error:       "engine failed",
		ErrorKind:   "engine_runtime",
		CreatedAt:   created,
		CompletedAt: &done,
	}
	if err := s.Record(ctx, op); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := s.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Type != op.Type || got.State != op.State || got.Progress != 40 || got.ErrorKind != "engine_runtime" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.CompletedAt)
	}
	if got.OutputPath != "" {
		t.Errorf("OutputPath = %q, want empty", got.OutputPath)
	}

	// Recording again replaces the row.
	op.State = models.OperationStateCompleted
	op.Error, op.ErrorKind = "", ""
	if err := s.Record(ctx, op); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, _ = s.Get(ctx, "op-1")
	if got.State != models.OperationStateCompleted || got.Error != "" {
		t.Errorf("after replace Get() = %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, apperr.NotFound) {
		t.Errorf("Get() error = %v, want not found", err)
	}
}

func TestListAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		created := base.Add(time.Duration(i) * time.Hour)
		done := created.Add(time.Minute)
		if err := s.Record(ctx, models.Operation{
			ID: id, Type: models.OperationTypeTrim, State: models.OperationStateCompleted,
			CreatedAt: created, CompletedAt: &done,
		}); err != nil {
			t.Fatalf("Record(%s) error = %v", id, err)
		}
	}

	ops, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 2 || ops[0].ID != "c" || ops[1].ID != "b" {
		t.Errorf("List(2) = %+v", ops)
	}

	n, err := s.Prune(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("Prune() = %d, %v, want 2", n, err)
	}
	ops, _ = s.List(ctx, 0)
	if len(ops) != 1 || ops[0].ID != "c" {
		t.Errorf("List() after prune = %+v", ops)
	}
}
