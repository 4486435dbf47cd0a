package batch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	b := New()

	if err := repo.Save(ctx, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != b.ID {
		t.Errorf("expected ID %s, got %s", b.ID, saved.ID)
	}
}

func TestMemoryRepository_Save_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	b := New()

	_ = repo.Save(ctx, b)
	_ = b.Start()

	saved, _ := repo.FindByID(ctx, b.ID)
	if saved.Status != StatusReceiving {
		t.Errorf("stored batch changed without Save: %s", saved.Status)
	}

	_ = repo.Save(ctx, b)
	saved, _ = repo.FindByID(ctx, b.ID)
	if saved.Status != StatusProcessing {
		t.Errorf("expected status %s, got %s", StatusProcessing, saved.Status)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	older := NewWithID("older")
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := NewWithID("newer")

	_ = repo.Save(ctx, older)
	_ = repo.Save(ctx, newer)

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(list))
	}
	if list[0].ID != "newer" || list[1].ID != "older" {
		t.Errorf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	b := New()
	_ = repo.Save(ctx, b)

	if err := repo.Delete(ctx, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, b.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, b.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestMemoryRepository_Concurrent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			b := New()
			_ = repo.Save(ctx, b)
			_, _ = repo.FindByID(ctx, b.ID)
			_, _ = repo.List(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}
