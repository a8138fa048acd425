package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cryptoforum/backend/internal/session/domain"
)

func newSession(id, userID string) *domain.Session {
	return &domain.Session{ID: id, UserID: userID, TokenID: "jti-" + id, CreatedAt: time.Now().UTC()}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	if err := r.Create(ctx, newSession("s1", "u1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	byID, err := r.GetByID(ctx, "s1")
	if err != nil || byID == nil || byID.UserID != "u1" {
		t.Fatalf("GetByID: got %+v, %v", byID, err)
	}
	byUser, err := r.GetByUser(ctx, "u1")
	if err != nil || byUser == nil || byUser.ID != "s1" {
		t.Fatalf("GetByUser: got %+v, %v", byUser, err)
	}
	missing, err := r.GetByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByID missing: got %+v, %v", missing, err)
	}
}

func TestMemoryRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newSession("s1", "u1"))
	if err := r.Create(ctx, newSession("s2", "u1")); !errors.Is(err, domain.ErrDuplicateSession) {
		t.Fatalf("Create second session for user: want ErrDuplicateSession, got %v", err)
	}
	if n := r.CountByUser("u1"); n != 1 {
		t.Errorf("sessions for u1 = %d, want 1", n)
	}
}

func TestMemoryRepository_ReplaceKeepsOnePerUser(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	for _, id := range []string{"s1", "s2", "s3"} {
		if err := r.Replace(ctx, newSession(id, "u1")); err != nil {
			t.Fatalf("Replace %s: %v", id, err)
		}
	}
	if n := r.CountByUser("u1"); n != 1 {
		t.Fatalf("sessions for u1 = %d, want 1", n)
	}
	if s, _ := r.GetByID(ctx, "s1"); s != nil {
		t.Error("s1 should be gone after replacement")
	}
	if s, _ := r.GetByUser(ctx, "u1"); s == nil || s.ID != "s3" {
		t.Errorf("current session = %+v, want s3", s)
	}
}

func TestMemoryRepository_Rotate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newSession("s1", "u1"))

	if err := r.Rotate(ctx, "s1", newSession("s2", "u1")); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := r.Rotate(ctx, "s1", newSession("s3", "u1")); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Rotate stale session: want ErrSessionNotFound, got %v", err)
	}
	if err := r.Rotate(ctx, "s2", newSession("s4", "u2")); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("Rotate across users: want ErrSessionNotFound, got %v", err)
	}
	if s, _ := r.GetByUser(ctx, "u1"); s == nil || s.ID != "s2" {
		t.Errorf("current session = %+v, want s2", s)
	}
}

func TestMemoryRepository_RotateRace(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newSession("s0", "u1"))

	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Rotate(ctx, "s0", newSession("next-"+string(rune('a'+i)), "u1"))
		}(i)
	}
	wg.Wait()
	close(errs)
	won := 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, domain.ErrSessionNotFound):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want 1", won)
	}
	if n := r.CountByUser("u1"); n != 1 {
		t.Errorf("sessions for u1 = %d, want 1", n)
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Create(ctx, newSession("s1", "u1"))
	_ = r.Create(ctx, newSession("s2", "u2"))

	if n, err := r.DeleteByUser(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("DeleteByUser: n=%d err=%v", n, err)
	}
	if n, err := r.DeleteByUser(ctx, "u1"); err != nil || n != 0 {
		t.Fatalf("DeleteByUser again: n=%d err=%v", n, err)
	}
	if n, err := r.DeleteByID(ctx, "s2"); err != nil || n != 1 {
		t.Fatalf("DeleteByID: n=%d err=%v", n, err)
	}
	if s, _ := r.GetByUser(ctx, "u2"); s != nil {
		t.Error("u2 session should be gone")
	}
	if n, _ := r.DeleteByID(ctx, "s2"); n != 0 {
		t.Errorf("DeleteByID again: n=%d, want 0", n)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	s := newSession("s1", "u1")
	_ = r.Create(ctx, s)
	s.TokenID = "mutated"
	got, _ := r.GetByID(ctx, "s1")
	if got.TokenID != "jti-s1" {
		t.Errorf("stored session mutated through caller pointer: %q", got.TokenID)
	}
}
