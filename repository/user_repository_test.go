package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"pizzaRun/internal/clock"
	"pizzaRun/internal/testutil"
	"pizzaRun/models"
)

func TestUserEnsure_Idempotent(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "users")
	clk := clock.NewMock(t0)
	users := NewUserRepository(d, clk)
	ctx := context.Background()

	u1, err := users.Ensure(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	clk.Advance(time.Hour)
	u2, err := users.Ensure(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if !u1.CreatedAt.Equal(u2.CreatedAt) {
		t.Fatalf("created_at changed: %s -> %s", u1.CreatedAt, u2.CreatedAt)
	}
	if _, err := users.Ensure(ctx, ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := users.GetByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "sessions")
	clk := clock.NewMock(t0)
	ctx := context.Background()
	_, _ = NewUserRepository(d, clk).Ensure(ctx, "alice")
	sessions := NewSessionRepository(d, clk)

	s, err := sessions.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	active, err := sessions.GetActiveByUser(ctx, "alice")
	if err != nil || active.ID != s.ID {
		t.Fatalf("GetActiveByUser = %+v err=%v", active, err)
	}

	clk.Advance(10 * time.Minute)
	idle, err := sessions.ListIdle(ctx, clk.Now().Add(-5*time.Minute))
	if err != nil || len(idle) != 1 {
		t.Fatalf("ListIdle = %d err=%v", len(idle), err)
	}
	if err := sessions.Touch(ctx, s.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	idle, _ = sessions.ListIdle(ctx, clk.Now().Add(-5*time.Minute))
	if len(idle) != 0 {
		t.Fatalf("touched session still idle")
	}

	if err := sessions.Close(ctx, s.ID, models.SessionStatusActive); err == nil {
		t.Fatalf("expected error closing as active")
	}
	if err := sessions.Close(ctx, s.ID, models.SessionStatusTimeout); err != nil {
		t.Fatalf("close: %v", err)
	}
	// a closed session is never reopened or re-closed
	if err := sessions.Close(ctx, s.ID, models.SessionStatusEnded); err != nil {
		t.Fatalf("close again: %v", err)
	}
	got, _ := sessions.GetByID(ctx, s.ID)
	if got.Status != models.SessionStatusTimeout || got.EndedAt == nil {
		t.Fatalf("unexpected session: %+v", got)
	}
	if _, err := sessions.GetActiveByUser(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestTokens_RegisterAndList(t *testing.T) {
	d := testutil.OpenInMemoryDB(t, "tokens")
	ctx := context.Background()
	users := NewUserRepository(d, nil)
	_, _ = users.Ensure(ctx, "alice")
	_, _ = users.Ensure(ctx, "bob")
	tokens := NewTokenRepository(d, nil)

	for _, tc := range []struct{ user, token string }{
		{"alice", "tok-a"},
		{"alice", " tok-a "},
		{"bob", "tok-b"},
		{"bob", "tok-a"},
	} {
		if err := tokens.Register(ctx, tc.user, tc.token); err != nil {
			t.Fatalf("register %v: %v", tc, err)
		}
	}
	if err := tokens.Register(ctx, "alice", "  "); err == nil {
		t.Fatalf("expected error for blank token")
	}
	all, err := tokens.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0] != "tok-a" || all[1] != "tok-b" {
		t.Fatalf("ListAll = %v", all)
	}
}
