package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mcdev12/cardsync/go/internal/models"
)

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "ABCD", "player-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, ok, err := s.Get(ctx, "ABCD")
	if err != nil || !ok || got != "player-1" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}

	if err := s.Delete(ctx, "ABCD"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "ABCD"); ok {
		t.Fatal("session should be gone after delete")
	}
}

func TestSessionsNeverSilentlyOverwrite(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessions(NewMemoryStore())

	first := models.PlayerSession{MatchCode: "ABCD", PlayerID: "p1"}
	if err := sessions.Remember(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := sessions.Remember(ctx, first); err != nil {
		t.Fatalf("remembering the same pair twice must be a no-op: %v", err)
	}

	err := sessions.Remember(ctx, models.PlayerSession{MatchCode: "ABCD", PlayerID: "p2"})
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	got, _, _ := sessions.Lookup(ctx, "ABCD")
	if got.PlayerID != "p1" {
		t.Fatalf("stored id changed to %q", got.PlayerID)
	}

	if err := sessions.Replace(ctx, models.PlayerSession{MatchCode: "ABCD", PlayerID: "p2"}); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := sessions.Lookup(ctx, "ABCD")
	if !ok || got.PlayerID != "p2" {
		t.Fatalf("Replace did not take effect: %+v", got)
	}
}

func TestSessionsRejectBlankKeys(t *testing.T) {
	sessions := NewSessions(NewMemoryStore())
	if err := sessions.Remember(context.Background(), models.PlayerSession{MatchCode: "ABCD"}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
