package wordchain

import (
	"testing"
	"time"
)

func TestStartCreatesSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry()
	r.Now = func() time.Time { return now }

	s := r.Start("g1", "")
	if s.LastWord != "start" || len(s.Players) != 0 || !s.StartedAt.Equal(now) {
		t.Fatalf("Start() = %#v", s)
	}
	if s.NextLetter() != "t" {
		t.Fatalf("NextLetter() = %q, want t", s.NextLetter())
	}
	got, ok := r.Get("g1")
	if !ok || got.LastWord != "start" {
		t.Fatalf("Get() = %#v, %v", got, ok)
	}
	if _, ok := r.Get("other"); ok {
		t.Fatalf("Get(other) expected no session")
	}
}

func TestStartOverwritesExistingSession(t *testing.T) {
	r := NewRegistry()
	r.sessions["g1"] = Session{LastWord: "apple", Players: []string{"a", "b"}}

	r.Start("g1", "c@c.us")
	got, _ := r.Get("g1")
	if got.LastWord != "start" || len(got.Players) != 1 || got.Players[0] != "c@c.us" {
		t.Fatalf("session after restart = %#v, want fresh", got)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestZeroRegistryIsUsable(t *testing.T) {
	var r Registry
	r.Start("g1", "")
	if _, ok := r.Get("g1"); !ok {
		t.Fatalf("Get() expected session on zero-value registry")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Start("g1", "a@c.us")
	got, _ := r.Get("g1")
	got.Players[0] = "mallory"
	again, _ := r.Get("g1")
	if again.Players[0] != "a@c.us" {
		t.Fatalf("players changed through Get(): %v", again.Players)
	}
}

func TestNextLetterEmpty(t *testing.T) {
	if got := (Session{}).NextLetter(); got != "" {
		t.Fatalf("NextLetter() = %q, want empty", got)
	}
}
