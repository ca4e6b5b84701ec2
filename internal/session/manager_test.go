package session

import (
	"testing"
)

// withGeneratedIDs replaces generateID for the duration of one test
// with a fixed sequence, restoring the real generator on return.
func withGeneratedIDs(t *testing.T, ids ...string) {
	t.Helper()
	orig := generateID
	i := 0
	generateID = func() (string, error) {
		id := ids[i]
		if i < len(ids)-1 {
			i++
		}
		return id, nil
	}
	t.Cleanup(func() { generateID = orig })
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
}

func TestNextSessionIDRetriesOnCollision(t *testing.T) {
	m := newTestManager(t)
	m.sessions["AAAAAAAA"] = &Session{ID: "AAAAAAAA"}
	withGeneratedIDs(t, "AAAAAAAA", "AAAAAAAA", "BBBBBBBB")

	id, err := m.nextSessionID()
	if err != nil {
		t.Fatalf("nextSessionID: %v", err)
	}
	if id != "BBBBBBBB" {
		t.Errorf("id = %q, want %q (should retry past the colliding draws)", id, "BBBBBBBB")
	}
}

func TestNextSessionIDGivesUpAfterRepeatedCollision(t *testing.T) {
	m := newTestManager(t)
	m.sessions["AAAAAAAA"] = &Session{ID: "AAAAAAAA"}
	withGeneratedIDs(t, "AAAAAAAA")

	_, err := m.nextSessionID()
	if err == nil {
		t.Fatal("nextSessionID: expected error when every draw collides")
	}
	if _, ok := err.(*SpawnFailed); !ok {
		t.Fatalf("err = %T, want *SpawnFailed", err)
	}
}

func TestNextSessionIDAcceptsFirstNonCollidingDraw(t *testing.T) {
	m := newTestManager(t)
	withGeneratedIDs(t, "CCCCCCCC")

	id, err := m.nextSessionID()
	if err != nil {
		t.Fatalf("nextSessionID: %v", err)
	}
	if id != "CCCCCCCC" {
		t.Errorf("id = %q, want %q", id, "CCCCCCCC")
	}
}
