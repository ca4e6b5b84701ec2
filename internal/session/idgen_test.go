package session

import (
	"strings"
	"testing"

	"github.com/midterm-hq/midterm/internal/wire"
)

func TestDefaultGenerateIDShapeAndAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		id, err := defaultGenerateID()
		if err != nil {
			t.Fatalf("defaultGenerateID: %v", err)
		}
		if len(id) != wire.SessionIDLen {
			t.Fatalf("len(id) = %d, want %d", len(id), wire.SessionIDLen)
		}
		for _, r := range id {
			if !strings.ContainsRune(idAlphabet, r) {
				t.Fatalf("id %q contains character %q outside idAlphabet", id, r)
			}
		}
	}
}

func TestDefaultGenerateIDVariesAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := defaultGenerateID()
		if err != nil {
			t.Fatalf("defaultGenerateID: %v", err)
		}
		seen[id] = true
	}
	if len(seen) < 45 {
		t.Errorf("got only %d distinct ids out of 50 draws, generator looks non-random", len(seen))
	}
}
