package lock

import (
	"testing"
)

func TestAcquireThenSecondFails(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("second Acquire succeeded, want ErrHeld")
	}
	if _, ok := err.(*ErrHeld); !ok {
		t.Errorf("second Acquire err = %T, want *ErrHeld", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer second.Release()
}
