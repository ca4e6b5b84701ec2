package hostproc

import "testing"

func TestExtractTitleBelTerminated(t *testing.T) {
	chunk := []byte("\x1b]0;hello world\x07prompt$ ")
	title, ok := extractTitle(chunk)
	if !ok {
		t.Fatal("expected a title")
	}
	if title != "hello world" {
		t.Errorf("title = %q, want %q", title, "hello world")
	}
}

func TestExtractTitleNoSequence(t *testing.T) {
	_, ok := extractTitle([]byte("just some plain output\n"))
	if ok {
		t.Error("expected no title found")
	}
}

func TestExtractTitleReturnsLastOfMultiple(t *testing.T) {
	chunk := []byte("\x1b]2;first\x07middle\x1b]2;second\x07tail")
	title, ok := extractTitle(chunk)
	if !ok {
		t.Fatal("expected a title")
	}
	if title != "second" {
		t.Errorf("title = %q, want %q", title, "second")
	}
}

func TestExtractTitleIncompleteSequenceIgnored(t *testing.T) {
	chunk := []byte("\x1b]0;truncated-no-terminator")
	_, ok := extractTitle(chunk)
	if ok {
		t.Error("expected incomplete OSC sequence to be ignored")
	}
}
