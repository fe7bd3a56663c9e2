package logging

import "testing"

func TestNewDefaultsToJSONAndInfoLevel(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("want non-nil logger")
	}
}

func TestNewFallsBackToInfoOnUnparseableLevel(t *testing.T) {
	logger, err := New(Config{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("want unparseable level to fall back, not error: %v", err)
	}
	if logger == nil {
		t.Fatalf("want non-nil logger")
	}
}

func TestNewConsoleMode(t *testing.T) {
	logger, err := New(Config{Mode: ModeConsole, Level: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("want non-nil logger")
	}
}

func TestNopReturnsUsableLogger(t *testing.T) {
	if Nop() == nil {
		t.Fatalf("want non-nil nop logger")
	}
}
