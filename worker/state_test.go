package worker

import "testing"

func TestStateBoxTransitions(t *testing.T) {
	b := newStateBox()
	if b.load() != Spawning {
		t.Fatalf("initial state = %v, want Spawning", b.load())
	}

	b.toRunning()
	if b.load() != Running {
		t.Fatalf("state = %v, want Running", b.load())
	}

	if !b.toClosing() {
		t.Fatal("expected first toClosing to succeed")
	}
	if b.toClosing() {
		t.Fatal("expected second toClosing to be a no-op")
	}

	b.toClosed(ClosedExit)
	if b.load() != ClosedExit {
		t.Fatalf("state = %v, want ClosedExit", b.load())
	}

	// Terminal is sticky: a later attempt to mark it Crash must not win.
	b.toClosed(ClosedCrash)
	if b.load() != ClosedExit {
		t.Fatalf("state = %v, want ClosedExit to remain sticky", b.load())
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{Spawning, Running, Closing} {
		if s.Terminal() {
			t.Fatalf("%v should not be terminal", s)
		}
	}
	for _, s := range []State{ClosedExit, ClosedCrash} {
		if !s.Terminal() {
			t.Fatalf("%v should be terminal", s)
		}
	}
}
