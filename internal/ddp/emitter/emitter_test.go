package emitter

import "testing"

func TestEmitOrderAndIsolation(t *testing.T) {
	e := New(nil)
	var order []int

	e.On("x", func(args ...any) { order = append(order, 1) })
	e.On("x", func(args ...any) { panic("boom") })
	e.On("x", func(args ...any) { order = append(order, 3) })

	e.Emit("x")

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("expected [1 3] despite panicking middle handler, got %v", order)
	}
}

func TestOffRemovesOnlyThatRegistration(t *testing.T) {
	e := New(nil)
	var calls int
	id1 := e.On("y", func(args ...any) { calls++ })
	e.On("y", func(args ...any) { calls++ })

	e.Off("y", id1)
	e.Emit("y")

	if calls != 1 {
		t.Fatalf("expected 1 call after removing one handler, got %d", calls)
	}
}

func TestEmitPassesArgs(t *testing.T) {
	e := New(nil)
	var got []any
	e.On("z", func(args ...any) { got = args })
	e.Emit("z", "a", 2, true)

	if len(got) != 3 || got[0] != "a" || got[1] != 2 || got[2] != true {
		t.Fatalf("unexpected args: %v", got)
	}
}

func TestListenerCount(t *testing.T) {
	e := New(nil)
	if e.ListenerCount("w") != 0 {
		t.Fatal("expected 0 listeners on unused topic")
	}
	e.On("w", func(args ...any) {})
	e.On("w", func(args ...any) {})
	if got := e.ListenerCount("w"); got != 2 {
		t.Fatalf("expected 2 listeners, got %d", got)
	}
}
