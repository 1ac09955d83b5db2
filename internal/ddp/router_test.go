package ddp

import (
	"log/slog"
	"testing"
)

func TestRouterDispatchDeliversToRegisteredKind(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	var got Message
	r.On(KindAdded, func(m Message) { got = m })

	r.Dispatch(`{"msg":"added","collection":"posts","id":"p1","fields":{"title":"hi"}}`)

	if got == nil {
		t.Fatal("consumer was not invoked")
	}
	if got.str("collection") != "posts" {
		t.Errorf("collection = %q, want %q", got.str("collection"), "posts")
	}
}

func TestRouterDispatchDeliversInRegistrationOrder(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	var order []int
	r.On(KindPing, func(Message) { order = append(order, 1) })
	r.On(KindPing, func(Message) { order = append(order, 2) })

	r.Dispatch(`{"msg":"ping"}`)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestRouterDispatchIsolatesPanickingConsumer(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	var secondCalled bool
	r.On(KindPing, func(Message) { panic("boom") })
	r.On(KindPing, func(Message) { secondCalled = true })

	r.Dispatch(`{"msg":"ping"}`) // must not panic out of Dispatch

	if !secondCalled {
		t.Error("second consumer should still run after the first panicked")
	}
}

func TestRouterDispatchDropsMalformedJSON(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	called := false
	r.On(KindPing, func(Message) { called = true })

	r.Dispatch(`not json`)

	if called {
		t.Error("malformed frame should not reach any consumer")
	}
}

func TestRouterDispatchDropsUnknownKind(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	called := false
	r.On(KindPing, func(Message) { called = true })

	r.Dispatch(`{"msg":"some_future_message_type"}`)

	if called {
		t.Error("unknown-kind frame should not reach any consumer")
	}
}

func TestRouterDispatchOnlyNotifiesRegisteredKind(t *testing.T) {
	r := NewRouter(NewCodec(), slog.Default())

	pingCalled := false
	r.On(KindPing, func(Message) { pingCalled = true })

	r.Dispatch(`{"msg":"pong"}`)

	if pingCalled {
		t.Error("ping consumer should not be invoked for a pong message")
	}
}
