package ddp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/nugget/ddpclient/internal/wsdial"
)

// fakeFrameSender records every frame instead of touching a real
// connection, or fails every Send if failSend is set.
type fakeFrameSender struct {
	frames   []string
	failSend bool
}

func (f *fakeFrameSender) Send(frame string) error {
	if f.failSend {
		return errors.New("fake send failure")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func TestSenderMethodsEncodeExpectedShape(t *testing.T) {
	fs := &fakeFrameSender{}
	sender := NewSender(NewCodec(), fs)

	if err := sender.SendSubscribe("s1", "posts", []any{"recent"}); err != nil {
		t.Fatalf("SendSubscribe error: %v", err)
	}
	if err := sender.SendUnsubscribe("s1"); err != nil {
		t.Fatalf("SendUnsubscribe error: %v", err)
	}
	if err := sender.SendPong("p1"); err != nil {
		t.Fatalf("SendPong error: %v", err)
	}
	if err := sender.SendPing("k1"); err != nil {
		t.Fatalf("SendPing error: %v", err)
	}

	if len(fs.frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(fs.frames))
	}

	sub := decodeFrame(t, fs.frames[0])
	if sub["msg"] != "sub" || sub["name"] != "posts" || sub["id"] != "s1" {
		t.Errorf("unexpected sub frame: %+v", sub)
	}

	unsub := decodeFrame(t, fs.frames[1])
	if unsub["msg"] != "unsub" || unsub["id"] != "s1" {
		t.Errorf("unexpected unsub frame: %+v", unsub)
	}

	pong := decodeFrame(t, fs.frames[2])
	if pong["msg"] != "pong" || pong["id"] != "p1" {
		t.Errorf("unexpected pong frame: %+v", pong)
	}

	ping := decodeFrame(t, fs.frames[3])
	if ping["msg"] != "ping" || ping["id"] != "k1" {
		t.Errorf("unexpected ping frame: %+v", ping)
	}
}

func TestSenderPropagatesTransportError(t *testing.T) {
	fs := &fakeFrameSender{failSend: true}
	sender := NewSender(NewCodec(), fs)

	if err := sender.SendMethod("m1", "posts.insert", nil); err == nil {
		t.Fatal("expected error to propagate from transport")
	}
}

func decodeFrame(t *testing.T, frame string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(frame), &m); err != nil {
		t.Fatalf("frame did not decode as JSON: %v", err)
	}
	return m
}

func TestSendConnectOmitsEmptySession(t *testing.T) {
	fs := &fakeFrameSender{}
	sender := NewSender(NewCodec(), fs)
	if err := sender.SendConnect("1", []string{"1", "pre2"}, ""); err != nil {
		t.Fatalf("SendConnect error: %v", err)
	}
	m := decodeFrame(t, fs.frames[0])
	if _, present := m["session"]; present {
		t.Error("session key should be absent when empty")
	}
	if m["version"] != "1" {
		t.Errorf("version = %v, want %q", m["version"], "1")
	}
}

func TestSendConnectIncludesSessionWhenPresent(t *testing.T) {
	fs := &fakeFrameSender{}
	sender := NewSender(NewCodec(), fs)
	if err := sender.SendConnect("1", []string{"1"}, "sess-1"); err != nil {
		t.Fatalf("SendConnect error: %v", err)
	}
	m := decodeFrame(t, fs.frames[0])
	if m["session"] != "sess-1" {
		t.Errorf("session = %v, want %q", m["session"], "sess-1")
	}
}

func TestToAnySlice(t *testing.T) {
	got := toAnySlice([]string{"a", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("toAnySlice = %v, want [a b]", got)
	}
}

func TestSenderSendFailsWhenDisconnected(t *testing.T) {
	transport := NewTransport("ws://unused.invalid/websocket", wsdial.New(), slog.Default(), nil, nil)
	sender := NewSender(NewCodec(), transport)

	err := sender.SendPong("")
	if err == nil {
		t.Fatal("expected an error sending while disconnected")
	}
}

func TestSenderBuildsMethodMessage(t *testing.T) {
	fs := &fakeFrameSender{}
	sender := NewSender(NewCodec(), fs)
	if err := sender.SendMethod("m1", "posts.insert", []any{"hello"}); err != nil {
		t.Fatalf("SendMethod error: %v", err)
	}
	m := decodeFrame(t, fs.frames[0])
	if m["method"] != "posts.insert" {
		t.Errorf("method = %v, want %q", m["method"], "posts.insert")
	}
}
