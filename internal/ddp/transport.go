package ddp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nugget/ddpclient/internal/wsdial"
)

// TransportState is the connection state of a Transport.
type TransportState int

const (
	Disconnected TransportState = iota
	Connected
)

func (s TransportState) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Transport is a single duplex frame channel over a WebSocket. It
// guarantees at most one inbound receive in flight, serializes
// concurrent Sends, and reports its state transitions synchronously
// through onState. Reconnection is not Transport's job — callers
// that want to reconnect dial a fresh Transport.
type Transport struct {
	url    string
	dialer *wsdial.Dialer
	logger *slog.Logger

	onFrame func(string)
	onState func(TransportState)

	mu    sync.Mutex
	conn  *websocket.Conn
	state TransportState

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport creates a Transport for url. onFrame is invoked for
// every inbound frame; onState is invoked synchronously on every state
// transition. onFrame and the DISCONNECTED transition run on the
// Transport's own read goroutine; the CONNECTED transition runs on the
// goroutine that called Connect. Neither callback may block.
func NewTransport(url string, dialer *wsdial.Dialer, logger *slog.Logger, onFrame func(string), onState func(TransportState)) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = wsdial.New()
	}
	return &Transport{
		url:     url,
		dialer:  dialer,
		logger:  logger,
		onFrame: onFrame,
		onState: onState,
		closed:  make(chan struct{}),
	}
}

// Connect dials the WebSocket and starts the read loop. It is an error
// to call Connect more than once on the same Transport.
func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.WS.DialContext(ctx, t.url, t.dialer.Header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, t.url, err)
	}
	conn.SetReadLimit(t.dialer.ReadLimit)

	t.mu.Lock()
	t.conn = conn
	t.state = Connected
	t.mu.Unlock()

	go t.readLoop(conn)

	if t.onState != nil {
		t.onState(Connected)
	}
	return nil
}

// Send writes a single text frame. It fails with ErrTransport if the
// Transport is not CONNECTED.
func (t *Transport) Send(frame string) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("%w: send while %s", ErrTransport, state)
	}

	// gorilla/websocket forbids concurrent writers; serialize under mu.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("%w: send while %s", ErrTransport, Disconnected)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Close idempotently tears down the connection and cancels the
// in-flight receive. Safe to call multiple times and from any state.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.state = Disconnected
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// State returns the current connection state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// readLoop owns the single inbound receive operation for this
// Transport's lifetime. On any read error — including a peer-initiated
// close — it transitions to DISCONNECTED exactly once and returns.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				// Close() already tore down the connection; no
				// spurious DISCONNECTED transition needed.
			default:
				t.logger.Debug("ddp transport read error", "error", err)
				t.mu.Lock()
				t.conn = nil
				t.state = Disconnected
				t.mu.Unlock()
				if t.onState != nil {
					t.onState(Disconnected)
				}
			}
			return
		}
		if t.onFrame != nil {
			t.onFrame(string(data))
		}
	}
}
