package ddp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ddpclient/internal/buildinfo"
	"github.com/nugget/ddpclient/internal/ddp/emitter"
	"github.com/nugget/ddpclient/internal/wsdial"
)

// DefaultCallTimeout is used by Call and Subscribe when they are given
// a timeout <= 0.
const DefaultCallTimeout = 10 * time.Second

// Client is the Facade: it composes Transport, Codec, Router, Sender,
// the session state machine, MethodReg, SubReg, and CacheMgr behind a
// single public API. All protocol state is owned by one dispatcher
// goroutine (the "loop"); public methods communicate with it by
// posting closures onto a mailbox channel and waiting on a one-shot
// result channel, the concurrency model spec.md §5 calls for.
type Client struct {
	url    string
	logger *slog.Logger

	codec     *Codec
	transport *Transport
	router    *Router
	sender    *Sender

	sess    *session
	methods *methodReg
	subs    *subReg
	cache   *cacheMgr
	pub     *emitter.Emitter

	connectWaiter chan error

	keepalive       keepaliveConfig
	keepaliveStart  bool
	keepaliveStopCh chan struct{}
	pendingPingID   string
	dialerOverride  *wsdial.Dialer

	mailbox    chan func()
	stopCh     chan struct{}
	loopExited chan struct{}
	closeOnce  sync.Once
}

type keepaliveConfig struct {
	enabled  bool
	interval time.Duration
	timeout  time.Duration
}

// Option configures a Client built by New.
type Option func(*Client)

// WithLogger sets the logger used for dropped frames, handler panics,
// and lifecycle transitions. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithVersions overrides the version-preference list sent in "connect"
// messages. Defaults to DefaultVersions.
func WithVersions(versions []string) Option {
	return func(c *Client) { c.sess = newSession(versions) }
}

// WithDialer overrides the WebSocket dialer (timeouts, TLS, buffer
// sizes, headers) used to connect.
func WithDialer(d *wsdial.Dialer) Option {
	return func(c *Client) { c.dialerOverride = d }
}

// WithKeepalive enables a client-initiated "ping" sent every interval
// while OPEN; if no "pong" arrives within timeout, the connection is
// treated as lost. This supplements the protocol's server-initiated
// ping/pong (spec.md §4.5 only requires replying to pings) for
// transports that need to detect a silently-dead connection.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.keepalive = keepaliveConfig{enabled: true, interval: interval, timeout: timeout}
	}
}

// New creates a Client for the given WebSocket URL. The connection is
// not established until Connect is called.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:             url,
		logger:          slog.Default(),
		sess:            newSession(DefaultVersions),
		methods:         newMethodReg(),
		subs:            newSubReg(),
		mailbox:         make(chan func(), 64),
		stopCh:          make(chan struct{}),
		loopExited:      make(chan struct{}),
		keepaliveStopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.pub = emitter.New(c.logger)
	c.cache = newCacheMgr(c)
	c.codec = NewCodec()

	dialer := c.dialerOverride
	if dialer == nil {
		dialer = wsdial.New(wsdial.WithHeader("User-Agent", buildinfo.UserAgent()))
	}
	c.transport = NewTransport(url, dialer, c.logger, c.onFrame, c.onTransportState)
	c.router = NewRouter(c.codec, c.logger)
	c.sender = NewSender(c.codec, c.transport)
	c.registerConsumers()

	go c.loop()
	return c
}

func (c *Client) registerConsumers() {
	c.router.On(KindConnected, func(m Message) { c.handleConnected(m) })
	c.router.On(KindFailed, func(m Message) { c.handleFailed(m) })
	c.router.On(KindPing, func(m Message) { c.handlePing(m) })
	c.router.On(KindPong, func(m Message) { c.handlePong(m) })
	c.router.On(KindResult, func(m Message) { c.methods.handleResult(m) })
	c.router.On(KindReady, func(m Message) { c.subs.handleReady(m.strSlice("subs")) })
	c.router.On(KindNosub, func(m Message) { c.subs.handleNosub(m.str("id"), m["error"]) })
	c.router.On(KindAdded, func(m Message) {
		c.cache.handleAdded(m.str("collection"), m.str("id"), m.obj("fields"))
	})
	c.router.On(KindChanged, func(m Message) {
		c.cache.handleChanged(m.str("collection"), m.str("id"), m.obj("fields"), m.strSlice("cleared"))
	})
	c.router.On(KindRemoved, func(m Message) {
		c.cache.handleRemoved(m.str("collection"), m.str("id"))
	})
	c.router.On(KindUpdated, func(m Message) {
		c.pub.Emit("updated", m.strSlice("methods"))
	})
}

// post sends fn to the dispatcher loop. It returns false if the client
// is already closing/closed, in which case fn never runs.
func (c *Client) post(fn func()) bool {
	// Check stopCh on its own first: once it is closed the buffered
	// mailbox may still accept fn, and select would pick between the two
	// ready cases at random.
	select {
	case <-c.stopCh:
		return false
	default:
	}
	select {
	case c.mailbox <- fn:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) loop() {
	defer close(c.loopExited)
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.stopCh:
			return
		}
	}
}

// onFrame is Transport's inbound-frame callback. It hands the frame to
// the dispatcher loop so decoding and routing happen on the same
// goroutine as every other state mutation.
func (c *Client) onFrame(frame string) {
	c.post(func() { c.router.Dispatch(frame) })
}

// onTransportState is Transport's state-change callback.
func (c *Client) onTransportState(state TransportState) {
	c.post(func() { c.handleTransportState(state) })
}

func (c *Client) handleTransportState(state TransportState) {
	if state != Disconnected {
		return
	}
	switch c.sess.state {
	case Connecting:
		if c.connectWaiter != nil {
			c.connectWaiter <- fmt.Errorf("%w: transport closed during connect", ErrConnectionLost)
			c.connectWaiter = nil
		}
		c.sess.state = Closed
	case Open:
		c.sess.state = Closing
		c.methods.cancelAll(ErrConnectionLost)
		c.subs.cancelAll(ErrConnectionLost)
		c.sess.state = Closed
		c.pub.Emit("disconnected")
	}
}

func (c *Client) handleConnected(m Message) {
	c.sess.confirm(m.str("session"))
	if c.connectWaiter != nil {
		c.connectWaiter <- nil
		c.connectWaiter = nil
	}
	c.pub.Emit("connected")

	if c.keepalive.enabled && !c.keepaliveStart {
		c.keepaliveStart = true
		go c.runKeepalive()
	}
}

func (c *Client) handleFailed(m Message) {
	version := m.str("version")
	if c.sess.fallback(version) {
		_ = c.sender.SendConnect(c.sess.currentVersion, c.sess.supportedVersions, "")
		return
	}
	if c.connectWaiter != nil {
		c.connectWaiter <- ErrVersionNegotiation
		c.connectWaiter = nil
	}
	c.sess.state = Closed
}

func (c *Client) handlePing(m Message) {
	id := m.str("id")
	if err := c.sender.SendPong(id); err != nil {
		c.logger.Debug("ddp: failed to send pong", "error", err)
	}
}

func (c *Client) handlePong(m Message) {
	if c.keepalive.enabled && c.pendingPingID != "" && m.str("id") == c.pendingPingID {
		c.pendingPingID = ""
	}
}

// runKeepalive sends a client-initiated ping every keepalive.interval
// while the session is OPEN and treats a missing pong within
// keepalive.timeout as a dead connection. It exits once the client
// closes; it does not need to watch for disconnects separately since a
// dead transport stops delivering pongs, which itself trips the
// timeout.
func (c *Client) runKeepalive() {
	ticker := time.NewTicker(c.keepalive.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			id := uuid.NewString()
			c.post(func() { c.sendKeepalivePing(id) })
		case <-c.keepaliveStopCh:
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) sendKeepalivePing(id string) {
	if c.sess.state != Open {
		return
	}
	c.pendingPingID = id
	if err := c.sender.SendPing(id); err != nil {
		c.logger.Debug("ddp: keepalive ping failed", "error", err)
		return
	}
	timeout := c.keepalive.timeout
	time.AfterFunc(timeout, func() {
		c.post(func() { c.checkKeepaliveTimeout(id) })
	})
}

// checkKeepaliveTimeout runs on the dispatcher goroutine after a
// keepalive ping's timeout elapses. If that ping is still the
// outstanding one, no pong arrived in time: the connection is treated
// as dead and the transport is torn down, which drives the normal
// DISCONNECTED handling in handleTransportState.
func (c *Client) checkKeepaliveTimeout(id string) {
	if c.pendingPingID != id {
		return
	}
	c.pendingPingID = ""
	c.logger.Warn("ddp: keepalive timeout, no pong received", "ping_id", id)
	// Transport.Close() suppresses its own DISCONNECTED callback (it
	// assumes an intentional close), so drive the transition by hand.
	_ = c.transport.Close()
	c.handleTransportState(Disconnected)
}

// Connect dials the transport and performs the connect/connected
// handshake, including any version-fallback round trips. It blocks
// until the session reaches OPEN, the timeout elapses, or ctx is
// cancelled.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.transport.Connect(dialCtx); err != nil {
		return err
	}

	waiter := make(chan error, 1)
	posted := c.post(func() {
		c.sess.beginConnecting()
		c.connectWaiter = waiter
		if err := c.sender.SendConnect(c.sess.currentVersion, c.sess.supportedVersions, ""); err != nil {
			c.connectWaiter = nil
			waiter <- err
		}
	})
	if !posted {
		return ErrCancelled
	}

	select {
	case err := <-waiter:
		return err
	case <-dialCtx.Done():
		c.post(func() {
			if c.connectWaiter == waiter {
				c.connectWaiter = nil
				c.sess.state = Closed
			}
		})
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return dialCtx.Err()
	}
}

// Call invokes a remote method and waits for its result. timeout <= 0
// uses DefaultCallTimeout.
func (c *Client) Call(ctx context.Context, name string, params []any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	id := uuid.NewString()
	done := make(chan methodResult, 1)

	posted := c.post(func() {
		if c.sess.state != Open {
			done <- methodResult{err: ErrNotConnected}
			return
		}
		c.methods.add(id, done)
		if err := c.sender.SendMethod(id, name, params); err != nil {
			c.methods.remove(id)
			done <- methodResult{err: err}
		}
	})
	if !posted {
		return nil, ErrCancelled
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		c.post(func() { c.methods.resolve(id, methodResult{err: ErrTimeout}) })
		return nil, ErrTimeout
	case <-ctx.Done():
		c.post(func() { c.methods.resolve(id, methodResult{err: ctx.Err()}) })
		return nil, ctx.Err()
	}
}

// Subscribe subscribes to a named publication and waits for the
// server's "ready" quorum before returning. timeout <= 0 uses
// DefaultCallTimeout. On timeout, Subscribe sends "unsub" before
// returning ErrTimeout, per spec.md §4.7.
func (c *Client) Subscribe(ctx context.Context, name string, params []any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	id := uuid.NewString()
	done := make(chan subResult, 1)

	posted := c.post(func() {
		if c.sess.state != Open {
			done <- subResult{err: ErrNotConnected}
			return
		}
		c.subs.add(id, name, params, done)
		if err := c.sender.SendSubscribe(id, name, params); err != nil {
			c.subs.remove(id)
			done <- subResult{err: err}
		}
	})
	if !posted {
		return "", ErrCancelled
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return id, nil
	case <-timer.C:
		c.post(func() {
			if p, ok := c.subs.get(id); ok && !p.closed {
				p.closed = true
				c.subs.remove(id)
				_ = c.sender.SendUnsubscribe(id)
			}
		})
		return "", ErrTimeout
	case <-ctx.Done():
		c.post(func() {
			if p, ok := c.subs.get(id); ok && !p.closed {
				p.closed = true
				c.subs.remove(id)
				_ = c.sender.SendUnsubscribe(id)
			}
		})
		return "", ctx.Err()
	}
}

// Unsubscribe tears down an active or pending subscription. It does
// not wait for server acknowledgement.
func (c *Client) Unsubscribe(subID string) error {
	errCh := make(chan error, 1)
	posted := c.post(func() {
		if c.sess.state != Open {
			errCh <- ErrNotConnected
			return
		}
		err := c.sender.SendUnsubscribe(subID)
		c.subs.remove(subID)
		errCh <- err
	})
	if !posted {
		return ErrCancelled
	}
	return <-errCh
}

// On registers handler for a public event topic. The topics emitted
// are connected, disconnected, added, changed, removed,
// collection_added/changed/removed,
// "collection:<name>:added|changed|removed", and updated.
func (c *Client) On(topic string, handler func(args ...any)) int {
	return c.pub.On(topic, handler)
}

// Off removes a registration returned by On.
func (c *Client) Off(topic string, token int) {
	c.pub.Off(topic, token)
}

// SessionID returns the server-issued session id, or "" if not OPEN.
func (c *Client) SessionID() string {
	idCh := make(chan string, 1)
	if !c.post(func() {
		if c.sess.state != Open {
			idCh <- ""
			return
		}
		idCh <- c.sess.sessionID
	}) {
		return ""
	}
	return <-idCh
}

// Version returns the negotiated protocol version.
func (c *Client) Version() string {
	vCh := make(chan string, 1)
	if !c.post(func() { vCh <- c.sess.currentVersion }) {
		return ""
	}
	return <-vCh
}

// State returns the current session state.
func (c *Client) State() SessionState {
	sCh := make(chan SessionState, 1)
	if !c.post(func() { sCh <- c.sess.state }) {
		return Closed
	}
	return <-sCh
}

// Collection returns a read-only snapshot of one document in the
// local cache.
func (c *Client) Collection(name, docID string) (CollectionEntry, bool) {
	type result struct {
		entry CollectionEntry
		ok    bool
	}
	resCh := make(chan result, 1)
	if !c.post(func() {
		entry, ok := c.cache.Get(name, docID)
		resCh <- result{entry, ok}
	}) {
		return nil, false
	}
	r := <-resCh
	return r.entry, r.ok
}

// emitCollectionEvent implements eventSink for cacheMgr, fanning out
// both the generic collection_* topics and the per-collection
// "collection:<name>:<kind>" topics spec.md §4.9 describes.
func (c *Client) emitCollectionEvent(kind, collection, docID string, fields CollectionEntry, cleared []string) {
	c.pub.Emit(kind, collection, docID, fields, cleared)
	c.pub.Emit("collection_"+kind, collection, docID, fields, cleared)
	c.pub.Emit("collection:"+collection+":"+kind, docID, fields, cleared)
}

// Close idempotently tears down the client: it cancels every pending
// method and subscription resolver, closes the transport, and stops
// the dispatcher loop. Safe to call from any state and more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.keepaliveStopCh)
		done := make(chan struct{})
		if c.post(func() {
			c.sess.state = Closing
			c.methods.cancelAll(ErrCancelled)
			c.subs.cancelAll(ErrCancelled)
			c.sess.state = Closed
			close(done)
		}) {
			<-done
		}
		_ = c.transport.Close()
		close(c.stopCh)
		<-c.loopExited
	})
	return nil
}
