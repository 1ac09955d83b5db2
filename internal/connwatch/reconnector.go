package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/ddpclient/internal/ddp"
)

// ReconnectConfig controls a Reconnector's backoff schedule. Backoff
// reuses the same InitialDelay/MaxDelay/Multiplier growth curve (and
// the same BackoffConfig.Next step) that Watcher uses for its startup
// retries. The zero value is not usable; build one with
// DefaultReconnectConfig.
type ReconnectConfig struct {
	// Backoff controls the delay growth between reconnect attempts.
	// Only InitialDelay, MaxDelay, and Multiplier are read; the
	// Watcher-specific fields (MaxRetries, PollInterval, ProbeTimeout)
	// are not used here — see MaxRetries and ConnectTimeout below.
	Backoff BackoffConfig
	// MaxRetries bounds the number of attempts per disconnection; 0
	// means retry forever.
	MaxRetries int
	// ConnectTimeout bounds each individual (re)connect attempt.
	ConnectTimeout time.Duration
}

// DefaultReconnectConfig returns the backoff schedule spec.md §5
// describes for the optional outer reconnect layer: exponential
// backoff capped at 30s, retried indefinitely.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Backoff: BackoffConfig{
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
	}
}

// DialFunc builds and connects a fresh *ddp.Client. sessionID is the
// prior session's id, or "" on the very first attempt. ddp.Client has
// no option for sending a prior session id: its "connect" message
// always omits "session", so each dial through it starts a new session
// and sessionID is not used for resumption.
type DialFunc func(ctx context.Context, sessionID string) (*ddp.Client, error)

// Reconnector wraps a ddp.Client factory with the reconnect-with-backoff
// behavior spec.md §5 deliberately excludes from the core Facade: "a
// thin outer layer MAY wrap Facade to retry with exponential backoff
// capped at 30s". It never touches ddp.Client internals — reconnecting
// means discarding the old Client and dialing a new one.
type Reconnector struct {
	dial   DialFunc
	cfg    ReconnectConfig
	logger *slog.Logger

	onConnected    func(*ddp.Client)
	onReconnecting func(attempt int, err error)
	onGiveUp       func(err error)

	mu        sync.Mutex
	client    *ddp.Client
	sessionID string

	cancel context.CancelFunc
	done   chan struct{}
}

// ReconnectorOption configures a Reconnector built by NewReconnector.
type ReconnectorOption func(*Reconnector)

// WithReconnectConfig overrides the default backoff schedule.
func WithReconnectConfig(cfg ReconnectConfig) ReconnectorOption {
	return func(r *Reconnector) { r.cfg = cfg }
}

// WithReconnectLogger sets the logger used for retry diagnostics.
func WithReconnectLogger(l *slog.Logger) ReconnectorOption {
	return func(r *Reconnector) { r.logger = l }
}

// OnConnected registers a callback fired (in the Reconnector's own
// goroutine) every time a dial succeeds, including the first one.
func OnConnected(fn func(*ddp.Client)) ReconnectorOption {
	return func(r *Reconnector) { r.onConnected = fn }
}

// OnReconnecting registers a callback fired after each failed attempt,
// before the next backoff sleep.
func OnReconnecting(fn func(attempt int, err error)) ReconnectorOption {
	return func(r *Reconnector) { r.onReconnecting = fn }
}

// OnGiveUp registers a callback fired once MaxRetries is exhausted
// without a successful reconnect. Only relevant when MaxRetries > 0.
func OnGiveUp(fn func(err error)) ReconnectorOption {
	return func(r *Reconnector) { r.onGiveUp = fn }
}

// NewReconnector creates a Reconnector that uses dial to establish and
// re-establish a ddp.Client. It does not connect until Start is called.
func NewReconnector(dial DialFunc, opts ...ReconnectorOption) *Reconnector {
	r := &Reconnector{
		dial:   dial,
		cfg:    DefaultReconnectConfig(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Client returns the currently active client, or nil if Reconnector has
// never successfully connected.
func (r *Reconnector) Client() *ddp.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// Start dials the first connection and, on every subsequent transport
// drop, reconnects with backoff until ctx is cancelled or MaxRetries is
// exhausted. It returns once the first connection attempt settles
// (succeeds or permanently fails); reconnection after that runs in the
// background.
func (r *Reconnector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	first := make(chan error, 1)
	go r.run(runCtx, first)
	return <-first
}

// Stop cancels any in-progress reconnect loop and closes the active
// client, if any.
func (r *Reconnector) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
	if c := r.Client(); c != nil {
		_ = c.Close()
	}
}

func (r *Reconnector) run(ctx context.Context, first chan<- error) {
	defer close(r.done)

	reported := false
	report := func(err error) {
		if !reported {
			first <- err
			reported = true
		}
	}

	delay := r.cfg.Backoff.InitialDelay
	attempt := 0
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		client, err := r.dial(dialCtx, r.sessionID)
		cancel()

		if err == nil {
			r.mu.Lock()
			r.client = client
			r.mu.Unlock()
			r.sessionID = client.SessionID()
			attempt = 0
			delay = r.cfg.Backoff.InitialDelay
			if r.onConnected != nil {
				r.onConnected(client)
			}
			report(nil)

			dropped := make(chan struct{}, 1)
			token := client.On("disconnected", func(args ...any) {
				select {
				case dropped <- struct{}{}:
				default:
				}
			})
			select {
			case <-ctx.Done():
				client.Off("disconnected", token)
				return
			case <-dropped:
				client.Off("disconnected", token)
				continue
			}
		}

		if r.onReconnecting != nil {
			r.onReconnecting(attempt, err)
		}
		r.logger.Debug("connwatch: reconnect attempt failed",
			"attempt", attempt, "next_delay", delay, "error", err)

		if r.cfg.MaxRetries > 0 && attempt >= r.cfg.MaxRetries {
			report(err)
			if r.onGiveUp != nil {
				r.onGiveUp(err)
			}
			return
		}

		if !sleepCtx(ctx, delay) {
			report(ctx.Err())
			return
		}
		delay = r.cfg.Backoff.Next(delay)
	}
}
