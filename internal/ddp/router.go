package ddp

import "log/slog"

// Consumer receives every decoded Message of the Kind it registered
// for, in registration order relative to other consumers of that Kind.
type Consumer func(Message)

// Router decodes each inbound frame once and fans it out to every
// consumer registered for its Kind. Unknown kinds are dropped
// silently. A consumer that panics does not prevent delivery to the
// consumers registered after it — Router recovers and logs.
type Router struct {
	codec     *Codec
	consumers map[Kind][]Consumer
	logger    *slog.Logger
}

// NewRouter creates a Router using codec to decode frames.
func NewRouter(codec *Codec, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		codec:     codec,
		consumers: make(map[Kind][]Consumer),
		logger:    logger,
	}
}

// On registers a consumer for kind. Order of registration is the
// order of delivery.
func (r *Router) On(kind Kind, c Consumer) {
	r.consumers[kind] = append(r.consumers[kind], c)
}

// Dispatch decodes frame and delivers it to every consumer registered
// for its kind. Malformed JSON is logged at Debug and dropped
// (ErrDecode); a well-formed frame whose kind is unrecognized, or
// which lacks a "msg" field, is dropped without logging — that's
// ordinary forward-compatibility traffic, not an error.
func (r *Router) Dispatch(frame string) {
	msg, err := r.codec.Decode(frame)
	if err != nil {
		r.logger.Debug("ddp: dropping malformed frame", "error", ErrDecode, "cause", err)
		return
	}
	if msg == nil {
		return
	}

	kind := msg.Kind()
	for _, c := range r.consumers[kind] {
		r.deliver(kind, c, msg)
	}
}

func (r *Router) deliver(kind Kind, c Consumer, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("ddp: router consumer panicked", "kind", kind, "panic", rec)
		}
	}()
	c(msg)
}
