package ddp

// subResult is delivered to a pending subscription's one-shot channel
// when it becomes ready, fails via "nosub", or is cancelled.
type subResult struct {
	err error
}

// pendingSub mirrors spec.md's PendingSubscription.
type pendingSub struct {
	id     string
	name   string
	params []any
	done   chan subResult
	closed bool
	active bool
}

// subReg tracks outstanding and active subscriptions. Touched only
// from the Client's dispatcher goroutine.
type subReg struct {
	subs map[string]*pendingSub
}

func newSubReg() *subReg {
	return &subReg{subs: make(map[string]*pendingSub)}
}

func (r *subReg) add(id, name string, params []any, done chan subResult) *pendingSub {
	p := &pendingSub{id: id, name: name, params: params, done: done}
	r.subs[id] = p
	return p
}

func (r *subReg) get(id string) (*pendingSub, bool) {
	p, ok := r.subs[id]
	return p, ok
}

func (r *subReg) remove(id string) {
	delete(r.subs, id)
}

// handleReady processes an inbound "ready" message, which may bundle
// ids from unrelated subscribe calls. Each recognized id is fulfilled
// and marked active; unrecognized ids are ignored, per spec.md §4.7.
func (r *subReg) handleReady(ids []string) {
	for _, id := range ids {
		p, ok := r.subs[id]
		if !ok || p.closed {
			continue
		}
		p.closed = true
		p.active = true
		p.done <- subResult{}
	}
}

// handleNosub terminates a subscription. If it was still pending, its
// waiter is fulfilled with failure; cause may be nil (ErrNoSub is
// used in that case).
func (r *subReg) handleNosub(id string, cause any) {
	p, ok := r.subs[id]
	if !ok {
		return
	}
	delete(r.subs, id)
	if p.closed {
		return
	}
	p.closed = true
	var err error
	if cause != nil {
		err = &NoSubError{SubID: id, Cause: cause}
	} else {
		err = &NoSubError{SubID: id}
	}
	p.done <- subResult{err: err}
}

// cancelAll resolves every pending (not-yet-ready) subscription with
// cause and marks every ready one inactive, per spec.md §5's transport
// drop behavior.
func (r *subReg) cancelAll(cause error) {
	for id, p := range r.subs {
		if !p.closed {
			p.closed = true
			p.done <- subResult{err: cause}
		}
		p.active = false
		delete(r.subs, id)
	}
}
