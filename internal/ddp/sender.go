package ddp

// frameSender is the minimal surface Sender needs from a Transport.
// Narrowing to an interface keeps Sender testable without a live
// WebSocket connection.
type frameSender interface {
	Send(frame string) error
}

// Sender builds outbound protocol messages and hands them to a
// Transport. It holds no correlation state of its own — MethodReg,
// SubReg, and SessionCtl own that — so it is stateless apart from its
// collaborators and safe to share.
type Sender struct {
	codec     *Codec
	transport frameSender
}

// NewSender creates a Sender that encodes via codec and writes through
// transport.
func NewSender(codec *Codec, transport frameSender) *Sender {
	return &Sender{codec: codec, transport: transport}
}

func (s *Sender) send(m Message) error {
	frame, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	return s.transport.Send(frame)
}

// SendConnect sends a "connect" message. sessionID is omitted from the
// wire message when empty.
func (s *Sender) SendConnect(version string, support []string, sessionID string) error {
	m := Message{
		"msg":     string(KindConnect),
		"version": version,
		"support": toAnySlice(support),
	}
	if sessionID != "" {
		m["session"] = sessionID
	}
	return s.send(m)
}

// SendMethod sends a "method" message for the given call id.
func (s *Sender) SendMethod(id, name string, params []any) error {
	return s.send(Message{
		"msg":    string(KindMethod),
		"id":     id,
		"method": name,
		"params": params,
	})
}

// SendSubscribe sends a "sub" message for the given subscription id.
func (s *Sender) SendSubscribe(id, name string, params []any) error {
	return s.send(Message{
		"msg":    string(KindSub),
		"id":     id,
		"name":   name,
		"params": params,
	})
}

// SendUnsubscribe sends an "unsub" message.
func (s *Sender) SendUnsubscribe(id string) error {
	return s.send(Message{
		"msg": string(KindUnsub),
		"id":  id,
	})
}

// SendPong replies to a "ping". id is omitted from the wire message
// when empty, matching a ping that itself carried no id.
func (s *Sender) SendPong(id string) error {
	m := Message{"msg": string(KindPong)}
	if id != "" {
		m["id"] = id
	}
	return s.send(m)
}

// SendPing sends a client-initiated "ping". The core protocol only
// requires replying to server pings (spec.md §4.5); this is used by
// the optional keepalive supplement to detect a silently-dead
// connection from the client side.
func (s *Sender) SendPing(id string) error {
	m := Message{"msg": string(KindPing)}
	if id != "" {
		m["id"] = id
	}
	return s.send(m)
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
