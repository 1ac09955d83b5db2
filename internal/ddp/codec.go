package ddp

import (
	"encoding/json"

	"github.com/nugget/ddpclient/internal/ddp/ejson"
)

// Codec encodes and decodes protocol frames. Both directions are pure
// functions of their input; Codec holds no state and is safe for
// concurrent use by multiple goroutines, though in practice only the
// dispatcher goroutine ever calls it.
type Codec struct{}

// NewCodec returns a ready-to-use Codec.
func NewCodec() *Codec { return &Codec{} }

// Encode serializes a message to its wire form, retagging any
// ejson.Date/ejson.Binary values it finds.
func (Codec) Encode(m Message) (string, error) {
	retagged := ejson.Retag(map[string]any(m))
	b, err := json.Marshal(retagged)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a wire frame into a Message. It returns (nil, nil) —
// not an error — when the payload is not a JSON object, or its "msg"
// field is missing or not one of the protocol's known kinds; such
// frames are forward-compatibility noise, not failures. It returns a
// non-nil error only when the caller should log a decode failure
// (malformed JSON).
func (Codec) Decode(raw string) (Message, error) {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, err
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, nil
	}

	msg, ok := obj["msg"].(string)
	if !ok || !knownKinds[Kind(msg)] {
		return nil, nil
	}

	untagged := ejson.Untag(obj).(map[string]any)
	return Message(untagged), nil
}
