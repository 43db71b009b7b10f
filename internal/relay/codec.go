package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for payloads that do not decode to a
// well-formed envelope.
var ErrMalformedEnvelope = errors.New("malformed relay envelope")

// EncodeEnvelope serializes an envelope to its JSON wire form.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrMalformedEnvelope
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses the JSON wire form and validates the fields the
// receiving side depends on. Sender provenance is deliberately NOT checked
// here; receivers re-check it against the directory on every delivery.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Kind {
	case KindInstruction:
		if env.Instruction == nil {
			return nil, fmt.Errorf("%w: instruction envelope without instruction", ErrMalformedEnvelope)
		}
	case KindReturn:
		if env.Funds == nil {
			return nil, fmt.Errorf("%w: return envelope without funds", ErrMalformedEnvelope)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEnvelope, env.Kind)
	}

	if env.Sender == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrMalformedEnvelope)
	}

	return &env, nil
}
