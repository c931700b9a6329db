package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrNoVariant        = errors.New("no payload variant set")
	ErrMultipleVariants = errors.New("more than one payload variant set")
	ErrMissingID        = errors.New("correlation id missing")
)

// idKey is the map key of the correlation id in both envelopes.
const idKey = 1

// DecodeError reports an inbound frame that could not be turned into a
// valid envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Frame is one websocket message. Text frames carry the CBOR envelope in
// base64, binary frames carry it raw.
type Frame struct {
	Text bool
	Data []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: cbor encoder init failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("protocol: cbor decoder init failed: " + err.Error())
	}
}

// EncodeServer serializes a controller->browser envelope.
func EncodeServer(cmd *ServerCommand, text bool) (Frame, error) {
	if err := cmd.Validate(); err != nil {
		return Frame{}, fmt.Errorf("encode server command: %w", err)
	}
	return encode(cmd, text)
}

// DecodeServer parses a controller->browser envelope. Used by browser-side
// tooling and tests.
func DecodeServer(f Frame) (*ServerCommand, error) {
	var cmd ServerCommand
	if err := decode(f, &cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &cmd, nil
}

// EncodeClient serializes a browser->controller envelope.
func EncodeClient(cmd *ClientCommand, text bool) (Frame, error) {
	if err := cmd.Validate(); err != nil {
		return Frame{}, fmt.Errorf("encode client command: %w", err)
	}
	return encode(cmd, text)
}

// DecodeClient parses a browser->controller envelope.
func DecodeClient(f Frame) (*ClientCommand, error) {
	var cmd ClientCommand
	if err := decode(f, &cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &cmd, nil
}

func encode(v any, text bool) (Frame, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	if !text {
		return Frame{Data: raw}, nil
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return Frame{Text: true, Data: out}, nil
}

func decode(f Frame, v any) error {
	raw := f.Data
	if f.Text {
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(f.Data)))
		n, err := base64.StdEncoding.Decode(buf, f.Data)
		if err != nil {
			return &DecodeError{Err: fmt.Errorf("base64: %w", err)}
		}
		raw = buf[:n]
	}
	if len(raw) == 0 {
		return &DecodeError{Err: errors.New("empty frame")}
	}
	// a missing id would otherwise decode as uuid.Nil
	var keys map[uint64]cbor.RawMessage
	if err := decMode.Unmarshal(raw, &keys); err != nil {
		return &DecodeError{Err: err}
	}
	if _, ok := keys[idKey]; !ok {
		return &DecodeError{Err: ErrMissingID}
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

func count(set ...bool) int {
	n := 0
	for _, s := range set {
		if s {
			n++
		}
	}
	return n
}

func exactlyOne(name string, n int) error {
	switch {
	case n == 0:
		return fmt.Errorf("%s: %w", name, ErrNoVariant)
	case n > 1:
		return fmt.Errorf("%s: %w", name, ErrMultipleVariants)
	}
	return nil
}
