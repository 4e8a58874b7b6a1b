package wire

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder writes a stream of msgpack encoded envelopes.
type Encoder struct {
	enc *msgpack.Encoder
}

// NewEncoder returns an [Encoder] writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: msgpack.NewEncoder(w)}
}

// Encode writes a single envelope.
func (x *Encoder) Encode(env Envelope) error {
	return x.enc.Encode(&env)
}

// Decoder reads a stream of msgpack encoded envelopes.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder returns a [Decoder] reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: msgpack.NewDecoder(r)}
}

// Decode reads the next envelope.
//
// Each value is framed before it is interpreted, so a value of the wrong
// shape is reported as [ErrMalformed] without desynchronizing the stream.
// Any other error (including io.EOF) means the stream is unusable. The
// envelope is not validated.
func (x *Decoder) Decode() (Envelope, error) {
	var raw msgpack.RawMessage
	if err := x.dec.Decode(&raw); err != nil {
		return Envelope{}, err
	}
	return Unmarshal(raw)
}

// Marshal encodes a single envelope.
func Marshal(env Envelope) ([]byte, error) {
	return msgpack.Marshal(&env)
}

// Unmarshal decodes a single envelope, returning an error wrapping
// [ErrMalformed] if b is not an envelope.
func Unmarshal(b []byte) (env Envelope, err error) {
	if err = msgpack.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return env, nil
}
