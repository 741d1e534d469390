// Package wire implements the on-the-wire framing for encrypted envelopes
// (§4.4): a 4-byte big-endian length prefix followed by a JSON payload with
// hex-encoded byte fields, capped at 1 MiB per frame.
//
// Grounded on the teacher's pkg/protocol/messages.go, which uses the same
// length-prefix-then-io.ReadFull shape over encoding/binary.BigEndian; this
// package swaps messages.go's msgpack body codec for the JSON+hex codec
// §4.4 specifies as the interoperability boundary.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/concord-chat/quantump2p/internal/qp2p/crypto"
)

// MaxFrameBytes is the default maximum frame size (§4.4).
const MaxFrameBytes = 1 << 20

const lengthPrefixSize = 4

// wireEnvelope is the JSON wire form of crypto.Envelope: byte fields are
// lowercase hex strings, per §4.4/§6.
type wireEnvelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
	Sequence   uint64 `json:"sequence"`
	KeyID      string `json:"key_id"`
	HMAC       string `json:"hmac"`
}

// EncodeEnvelope serializes a crypto.Envelope into its JSON wire form.
func EncodeEnvelope(env *crypto.Envelope) ([]byte, error) {
	w := wireEnvelope{
		Nonce:      hex.EncodeToString(env.Nonce),
		Ciphertext: hex.EncodeToString(env.Ciphertext),
		Tag:        hex.EncodeToString(env.Tag),
		Sequence:   env.Sequence,
		KeyID:      env.KeyID,
		HMAC:       hex.EncodeToString(env.HMAC),
	}
	return json.Marshal(w)
}

// DecodeEnvelope parses the JSON wire form produced by EncodeEnvelope back
// into a crypto.Envelope.
func DecodeEnvelope(data []byte) (*crypto.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	nonce, err := hex.DecodeString(w.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformed, err)
	}
	ciphertext, err := hex.DecodeString(w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	tag, err := hex.DecodeString(w.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	mac, err := hex.DecodeString(w.HMAC)
	if err != nil {
		return nil, fmt.Errorf("%w: hmac: %v", ErrMalformed, err)
	}
	if w.KeyID == "" {
		return nil, fmt.Errorf("%w: missing key_id", ErrMalformed)
	}

	return &crypto.Envelope{
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
		Sequence:   w.Sequence,
		KeyID:      w.KeyID,
		HMAC:       mac,
	}, nil
}

// WriteFrame writes payload prefixed with its 4-byte big-endian length.
// It returns ErrFrameTooLarge without writing anything if payload exceeds
// maxBytes.
func WriteFrame(w io.Writer, payload []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = MaxFrameBytes
	}
	if len(payload) > maxBytes {
		return fmt.Errorf("%w: %d bytes > max %d", ErrFrameTooLarge, len(payload), maxBytes)
	}

	header := make([]byte, lengthPrefixSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r, rejecting frames
// larger than maxBytes before allocating a buffer for them.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = MaxFrameBytes
	}

	header := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if int(length) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > max %d", ErrFrameTooLarge, length, maxBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteEnvelope encodes and frames env onto w in one step.
func WriteEnvelope(w io.Writer, env *crypto.Envelope, maxBytes int) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload, maxBytes)
}

// ReadEnvelope reads one frame from r and decodes it into a crypto.Envelope.
func ReadEnvelope(r io.Reader, maxBytes int) (*crypto.Envelope, error) {
	payload, err := ReadFrame(r, maxBytes)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(payload)
}
