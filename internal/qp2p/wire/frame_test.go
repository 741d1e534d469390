package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/quantump2p/internal/qp2p/crypto"
)

func sampleEnvelope() *crypto.Envelope {
	return &crypto.Envelope{
		Nonce:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Ciphertext: []byte("ciphertext-bytes"),
		Tag:        bytes.Repeat([]byte{0xAB}, 16),
		Sequence:   42,
		KeyID:      "alice:bob",
		HMAC:       bytes.Repeat([]byte{0xCD}, 32),
	}
}

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	env := sampleEnvelope()
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key_id":"alice:bob"`)
	assert.Contains(t, string(data), `"sequence":42`)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	env := sampleEnvelope()
	var buf bytes.Buffer

	require.NoError(t, WriteEnvelope(&buf, env, 0))
	decoded, err := ReadEnvelope(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, []byte("hello"), 2)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello world"), 0))

	_, err := ReadFrame(&buf, 4)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEnvelopeRejectsBadHex(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"nonce":"zz","key_id":"a:b"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEnvelopeRejectsMissingKeyID(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"nonce":"aa"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadFrameSurfacesShortRead(t *testing.T) {
	_, err := ReadFrame(strings.NewReader("ab"), 0)
	assert.Error(t, err)
}
