package crypto

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// installSharedKey wires alice's outbound key for bob into bob's engine so
// bob can decrypt what alice sends, mimicking what the key-exchange
// collaborator would do out of band.
func installSharedKey(t *testing.T, alice, bob *Engine, aliceID, bobID string) {
	t.Helper()
	keyID, secret, err := alice.ExportOutboundKey(bobID)
	require.NoError(t, err)
	require.NoError(t, bob.InstallKey(keyID, aliceID, secret))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())
	installSharedKey(t, alice, bob, "alice", "bob")

	env, err := alice.Encrypt("bob", []byte("hello bob"))
	require.NoError(t, err)
	assert.NotEmpty(t, env.KeyID)
	assert.Len(t, env.Nonce, nonceSize)
	assert.Len(t, env.Tag, tagSize)

	plaintext, err := bob.Decrypt("alice", env)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plaintext))
	assert.Equal(t, env.Sequence, bob.Watermark("alice"))
}

func TestDecryptRejectsReplay(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())
	installSharedKey(t, alice, bob, "alice", "bob")

	env, err := alice.Encrypt("bob", []byte("msg-1"))
	require.NoError(t, err)

	_, err = bob.Decrypt("alice", env)
	require.NoError(t, err)

	_, err = bob.Decrypt("alice", env)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDecryptRejectsOutOfOrderReplay(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())
	installSharedKey(t, alice, bob, "alice", "bob")

	first, err := alice.Encrypt("bob", []byte("msg-1"))
	require.NoError(t, err)
	second, err := alice.Encrypt("bob", []byte("msg-2"))
	require.NoError(t, err)

	_, err = bob.Decrypt("alice", second)
	require.NoError(t, err)

	_, err = bob.Decrypt("alice", first)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDecryptRejectsUnknownKey(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())

	env, err := alice.Encrypt("bob", []byte("hi"))
	require.NoError(t, err)

	_, err = bob.Decrypt("alice", env)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())
	installSharedKey(t, alice, bob, "alice", "bob")

	env, err := alice.Encrypt("bob", []byte("hello bob"))
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xFF

	_, err = bob.Decrypt("alice", env)
	assert.ErrorIs(t, err, ErrHmacMismatch)
}

func TestDecryptRejectsTamperedHMAC(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())
	installSharedKey(t, alice, bob, "alice", "bob")

	env, err := alice.Encrypt("bob", []byte("hello bob"))
	require.NoError(t, err)
	env.HMAC[0] ^= 0xFF

	_, err = bob.Decrypt("alice", env)
	assert.ErrorIs(t, err, ErrHmacMismatch)
}

func TestEncryptSequenceMonotonic(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())

	var last uint64
	for i := 0; i < 5; i++ {
		env, err := alice.Encrypt("bob", []byte("x"))
		require.NoError(t, err)
		assert.Greater(t, env.Sequence, last)
		last = env.Sequence
	}
}

func TestEncryptRejectsEmptyPeer(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	_, err := alice.Encrypt("", []byte("x"))
	assert.ErrorIs(t, err, ErrNoPeer)
}

func TestInstallKeyEnablesOutboundEncryption(t *testing.T) {
	alice := NewEngine("alice", time.Hour, testLogger())
	bob := NewEngine("bob", time.Hour, testLogger())

	var secret [keySize]byte
	copy(secret[:], "a shared pre-distributed secret")

	require.NoError(t, alice.InstallKey("alice:bob", "bob", secret))
	require.NoError(t, bob.InstallKey("alice:bob", "alice", secret))

	env, err := bob.Encrypt("alice", []byte("hi alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice:bob", env.KeyID)

	plaintext, err := alice.Decrypt("bob", env)
	require.NoError(t, err)
	assert.Equal(t, "hi alice", string(plaintext))
}

func TestKeyRotationOnExpiry(t *testing.T) {
	alice := NewEngine("alice", time.Millisecond, testLogger())

	first, err := alice.Encrypt("bob", []byte("x"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := alice.Encrypt("bob", []byte("y"))
	require.NoError(t, err)

	assert.NotEqual(t, first.KeyID, second.KeyID)
}
