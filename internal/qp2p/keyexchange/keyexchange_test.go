package keyexchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSharedSecretMatchesBothSides(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	aliceSecret, err := DeriveSharedSecret(alice, bob.Public, "alice", "bob")
	require.NoError(t, err)

	bobSecret, err := DeriveSharedSecret(bob, alice.Public, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, aliceSecret, bobSecret)
}

func TestDeriveSharedSecretDiffersPerPeerPair(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	carol, err := GenerateKeyPair()
	require.NoError(t, err)

	withBob, err := DeriveSharedSecret(alice, bob.Public, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := DeriveSharedSecret(alice, carol.Public, "alice", "carol")
	require.NoError(t, err)

	assert.NotEqual(t, withBob, withCarol)
}

func TestGenerateKeyPairProducesDistinctKeys(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.Private, b.Private)
	assert.NotEqual(t, a.Public, b.Public)
}
