package nodeauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "01234567890123456789012345678901"

func TestAnnounceAndVerifyRoundTrip(t *testing.T) {
	m, err := NewManager(testSecret)
	require.NoError(t, err)

	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}

	token, err := m.Announce("node-a", pub)
	require.NoError(t, err)

	nodeID, gotPub, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "node-a", nodeID)
	assert.Equal(t, pub, gotPub)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m1, err := NewManager(testSecret)
	require.NoError(t, err)
	m2, err := NewManager("10987654321098765432109876543210")
	require.NoError(t, err)

	token, err := m1.Announce("node-a", [32]byte{})
	require.NoError(t, err)

	_, _, err = m2.Verify(token)
	assert.Error(t, err)
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	_, err := NewManager("too-short")
	assert.Error(t, err)
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	m, err := NewManager(testSecret)
	require.NoError(t, err)

	_, _, err = m.Verify("not-a-jwt")
	assert.Error(t, err)
}
