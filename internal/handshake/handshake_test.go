package handshake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concord-chat/quantump2p/internal/observability"
	"github.com/concord-chat/quantump2p/internal/qp2p/crypto"
	"github.com/concord-chat/quantump2p/internal/qp2p/keyexchange"
	"github.com/concord-chat/quantump2p/internal/qp2p/nodeauth"
)

func TestEstablishSessionInstallsSymmetricKey(t *testing.T) {
	authMgr, err := nodeauth.NewManager("shared-test-secret-0123456789abcdef")
	require.NoError(t, err)

	aliceKeys, err := keyexchange.GenerateKeyPair()
	require.NoError(t, err)
	bobKeys, err := keyexchange.GenerateKeyPair()
	require.NoError(t, err)

	aliceAnn, err := Announce(authMgr, "alice", aliceKeys)
	require.NoError(t, err)
	bobAnn, err := Announce(authMgr, "bob", bobKeys)
	require.NoError(t, err)

	logger := observability.NewNopLogger()
	aliceEngine := crypto.NewEngine("alice", time.Hour, logger)
	bobEngine := crypto.NewEngine("bob", time.Hour, logger)

	peer, err := EstablishSession(aliceEngine, authMgr, "alice", aliceKeys, bobAnn.Token)
	require.NoError(t, err)
	require.Equal(t, "bob", peer)

	peer, err = EstablishSession(bobEngine, authMgr, "bob", bobKeys, aliceAnn.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", peer)

	env, err := aliceEngine.Encrypt("bob", []byte("hello bob"))
	require.NoError(t, err)

	plaintext, err := bobEngine.Decrypt("alice", env)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(plaintext))
}
