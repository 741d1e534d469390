// Package handshake wires qp2p/keyexchange and qp2p/nodeauth into a single
// bootstrap step: verify a peer's JWT-announced X25519 public key, derive
// the shared session secret, and install it into a qp2p/crypto.Engine. It
// is the concrete body for §4.1's "key exchange is out of scope, assume an
// external mechanism installs session keys" seam, grounded the same way
// the teacher's cmd/server/main.go wires its JWTManager into auth.Service
// once at startup rather than per-request.
package handshake

import (
	"fmt"

	"github.com/concord-chat/quantump2p/internal/qp2p/crypto"
	"github.com/concord-chat/quantump2p/internal/qp2p/keyexchange"
	"github.com/concord-chat/quantump2p/internal/qp2p/nodeauth"
)

// Announcement is a self-contained, signed claim of one node's identity and
// X25519 public key, ready to be published through whichever discovery
// strategy is active (redis, sqlite, signaling) alongside its dial address.
type Announcement struct {
	NodeID string
	Token  string
}

// Announce signs a key-announcement token for the local node's identity
// key, for publication alongside its discovery address.
func Announce(auth *nodeauth.Manager, nodeID string, local *keyexchange.KeyPair) (Announcement, error) {
	token, err := auth.Announce(nodeID, local.Public)
	if err != nil {
		return Announcement{}, fmt.Errorf("handshake: announce %s: %w", nodeID, err)
	}
	return Announcement{NodeID: nodeID, Token: token}, nil
}

// EstablishSession verifies a peer's announcement token, derives the
// shared secret with the local identity key pair, and installs it into
// engine as peer's session key. It is symmetric: whichever side calls this
// first derives and installs the same secret, since DeriveSharedSecret's
// HKDF info string is order-independent in the two node ids.
func EstablishSession(engine *crypto.Engine, auth *nodeauth.Manager, localID string, local *keyexchange.KeyPair, peerToken string) (peerID string, err error) {
	peerID, peerPublic, err := auth.Verify(peerToken)
	if err != nil {
		return "", fmt.Errorf("handshake: verify peer token: %w", err)
	}

	secret, err := keyexchange.DeriveSharedSecret(local, peerPublic, localID, peerID)
	if err != nil {
		return "", fmt.Errorf("handshake: derive shared secret with %s: %w", peerID, err)
	}

	if err := engine.InstallKey(canonicalKeyID(localID, peerID), peerID, secret); err != nil {
		return "", fmt.Errorf("handshake: install session key for %s: %w", peerID, err)
	}
	return peerID, nil
}

// canonicalKeyID orders the two node ids the same way regardless of which
// side calls EstablishSession first, so both engines install the secret
// under the identical key id that shows up in every envelope exchanged
// between them.
func canonicalKeyID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
