// Package nodeauth supplements the key-exchange collaborator with signed
// key-announcement tokens: before a node installs a peer's X25519 public
// key via qp2p/keyexchange, it can require the claim be wrapped in a JWT
// so a compromised discovery channel can't substitute a different key for
// a known node id.
//
// Grounded on the teacher's internal/auth/jwt.go (HS256 JWTManager,
// sign/validate pair), trimmed from its user/GitHub session-token claims
// down to a single short-lived node-identity announcement.
package nodeauth

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnnouncementExpiry bounds how long a signed key announcement is valid
// for, limiting the window in which a captured announcement token can be
// replayed.
const AnnouncementExpiry = 5 * time.Minute

// Claims is the JWT payload for a node's key announcement: "I am node_id
// and my current X25519 public key is public_key".
type Claims struct {
	NodeID    string `json:"node_id"`
	PublicKey string `json:"public_key"` // hex-encoded 32 bytes
	jwt.RegisteredClaims
}

// Manager signs and verifies key-announcement tokens for a trust domain
// sharing secret (e.g. all nodes in a deployment, or a pairwise secret
// agreed out of band).
type Manager struct {
	secret []byte
}

// NewManager creates a node-auth manager. secret must be at least 32
// bytes, the same HS256 floor the teacher's JWTManager enforces.
func NewManager(secret string) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("nodeauth: secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Manager{secret: []byte(secret)}, nil
}

// Announce signs a key-announcement token binding nodeID to publicKey.
func (m *Manager) Announce(nodeID string, publicKey [32]byte) (string, error) {
	now := time.Now()
	claims := Claims{
		NodeID:    nodeID,
		PublicKey: hex.EncodeToString(publicKey[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AnnouncementExpiry)),
			Issuer:    "quantump2p-nodeauth",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("nodeauth: sign announcement: %w", err)
	}
	return signed, nil
}

// Verify validates a key-announcement token and returns the claimed node
// id and public key. It rejects expired tokens and any signing method
// other than HMAC.
func (m *Manager) Verify(tokenStr string) (nodeID string, publicKey [32]byte, err error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", publicKey, fmt.Errorf("nodeauth: invalid announcement: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", publicKey, fmt.Errorf("nodeauth: invalid announcement claims")
	}

	raw, err := hex.DecodeString(claims.PublicKey)
	if err != nil || len(raw) != 32 {
		return "", publicKey, fmt.Errorf("nodeauth: malformed public key in announcement")
	}
	copy(publicKey[:], raw)
	return claims.NodeID, publicKey, nil
}
