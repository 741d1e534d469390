// Package keyexchange supplements §4.1's "key exchange is an external
// collaborator" seam with a concrete X25519 Diffie-Hellman exchange that
// produces the 32-byte pre-shared secrets qp2p/crypto.Engine.InstallKey
// expects.
//
// Grounded on the teacher's pkg/crypto/e2ee.go, which performs the same
// X25519 ECDH + HKDF derivation for its own E2EEManager; this package
// keeps that shape but hands the derived secret to a qp2p/crypto.Engine
// instead of using it in place.
package keyexchange

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"crypto/sha256"
)

var (
	ErrInvalidPublicKey = errors.New("keyexchange: invalid public key")
)

// KeyPair is a node's X25519 identity key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair, matching the teacher's
// e2ee.GenerateKeyPair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("keyexchange: read entropy: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("keyexchange: derive public key: %w", err)
	}

	kp := &KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DeriveSharedSecret runs X25519 ECDH between local and the peer's public
// key, then HKDF-SHA256 expands the raw ECDH output into the 32-byte
// session secret qp2p/crypto consumes. localID/peerID order the HKDF info
// string so both sides derive the same secret regardless of who initiated.
func DeriveSharedSecret(local *KeyPair, peerPublic [32]byte, localID, peerID string) ([32]byte, error) {
	var secret [32]byte

	shared, err := curve25519.X25519(local.Private[:], peerPublic[:])
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	info := infoFor(localID, peerID)
	h := hkdf.New(sha256.New, shared, nil, info)
	if _, err := io.ReadFull(h, secret[:]); err != nil {
		return secret, fmt.Errorf("keyexchange: expand shared secret: %w", err)
	}
	return secret, nil
}

// infoFor produces a deterministic HKDF info string independent of
// initiator/responder roles by sorting the two node ids.
func infoFor(a, b string) []byte {
	if a > b {
		a, b = b, a
	}
	return []byte("quantump2p-keyexchange:" + a + ":" + b)
}
