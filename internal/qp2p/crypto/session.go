// Package crypto implements the session crypto engine: per-peer key
// management, AEAD encryption with an independent HMAC tag, and monotonic
// sequence numbers for replay rejection.
//
// It is grounded on the teacher's pkg/crypto/e2ee.go (HKDF-derived AES-256-GCM
// session keys behind a mutex-guarded map), adapted from an asymmetric
// X25519 handshake to the pre-shared-secret, HMAC-then-AEAD design this
// domain requires.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/rs/zerolog"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32

	hmacSalt = "hmac_salt"
	hmacInfo = "quantum_p2p_hmac"
)

// Envelope is the decoded, in-memory form of an encrypted message (§3).
// Wire encoding (hex strings, JSON) is the responsibility of package wire.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
	Sequence   uint64
	KeyID      string
	HMAC       []byte
}

// sessionKey is a peer session key record (§3 "Peer Session Key").
type sessionKey struct {
	mu          sync.Mutex
	keyID       string
	peer        string
	secret      [keySize]byte
	createdAt   time.Time
	outboundSeq uint64
}

func (k *sessionKey) expired(ttl time.Duration) bool {
	return time.Since(k.createdAt) > ttl
}

// Engine is the session crypto engine for one local node identity. It owns
// the key store and the inbound sequence watermark; it shares no mutable
// state with any other component (§3 Ownership).
type Engine struct {
	nodeID string
	ttl    time.Duration
	logger zerolog.Logger

	keysMu     sync.RWMutex
	byKeyID    map[string]*sessionKey
	outbound   map[string]*sessionKey // peer -> key used to encrypt to that peer
	generation map[string]int         // peer -> rotation generation, for fresh key_ids

	watermarkMu sync.Mutex
	watermark   map[string]uint64 // sender -> highest accepted sequence
}

// NewEngine creates a session crypto engine for the given local node
// identity. ttl is the session key rotation TTL (§3, default 3600s).
func NewEngine(nodeID string, ttl time.Duration, logger zerolog.Logger) *Engine {
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	return &Engine{
		nodeID:     nodeID,
		ttl:        ttl,
		logger:     logger.With().Str("component", "session-crypto").Str("node_id", nodeID).Logger(),
		byKeyID:    make(map[string]*sessionKey),
		outbound:   make(map[string]*sessionKey),
		generation: make(map[string]int),
		watermark:  make(map[string]uint64),
	}
}

// InstallKey installs an externally-obtained shared secret for decrypting
// (or encrypting) traffic under keyID, associated with peer. This is how
// the out-of-scope key-exchange collaborator (§4.1, §9) hands a counterpart
// record to the decrypting side. Installing overwrites any prior record
// under the same keyID; it does not reset another peer's watermark.
func (e *Engine) InstallKey(keyID, peer string, secret [keySize]byte) error {
	if peer == "" {
		return ErrNoPeer
	}
	key := &sessionKey{
		keyID:     keyID,
		peer:      peer,
		secret:    secret,
		createdAt: time.Now(),
	}
	e.keysMu.Lock()
	e.byKeyID[keyID] = key
	// A key handed in by an external collaborator (e.g. a symmetric
	// X25519 derivation both peers compute independently) is also usable
	// for outbound traffic to peer, not just for decrypting inbound
	// messages under keyID.
	e.outbound[peer] = key
	e.keysMu.Unlock()
	e.logger.Info().Str("peer", peer).Str("key_id", keyID).Msg("installed session key")
	return nil
}

// ExportOutboundKey returns the key id and raw shared secret this engine is
// currently using to encrypt messages to peer, creating one if none exists
// yet. A key-exchange collaborator calls this to hand the secret to the
// remote peer out of band, which installs it via InstallKey.
func (e *Engine) ExportOutboundKey(peer string) (keyID string, secret [keySize]byte, err error) {
	key, err := e.getOrCreateOutboundKey(peer)
	if err != nil {
		return "", secret, err
	}
	key.mu.Lock()
	defer key.mu.Unlock()
	return key.keyID, key.secret, nil
}

// getOrCreateOutboundKey returns the session key used to encrypt messages to
// peer, creating or rotating it as needed. Complexity: O(1).
func (e *Engine) getOrCreateOutboundKey(peer string) (*sessionKey, error) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()

	if key, ok := e.outbound[peer]; ok && !key.expired(e.ttl) {
		return key, nil
	}

	var secret [keySize]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRng, err)
	}

	gen := e.generation[peer] + 1
	e.generation[peer] = gen
	keyID := fmt.Sprintf("%s:%s", e.nodeID, peer)
	if gen > 1 {
		keyID = fmt.Sprintf("%s#%d", keyID, gen)
	}

	key := &sessionKey{
		keyID:     keyID,
		peer:      peer,
		secret:    secret,
		createdAt: time.Now(),
	}
	e.outbound[peer] = key
	e.byKeyID[keyID] = key
	e.logger.Info().Str("peer", peer).Str("key_id", keyID).Int("generation", gen).Msg("created session key")
	return key, nil
}

// Encrypt implements §4.1's encryption procedure. The sequence increment,
// nonce generation and envelope emission happen while holding the key's
// lock so the (sequence, nonce) pair is atomic per peer, as §5 requires.
func (e *Engine) Encrypt(peer string, plaintext []byte) (*Envelope, error) {
	if peer == "" {
		return nil, ErrNoPeer
	}
	key, err := e.getOrCreateOutboundKey(peer)
	if err != nil {
		return nil, err
	}

	key.mu.Lock()
	defer key.mu.Unlock()

	key.outboundSeq++
	seq := key.outboundSeq

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRng, err)
	}

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)

	encKey, err := derive(key.secret[:], nonce, []byte(fmt.Sprintf("%s:%s", e.nodeID, peer)))
	if err != nil {
		return nil, fmt.Errorf("%w: derive enc key: %v", ErrAeadFailure, err)
	}

	gcm, err := newGCM(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAeadFailure, err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, seqBytes)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	hmacKey, err := derive(key.secret[:], []byte(hmacSalt), []byte(hmacInfo))
	if err != nil {
		return nil, fmt.Errorf("%w: derive hmac key: %v", ErrAeadFailure, err)
	}
	mac := computeHMAC(hmacKey, nonce, seqBytes, ciphertext, tag)

	return &Envelope{
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
		Sequence:   seq,
		KeyID:      key.keyID,
		HMAC:       mac,
	}, nil
}

// Decrypt implements §4.1's decryption procedure: reject unknown key,
// reject replay, verify HMAC before touching the AEAD, then verify+decrypt.
// On success the watermark for sender is advanced to env.Sequence.
func (e *Engine) Decrypt(sender string, env *Envelope) ([]byte, error) {
	if sender == "" {
		return nil, ErrNoPeer
	}

	e.keysMu.RLock()
	key, ok := e.byKeyID[env.KeyID]
	e.keysMu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}

	e.watermarkMu.Lock()
	last := e.watermark[sender]
	e.watermarkMu.Unlock()
	if env.Sequence <= last {
		return nil, ErrReplay
	}

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, env.Sequence)

	key.mu.Lock()
	secret := key.secret
	key.mu.Unlock()

	hmacKey, err := derive(secret[:], []byte(hmacSalt), []byte(hmacInfo))
	if err != nil {
		return nil, fmt.Errorf("%w: derive hmac key: %v", ErrAeadFailure, err)
	}
	expected := computeHMAC(hmacKey, env.Nonce, seqBytes, env.Ciphertext, env.Tag)
	if !hmac.Equal(expected, env.HMAC) {
		return nil, ErrHmacMismatch
	}

	decKey, err := derive(secret[:], env.Nonce, []byte(fmt.Sprintf("%s:%s", sender, e.nodeID)))
	if err != nil {
		return nil, fmt.Errorf("%w: derive dec key: %v", ErrAeadFailure, err)
	}

	gcm, err := newGCM(decKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAeadFailure, err)
	}

	sealed := append(append([]byte{}, env.Ciphertext...), env.Tag...)
	plaintext, err := gcm.Open(nil, env.Nonce, sealed, seqBytes)
	if err != nil {
		return nil, ErrAeadFailure
	}

	e.watermarkMu.Lock()
	if env.Sequence > e.watermark[sender] {
		e.watermark[sender] = env.Sequence
	}
	e.watermarkMu.Unlock()

	return plaintext, nil
}

// Watermark returns the current highest accepted sequence for sender,
// mainly for tests and diagnostics.
func (e *Engine) Watermark(sender string) uint64 {
	e.watermarkMu.Lock()
	defer e.watermarkMu.Unlock()
	return e.watermark[sender]
}

func derive(ikm, salt, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, keySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func computeHMAC(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}
