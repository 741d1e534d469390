package node

import "errors"

var (
	ErrNotRunning    = errors.New("node: manager is not running")
	ErrAlreadyRunning = errors.New("node: manager is already running")
	ErrNoHandler     = errors.New("node: no handler registered for message type")
	ErrPeerUnknown   = errors.New("node: peer address could not be resolved")
	// ErrEncryptionFailed is the §7 "encryption_failed" send-path contract
	// error: an Encrypt failure (empty peer id, entropy-source error, AEAD
	// failure) is never retried, unlike transport failures.
	ErrEncryptionFailed = errors.New("node: encryption_failed")
)
