package crypto

import "errors"

// Sentinel errors for the session crypto engine. Each failure mode in the
// encrypt/decrypt contract is surfaced distinctly so callers can log and
// count them separately instead of collapsing everything into one generic
// "decryption failed".
var (
	ErrUnknownKey   = errors.New("crypto: unknown key id")
	ErrReplay       = errors.New("crypto: sequence number is a replay")
	ErrHmacMismatch = errors.New("crypto: hmac verification failed")
	ErrAeadFailure  = errors.New("crypto: aead seal/open failed")
	ErrRng          = errors.New("crypto: failed to read from entropy source")
	ErrNoPeer       = errors.New("crypto: peer identifier is empty")
)
