package wire

import "errors"

// Sentinel errors for the wire framing layer (§4.4).
var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	ErrMalformed     = errors.New("wire: malformed frame payload")
)
