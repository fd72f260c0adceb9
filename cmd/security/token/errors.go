package token

import "errors"

// ErrKeyTooLong is returned when a fingerprint key exceeds the BLAKE2b key limit (64 bytes).
var ErrKeyTooLong = errors.New("fingerprint key too long")
