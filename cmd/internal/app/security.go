package app

import (
	"errors"
	"fmt"

	"presence/cmd/security/token"
)

const minFingerprintKeyBytes = 16

// ValidateSecurityConfig enforces the fingerprinting policy at startup and returns the
// Fingerprinter used for every log line, event and audit record.
//
// With RequireFingerprintKey set, an unkeyed (guessable) digest of scan tokens is refused.
func ValidateSecurityConfig(cfg Config) (*token.Fingerprinter, error) {
	fp, err := token.NewFingerprinter(cfg.FingerprintKey)
	if err != nil {
		if errors.Is(err, token.ErrKeyTooLong) {
			return nil, fmt.Errorf("%w: PRESENCE_FINGERPRINT_KEY is too long (max 64 bytes)", ErrConfig)
		}
		return nil, err
	}
	if !cfg.RequireFingerprintKey {
		return fp, nil
	}
	if !fp.Keyed() {
		return nil, fmt.Errorf("%w: PRESENCE_REQUIRE_FINGERPRINT_KEY=true but PRESENCE_FINGERPRINT_KEY is missing", ErrConfig)
	}
	if len(cfg.FingerprintKey) < minFingerprintKeyBytes {
		return nil, fmt.Errorf("%w: PRESENCE_FINGERPRINT_KEY is too short (min %d bytes)", ErrConfig, minFingerprintKeyBytes)
	}
	return fp, nil
}
