// Package token derives stable fingerprints for scan tokens.
//
// Scan tokens are one-time attendance credentials. They are passed to the remote
// verifier and ledger verbatim, but logs, audit rows and published events only ever
// carry the fingerprint.
//
// Design goals:
// - Keyed BLAKE2b-256 when PRESENCE_FINGERPRINT_KEY is configured.
// - Unkeyed BLAKE2b-256 otherwise (dev mode).
// - Stable 64-char hex output.
package token
