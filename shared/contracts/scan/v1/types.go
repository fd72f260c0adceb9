// Package v1 defines the scan feed protocol v1: how a code scanner (or a bridge in front
// of one) hands scanned payloads to a presence kiosk over WebSocket.
//
// This package is dependency-light and shared by the kiosk client and the bridge.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "presence.scan.v1"

// Type constants (wire-stable).
const (
	// TypeScan carries one scanned payload (bridge -> kiosk).
	TypeScan = "scan"
	// TypeScanAck reports whether the kiosk started a run for the scan (kiosk -> bridge).
	TypeScanAck = "scan_ack"
	// TypeError is a generic error envelope (either direction).
	TypeError = "error"
)

// MaxPayloadBytes bounds the scanned data carried by TypeScan.
const MaxPayloadBytes = 4 << 10

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeScan, TypeScanAck, TypeError:
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unsupported type: %q", e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	if e.TS.IsZero() {
		return errors.New("missing field: ts")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	return nil
}

// ScanPayload is the payload of TypeScan.
type ScanPayload struct {
	// Data is the opaque decoded content of the scanned code.
	Data string `json:"data"`
	// Format names the symbology, e.g. "qr".
	Format    string    `json:"format,omitempty"`
	ScannedAt time.Time `json:"scanned_at,omitempty"`
}

// Validate checks the scan payload.
func (p ScanPayload) Validate() error {
	if strings.TrimSpace(p.Data) == "" {
		return errors.New("missing field: data")
	}
	if len(p.Data) > MaxPayloadBytes {
		return fmt.Errorf("data exceeds %d bytes", MaxPayloadBytes)
	}
	return nil
}

// ScanAckPayload is the payload of TypeScanAck.
type ScanAckPayload struct {
	ScanID   string `json:"scan_id"`
	Accepted bool   `json:"accepted"`
	// Reason is set when Accepted is false, e.g. "processing".
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the payload of TypeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals payload into an envelope of type typ.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts.UTC(), Payload: b}, nil
}
