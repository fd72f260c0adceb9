// Package scanfeed carries scanned payloads from a scanner bridge to the kiosk over
// WebSocket (protocol presence.scan.v1).
package scanfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	scanv1 "presence/shared/contracts/scan/v1"
)

const (
	maxReadBytes        = 64 << 10
	defaultWriteTimeout = 5 * time.Second
)

func readEnvelope(ctx context.Context, conn *websocket.Conn) (scanv1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return scanv1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return scanv1.Envelope{}, fmt.Errorf("%w: unsupported message type: %v", errBadEnvelope, mt)
	}
	var env scanv1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return scanv1.Envelope{}, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return scanv1.Envelope{}, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env scanv1.Envelope, timeout time.Duration) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

var errBadEnvelope = errors.New("bad envelope")

func isBadEnvelope(err error) bool { return errors.Is(err, errBadEnvelope) }
