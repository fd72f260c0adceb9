package scanfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"presence/cmd/identity/ids"
	scanv1 "presence/shared/contracts/scan/v1"
)

// Bridge is the scanner side of the feed: it accepts kiosk connections and fans each
// published scan out to them. cmd/scanbridge serves it in front of a keyboard-wedge
// or serial scanner.
type Bridge struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	originPatterns []string
	acks           chan scanv1.ScanAckPayload
	log            *slog.Logger
}

// NewBridge constructs a Bridge. originPatterns are passed to websocket.Accept for
// cross-origin kiosks (host patterns such as "kiosk-*.local").
func NewBridge(log *slog.Logger, originPatterns ...string) *Bridge {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		conns:          make(map[*websocket.Conn]struct{}),
		originPatterns: originPatterns,
		acks:           make(chan scanv1.ScanAckPayload, 64),
		log:            log,
	}
}

// Acks delivers acknowledgments from kiosks. Acks are dropped when nobody reads.
func (b *Bridge) Acks() <-chan scanv1.ScanAckPayload { return b.acks }

// Connected returns the number of connected kiosks.
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ServeHTTP upgrades the request and keeps the kiosk registered until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{scanv1.Subprotocol},
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		b.log.Info("scanbridge.accept.fail", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != scanv1.Subprotocol {
		b.log.Info("scanbridge.reject.subprotocol", "got", sp, "want", scanv1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxReadBytes)

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
	}()

	b.log.Info("scanbridge.kiosk.connected", "remote", r.RemoteAddr)
	ctx := r.Context()
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if isBadEnvelope(err) {
				b.log.Info("scanbridge.envelope.invalid", "err", err)
				continue
			}
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				b.log.Info("scanbridge.read.fail", "remote", r.RemoteAddr, "err", err)
			}
			return
		}

		switch env.Type {
		case scanv1.TypeScanAck:
			var p scanv1.ScanAckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				continue
			}
			select {
			case b.acks <- p:
			default:
			}
		case scanv1.TypeError:
			var p scanv1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			b.log.Warn("scanbridge.kiosk.error", "code", p.Code, "message", p.Message)
		}
	}
}

// Publish sends data to every connected kiosk and returns the scan ID and the number
// of kiosks it reached.
func (b *Bridge) Publish(ctx context.Context, data string) (string, int, error) {
	p := scanv1.ScanPayload{Data: strings.TrimRight(data, "\r\n"), Format: "qr", ScannedAt: time.Now().UTC()}
	if err := p.Validate(); err != nil {
		return "", 0, err
	}
	id, err := ids.NewULID(p.ScannedAt)
	if err != nil {
		return "", 0, err
	}
	env, err := scanv1.NewEnvelope(scanv1.TypeScan, id, p.ScannedAt, p)
	if err != nil {
		return "", 0, err
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := writeEnvelope(ctx, c, env, defaultWriteTimeout); err != nil {
			b.log.Info("scanbridge.write.fail", "err", err)
			continue
		}
		sent++
	}
	return id, sent, nil
}
