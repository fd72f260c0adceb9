package scanfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"presence/cmd/identity/ids"
	scanv1 "presence/shared/contracts/scan/v1"
)

// Handler receives one scanned payload and reports whether a run was started for it.
// A dropped scan may name a reason; it is relayed in the ack.
type Handler func(ctx context.Context, data string) (accepted bool, reason string)

const defaultDropReason = "rejected"

// Client connects to a scan bridge and forwards scans to a Handler, reconnecting with
// exponential backoff until its context ends.
type Client struct {
	url          string
	origin       string
	handle       Handler
	log          *slog.Logger
	minBackoff   time.Duration
	maxBackoff   time.Duration
	writeTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOrigin sets the Origin header sent on the handshake.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) { c.origin = strings.TrimSpace(origin) }
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// NewClient validates rawURL (ws or wss) and returns a Client.
func NewClient(rawURL string, handle Handler, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("scanfeed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("scanfeed: unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("scanfeed: missing host")
	}
	if handle == nil {
		return nil, errors.New("scanfeed: nil handler")
	}

	c := &Client{
		url:          u.String(),
		handle:       handle,
		log:          slog.New(slog.DiscardHandler),
		minBackoff:   500 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Run blocks until ctx is done. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn("scanfeed.disconnected", "url", c.url, "err", err, "retry_in", backoff.String())

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	h := http.Header{}
	if c.origin != "" {
		h.Set("Origin", c.origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		Subprotocols: []string{scanv1.Subprotocol},
		HTTPHeader:   h,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != scanv1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return false, fmt.Errorf("scanfeed: subprotocol mismatch: %q", sp)
	}
	conn.SetReadLimit(maxReadBytes)
	c.log.Info("scanfeed.connected", "url", c.url)

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if isBadEnvelope(err) {
				c.log.Info("scanfeed.envelope.invalid", "err", err)
				c.writeError(ctx, conn, "bad_envelope", err.Error())
				continue
			}
			return true, err
		}

		switch env.Type {
		case scanv1.TypeScan:
			if err := c.handleScan(ctx, conn, env); err != nil {
				return true, err
			}
		case scanv1.TypeError:
			var p scanv1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			c.log.Warn("scanfeed.peer.error", "code", p.Code, "message", p.Message)
		default:
			c.log.Debug("scanfeed.envelope.ignored", "type", env.Type)
		}
	}
}

func (c *Client) handleScan(ctx context.Context, conn *websocket.Conn, env scanv1.Envelope) error {
	var p scanv1.ScanPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.writeError(ctx, conn, "bad_payload", err.Error())
		return nil
	}
	if err := p.Validate(); err != nil {
		c.writeError(ctx, conn, "bad_payload", err.Error())
		return nil
	}

	accepted, reason := c.handle(ctx, p.Data)
	ack := scanv1.ScanAckPayload{ScanID: env.ID, Accepted: accepted}
	if !accepted {
		ack.Reason = reason
		if ack.Reason == "" {
			ack.Reason = defaultDropReason
		}
	}
	c.log.Info("scanfeed.scan", "scan_id", env.ID, "accepted", ack.Accepted, "reason", ack.Reason)

	out, err := c.envelope(scanv1.TypeScanAck, ack)
	if err != nil {
		return err
	}
	return writeEnvelope(ctx, conn, out, c.writeTimeout)
}

func (c *Client) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	out, err := c.envelope(scanv1.TypeError, scanv1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := writeEnvelope(ctx, conn, out, c.writeTimeout); err != nil {
		c.log.Debug("scanfeed.write.fail", "err", err)
	}
}

func (c *Client) envelope(typ string, payload any) (scanv1.Envelope, error) {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return scanv1.Envelope{}, err
	}
	return scanv1.NewEnvelope(typ, id, now, payload)
}
