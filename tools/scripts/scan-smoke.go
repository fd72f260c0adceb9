// Package main provides a CI-friendly smoke test for a running scanbridge.
//
// It validates:
//   - handshake + subprotocol selection
//   - POST /publish fans a scan out to the connected kiosk
//   - the scan envelope carries the published data
//   - scan_ack is accepted by the bridge
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	scanv1 "presence/shared/contracts/scan/v1"
)

const maxReadBytes = 64 << 10

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8091/ws", "bridge WebSocket URL")
		pubURL  = flag.String("publish", "http://127.0.0.1:8091/publish", "bridge publish URL")
		data    = flag.String("data", "", "scan data (default: generated)")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *data == "" {
		*data = fmt.Sprintf("SMOKE-%d", time.Now().UnixNano())
	}

	root := context.Background()
	conn := mustConnect(root, *wsURL, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	delivered := mustPublish(root, *pubURL, *data, *timeout)
	if delivered < 1 {
		fatalf("publish reached %d kiosks", delivered)
	}

	env := mustReadScan(root, conn, *timeout)
	var p scanv1.ScanPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("decode scan payload: %v", err)
	}
	if p.Data != *data {
		fatalf("scan data=%q want=%q", p.Data, *data)
	}

	ack, err := scanv1.NewEnvelope(scanv1.TypeScanAck, "smoke-"+env.ID, time.Now(), scanv1.ScanAckPayload{ScanID: env.ID, Accepted: true})
	if err != nil {
		fatalf("build ack: %v", err)
	}
	b, _ := json.Marshal(ack)
	ctx, cancel := context.WithTimeout(root, *timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write ack: %v", err)
	}

	if *verbose {
		fmt.Printf("scan %s delivered to %d kiosk(s)\n", env.ID, delivered)
	}
	fmt.Println("OK")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{scanv1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != scanv1.Subprotocol {
		fatalf("subprotocol=%q want=%q", got, scanv1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustPublish(parent context.Context, pubURL, data string, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	// Give the bridge a moment to register the connection.
	time.Sleep(100 * time.Millisecond)

	body, _ := json.Marshal(map[string]string{"data": data})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pubURL, bytes.NewReader(body))
	if err != nil {
		fatalf("publish request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("publish: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("publish status=%d", resp.StatusCode)
	}
	var out struct {
		Delivered int `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("publish response: %v", err)
	}
	return out.Delivered
}

func mustReadScan(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) scanv1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("read: %v", err)
		}
		var env scanv1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("decode envelope: %v", err)
		}
		if err := env.Validate(); err != nil {
			fatalf("invalid envelope: %v", err)
		}
		if env.Type == scanv1.TypeScan {
			return env
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
