package scanfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	scanv1 "presence/shared/contracts/scan/v1"
)

func TestNewClient_Validation(t *testing.T) {
	noop := func(context.Context, string) (bool, string) { return true, "" }
	cases := []struct {
		url     string
		handle  Handler
		wantErr bool
	}{
		{url: "http://127.0.0.1/ws", handle: noop, wantErr: true},
		{url: "ws://", handle: noop, wantErr: true},
		{url: "ws://127.0.0.1:9/ws", handle: nil, wantErr: true},
		{url: "ws://127.0.0.1:9/ws", handle: noop, wantErr: false},
	}
	for _, tc := range cases {
		_, err := NewClient(tc.url, tc.handle)
		if (err != nil) != tc.wantErr {
			t.Fatalf("NewClient(%q) err=%v wantErr=%v", tc.url, err, tc.wantErr)
		}
	}
}

func TestBridgeToClient_ScanAndAck(t *testing.T) {
	bridge := NewBridge(nil)
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	var mu sync.Mutex
	var got []string
	handler := func(_ context.Context, data string) (bool, string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, data)
		switch len(got) {
		case 1:
			return true, ""
		case 2:
			return false, "processing"
		default:
			return false, ""
		}
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, err := NewClient(wsURL, handler, WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitConnected(t, bridge)

	id, sent, err := bridge.Publish(context.Background(), "QR123\n")
	if err != nil || sent != 1 {
		t.Fatalf("Publish: sent=%d err=%v", sent, err)
	}
	ack := waitAck(t, bridge)
	if ack.ScanID != id || !ack.Accepted {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	_, _, _ = bridge.Publish(context.Background(), "QR456")
	ack = waitAck(t, bridge)
	if ack.Accepted || ack.Reason != "processing" {
		t.Fatalf("unexpected ack for dropped scan: %+v", ack)
	}

	_, _, _ = bridge.Publish(context.Background(), "QR789")
	ack = waitAck(t, bridge)
	if ack.Accepted || ack.Reason != defaultDropReason {
		t.Fatalf("unexpected ack for scan dropped without reason: %+v", ack)
	}

	mu.Lock()
	if len(got) != 3 || got[0] != "QR123" || got[1] != "QR456" || got[2] != "QR789" {
		t.Fatalf("handler saw %v", got)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestBridge_PublishRejectsBlank(t *testing.T) {
	b := NewBridge(nil)
	if _, _, err := b.Publish(context.Background(), "\r\n"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClient_RunStopsWhileUnreachable(t *testing.T) {
	client, err := NewClient("ws://127.0.0.1:1/ws", func(context.Context, string) (bool, string) { return true, "" },
		WithBackoff(5*time.Millisecond, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func waitConnected(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for b.Connected() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("kiosk never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitAck(t *testing.T, b *Bridge) scanv1.ScanAckPayload {
	t.Helper()
	select {
	case ack := <-b.Acks():
		return ack
	case <-time.After(3 * time.Second):
		t.Fatalf("no ack")
	}
	return scanv1.ScanAckPayload{}
}
