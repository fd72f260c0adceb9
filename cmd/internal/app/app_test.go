package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"presence/cmd/internal/attendance"
	"presence/cmd/internal/audit"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /attendance/verify-face", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer kiosk-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("qrToken") != "QR123" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"verified": true})
	})
	mux.HandleFunc("POST /attendance/mark", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			QRToken  string `json:"qrToken"`
			CourseID string `json:"courseId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "OK for " + in.QRToken + " in " + in.CourseID})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	still := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(still, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}, 0o600); err != nil {
		t.Fatalf("write still: %v", err)
	}
	return Config{
		HTTPAddr:       "127.0.0.1:0",
		APIBaseURL:     baseURL,
		APITimeout:     5 * time.Second,
		CourseID:       "CS101",
		Credential:     "kiosk-token",
		CameraMode:     CameraFile,
		CameraFile:     still,
		CaptureQuality: 0.8,
		ActionWindow:   5 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
		DBMaxConns:     1,
		LogFormat:      "json",
	}
}

func TestApp_ScanToCommit(t *testing.T) {
	backend := newBackend(t)
	cfg := testConfig(t, backend.URL)

	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)
	h := a.Handler()

	if rr := do(t, h, http.MethodPost, "/scan", `{"data":"QR123"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("scan status=%d body=%s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var st attendance.Snapshot
		rr := do(t, h, http.MethodGet, "/state", "")
		if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
			t.Fatalf("state json: %v", err)
		}
		if st.Phase == attendance.PhaseResult {
			if st.LastNotice == nil || !st.LastNotice.Verified {
				t.Fatalf("expected verified notice, got %+v", st.LastNotice)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reached result phase: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rr := do(t, h, http.MethodPost, "/result/dismiss", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dismiss status=%d body=%s", rr.Code, rr.Body.String())
	}
	var st attendance.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if st.Processing || st.LastNotice == nil || st.LastNotice.Message != "OK for QR123 in CS101" {
		t.Fatalf("unexpected state after commit: %+v", st)
	}

	rr = do(t, h, http.MethodGet, "/runs", "")
	var body struct {
		Runs []audit.RunRecord `json:"runs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("runs json: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].Outcome != audit.OutcomeCommitted || body.Runs[0].TokenFP == "QR123" {
		t.Fatalf("unexpected runs: %+v", body.Runs)
	}
}

func TestNew_RejectsBadCamera(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.CameraMode = CameraCommand
	cfg.CameraCommand = ""

	if _, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected camera error")
	}
}
