// Command scanbridge forwards scanner input to presence kiosks over WebSocket.
//
// Each non-blank stdin line (keyboard-wedge and serial scanners both emit one line per
// code) becomes one scan envelope. POST /publish {"data": "..."} does the same for
// scanners that speak HTTP.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"presence/cmd/internal/app"
	"presence/cmd/internal/scanfeed"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8091", "listen address")
		origins  = flag.String("origins", "", "comma-separated Origin host patterns accepted on /ws")
		level    = flag.String("log-level", "info", "log level")
		format   = flag.String("log-format", "pretty", "log format (json, text, pretty)")
		useStdin = flag.Bool("stdin", true, "publish stdin lines")
	)
	flag.Parse()

	log := app.NewLogger(*level, *format)
	if err := run(*addr, splitList(*origins), *useStdin, log); err != nil {
		log.Error("scanbridge.fail", "err", err)
		os.Exit(1)
	}
}

func run(addr string, origins []string, useStdin bool, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge := scanfeed.NewBridge(log, origins...)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(app.WithRequestLogging(log))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/ws", bridge)
	r.Post("/publish", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Data string `json:"data"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&in); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		id, sent, err := bridge.Publish(r.Context(), in.Data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"scan_id": id, "delivered": sent})
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("scanbridge.start", "addr", addr)

	go logAcks(ctx, bridge, log)
	if useStdin {
		go publishLines(ctx, bridge, log)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func publishLines(ctx context.Context, bridge *scanfeed.Bridge, log *slog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, sent, err := bridge.Publish(ctx, line)
		if err != nil {
			log.Warn("scanbridge.publish.fail", "err", err)
			continue
		}
		if sent == 0 {
			log.Warn("scanbridge.publish.no_kiosk", "scan_id", id)
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("scanbridge.stdin.fail", "err", err)
	}
}

func logAcks(ctx context.Context, bridge *scanfeed.Bridge, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-bridge.Acks():
			log.Info("scanbridge.ack", "scan_id", ack.ScanID, "accepted", ack.Accepted, "reason", ack.Reason)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
