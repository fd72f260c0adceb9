// Package app wires the presence kiosk runtime: config, logging, tracing, the
// attendance pipeline, the scan feed and the local control surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"presence/cmd/internal/apiclient"
	"presence/cmd/internal/attendance"
	"presence/cmd/internal/audit"
	"presence/cmd/internal/camera"
	"presence/cmd/internal/credential"
	"presence/cmd/internal/events"
	"presence/cmd/internal/ledger"
	"presence/cmd/internal/liveliness"
	"presence/cmd/internal/scanfeed"
	"presence/cmd/internal/verify"
)

const serviceName = "presence"

// App owns every long-lived component and closes them in reverse construction order.
type App struct {
	cfg Config
	log Logger

	pipeline *attendance.Orchestrator
	machine  *liveliness.Machine
	feed     *scanfeed.Client
	handler  http.Handler

	closers []func()
}

// New constructs a fully wired App. On error every component built so far is closed.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	fp, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	api, err := apiclient.New(cfg.APIBaseURL, apiclient.WithTimeout(cfg.APITimeout), apiclient.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var checks []readinessCheck
	creds, err := a.newCredentialStore(ctx, &checks)
	if err != nil {
		return nil, err
	}

	device, authorizer, err := newCamera(cfg)
	if err != nil {
		return nil, err
	}

	gw := verify.NewGateway(device, verify.NewHTTPVerifier(api), creds,
		verify.WithCaptureOptions(camera.CaptureOptions{Quality: cfg.CaptureQuality, SkipPostProcessing: true}),
		verify.WithLogger(log),
		verify.WithFingerprinter(fp),
	)

	a.machine = liveliness.NewMachine(authorizer, gw, liveliness.Options{
		ActionWindow:  cfg.ActionWindow,
		SettleDelay:   cfg.SettleDelay,
		Logger:        log,
		Fingerprinter: fp,
	})
	a.closers = append(a.closers, a.machine.Close)

	store, closeStore, err := audit.Open(ctx, cfg.AuditDSN, newDBPool(cfg))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	log.Info("audit.store.open", "kind", auditKind(cfg.AuditDSN))

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, serviceName, log)
		if err != nil {
			return nil, err
		}
		publisher = np
		a.closers = append(a.closers, func() { _ = np.Close() })
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.pipeline, err = attendance.New(attendance.Config{
		CourseID:      cfg.CourseID,
		Liveliness:    a.machine,
		Committer:     ledger.NewAdapter(ledger.NewHTTPMarker(api), creds, fp, log),
		Presenter:     newLogPresenter(log),
		Recorder:      store,
		Events:        publisher,
		Metrics:       attendance.NewMetrics(reg),
		Fingerprinter: fp,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ScanFeedURL != "" {
		a.feed, err = scanfeed.NewClient(cfg.ScanFeedURL, a.pipeline.Submit,
			scanfeed.WithLogger(log),
			scanfeed.WithOrigin(cfg.ScanFeedOrigin),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	surface := &controlSurface{
		pipe:     a.pipeline,
		runs:     store,
		auth:     credential.NewAuthenticator(api, creds),
		registry: reg,
		checks:   checks,
		log:      log,
	}
	a.handler = surface.routes(cfg.CORSAllowedOrigins)
	return a, nil
}

func (a *App) newCredentialStore(ctx context.Context, checks *[]readinessCheck) (credential.Store, error) {
	if a.cfg.RedisURL == "" {
		return credential.NewMemoryStore(a.cfg.Credential), nil
	}

	rs, err := credential.NewRedisStore(a.cfg.RedisURL, a.cfg.RedisKey, a.cfg.CredentialTTL, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rs.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if a.cfg.Credential != "" {
		if err := rs.SetCredential(ctx, a.cfg.Credential); err != nil {
			return nil, err
		}
	}
	*checks = append(*checks, readinessCheck{name: "redis", check: rs.Ping})
	return rs, nil
}

func newCamera(cfg Config) (camera.Device, camera.Authorizer, error) {
	switch cfg.CameraMode {
	case CameraCommand:
		d, err := camera.NewCommandDevice(cfg.CameraCommand, cfg.CameraDevice)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	default:
		d, err := camera.NewFileDevice(cfg.CameraFile)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
}

func auditKind(dsn string) string {
	kind, _ := audit.Kind(dsn)
	return kind
}

// Handler exposes the control surface, mainly for tests.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves the control surface and the scan feed until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"course_id", a.pipeline.CourseID(),
		"camera", a.cfg.CameraMode,
		"scan_feed", a.feed != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	feedDone := make(chan struct{})
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	go func() {
		defer close(feedDone)
		if a.feed != nil {
			_ = a.feed.Run(feedCtx)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	stopFeed()
	<-feedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = err
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() {
	for _, fn := range slices.Backward(a.closers) {
		fn()
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
