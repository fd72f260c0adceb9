package verify

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/cmd/internal/camera"
	"presence/cmd/internal/credential"
	"presence/cmd/security/token"
)

// Gateway performs exactly one capture followed by at most one verification call.
// It never retries and never keeps the captured image after the call returns.
type Gateway struct {
	device   camera.Device
	verifier Verifier
	creds    credential.Source
	opts     camera.CaptureOptions
	fp       *token.Fingerprinter
	log      *slog.Logger
	tracer   trace.Tracer
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCaptureOptions overrides the default capture settings.
func WithCaptureOptions(o camera.CaptureOptions) GatewayOption {
	return func(g *Gateway) { g.opts = o }
}

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithFingerprinter sets the fingerprinter used to log scan tokens.
func WithFingerprinter(fp *token.Fingerprinter) GatewayOption {
	return func(g *Gateway) { g.fp = fp }
}

// NewGateway constructs a Gateway.
func NewGateway(device camera.Device, verifier Verifier, creds credential.Source, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		device:   device,
		verifier: verifier,
		creds:    creds,
		opts:     camera.DefaultCaptureOptions(),
		log:      slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer("presence/verify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// CaptureAndVerify captures a still, invokes captured (if non-nil) once the image is in
// memory, then submits it with token to the verifier.
//
// Every failure is folded into the returned Result; raw errors never escape.
func (g *Gateway) CaptureAndVerify(ctx context.Context, scanToken string, captured func()) Result {
	ctx, span := g.tracer.Start(ctx, "verify.capture_and_verify")
	defer span.End()

	tokenFP := g.fp.Short(scanToken)

	still, err := g.device.CaptureStill(ctx, g.opts)
	if err != nil {
		g.log.Warn("verify.capture.fail", "token_fp", tokenFP, "err", err)
		span.SetStatus(codes.Error, "capture failed")
		return Result{Outcome: OutcomeErrored, Err: fmt.Errorf("%w: %w", ErrCaptureFailed, err)}
	}
	defer still.Zero()
	span.SetAttributes(attribute.Int("verify.image_bytes", len(still.Data)))

	if captured != nil {
		captured()
	}

	cred, ok := g.creds.Credential(ctx)
	if !ok {
		// The verifier decides; an unauthenticated call is expected to be rejected.
		g.log.Warn("verify.credential.absent", "token_fp", tokenFP)
	}

	resp, err := g.verifier.VerifyFace(ctx, FaceRequest{Image: still, Token: scanToken, Credential: cred})
	if err != nil {
		g.log.Warn("verify.request.fail", "token_fp", tokenFP, "err", err)
		span.SetStatus(codes.Error, "transport failed")
		return Result{Outcome: OutcomeErrored, Err: fmt.Errorf("%w: %w", ErrVerificationTransportFailed, err)}
	}
	if !resp.Verified {
		g.log.Info("verify.rejected", "token_fp", tokenFP)
		span.SetAttributes(attribute.Bool("verify.verified", false))
		return Result{Outcome: OutcomeNotVerified, Err: ErrVerificationRejected}
	}

	g.log.Info("verify.verified", "token_fp", tokenFP)
	span.SetAttributes(attribute.Bool("verify.verified", true))
	return Result{Outcome: OutcomeVerified}
}
