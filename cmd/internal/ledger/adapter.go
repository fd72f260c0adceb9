// Package ledger commits attendance records to the remote attendance ledger.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/cmd/internal/apiclient"
	"presence/cmd/internal/credential"
	"presence/cmd/security/token"
)

const markPath = "/attendance/mark"

// MarkRequest is the ledger commit payload.
type MarkRequest struct {
	QRToken    string `json:"qrToken"`
	CourseID   string `json:"courseId"`
	Credential string `json:"-"`
}

// Receipt is the ledger's answer to a successful commit.
type Receipt struct {
	Message string `json:"message"`
}

// Marker records attendance.
type Marker interface {
	Mark(ctx context.Context, req MarkRequest) (Receipt, error)
}

// HTTPMarker posts to the attendance backend.
type HTTPMarker struct {
	api *apiclient.Client
}

// NewHTTPMarker constructs an HTTPMarker.
func NewHTTPMarker(api *apiclient.Client) *HTTPMarker {
	return &HTTPMarker{api: api}
}

// Mark implements Marker. Any 2xx status records the attendance; a body that is
// empty or not JSON yields an empty Receipt.
func (m *HTTPMarker) Mark(ctx context.Context, req MarkRequest) (Receipt, error) {
	var out Receipt
	if err := m.api.PostJSON(ctx, markPath, req.Credential, req, &out); err != nil {
		if _, ok := apiclient.AsDecodeError(err); ok {
			return Receipt{}, nil
		}
		return Receipt{}, err
	}
	return out, nil
}

// ErrEmptyToken is returned when Commit is called without a scan token.
var ErrEmptyToken = errors.New("empty scan token")

// Adapter issues one commit per call. It never caches and never retries on its own.
type Adapter struct {
	marker Marker
	creds  credential.Source
	fp     *token.Fingerprinter
	log    *slog.Logger
	tracer trace.Tracer
}

// NewAdapter constructs an Adapter. log and fp may be nil.
func NewAdapter(marker Marker, creds credential.Source, fp *token.Fingerprinter, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		marker: marker,
		creds:  creds,
		fp:     fp,
		log:    log,
		tracer: otel.Tracer("presence/ledger"),
	}
}

// Commit records attendance for scanToken in courseID.
// Failures are returned as *CommitError.
func (a *Adapter) Commit(ctx context.Context, scanToken, courseID string) (Receipt, error) {
	if strings.TrimSpace(scanToken) == "" {
		return Receipt{}, ErrEmptyToken
	}

	ctx, span := a.tracer.Start(ctx, "ledger.commit", trace.WithAttributes(attribute.String("ledger.course_id", courseID)))
	defer span.End()

	cred, ok := a.creds.Credential(ctx)
	if !ok {
		a.log.Warn("ledger.credential.absent")
	}

	tokenFP := a.fp.Short(scanToken)
	receipt, err := a.marker.Mark(ctx, MarkRequest{QRToken: scanToken, CourseID: courseID, Credential: cred})
	if err != nil {
		ce := classify(err)
		a.log.Warn("ledger.commit.fail", "token_fp", tokenFP, "course_id", courseID, "kind", ce.Kind.Error(), "err", err)
		span.SetStatus(codes.Error, ce.Kind.Error())
		return Receipt{}, ce
	}

	a.log.Info("ledger.commit.ok", "token_fp", tokenFP, "course_id", courseID)
	return receipt, nil
}
