// Package attendance is the scan-to-attendance pipeline: it accepts a scanned token,
// runs the liveliness session, and on a verified result commits attendance to the ledger.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"presence/cmd/identity/ids"
	"presence/cmd/internal/audit"
	"presence/cmd/internal/events"
	"presence/cmd/internal/ledger"
	"presence/cmd/internal/liveliness"
	"presence/cmd/internal/verify"
	"presence/cmd/security/token"
)

// Phase is the orchestrator's position in a run.
type Phase string

const (
	PhaseScanning    Phase = "scanning"
	PhaseVerifying   Phase = "verifying"
	PhaseResult      Phase = "result"
	PhaseCommitting  Phase = "committing"
	PhaseVerifyRetry Phase = "verify_retry"
	PhaseCommitRetry Phase = "commit_retry"
	PhaseCompleted   Phase = "completed"
	PhaseUnavailable Phase = "unavailable"
)

const recordTimeout = 5 * time.Second

const (
	reasonPermissionDenied  = "permission_denied"
	reasonCameraUnavailable = "camera_unavailable"
)

// Liveliness is the single-session liveliness machine.
type Liveliness interface {
	Start(ctx context.Context, scanToken string) (string, error)
	Acknowledge() (liveliness.Report, error)
	Cancel() error
	Snapshot() liveliness.Snapshot
	Observe(fn func(liveliness.Snapshot))
}

// Committer records attendance in the remote ledger.
type Committer interface {
	Commit(ctx context.Context, scanToken, courseID string) (ledger.Receipt, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	Record(ctx context.Context, rec audit.RunRecord) error
}

// Config wires an Orchestrator.
type Config struct {
	CourseID string

	Liveliness Liveliness
	Committer  Committer
	Presenter  Presenter

	// Optional.
	Recorder      RunRecorder
	Events        events.Publisher
	Metrics       *Metrics
	Fingerprinter *token.Fingerprinter
	Logger        *slog.Logger
	Now           func() time.Time
}

// Snapshot is the orchestrator's observable state.
type Snapshot struct {
	Phase      Phase               `json:"phase"`
	Processing bool                `json:"processing"`
	RunID      string              `json:"run_id,omitempty"`
	CourseID   string              `json:"course_id"`
	Liveliness liveliness.Snapshot `json:"liveliness"`
	LastNotice *Notice             `json:"last_notice,omitempty"`
}

type run struct {
	id             string
	token          string
	tokenFP        string
	sessionID      string
	challenge      string
	startedAt      time.Time
	result         verify.Result
	commitAttempts int
	lastCommitErr  error
	unavailable    string
}

type event struct {
	subject string
	data    any
}

// effects are applied after the lock is released.
type effects struct {
	notice *Notice
	events []event
	record *audit.RunRecord
}

// Orchestrator owns the processing guard. At most one run is in flight; scans that
// arrive while the guard is set are dropped.
//
// Lock order: Orchestrator.mu, then the liveliness machine's lock. Machine snapshots
// arrive on the machine's delivery goroutine and never under its lock.
type Orchestrator struct {
	mu    sync.Mutex
	phase Phase
	guard bool
	epoch uint64
	run   *run
	last  *Notice

	courseID  string
	machine   Liveliness
	committer Committer
	presenter Presenter
	recorder  RunRecorder
	events    events.Publisher
	metrics   *Metrics
	fp        *token.Fingerprinter
	log       *slog.Logger
	now       func() time.Time
}

// New constructs an Orchestrator and subscribes it to the machine's snapshots.
func New(cfg Config) (*Orchestrator, error) {
	courseID := strings.TrimSpace(cfg.CourseID)
	if courseID == "" {
		return nil, fmt.Errorf("%w: course id is required", ErrInvalidConfig)
	}
	if cfg.Liveliness == nil || cfg.Committer == nil || cfg.Presenter == nil {
		return nil, fmt.Errorf("%w: liveliness, committer and presenter are required", ErrInvalidConfig)
	}

	o := &Orchestrator{
		phase:     PhaseScanning,
		courseID:  courseID,
		machine:   cfg.Liveliness,
		committer: cfg.Committer,
		presenter: cfg.Presenter,
		recorder:  cfg.Recorder,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		fp:        cfg.Fingerprinter,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	o.machine.Observe(o.onMachine)
	return o, nil
}

// CourseID returns the configured course identifier.
func (o *Orchestrator) CourseID() string { return o.courseID }

// Reasons reported by Submit for a dropped scan.
const (
	DropProcessing  = "processing"
	DropBlank       = "blank"
	DropStartFailed = "start_failed"
)

// OnScan starts a run for payload. It returns false when the scan was dropped: the
// guard is set, the payload is blank, or the liveliness session could not start.
func (o *Orchestrator) OnScan(ctx context.Context, payload string) bool {
	accepted, _ := o.Submit(ctx, payload)
	return accepted
}

// Submit is OnScan with the drop reason: DropProcessing, DropBlank or DropStartFailed.
// The reason is empty when the scan was accepted.
func (o *Orchestrator) Submit(ctx context.Context, payload string) (accepted bool, reason string) {
	o.mu.Lock()

	if o.guard {
		o.metrics.scan(false)
		o.mu.Unlock()
		o.log.Debug("pipeline.scan.dropped", "reason", DropProcessing)
		return false, DropProcessing
	}
	if strings.TrimSpace(payload) == "" {
		o.metrics.scan(false)
		o.mu.Unlock()
		o.log.Debug("pipeline.scan.dropped", "reason", DropBlank)
		return false, DropBlank
	}

	now := o.now()
	runID, err := ids.NewRunID(now)
	if err != nil {
		o.mu.Unlock()
		o.log.Error("pipeline.scan.run_id", "err", err)
		return false, DropStartFailed
	}

	r := &run{id: runID, token: payload, tokenFP: o.fp.Fingerprint(payload), startedAt: now}
	o.guard = true
	o.epoch++
	o.run = r
	o.phase = PhaseVerifying
	o.last = nil

	sessionID, err := o.machine.Start(ctx, payload)
	if err != nil {
		o.guard = false
		o.run = nil
		o.phase = PhaseScanning
		o.mu.Unlock()
		o.log.Error("pipeline.scan.start_fail", "run_id", runID, "err", err)
		return false, DropStartFailed
	}
	r.sessionID = sessionID
	o.metrics.scan(true)

	fx := effects{events: []event{{
		subject: events.ScanAccepted,
		data:    events.ScanAcceptedEvent{RunID: r.id, TokenFP: r.tokenFP, CourseID: o.courseID, StartedAt: now},
	}}}
	o.mu.Unlock()

	o.log.Info("pipeline.scan.accepted", "run_id", r.id, "session_id", sessionID, "token_fp", o.fp.Short(payload))
	o.apply(ctx, fx)
	return true, ""
}

func (o *Orchestrator) onMachine(s liveliness.Snapshot) {
	o.mu.Lock()

	r := o.run
	if r == nil || s.SessionID != r.sessionID || o.phase != PhaseVerifying {
		o.mu.Unlock()
		return
	}

	var fx effects
	switch s.State {
	case liveliness.StateActionWindowOpen:
		if s.Challenge != nil {
			r.challenge = s.Challenge.ID
			fx.notice = o.noticeLocked(Notice{Kind: NoticeChallenge, Title: titleChallenge, Message: s.Challenge.Instruction})
		}
	case liveliness.StateResultReady:
		if s.Result == nil {
			break
		}
		r.result = *s.Result
		o.phase = PhaseResult
		fx.notice = o.noticeLocked(verificationNotice(r.result))
	case liveliness.StateUnavailable:
		o.phase = PhaseUnavailable
		r.unavailable = reasonCameraUnavailable
		if errors.Is(s.Err, liveliness.ErrPermissionDenied) {
			r.unavailable = reasonPermissionDenied
		}
		o.log.Warn("pipeline.camera.unavailable", "run_id", r.id, "reason", r.unavailable, "err", s.Err)
		msg := s.Message
		if msg == "" {
			msg = liveliness.UnavailableMessage
		}
		fx.notice = o.noticeLocked(Notice{Kind: NoticeUnavailable, Title: titleNoCamera, Message: msg})
	}
	o.mu.Unlock()

	o.apply(context.Background(), fx)
}

// DismissResult acknowledges the verification dialog. A verified result commits
// attendance before returning; any other result raises the verification retry prompt.
func (o *Orchestrator) DismissResult(ctx context.Context) error {
	o.mu.Lock()

	r := o.run
	if o.phase != PhaseResult || r == nil {
		o.mu.Unlock()
		return ErrNoResult
	}
	rep, err := o.machine.Acknowledge()
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("attendance: acknowledge: %w", err)
	}
	r.result = rep.Result
	r.challenge = rep.Challenge.ID

	fx := effects{events: []event{{
		subject: events.VerificationCompleted,
		data: events.VerificationCompletedEvent{
			RunID:       r.id,
			SessionID:   rep.SessionID,
			Challenge:   rep.Challenge.ID,
			Outcome:     string(rep.Result.Outcome),
			Reason:      rep.Result.Reason(),
			CompletedAt: o.now(),
		},
	}}}
	o.metrics.verification(string(rep.Result.Outcome), rep.Result.Reason())

	if !rep.Result.Verified() {
		o.phase = PhaseVerifyRetry
		fx.notice = o.noticeLocked(Notice{
			Kind:    NoticeRetry,
			Title:   titleFailed,
			Message: failureMessage(rep.Result),
			Retry:   RetryVerification,
		})
		o.mu.Unlock()

		o.log.Info("pipeline.verify.failed", "run_id", r.id, "reason", rep.Result.Reason())
		o.apply(ctx, fx)
		return nil
	}

	o.phase = PhaseCommitting
	o.epoch++
	epoch := o.epoch
	o.mu.Unlock()

	o.log.Info("pipeline.verify.ok", "run_id", r.id)
	o.apply(ctx, fx)
	o.commit(ctx, epoch, r)
	return nil
}

// AcceptRetry accepts the active retry prompt. After a failed verification the run
// ends and the guard clears so a new scan can start. After a failed commit the same
// token is committed again without repeating the liveliness check.
func (o *Orchestrator) AcceptRetry(ctx context.Context) error {
	o.mu.Lock()

	r := o.run
	switch o.phase {
	case PhaseVerifyRetry:
		var fx effects
		o.finishLocked(PhaseScanning, audit.OutcomeVerifyFailed, r.result.Reason(), "", &fx)
		o.mu.Unlock()
		o.apply(ctx, fx)
		return nil

	case PhaseCommitRetry:
		o.phase = PhaseCommitting
		o.epoch++
		epoch := o.epoch
		o.mu.Unlock()

		o.log.Info("pipeline.commit.retry", "run_id", r.id, "attempt", r.commitAttempts+1)
		o.commit(ctx, epoch, r)
		return nil

	default:
		o.mu.Unlock()
		return ErrNoRetry
	}
}

// DeclineRetry ends the run from either retry prompt and discards the token.
// It also dismisses the camera-unavailable notice, which offers no retry.
func (o *Orchestrator) DeclineRetry() error {
	o.mu.Lock()

	r := o.run
	var fx effects
	switch o.phase {
	case PhaseUnavailable:
		if err := o.machine.Cancel(); err != nil {
			o.mu.Unlock()
			return fmt.Errorf("attendance: cancel liveliness: %w", err)
		}
		o.finishLocked(PhaseScanning, audit.OutcomeUnavailable, r.unavailable, "", &fx)
	case PhaseVerifyRetry:
		o.finishLocked(PhaseScanning, audit.OutcomeVerifyFailed, r.result.Reason(), "", &fx)
	case PhaseCommitRetry:
		o.finishLocked(PhaseScanning, audit.OutcomeCommitFailed, commitKind(r.lastCommitErr), ledger.UserMessage(r.lastCommitErr), &fx)
	default:
		o.mu.Unlock()
		return ErrNoRetry
	}
	o.mu.Unlock()

	o.apply(context.Background(), fx)
	return nil
}

// Cancel abandons the run in flight. It is a no-op without one and refused while the
// verification dialog is showing. A commit still in flight is not aborted; its result
// is discarded.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()

	r := o.run
	phase := o.phase
	var outcome audit.Outcome
	reason := "cancelled"
	switch phase {
	case PhaseScanning, PhaseCompleted:
		o.mu.Unlock()
		return nil
	case PhaseResult:
		o.mu.Unlock()
		return ErrResultPending
	case PhaseVerifying, PhaseUnavailable:
		if err := o.machine.Cancel(); err != nil {
			o.mu.Unlock()
			if errors.Is(err, liveliness.ErrResultPending) {
				return ErrResultPending
			}
			return fmt.Errorf("attendance: cancel liveliness: %w", err)
		}
		outcome = audit.OutcomeCancelled
		if phase == PhaseUnavailable {
			outcome = audit.OutcomeUnavailable
			reason = r.unavailable
		}
	case PhaseVerifyRetry:
		outcome = audit.OutcomeVerifyFailed
	case PhaseCommitting, PhaseCommitRetry:
		outcome = audit.OutcomeCancelled
	}

	fx := effects{events: []event{{
		subject: events.RunCancelled,
		data:    events.CancelledEvent{RunID: r.id, Phase: string(phase), Reason: "cancelled", At: o.now()},
	}}}
	o.finishLocked(PhaseScanning, outcome, reason, "", &fx)
	o.mu.Unlock()

	o.log.Info("pipeline.cancel", "run_id", r.id, "phase", string(phase))
	o.apply(context.Background(), fx)
	return nil
}

// State returns the current snapshot.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	s := Snapshot{Phase: o.phase, Processing: o.guard, CourseID: o.courseID}
	if o.run != nil {
		s.RunID = o.run.id
	}
	if o.last != nil {
		n := *o.last
		s.LastNotice = &n
	}
	o.mu.Unlock()

	s.Liveliness = o.machine.Snapshot()
	return s
}

// commit issues one ledger call for r. The result is dropped when the run was
// cancelled or superseded while the call was in flight.
func (o *Orchestrator) commit(ctx context.Context, epoch uint64, r *run) {
	receipt, err := o.committer.Commit(ctx, r.token, o.courseID)

	o.mu.Lock()
	if o.epoch != epoch || o.run != r || o.phase != PhaseCommitting {
		o.mu.Unlock()
		o.log.Debug("pipeline.commit.discarded", "run_id", r.id, "err", err)
		return
	}

	r.commitAttempts++
	var fx effects
	if err != nil {
		r.lastCommitErr = err
		kind := commitKind(err)
		o.metrics.commit(kind)
		o.phase = PhaseCommitRetry
		msg := ledger.UserMessage(err)
		fx.notice = o.noticeLocked(Notice{Kind: NoticeRetry, Title: titleError, Message: msg, Retry: RetryCommit})
		fx.events = append(fx.events, event{
			subject: events.CommitFailed,
			data: events.CommitEvent{
				RunID: r.id, TokenFP: r.tokenFP, CourseID: o.courseID,
				Attempt: r.commitAttempts, Message: msg, Kind: kind, At: o.now(),
			},
		})
		o.mu.Unlock()

		o.log.Warn("pipeline.commit.fail", "run_id", r.id, "attempt", r.commitAttempts, "kind", kind)
		o.apply(ctx, fx)
		return
	}

	o.metrics.commit("ok")
	msg := receipt.Message
	if strings.TrimSpace(msg) == "" {
		msg = msgMarked
	}
	fx.notice = o.noticeLocked(Notice{Kind: NoticeCommitted, Title: titleSuccess, Message: msg})
	fx.events = append(fx.events, event{
		subject: events.Committed,
		data: events.CommitEvent{
			RunID: r.id, TokenFP: r.tokenFP, CourseID: o.courseID,
			Attempt: r.commitAttempts, Message: msg, At: o.now(),
		},
	})
	o.finishLocked(PhaseCompleted, audit.OutcomeCommitted, "", msg, &fx)
	o.mu.Unlock()

	o.log.Info("pipeline.commit.ok", "run_id", r.id, "attempt", r.commitAttempts)
	o.apply(ctx, fx)
}

// finishLocked ends the current run: the guard clears, the token is dropped and any
// in-flight step is invalidated.
func (o *Orchestrator) finishLocked(next Phase, outcome audit.Outcome, reason, message string, fx *effects) {
	r := o.run
	o.guard = false
	o.phase = next
	o.epoch++
	o.run = nil
	if r == nil {
		return
	}

	now := o.now()
	o.metrics.runEnded(string(outcome), now.Sub(r.startedAt))
	fx.record = &audit.RunRecord{
		RunID:          r.id,
		TokenFP:        r.tokenFP,
		CourseID:       o.courseID,
		SessionID:      r.sessionID,
		Challenge:      r.challenge,
		Outcome:        outcome,
		Reason:         reason,
		Message:        message,
		CommitAttempts: r.commitAttempts,
		StartedAt:      r.startedAt,
		FinishedAt:     now,
	}
	o.log.Info("pipeline.run.end", "run_id", r.id, "outcome", string(outcome), "duration_ms", now.Sub(r.startedAt).Milliseconds())
}

func (o *Orchestrator) noticeLocked(n Notice) *Notice {
	if o.run != nil {
		n.RunID = o.run.id
	}
	n.At = o.now()
	last := n
	o.last = &last
	return &n
}

func (o *Orchestrator) apply(ctx context.Context, fx effects) {
	if fx.notice != nil {
		o.presenter.Present(*fx.notice)
	}
	for _, ev := range fx.events {
		if err := o.events.Publish(ctx, ev.subject, ev.data); err != nil {
			o.log.Warn("pipeline.event.publish_fail", "subject", ev.subject, "err", err)
		}
	}
	if fx.record != nil && o.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		err := o.recorder.Record(rctx, *fx.record)
		cancel()
		if err != nil {
			o.log.Warn("pipeline.audit.record_fail", "run_id", fx.record.RunID, "err", err)
		}
	}
}

func commitKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, ledger.ErrLedgerUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
