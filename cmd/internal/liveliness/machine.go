// Package liveliness runs the challenge-response liveliness session in front of the
// capture-and-verify step.
//
// Compliance with the displayed challenge is not detected. The machine assumes the
// student complied once the action window elapses (see AssumeComplianceAfterWindow).
package liveliness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"presence/cmd/identity/ids"
	"presence/cmd/internal/camera"
	"presence/cmd/internal/verify"
	"presence/cmd/security/token"
)

// State is a liveliness machine state.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateChallengeDisplayed State = "challenge_displayed"
	StateActionWindowOpen   State = "action_window_open"
	StateActionConfirmed    State = "action_confirmed"
	StateCapturing          State = "capturing"
	StateVerifyPending      State = "verify_pending"
	StateResultReady        State = "result_ready"
	StateUnavailable        State = "unavailable"
)

const (
	DefaultActionWindow = 3 * time.Second
	DefaultSettleDelay  = 1 * time.Second

	// UnavailableMessage is surfaced when camera access is refused.
	UnavailableMessage = "No access to camera. Allow camera access in settings and try again."
)

// AssumeComplianceAfterWindow is the confirmation heuristic: once the action window
// elapses the challenge is treated as performed. It is a named stand-in for a real
// gesture detector and always returns true.
func AssumeComplianceAfterWindow(Challenge) bool { return true }

// Gateway captures a still and verifies it. captured is invoked once the image is in memory.
type Gateway interface {
	CaptureAndVerify(ctx context.Context, scanToken string, captured func()) verify.Result
}

// Snapshot is the observable state of the machine after a transition.
// In StateUnavailable, Err matches ErrPermissionDenied.
type Snapshot struct {
	SessionID string         `json:"session_id,omitempty"`
	State     State          `json:"state"`
	Challenge *Challenge     `json:"challenge,omitempty"`
	Result    *verify.Result `json:"-"`
	Message   string         `json:"message,omitempty"`
	Err       error          `json:"-"`
	At        time.Time      `json:"at"`
}

// Report is returned by Acknowledge.
type Report struct {
	SessionID string
	Challenge Challenge
	Result    verify.Result
}

// Options configures a Machine. Zero values select defaults.
type Options struct {
	ActionWindow  time.Duration
	SettleDelay   time.Duration
	Clock         Clock
	Selector      *Selector
	Logger        *slog.Logger
	Fingerprinter *token.Fingerprinter
}

type session struct {
	id        string
	token     string
	challenge Challenge
	timer     Timer
	ctx       context.Context
	cancel    context.CancelFunc
	result    verify.Result
	message   string
	err       error
}

// Machine is a single-session liveliness state machine.
//
// Every asynchronous step carries the epoch it was started under; a step that returns
// after Cancel, Acknowledge or Close finds a newer epoch and is dropped.
type Machine struct {
	mu      sync.Mutex
	state   State
	epoch   uint64
	sess    *session
	closed  bool
	gateway Gateway
	auth    camera.Authorizer

	window   time.Duration
	settle   time.Duration
	clock    Clock
	selector *Selector
	fp       *token.Fingerprinter
	log      *slog.Logger

	observer atomic.Pointer[func(Snapshot)]
	out      *mailbox
}

// NewMachine constructs an idle Machine.
func NewMachine(auth camera.Authorizer, gw Gateway, opts Options) *Machine {
	m := &Machine{
		state:    StateIdle,
		gateway:  gw,
		auth:     auth,
		window:   opts.ActionWindow,
		settle:   opts.SettleDelay,
		clock:    opts.Clock,
		selector: opts.Selector,
		fp:       opts.Fingerprinter,
		log:      opts.Logger,
	}
	if m.window <= 0 {
		m.window = DefaultActionWindow
	}
	if m.settle <= 0 {
		m.settle = DefaultSettleDelay
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.selector == nil {
		m.selector = NewSelector(nil, nil)
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	m.out = newMailbox(m.notify)
	return m
}

// Observe registers fn to receive every snapshot in transition order.
// fn runs on the machine's delivery goroutine and may call back into the machine.
func (m *Machine) Observe(fn func(Snapshot)) {
	if fn == nil {
		m.observer.Store(nil)
		return
	}
	m.observer.Store(&fn)
}

func (m *Machine) notify(s Snapshot) {
	if fn := m.observer.Load(); fn != nil {
		(*fn)(s)
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Start begins a session for scanToken and returns its ID. The session outlives ctx's
// cancellation; only Cancel, Acknowledge or Close end it.
func (m *Machine) Start(ctx context.Context, scanToken string) (string, error) {
	if strings.TrimSpace(scanToken) == "" {
		return "", ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	if m.state != StateIdle {
		return "", ErrBusy
	}

	sessionID, err := ids.NewSessionID(m.clock.Now())
	if err != nil {
		return "", fmt.Errorf("liveliness: session id: %w", err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.epoch++
	m.sess = &session{id: sessionID, token: scanToken, ctx: sctx, cancel: cancel}
	m.transitionLocked(StateAwaitingPermission)

	m.log.Info("liveliness.session.start", "session_id", sessionID, "token_fp", m.fp.Short(scanToken))

	go m.authorize(sctx, m.epoch)
	return sessionID, nil
}

func (m *Machine) authorize(ctx context.Context, epoch uint64) {
	perm, err := m.auth.Authorize(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(epoch, StateAwaitingPermission) {
		m.log.Debug("liveliness.late.authorize", "epoch", epoch)
		return
	}

	if err != nil || perm != camera.PermissionGranted {
		m.log.Warn("liveliness.permission.denied", "session_id", m.sess.id, "permission", string(perm), "err", err)
		m.sess.cancel()
		m.sess.message = UnavailableMessage
		m.sess.err = ErrPermissionDenied
		if err != nil {
			m.sess.err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		m.transitionLocked(StateUnavailable)
		return
	}

	m.sess.challenge = m.selector.Select()
	m.transitionLocked(StateChallengeDisplayed)

	m.sess.timer = m.clock.AfterFunc(m.window, func() { m.windowElapsed(epoch) })
	m.transitionLocked(StateActionWindowOpen)
}

func (m *Machine) windowElapsed(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(epoch, StateActionWindowOpen) {
		m.log.Debug("liveliness.late.window", "epoch", epoch)
		return
	}
	if !AssumeComplianceAfterWindow(m.sess.challenge) {
		return
	}
	m.transitionLocked(StateActionConfirmed)
	m.sess.timer = m.clock.AfterFunc(m.settle, func() { m.beginCapture(epoch) })
}

func (m *Machine) beginCapture(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(epoch, StateActionConfirmed) {
		m.log.Debug("liveliness.late.settle", "epoch", epoch)
		return
	}
	m.sess.timer = nil
	m.transitionLocked(StateCapturing)

	go m.captureAndVerify(m.sess.ctx, epoch, m.sess.token)
}

func (m *Machine) captureAndVerify(ctx context.Context, epoch uint64, scanToken string) {
	res := m.gateway.CaptureAndVerify(ctx, scanToken, func() { m.captured(epoch) })

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.epoch != epoch {
		m.log.Debug("liveliness.late.result", "epoch", epoch, "outcome", string(res.Outcome))
		return
	}
	if m.state != StateCapturing && m.state != StateVerifyPending {
		return
	}
	m.sess.result = res
	m.sess.cancel()
	m.log.Info("liveliness.result", "session_id", m.sess.id, "outcome", string(res.Outcome), "reason", res.Reason())
	m.transitionLocked(StateResultReady)
}

func (m *Machine) captured(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(epoch, StateCapturing) {
		return
	}
	m.transitionLocked(StateVerifyPending)
}

// Acknowledge dismisses the result, returns it and releases the session.
func (m *Machine) Acknowledge() (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateResultReady || m.sess == nil {
		return Report{}, ErrNoResult
	}
	rep := Report{SessionID: m.sess.id, Challenge: m.sess.challenge, Result: m.sess.result}
	m.teardownLocked()
	return rep, nil
}

// Cancel abandons the current session without reporting an outcome. It is a no-op when
// idle and refused while a result awaits acknowledgment.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
		return nil
	case StateResultReady:
		return ErrResultPending
	}
	m.log.Info("liveliness.session.cancel", "session_id", m.sess.id, "state", string(m.state))
	m.teardownLocked()
	return nil
}

// Close cancels any session and stops snapshot delivery. Queued snapshots are delivered first.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		if m.sess != nil {
			m.teardownLocked()
		}
	}
	m.mu.Unlock()

	m.out.close()
}

func (m *Machine) currentLocked(epoch uint64, want State) bool {
	return m.sess != nil && m.epoch == epoch && m.state == want
}

func (m *Machine) teardownLocked() {
	if m.sess != nil {
		if m.sess.timer != nil {
			m.sess.timer.Stop()
		}
		m.sess.cancel()
	}
	m.epoch++
	m.transitionLocked(StateIdle)
	m.sess = nil
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	m.state = to
	s := m.snapshotLocked()
	m.log.Debug("liveliness.state", "session_id", s.SessionID, "from", string(from), "to", string(to))
	m.out.push(s)
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, At: m.clock.Now()}
	if m.sess == nil {
		return s
	}
	// The idle snapshot emitted on teardown still names the session it closed.
	s.SessionID = m.sess.id
	if m.state == StateIdle {
		return s
	}
	if m.state != StateAwaitingPermission && m.state != StateUnavailable && m.sess.challenge.ID != "" {
		c := m.sess.challenge
		s.Challenge = &c
	}
	if m.state == StateResultReady {
		r := m.sess.result
		s.Result = &r
	}
	if m.state == StateUnavailable {
		s.Message = m.sess.message
		s.Err = m.sess.err
	}
	return s
}
