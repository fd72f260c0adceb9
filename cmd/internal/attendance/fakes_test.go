package attendance

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"presence/cmd/internal/audit"
	"presence/cmd/internal/ledger"
	"presence/cmd/internal/liveliness"
	"presence/cmd/internal/verify"
)

// fakeMachine is driven by the test: snapshots are delivered only when the test calls
// emit, never from inside Start or Cancel.
type fakeMachine struct {
	mu        sync.Mutex
	observer  func(liveliness.Snapshot)
	state     liveliness.State
	sessionID string
	result    verify.Result
	starts    []string
	cancels   int
	acks      int
	next      int
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{state: liveliness.StateIdle}
}

func (m *fakeMachine) Observe(fn func(liveliness.Snapshot)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

func (m *fakeMachine) Start(_ context.Context, scanToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != liveliness.StateIdle {
		return "", liveliness.ErrBusy
	}
	m.next++
	m.sessionID = "sess-" + strconv.Itoa(m.next)
	m.starts = append(m.starts, scanToken)
	m.state = liveliness.StateAwaitingPermission
	return m.sessionID, nil
}

func (m *fakeMachine) Acknowledge() (liveliness.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != liveliness.StateResultReady {
		return liveliness.Report{}, liveliness.ErrNoResult
	}
	m.acks++
	rep := liveliness.Report{SessionID: m.sessionID, Challenge: liveliness.DefaultCatalog[1], Result: m.result}
	m.state = liveliness.StateIdle
	return rep, nil
}

func (m *fakeMachine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case liveliness.StateIdle:
		return nil
	case liveliness.StateResultReady:
		return liveliness.ErrResultPending
	}
	m.cancels++
	m.state = liveliness.StateIdle
	return nil
}

func (m *fakeMachine) Snapshot() liveliness.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return liveliness.Snapshot{SessionID: m.sessionID, State: m.state}
}

// finish moves the session to ResultReady and delivers the snapshot.
func (m *fakeMachine) finish(res verify.Result) {
	m.mu.Lock()
	m.state = liveliness.StateResultReady
	m.result = res
	s := liveliness.Snapshot{SessionID: m.sessionID, State: m.state, Result: &res}
	fn := m.observer
	m.mu.Unlock()
	fn(s)
}

// emit delivers an arbitrary snapshot for the current session.
func (m *fakeMachine) emit(state liveliness.State, mutate func(*liveliness.Snapshot)) {
	m.mu.Lock()
	m.state = state
	s := liveliness.Snapshot{SessionID: m.sessionID, State: state}
	if mutate != nil {
		mutate(&s)
	}
	fn := m.observer
	m.mu.Unlock()
	fn(s)
}

func (m *fakeMachine) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

type commitCall struct {
	token    string
	courseID string
}

type fakeCommitter struct {
	mu      sync.Mutex
	calls   []commitCall
	results []func(token string) (ledger.Receipt, error)
	entered chan struct{}
	release chan struct{}
}

func (c *fakeCommitter) Commit(_ context.Context, scanToken, courseID string) (ledger.Receipt, error) {
	c.mu.Lock()
	c.calls = append(c.calls, commitCall{token: scanToken, courseID: courseID})
	var fn func(string) (ledger.Receipt, error)
	if len(c.results) > 0 {
		fn = c.results[0]
		c.results = c.results[1:]
	}
	entered, release := c.entered, c.release
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if fn == nil {
		return ledger.Receipt{Message: "Attendance marked"}, nil
	}
	return fn(scanToken)
}

func (c *fakeCommitter) Calls() []commitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commitCall(nil), c.calls...)
}

func ok(msg string) func(string) (ledger.Receipt, error) {
	return func(string) (ledger.Receipt, error) { return ledger.Receipt{Message: msg}, nil }
}

func fail(err error) func(string) (ledger.Receipt, error) {
	return func(string) (ledger.Receipt, error) { return ledger.Receipt{}, err }
}

type recordingPresenter struct {
	mu      sync.Mutex
	notices []Notice
	hook    func(Notice)
}

func (p *recordingPresenter) Present(n Notice) {
	p.mu.Lock()
	p.notices = append(p.notices, n)
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (p *recordingPresenter) Last(t *testing.T) Notice {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.notices) == 0 {
		t.Fatalf("no notices presented")
	}
	return p.notices[len(p.notices)-1]
}

func (p *recordingPresenter) Kinds() []NoticeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]NoticeKind, 0, len(p.notices))
	for _, n := range p.notices {
		out = append(out, n.Kind)
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type harness struct {
	o         *Orchestrator
	machine   *fakeMachine
	committer *fakeCommitter
	presenter *recordingPresenter
	store     *audit.InMemoryStore
	events    *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		machine:   newFakeMachine(),
		committer: &fakeCommitter{},
		presenter: &recordingPresenter{},
		store:     audit.NewInMemoryStore(),
		events:    &fakePublisher{},
	}
	o, err := New(Config{
		CourseID:   "CS101",
		Liveliness: h.machine,
		Committer:  h.committer,
		Presenter:  h.presenter,
		Recorder:   h.store,
		Events:     h.events,
		Now:        func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	return h
}

func (h *harness) runs(t *testing.T) []audit.RunRecord {
	t.Helper()
	runs, err := h.store.List(context.Background(), 50)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	return runs
}

func (h *harness) assertIdle(t *testing.T) {
	t.Helper()
	s := h.o.State()
	if s.Processing {
		t.Fatalf("guard still set: %+v", s)
	}
	if s.RunID != "" {
		t.Fatalf("run not released: %+v", s)
	}
}
