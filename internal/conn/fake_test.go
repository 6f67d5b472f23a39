package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/credstore"
	"github.com/matheus3301/wppcrm/internal/ingest"
	"github.com/matheus3301/wppcrm/internal/pairing"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/wa"
)

type fakeSession struct {
	done     chan struct{}
	once     sync.Once
	hold     chan struct{} // when set, Send waits on it
	sending  chan struct{}
	mu       sync.Mutex
	sent     []string
	loggedIn bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{}), sending: make(chan struct{}, 1), loggedIn: true}
}

func (s *fakeSession) Send(_ context.Context, conv, text string) (string, error) {
	if s.hold != nil {
		s.sending <- struct{}{}
		select {
		case <-s.hold:
		case <-s.done:
			return "", wa.ErrSessionClosed
		}
	}
	select {
	case <-s.done:
		return "", wa.ErrSessionClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, conv+": "+text)
	return fmt.Sprintf("out-%d", len(s.sent)), nil
}

func (s *fakeSession) LookupContact(context.Context, string) (wa.Contact, error) {
	return wa.Contact{}, wa.ErrContactNotFound
}

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	return nil
}

func (s *fakeSession) Close()                { s.once.Do(func() { close(s.done) }) }
func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type fakeClient struct {
	mu       sync.Mutex
	starts   []wa.Credentials
	sessions []*fakeSession
	chans    []chan wa.Event
	startErr error
}

func (c *fakeClient) Start(_ context.Context, creds wa.Credentials) (wa.Session, <-chan wa.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, creds)
	if c.startErr != nil {
		return nil, nil, c.startErr
	}
	s := newFakeSession()
	ch := make(chan wa.Event, 16)
	c.sessions = append(c.sessions, s)
	c.chans = append(c.chans, ch)
	return s, ch, nil
}

func (c *fakeClient) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.starts)
}

func (c *fakeClient) session(i int) (*fakeSession, chan wa.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i], c.chans[i]
}

type fakeIngester struct {
	mu       sync.Mutex
	batches  [][]wa.RawMessage
	resolver ingest.ContactResolver
	outbound []string
}

func (f *fakeIngester) Process(_ context.Context, r ingest.ContactResolver, batch []wa.RawMessage) ingest.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	f.resolver = r
	return ingest.Result{Stored: len(batch)}
}

func (f *fakeIngester) RecordOutbound(_ context.Context, conv, id, text string, at time.Time) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, id)
	return &store.Message{ID: id, ConversationID: conv, Body: text, Direction: store.DirectionOut, Timestamp: at.UnixMilli()}, nil
}

func (f *fakeIngester) outboundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outbound)
}

func (f *fakeIngester) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type failingPresenter struct{}

func (failingPresenter) Present(string) (pairing.Image, error) {
	return pairing.Image{}, &pairing.RenderError{Err: errors.New("encoder broke")}
}

type harness struct {
	m        *Manager
	client   *fakeClient
	creds    *credstore.Memory
	ingester *fakeIngester
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		client:   &fakeClient{},
		creds:    credstore.NewMemory(),
		ingester: &fakeIngester{},
	}
	h.m = NewManager(Deps{
		Client:      h.client,
		Credentials: h.creds,
		Presenter:   pairing.NewPresenter(),
		Ingester:    h.ingester,
	}, opts)
	t.Cleanup(h.m.Shutdown)
	return h
}

// connect starts the manager and drives the first session to Connected.
func (h *harness) connect(t *testing.T) (*fakeSession, chan wa.Event) {
	t.Helper()
	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess, ch := h.client.session(h.client.startCount() - 1)
	ch <- wa.Event{Kind: wa.EventOpened}
	waitForState(t, h.m, status.Connected)
	return sess, ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, m *Manager, want status.State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return m.GetStatus().State == want })
}
