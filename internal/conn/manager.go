package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/credstore"
	"github.com/matheus3301/wppcrm/internal/ingest"
	"github.com/matheus3301/wppcrm/internal/pairing"
	"github.com/matheus3301/wppcrm/internal/status"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/wa"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Presenter renders pairing challenges.
type Presenter interface {
	Present(raw string) (pairing.Image, error)
}

// Ingester persists received and sent messages.
type Ingester interface {
	Process(ctx context.Context, resolver ingest.ContactResolver, batch []wa.RawMessage) ingest.Result
	RecordOutbound(ctx context.Context, conversationID, messageID, text string, sentAt time.Time) (*store.Message, error)
}

// MessageLister reads stored conversation history.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Client      wa.Client
	Credentials credstore.Store
	Presenter   Presenter
	Ingester    Ingester
	Messages    MessageLister
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Options tune a Manager.
type Options struct {
	Policy Policy
	// SendLimiter throttles SendMessage; nil sends unthrottled.
	SendLimiter *rate.Limiter
	// PairingOutput receives a terminal rendering of each pairing QR code.
	PairingOutput io.Writer
}

// Manager owns the single messaging session of the process: its connection
// state, pairing, reconnection and outbound sends.
type Manager struct {
	client    wa.Client
	creds     credstore.Store
	presenter Presenter
	ingester  Ingester
	messages  MessageLister
	logger    *zap.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	machine  *status.Machine
	handle   wa.Session
	gen      uint64
	timer    *time.Timer
	attempts int
	shutdown bool

	// credMu serializes credential reads, writes and removals. Lock order
	// is credMu before mu.
	credMu sync.Mutex
}

// NewManager creates a manager in the Disconnected state.
func NewManager(deps Deps, opts Options) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:    deps.Client,
		creds:     deps.Credentials,
		presenter: deps.Presenter,
		ingester:  deps.Ingester,
		messages:  deps.Messages,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		machine:   status.NewMachine(deps.Bus),
	}
}

// GetStatus returns the current connection status.
func (m *Manager) GetStatus() status.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Current()
}

// Start connects using the stored credentials, or begins pairing when there
// are none. It is a no-op while connecting, pairing or connected.
func (m *Manager) Start(ctx context.Context) error {
	return m.start(ctx, false, 0)
}

// start runs Start. A timer-driven start only proceeds if nothing has
// replaced the generation that scheduled it.
func (m *Manager) start(ctx context.Context, fromTimer bool, timerGen uint64) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if fromTimer && (timerGen != m.gen || m.machine.State() != status.Disconnected) {
		m.mu.Unlock()
		return nil
	}
	switch m.machine.State() {
	case status.Connecting, status.AwaitingPairing, status.Connected:
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	if !fromTimer {
		m.attempts = 0
	}
	m.gen++
	gen := m.gen
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.credMu.Lock()
	creds, err := credstore.Load(ctx, m.creds, wa.CredentialKeys)
	m.credMu.Unlock()
	if err != nil {
		return m.failSetup(gen, &SetupError{Op: "load credentials", Err: err})
	}
	if creds == nil {
		m.logger.Info("no stored credentials, pairing required")
	}

	sess, events, err := m.client.Start(ctx, creds)
	if err != nil {
		return m.failSetup(gen, &SetupError{Op: "start session", Err: err})
	}

	m.mu.Lock()
	if gen != m.gen || m.shutdown {
		m.mu.Unlock()
		m.logger.Debug("discarding session from replaced start", zap.Uint64("gen", gen))
		sess.Close()
		return nil
	}
	m.handle = sess
	m.mu.Unlock()

	go m.dispatch(gen, sess, events)
	return nil
}

func (m *Manager) failSetup(gen uint64, err error) error {
	m.logger.Error("session setup failed", zap.Error(err))
	m.mu.Lock()
	if gen == m.gen {
		m.machine.Fail(err)
	}
	m.mu.Unlock()
	return err
}

// ResetSession drops the session and deletes every stored credential. The
// next Start pairs from scratch.
func (m *Manager) ResetSession(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	m.attempts = 0
	h := m.handle
	m.handle = nil
	m.machine.Reset("")
	m.mu.Unlock()

	if h != nil {
		h.Close()
	}

	m.credMu.Lock()
	defer m.credMu.Unlock()
	if err := credstore.RemoveAll(ctx, m.creds, wa.CredentialKeys); err != nil {
		return err
	}
	m.logger.Info("session reset, credentials removed")
	return nil
}

// Disconnect unlinks this client from the account, then resets.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()

	if h != nil {
		if err := h.Logout(ctx); err != nil {
			m.logger.Warn("logout failed, resetting anyway", zap.Error(err))
		}
	}
	return m.ResetSession(ctx)
}

// Shutdown closes the session without unlinking and cancels pending
// reconnects. Credentials are kept.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.gen++
	m.stopTimerLocked()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h != nil {
		h.Close()
	}
	m.cancel()
}

// SendMessage delivers text and records it as an outbound message.
func (m *Manager) SendMessage(ctx context.Context, conversationID, text string) (*store.Message, error) {
	if strings.TrimSpace(conversationID) == "" || text == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	state := m.machine.State()
	h := m.handle
	m.mu.Unlock()
	if state != status.Connected || h == nil {
		return nil, &NotConnectedError{State: state}
	}

	if m.opts.SendLimiter != nil {
		if err := m.opts.SendLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("send throttled: %w", err)
		}
	}

	id, err := h.Send(ctx, conversationID, text)
	if errors.Is(err, wa.ErrSessionClosed) {
		return nil, &NotConnectedError{State: m.GetStatus().State}
	}
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	msg, err := m.ingester.RecordOutbound(ctx, conversationID, id, text, time.Now())
	if err != nil {
		m.logger.Error("sent message not recorded", zap.String("msg_id", id), zap.Error(err))
	}
	return msg, nil
}

// GetMessages returns the newest limit messages of a conversation, oldest
// first.
func (m *Manager) GetMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	return m.messages.ListMessages(ctx, conversationID, limit)
}

func (m *Manager) dispatch(gen uint64, sess wa.Session, events <-chan wa.Event) {
	for {
		select {
		case <-sess.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(gen, sess, evt)
		}
	}
}

func (m *Manager) handleEvent(gen uint64, sess wa.Session, evt wa.Event) {
	switch evt.Kind {
	case wa.EventPairingChallenge:
		m.handlePairing(gen, sess, evt.Challenge)
	case wa.EventCredentialsRotated:
		m.writeCredential(gen, evt.Key, evt.Blob)
	case wa.EventOpened:
		m.mu.Lock()
		if gen == m.gen {
			m.attempts = 0
			if err := m.machine.Transition(status.Connected); err != nil {
				m.logger.Debug("ignoring open", zap.Error(err))
			}
		}
		m.mu.Unlock()
		m.logger.Info("session connected")
	case wa.EventClosed:
		if evt.Close.Terminal {
			m.handleTerminalClose(gen, sess, &TerminalConnectionError{Reason: evt.Close.Reason})
		} else {
			m.handleTransientClose(gen, sess, &TransientConnectionError{Reason: evt.Close.Reason})
		}
	case wa.EventSetupFailed:
		err := &SetupError{Op: "session", Err: evt.Err}
		m.logger.Error("session failed", zap.Error(err))
		m.mu.Lock()
		if gen == m.gen {
			m.handle = nil
			m.machine.Fail(err)
		}
		m.mu.Unlock()
		sess.Close()
	case wa.EventMessagesReceived:
		m.ingester.Process(m.ctx, sess, evt.Messages)
	}
}

func (m *Manager) handlePairing(gen uint64, sess wa.Session, challenge string) {
	img, err := m.presenter.Present(challenge)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.handle = nil
		m.machine.Fail(err)
		m.mu.Unlock()
		m.logger.Error("pairing code could not be rendered", zap.Error(err))
		sess.Close()
		return
	}
	if err := m.machine.ShowPairing(img.DataURL); err != nil {
		m.mu.Unlock()
		m.logger.Debug("ignoring pairing challenge", zap.Error(err))
		return
	}
	m.mu.Unlock()

	m.logger.Info("waiting for pairing, scan the QR code")
	if m.opts.PairingOutput != nil {
		_, _ = fmt.Fprintln(m.opts.PairingOutput, img.Terminal)
	}
}

// writeCredential stores a rotated blob unless its session was replaced.
func (m *Manager) writeCredential(gen uint64, key string, blob []byte) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		m.logger.Debug("dropping credential rotation from replaced session", zap.String("key", key))
		return
	}
	if err := m.creds.Write(m.ctx, key, blob); err != nil {
		m.logger.Error("credential rotation not persisted", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) handleTerminalClose(gen uint64, sess wa.Session, cause error) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		sess.Close()
		return
	}
	m.handle = nil
	m.attempts = 0
	m.stopTimerLocked()
	m.machine.Reset(cause.Error())
	m.mu.Unlock()

	m.logger.Warn("session ended, pairing required", zap.Error(cause))
	sess.Close()
	if err := credstore.RemoveAll(m.ctx, m.creds, wa.CredentialKeys); err != nil {
		m.logger.Error("clearing credentials failed", zap.Error(err))
	}
}

func (m *Manager) handleTransientClose(gen uint64, sess wa.Session, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		sess.Close()
		return
	}
	m.handle = nil
	m.machine.Reset(cause.Error())
	m.attempts++
	delay, ok := m.opts.Policy.Next(m.attempts)
	if ok {
		m.stopTimerLocked()
		m.timer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	}
	attempts := m.attempts
	m.mu.Unlock()

	sess.Close()
	if !ok {
		m.logger.Error("giving up reconnecting", zap.Error(cause), zap.Int("attempts", attempts-1))
		return
	}
	m.logger.Warn("connection closed, reconnecting",
		zap.Error(cause),
		zap.Duration("delay", delay),
		zap.Int("attempt", attempts),
	)
}

func (m *Manager) reconnect(gen uint64) {
	if err := m.start(m.ctx, true, gen); err != nil && !errors.Is(err, ErrShutdown) {
		m.logger.Error("reconnect failed", zap.Error(err))
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
