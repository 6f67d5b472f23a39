package wa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/wppcrm/internal/logging"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

const (
	deviceDBName = "device.db"
	eventBuffer  = 64
)

// credsEnvelope is the creds.json blob: a snapshot of the whatsmeow device
// database plus enough metadata to log what is being restored.
type credsEnvelope struct {
	JID      string `json:"jid,omitempty"`
	SavedAt  int64  `json:"saved_at"`
	DeviceDB []byte `json:"device_db"`
}

// syncStateEnvelope is the app-state-sync-version.json blob.
type syncStateEnvelope struct {
	Versions map[string]uint64 `json:"versions"`
	SyncedAt int64             `json:"synced_at"`
}

// WhatsmeowClient starts whatsmeow sessions. The device database lives in a
// scratch directory; it is rebuilt from the creds.json blob when missing and
// snapshotted back into it whenever the session rotates credentials.
type WhatsmeowClient struct {
	dir        string
	deviceName string
	logger     *zap.Logger
}

// NewWhatsmeowClient returns a client keeping its device database in dir.
func NewWhatsmeowClient(dir, deviceName string, logger *zap.Logger) *WhatsmeowClient {
	if deviceName == "" {
		deviceName = "wppcrm"
	}
	return &WhatsmeowClient{dir: dir, deviceName: deviceName, logger: logger}
}

// DevicePath returns the scratch device database path.
func (c *WhatsmeowClient) DevicePath() string {
	return filepath.Join(c.dir, deviceDBName)
}

// Start implements Client.
func (c *WhatsmeowClient) Start(ctx context.Context, creds Credentials) (Session, <-chan Event, error) {
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create device dir: %w", err)
	}
	dbPath := c.DevicePath()
	if err := c.prepareDeviceDB(dbPath, creds); err != nil {
		return nil, nil, err
	}

	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo(c.deviceName, [3]uint32{0, 1, 0})

	waLogger := logging.Whatsmeow(c.logger)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath),
		waLogger.Sub("Database"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("get device store: %w", err)
	}
	snapDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath))
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("open device snapshot handle: %w", err)
	}

	client := whatsmeow.NewClient(device, waLogger.Sub("Client"))
	// Reconnection is decided by the connection manager, not whatsmeow.
	client.EnableAutoReconnect = false

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		client:    client,
		container: container,
		snapDB:    snapDB,
		dbPath:    dbPath,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		ctx:       sctx,
		cancel:    cancel,
		logger:    c.logger,
	}
	client.AddEventHandler(s.handle)

	if client.Store.ID == nil {
		qrCh, err := client.GetQRChannel(sctx)
		if err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("get QR channel: %w", err)
		}
		go s.forwardQR(qrCh)
	} else {
		c.logger.Info("resuming paired device", zap.String("jid", client.Store.ID.String()))
	}

	// A failed dial is reported as a transient close.
	if err := client.Connect(); err != nil {
		c.logger.Warn("connect failed", zap.Error(err))
		s.emit(Event{Kind: EventClosed, Close: CloseReason{Reason: "connect: " + err.Error()}})
	}
	return s, s.events, nil
}

// prepareDeviceDB makes the scratch database match creds: wiped when there
// is no pairing, restored from the snapshot when the scratch copy is gone.
// A scratch copy that already exists is newer than any snapshot.
func (c *WhatsmeowClient) prepareDeviceDB(dbPath string, creds Credentials) error {
	blob := creds[KeyCreds]
	if blob == nil {
		return removeDeviceDB(dbPath)
	}
	if _, err := os.Stat(dbPath); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat device db: %w", err)
	}

	var env credsEnvelope
	if err := json.Unmarshal(blob, &env); err != nil || len(env.DeviceDB) == 0 {
		c.logger.Warn("stored credentials unreadable, starting fresh pairing", zap.Error(err))
		return removeDeviceDB(dbPath)
	}
	if err := os.WriteFile(dbPath, env.DeviceDB, 0600); err != nil {
		return fmt.Errorf("restore device db: %w", err)
	}
	c.logger.Info("device restored from credential store",
		zap.String("jid", env.JID),
		zap.Time("saved_at", time.UnixMilli(env.SavedAt)),
	)
	return nil
}

func removeDeviceDB(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm", dbPath + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// session wraps one whatsmeow client.
type session struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	snapDB    *sql.DB
	dbPath    string
	logger    *zap.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	snapMu    sync.Mutex
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// emit hands evt to the consumer, giving up once the session is closed.
func (s *session) emit(evt Event) {
	if s.closed() {
		return
	}
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

// Close implements Session.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		if s.client != nil {
			s.client.Disconnect()
		}
		if s.snapDB != nil {
			_ = s.snapDB.Close()
		}
		if s.container != nil {
			_ = s.container.Close()
		}
	})
}

// Logout implements Session.
func (s *session) Logout(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if s.client.Store.ID == nil {
		return nil
	}
	return s.client.Logout(ctx)
}

// Send implements Session.
func (s *session) Send(ctx context.Context, conversationID, text string) (string, error) {
	if s.closed() {
		return "", ErrSessionClosed
	}
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		if s.closed() {
			return "", ErrSessionClosed
		}
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// LookupContact implements Session.
func (s *session) LookupContact(ctx context.Context, conversationID string) (Contact, error) {
	if s.closed() {
		return Contact{}, ErrSessionClosed
	}
	jid, err := types.ParseJID(conversationID)
	if err != nil {
		return Contact{}, fmt.Errorf("parse JID: %w", err)
	}
	jid = jid.ToNonAD()
	info, err := s.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return Contact{}, fmt.Errorf("lookup contact: %w", err)
	}
	if !info.Found {
		return Contact{}, ErrContactNotFound
	}
	return Contact{
		Name:   firstNonEmpty(info.FullName, info.FirstName, info.BusinessName, info.PushName),
		Number: jid.User,
	}, nil
}

// resolveLID maps a hidden-user JID to its phone number JID when the device
// store knows the mapping. Anything else is returned unchanged.
func (s *session) resolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if s.client == nil || s.client.Store == nil || s.client.Store.LIDs == nil {
		return jid
	}
	pn, err := s.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// snapshotCredentials copies the device database into a creds.json blob.
func (s *session) snapshotCredentials(ctx context.Context) ([]byte, error) {
	if s.snapDB == nil {
		return nil, errors.New("no device database")
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	tmp := s.dbPath + ".snapshot"
	_ = os.Remove(tmp)
	defer func() { _ = os.Remove(tmp) }()

	if _, err := s.snapDB.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	env := credsEnvelope{SavedAt: time.Now().UnixMilli(), DeviceDB: data}
	if s.client != nil && s.client.Store.ID != nil {
		env.JID = s.client.Store.ID.String()
	}
	return json.Marshal(env)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
