package wa

import (
	"context"
	"errors"
	"time"
)

// Credential keys written through EventCredentialsRotated.
const (
	KeyCreds     = "creds.json"
	KeySyncState = "app-state-sync-version.json"
)

// CredentialKeys lists every key a session may rotate.
var CredentialKeys = []string{KeyCreds, KeySyncState}

var (
	// ErrSessionClosed is returned by a Session after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrContactNotFound is returned when the contact list has no entry.
	ErrContactNotFound = errors.New("contact not found")
)

// Credentials are the opaque blobs needed to resume a paired session.
// A nil or empty map starts a fresh pairing.
type Credentials map[string][]byte

// Client constructs sessions against the messaging network.
type Client interface {
	// Start builds and connects a new session from creds. Events for the
	// session arrive on the returned channel until the session is done.
	Start(ctx context.Context, creds Credentials) (Session, <-chan Event, error)
}

// Session is one live connection.
type Session interface {
	// Send delivers a text message and returns its message ID.
	Send(ctx context.Context, conversationID, text string) (string, error)
	// LookupContact resolves a conversation's contact from the address book.
	LookupContact(ctx context.Context, conversationID string) (Contact, error)
	// Logout unlinks this client from the account.
	Logout(ctx context.Context) error
	// Close tears the connection down without unlinking. Safe to call twice.
	Close()
	// Done is closed once Close has been called.
	Done() <-chan struct{}
}

// Contact is an address book entry.
type Contact struct {
	Name   string
	Number string
}

// EventKind tags an Event.
type EventKind int

const (
	EventPairingChallenge EventKind = iota + 1
	EventOpened
	EventClosed
	EventCredentialsRotated
	EventMessagesReceived
	EventSetupFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPairingChallenge:
		return "pairing_challenge"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventCredentialsRotated:
		return "credentials_rotated"
	case EventMessagesReceived:
		return "messages_received"
	case EventSetupFailed:
		return "setup_failed"
	default:
		return "unknown"
	}
}

// CloseReason explains an EventClosed. Terminal closes mean the account
// unlinked this client; everything else may be retried.
type CloseReason struct {
	Terminal bool
	Reason   string
}

// Event is a lifecycle or data event emitted by a Session. Only the fields
// matching Kind are set.
type Event struct {
	Kind      EventKind
	Challenge string       // EventPairingChallenge
	Close     CloseReason  // EventClosed
	Key       string       // EventCredentialsRotated
	Blob      []byte       // EventCredentialsRotated
	Messages  []RawMessage // EventMessagesReceived
	Err       error        // EventSetupFailed
}

// RawMessage is an inbound or self-sent message as delivered by the network,
// before normalization.
type RawMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	PushName       string
	FromMe         bool
	IsGroup        bool
	History        bool // delivered by history sync rather than live
	Timestamp      time.Time
	Payload        Payload
}

// Payload carries whichever content parts the message has. A message with
// none of them set has a shape this package does not understand.
type Payload struct {
	Text     string
	Image    *Media
	Video    *Media
	Audio    *Media
	Document *Media
	Sticker  *Media
	Contact  *ContactCard
	Location *Location
	Reaction *Reaction
	Poll     *Poll
}

// Media describes an attachment.
type Media struct {
	Caption  string
	MimeType string
	URL      string
	FileName string
}

// ContactCard is a shared vCard.
type ContactCard struct {
	DisplayName string
}

// Location is a shared pin.
type Location struct {
	Name      string
	Address   string
	Latitude  float64
	Longitude float64
}

// Reaction is an emoji reaction to another message.
type Reaction struct {
	Text     string
	TargetID string
}

// Poll is a poll creation.
type Poll struct {
	Name string
}
