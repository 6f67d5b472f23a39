package store

// Direction tells whether a message was received or sent by this session.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is a persisted conversation message. MsgID is the external
// message identifier and is unique across the table.
type Message struct {
	ID             string    `db:"msg_id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	ContactName    string    `db:"contact_name" json:"contactName"`
	ContactNumber  string    `db:"contact_number" json:"contactNumber"`
	Body           string    `db:"body" json:"body"`
	ContentKind    string    `db:"content_kind" json:"contentKind"`
	Direction      Direction `db:"direction" json:"direction"`
	Timestamp      int64     `db:"timestamp" json:"timestamp"` // unix millis
	MediaURL       string    `db:"media_url" json:"mediaUrl,omitempty"`
}

// Lead is a prospective customer created from an unknown inbound contact.
type Lead struct {
	ID          string `db:"id" json:"id"`
	PhoneNumber string `db:"phone_number" json:"phoneNumber"`
	DisplayName string `db:"display_name" json:"displayName"`
	Notes       string `db:"notes" json:"notes"`
	Source      string `db:"source" json:"source"`
	CreatedAt   int64  `db:"created_at" json:"createdAt"` // unix millis
}
