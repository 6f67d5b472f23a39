package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/wa"
	"go.uber.org/zap"
)

const (
	// DefaultSeenCacheSize bounds the recently-persisted message ID cache.
	DefaultSeenCacheSize = 4096
	// LeadSource is stored on every lead this pipeline creates.
	LeadSource = "whatsapp"

	leadNotePrefix = "First message: "
)

// Repository is the persistence the pipeline writes through.
type Repository interface {
	UpsertMessage(ctx context.Context, m *store.Message) (bool, error)
	FindLeadByPhone(ctx context.Context, phone string) (*store.Lead, error)
	CreateLead(ctx context.Context, l *store.Lead) (*store.Lead, error)
}

// ContactResolver looks up the address book entry of a conversation.
type ContactResolver interface {
	LookupContact(ctx context.Context, conversationID string) (wa.Contact, error)
}

// ItemError is a failure confined to one message of a batch.
type ItemError struct {
	MessageID string
	Stage     string
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("message %s: %s: %v", e.MessageID, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Result summarizes one Process call.
type Result struct {
	Stored     int
	Duplicates int
	Leads      int
	Failed     int
}

// Pipeline normalizes raw messages, stores them once, and creates leads for
// first contact from unknown numbers.
type Pipeline struct {
	repo   Repository
	bus    *bus.Bus
	logger *zap.Logger
	seen   *lru.Cache[string, struct{}]
}

// NewPipeline creates a pipeline. cacheSize <= 0 uses DefaultSeenCacheSize.
func NewPipeline(repo Repository, b *bus.Bus, logger *zap.Logger, cacheSize int) (*Pipeline, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSeenCacheSize
	}
	seen, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{repo: repo, bus: b, logger: logger, seen: seen}, nil
}

// Process ingests a batch in order. Failures of one message are logged and
// never stop the rest of the batch. resolver may be nil.
func (p *Pipeline) Process(ctx context.Context, resolver ContactResolver, batch []wa.RawMessage) Result {
	var res Result
	for i := range batch {
		created, lead, err := p.processOne(ctx, resolver, &batch[i])
		switch {
		case err != nil:
			res.Failed++
			p.logger.Warn("message ingestion failed", zap.Error(err))
		case !created:
			res.Duplicates++
		default:
			res.Stored++
		}
		if lead {
			res.Leads++
		}
	}
	if len(batch) > 1 {
		p.logger.Info("batch ingested",
			zap.Int("messages", len(batch)),
			zap.Int("stored", res.Stored),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("leads", res.Leads),
			zap.Int("failed", res.Failed),
		)
	}
	return res
}

// processOne returns whether the message was newly stored and whether a
// lead was created for it. A lead failure is logged but not returned.
func (p *Pipeline) processOne(ctx context.Context, resolver ContactResolver, raw *wa.RawMessage) (created, lead bool, err error) {
	if raw.ID == "" {
		return false, false, &ItemError{Stage: "validate", Err: errors.New("missing message id")}
	}
	if p.seen.Contains(raw.ID) {
		return false, false, nil
	}

	kind, body, mediaURL := Classify(raw.Payload)
	name, number := p.resolveContact(ctx, resolver, raw)

	direction := store.DirectionIn
	if raw.FromMe {
		direction = store.DirectionOut
	}
	msg := &store.Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		ContactName:    name,
		ContactNumber:  number,
		Body:           body,
		ContentKind:    kind,
		Direction:      direction,
		Timestamp:      timestampMillis(raw.Timestamp),
		MediaURL:       mediaURL,
	}

	created, err = p.repo.UpsertMessage(ctx, msg)
	if err != nil {
		return false, false, &ItemError{MessageID: raw.ID, Stage: "persist", Err: err}
	}
	p.seen.Add(raw.ID, struct{}{})
	if !created {
		return false, false, nil
	}
	p.bus.Emit(bus.KindNewMessage, *msg)

	if !qualifiesForLead(raw) {
		return true, false, nil
	}
	lead, err = p.detectLead(ctx, msg)
	if err != nil {
		p.logger.Warn("lead detection failed", zap.Error(&ItemError{MessageID: raw.ID, Stage: "lead", Err: err}))
	}
	return true, lead, nil
}

// resolveContact falls back to the conversation's number when the address
// book has no entry.
func (p *Pipeline) resolveContact(ctx context.Context, resolver ContactResolver, raw *wa.RawMessage) (name, number string) {
	fallback := NumberFromConversation(raw.ConversationID)
	if resolver == nil {
		return p.pushName(raw), fallback
	}
	c, err := resolver.LookupContact(ctx, raw.ConversationID)
	if err != nil {
		if !errors.Is(err, wa.ErrContactNotFound) {
			p.logger.Debug("contact lookup failed",
				zap.String("conversation", raw.ConversationID),
				zap.Error(err),
			)
		}
		return "", fallback
	}
	name, number = c.Name, c.Number
	if name == "" {
		name = p.pushName(raw)
	}
	if number == "" {
		number = fallback
	}
	return name, number
}

// pushName is the sender's self-chosen name, meaningful only for messages
// the contact sent in a direct chat.
func (p *Pipeline) pushName(raw *wa.RawMessage) string {
	if raw.FromMe || raw.IsGroup {
		return ""
	}
	return raw.PushName
}

func qualifiesForLead(raw *wa.RawMessage) bool {
	return !raw.FromMe && !raw.IsGroup && !raw.History && isDirectChat(raw.ConversationID)
}

// LeadCandidate is the contact a first inbound message would turn into a lead.
type LeadCandidate struct {
	PhoneNumber string
	DisplayName string
	FirstBody   string
}

func candidateFor(msg *store.Message) LeadCandidate {
	c := LeadCandidate{
		PhoneNumber: msg.ContactNumber,
		DisplayName: msg.ContactName,
		FirstBody:   msg.Body,
	}
	if c.DisplayName == "" {
		c.DisplayName = c.PhoneNumber
	}
	return c
}

func (c LeadCandidate) lead() *store.Lead {
	return &store.Lead{
		PhoneNumber: c.PhoneNumber,
		DisplayName: c.DisplayName,
		Notes:       leadNotePrefix + c.FirstBody,
		Source:      LeadSource,
	}
}

func (p *Pipeline) detectLead(ctx context.Context, msg *store.Message) (bool, error) {
	c := candidateFor(msg)
	if c.PhoneNumber == "" {
		return false, errors.New("no contact number")
	}
	existing, err := p.repo.FindLeadByPhone(ctx, c.PhoneNumber)
	if err != nil {
		return false, fmt.Errorf("find lead: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	lead, err := p.repo.CreateLead(ctx, c.lead())
	if errors.Is(err, store.ErrLeadExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lead: %w", err)
	}
	p.logger.Info("lead created",
		zap.String("lead_id", lead.ID),
		zap.String("phone", lead.PhoneNumber),
	)
	p.bus.Emit(bus.KindNewLead, *lead)
	return true, nil
}

// RecordOutbound stores a message this session just sent and announces it.
// The returned message is set even when persisting fails.
func (p *Pipeline) RecordOutbound(ctx context.Context, conversationID, messageID, text string, sentAt time.Time) (*store.Message, error) {
	msg := &store.Message{
		ID:             messageID,
		ConversationID: conversationID,
		ContactNumber:  NumberFromConversation(conversationID),
		Body:           text,
		ContentKind:    KindText,
		Direction:      store.DirectionOut,
		Timestamp:      timestampMillis(sentAt),
	}
	created, err := p.repo.UpsertMessage(ctx, msg)
	if err != nil {
		return msg, &ItemError{MessageID: messageID, Stage: "persist", Err: err}
	}
	p.seen.Add(messageID, struct{}{})
	if created {
		p.bus.Emit(bus.KindNewMessage, *msg)
	}
	return msg, nil
}

func timestampMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
