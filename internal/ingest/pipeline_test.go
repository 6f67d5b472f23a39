package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/wa"
)

const maria = "551199990000@s.whatsapp.net"

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestPipeline(t *testing.T, repo Repository) (*Pipeline, *bus.Bus) {
	t.Helper()
	b := bus.New()
	p, err := NewPipeline(repo, b, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	return p, b
}

func textMessage(id, conv, text string) wa.RawMessage {
	return wa.RawMessage{
		ID:             id,
		ConversationID: conv,
		SenderID:       conv,
		Timestamp:      time.UnixMilli(1700000000000),
		Payload:        wa.Payload{Text: text},
	}
}

func drain(ch <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func countKind(evts []bus.Event, kind string) int {
	n := 0
	for _, e := range evts {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fakeResolver map[string]wa.Contact

func (f fakeResolver) LookupContact(_ context.Context, conv string) (wa.Contact, error) {
	c, ok := f[conv]
	if !ok {
		return wa.Contact{}, wa.ErrContactNotFound
	}
	return c, nil
}

func TestFirstMessageCreatesLead(t *testing.T) {
	db := testDB(t)
	p, b := newTestPipeline(t, db)
	ch, unsub := b.Subscribe("", 16)
	defer unsub()
	ctx := context.Background()

	res := p.Process(ctx, nil, []wa.RawMessage{textMessage("m1", maria, "Hello")})
	if res.Stored != 1 || res.Leads != 1 {
		t.Fatalf("result = %+v", res)
	}

	msgs, err := db.ListMessages(ctx, maria, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "Hello" || msgs[0].Direction != store.DirectionIn {
		t.Fatalf("messages = %+v", msgs)
	}

	lead, err := db.FindLeadByPhone(ctx, "551199990000")
	if err != nil || lead == nil {
		t.Fatalf("lead = %v, err = %v", lead, err)
	}
	if lead.DisplayName != "551199990000" {
		t.Errorf("display name = %q, want the number", lead.DisplayName)
	}
	if lead.Notes != "First message: Hello" || lead.Source != LeadSource {
		t.Errorf("lead = %+v", lead)
	}

	evts := drain(ch)
	if countKind(evts, bus.KindNewMessage) != 1 || countKind(evts, bus.KindNewLead) != 1 {
		t.Errorf("events = %+v", evts)
	}
}

func TestSecondMessageReusesLead(t *testing.T) {
	db := testDB(t)
	p, b := newTestPipeline(t, db)
	ctx := context.Background()

	p.Process(ctx, nil, []wa.RawMessage{textMessage("m1", maria, "Hello")})

	ch, unsub := b.Subscribe("", 16)
	defer unsub()
	res := p.Process(ctx, nil, []wa.RawMessage{textMessage("m2", maria, "Are you there?")})
	if res.Stored != 1 || res.Leads != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n, _ := db.LeadCount(ctx); n != 1 {
		t.Errorf("lead count = %d, want 1", n)
	}
	evts := drain(ch)
	if countKind(evts, bus.KindNewLead) != 0 {
		t.Error("second message must not announce a lead")
	}
}

func TestRedeliveryIsNoop(t *testing.T) {
	db := testDB(t)
	p, b := newTestPipeline(t, db)
	ctx := context.Background()
	msg := textMessage("m1", maria, "Hello")

	p.Process(ctx, nil, []wa.RawMessage{msg})
	ch, unsub := b.Subscribe("", 16)
	defer unsub()

	res := p.Process(ctx, nil, []wa.RawMessage{msg, msg})
	if res.Duplicates != 2 || res.Stored != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n, _ := db.MessageCount(ctx); n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
	if evts := drain(ch); len(evts) != 0 {
		t.Errorf("duplicates published %d events", len(evts))
	}
}

func TestRedeliveryAfterRestartIsNoop(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	first, _ := newTestPipeline(t, db)
	first.Process(ctx, nil, []wa.RawMessage{textMessage("m1", maria, "Hello")})

	// A fresh pipeline has an empty cache; the unique key still holds.
	second, b := newTestPipeline(t, db)
	ch, unsub := b.Subscribe("", 16)
	defer unsub()
	res := second.Process(ctx, nil, []wa.RawMessage{textMessage("m1", maria, "Hello")})
	if res.Duplicates != 1 {
		t.Fatalf("result = %+v", res)
	}
	if evts := drain(ch); len(evts) != 0 {
		t.Errorf("duplicate published %d events", len(evts))
	}
}

func TestBatchOrderPreserved(t *testing.T) {
	db := testDB(t)
	p, b := newTestPipeline(t, db)
	ch, unsub := b.Subscribe(bus.KindNewMessage, 16)
	defer unsub()
	ctx := context.Background()

	batch := []wa.RawMessage{
		textMessage("a", maria, "one"),
		textMessage("b", maria, "two"),
		textMessage("c", maria, "three"),
	}
	p.Process(ctx, nil, batch)

	msgs, err := db.ListMessages(ctx, maria, 10)
	if err != nil {
		t.Fatal(err)
	}
	var bodies []string
	for _, m := range msgs {
		bodies = append(bodies, m.Body)
	}
	if got := strings.Join(bodies, ","); got != "one,two,three" {
		t.Errorf("stored order = %s", got)
	}

	var ids []string
	for _, evt := range drain(ch) {
		ids = append(ids, evt.Payload.(store.Message).ID)
	}
	if got := strings.Join(ids, ","); got != "a,b,c" {
		t.Errorf("event order = %s", got)
	}
}

func TestNoLeadForOutboundGroupOrHistory(t *testing.T) {
	fromMe := textMessage("out1", maria, "Hi from us")
	fromMe.FromMe = true

	group := textMessage("g1", "120363000000000000@g.us", "group chat")
	group.IsGroup = true

	history := textMessage("h1", maria, "old message")
	history.History = true

	status := textMessage("s1", "status@broadcast", "story")

	tests := []struct {
		name string
		msg  wa.RawMessage
		dir  store.Direction
	}{
		{"from me", fromMe, store.DirectionOut},
		{"group", group, store.DirectionIn},
		{"history", history, store.DirectionIn},
		{"status broadcast", status, store.DirectionIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			p, _ := newTestPipeline(t, db)
			ctx := context.Background()

			res := p.Process(ctx, nil, []wa.RawMessage{tt.msg})
			if res.Stored != 1 || res.Leads != 0 {
				t.Fatalf("result = %+v", res)
			}
			if n, _ := db.LeadCount(ctx); n != 0 {
				t.Errorf("lead count = %d, want 0", n)
			}
			msgs, _ := db.ListMessages(ctx, tt.msg.ConversationID, 1)
			if len(msgs) != 1 || msgs[0].Direction != tt.dir {
				t.Errorf("messages = %+v", msgs)
			}
		})
	}
}

func TestUnknownContentStillPersists(t *testing.T) {
	db := testDB(t)
	p, _ := newTestPipeline(t, db)
	ctx := context.Background()

	batch := []wa.RawMessage{
		{ID: "x1", ConversationID: maria, Timestamp: time.UnixMilli(1)},
		textMessage("x2", maria, "after"),
	}
	res := p.Process(ctx, nil, batch)
	if res.Stored != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	msgs, _ := db.ListMessages(ctx, maria, 10)
	if len(msgs) != 2 || msgs[0].Body != "[unknown]" || msgs[0].ContentKind != KindUnknown {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestContactResolution(t *testing.T) {
	db := testDB(t)
	p, _ := newTestPipeline(t, db)
	ctx := context.Background()

	other := "551188887777@s.whatsapp.net"
	resolver := fakeResolver{maria: {Name: "Maria Silva", Number: "551199990000"}}

	withPush := textMessage("p1", other, "oi")
	withPush.PushName = "Joao"

	p.Process(ctx, resolver, []wa.RawMessage{textMessage("r1", maria, "Hello"), withPush})

	lead, _ := db.FindLeadByPhone(ctx, "551199990000")
	if lead == nil || lead.DisplayName != "Maria Silva" {
		t.Errorf("lead = %+v, want display name from address book", lead)
	}
	msgs, _ := db.ListMessages(ctx, other, 1)
	if len(msgs) != 1 || msgs[0].ContactName != "" || msgs[0].ContactNumber != "551188887777" {
		t.Errorf("fallback contact = %+v", msgs)
	}
}

type flakyRepo struct {
	*store.DB
	failPersist map[string]bool
	failLeads   bool
}

func (r *flakyRepo) UpsertMessage(ctx context.Context, m *store.Message) (bool, error) {
	if r.failPersist[m.ID] {
		return false, errors.New("disk full")
	}
	return r.DB.UpsertMessage(ctx, m)
}

func (r *flakyRepo) FindLeadByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	if r.failLeads {
		return nil, errors.New("lead repository unavailable")
	}
	return r.DB.FindLeadByPhone(ctx, phone)
}

func TestItemFailuresDoNotAbortBatch(t *testing.T) {
	db := testDB(t)
	repo := &flakyRepo{DB: db, failPersist: map[string]bool{"bad": true}, failLeads: true}
	p, _ := newTestPipeline(t, repo)
	ctx := context.Background()

	other := "551188887777@s.whatsapp.net"
	res := p.Process(ctx, nil, []wa.RawMessage{
		textMessage("ok1", maria, "first"),
		textMessage("bad", maria, "lost"),
		textMessage("ok2", other, "second"),
	})
	if res.Stored != 2 || res.Failed != 1 || res.Leads != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n, _ := db.MessageCount(ctx); n != 2 {
		t.Errorf("message count = %d, want 2", n)
	}

	// A failed persist is not cached, so a redelivery is retried.
	repo.failPersist = nil
	if res := p.Process(ctx, nil, []wa.RawMessage{textMessage("bad", maria, "lost")}); res.Stored != 1 {
		t.Errorf("retry result = %+v", res)
	}
}

func TestRecordOutbound(t *testing.T) {
	db := testDB(t)
	p, b := newTestPipeline(t, db)
	ch, unsub := b.Subscribe("", 16)
	defer unsub()
	ctx := context.Background()

	msg, err := p.RecordOutbound(ctx, maria, "sent1", "Thanks!", time.UnixMilli(5))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Direction != store.DirectionOut || msg.ContactNumber != "551199990000" {
		t.Errorf("msg = %+v", msg)
	}
	if n, _ := db.LeadCount(ctx); n != 0 {
		t.Errorf("outbound created %d leads", n)
	}

	// The network echoes our own message back; it must not be stored twice.
	echo := textMessage("sent1", maria, "Thanks!")
	echo.FromMe = true
	if res := p.Process(ctx, nil, []wa.RawMessage{echo}); res.Duplicates != 1 {
		t.Errorf("echo result = %+v", res)
	}

	evts := drain(ch)
	if len(evts) != 1 || evts[0].Kind != bus.KindNewMessage {
		t.Errorf("events = %+v", evts)
	}
}
