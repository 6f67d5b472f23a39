package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// unwrap strips the envelope message types that only wrap another message.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	for i := 0; i < 4 && msg != nil; i++ {
		switch {
		case msg.GetDeviceSentMessage().GetMessage() != nil:
			msg = msg.GetDeviceSentMessage().GetMessage()
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		case msg.GetEditedMessage().GetMessage() != nil:
			msg = msg.GetEditedMessage().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

// isProtocolOnly reports whether msg carries no user content: key
// distribution, revokes, history sync notifications and similar.
func isProtocolOnly(msg *waE2E.Message) bool {
	if msg == nil {
		return true
	}
	if msg.GetProtocolMessage() != nil {
		return true
	}
	p := ParsePayload(msg)
	return p == (Payload{}) && msg.GetSenderKeyDistributionMessage() != nil
}

// ParsePayload extracts the content parts of a message.
func ParsePayload(msg *waE2E.Message) Payload {
	msg = unwrap(msg)
	if msg == nil {
		return Payload{}
	}
	var p Payload
	switch {
	case msg.GetConversation() != "":
		p.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		p.Text = msg.GetExtendedTextMessage().GetText()
	}
	if m := msg.GetImageMessage(); m != nil {
		p.Image = &Media{Caption: m.GetCaption(), MimeType: m.GetMimetype(), URL: m.GetURL()}
	}
	if m := msg.GetVideoMessage(); m != nil {
		p.Video = &Media{Caption: m.GetCaption(), MimeType: m.GetMimetype(), URL: m.GetURL()}
	}
	if m := msg.GetAudioMessage(); m != nil {
		p.Audio = &Media{MimeType: m.GetMimetype(), URL: m.GetURL()}
	}
	if m := msg.GetDocumentMessage(); m != nil {
		p.Document = &Media{
			Caption:  m.GetCaption(),
			MimeType: m.GetMimetype(),
			URL:      m.GetURL(),
			FileName: m.GetFileName(),
		}
	}
	if m := msg.GetStickerMessage(); m != nil {
		p.Sticker = &Media{MimeType: m.GetMimetype(), URL: m.GetURL()}
	}
	if m := msg.GetContactMessage(); m != nil {
		p.Contact = &ContactCard{DisplayName: m.GetDisplayName()}
	}
	if m := msg.GetLocationMessage(); m != nil {
		p.Location = &Location{
			Name:      m.GetName(),
			Address:   m.GetAddress(),
			Latitude:  m.GetDegreesLatitude(),
			Longitude: m.GetDegreesLongitude(),
		}
	}
	if m := msg.GetReactionMessage(); m != nil {
		p.Reaction = &Reaction{Text: m.GetText(), TargetID: m.GetKey().GetID()}
	}
	if m := msg.GetPollCreationMessage(); m != nil {
		p.Poll = &Poll{Name: m.GetName()}
	} else if m := msg.GetPollCreationMessageV3(); m != nil {
		p.Poll = &Poll{Name: m.GetName()}
	}
	return p
}

// toRawMessage converts a decrypted whatsmeow message. It returns false for
// messages that carry no user content.
func (s *session) toRawMessage(ctx context.Context, evt *events.Message, history bool) (RawMessage, bool) {
	if evt == nil || isProtocolOnly(unwrap(evt.Message)) {
		return RawMessage{}, false
	}
	chat := s.resolveLID(ctx, evt.Info.Chat)
	sender := s.resolveLID(ctx, evt.Info.Sender)
	return RawMessage{
		ID:             evt.Info.ID,
		ConversationID: chat.String(),
		SenderID:       sender.String(),
		PushName:       evt.Info.PushName,
		FromMe:         evt.Info.IsFromMe,
		IsGroup:        evt.Info.IsGroup || chat.Server == types.GroupServer,
		History:        history,
		Timestamp:      nonZeroTime(evt.Info.Timestamp),
		Payload:        ParsePayload(evt.Message),
	}, true
}

func nonZeroTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
