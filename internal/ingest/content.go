package ingest

import (
	"fmt"
	"strings"

	"github.com/matheus3301/wppcrm/internal/wa"
)

// Content kinds stored in messages.content_kind.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindSticker  = "sticker"
	KindContact  = "contact"
	KindLocation = "location"
	KindReaction = "reaction"
	KindPoll     = "poll"
	KindUnknown  = "unknown"
)

// Classify picks the content kind of a payload and derives a readable body
// and, for media, its URL. The body is never empty: kinds without text get
// a "[kind]" placeholder.
func Classify(p wa.Payload) (kind, body, mediaURL string) {
	switch {
	case strings.TrimSpace(p.Text) != "":
		return KindText, p.Text, ""
	case p.Image != nil:
		return KindImage, mediaBody(KindImage, p.Image.Caption), p.Image.URL
	case p.Video != nil:
		return KindVideo, mediaBody(KindVideo, p.Video.Caption), p.Video.URL
	case p.Audio != nil:
		return KindAudio, placeholder(KindAudio), p.Audio.URL
	case p.Document != nil:
		body := p.Document.Caption
		if body == "" && p.Document.FileName != "" {
			body = placeholder(KindDocument) + " " + p.Document.FileName
		}
		return KindDocument, mediaBody(KindDocument, body), p.Document.URL
	case p.Sticker != nil:
		return KindSticker, placeholder(KindSticker), p.Sticker.URL
	case p.Contact != nil:
		return KindContact, labelled(KindContact, p.Contact.DisplayName), ""
	case p.Location != nil:
		label := p.Location.Name
		if label == "" {
			label = fmt.Sprintf("%.6f,%.6f", p.Location.Latitude, p.Location.Longitude)
		}
		return KindLocation, labelled(KindLocation, label), ""
	case p.Reaction != nil:
		return KindReaction, labelled(KindReaction, p.Reaction.Text), ""
	case p.Poll != nil:
		return KindPoll, labelled(KindPoll, p.Poll.Name), ""
	default:
		return KindUnknown, placeholder(KindUnknown), ""
	}
}

func placeholder(kind string) string {
	return "[" + kind + "]"
}

func mediaBody(kind, caption string) string {
	if strings.TrimSpace(caption) != "" {
		return caption
	}
	return placeholder(kind)
}

func labelled(kind, label string) string {
	if strings.TrimSpace(label) == "" {
		return placeholder(kind)
	}
	return placeholder(kind) + " " + label
}
