package ingest

import (
	"testing"

	"github.com/matheus3301/wppcrm/internal/wa"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		payload   wa.Payload
		wantKind  string
		wantBody  string
		wantMedia string
	}{
		{"text", wa.Payload{Text: "Hello"}, KindText, "Hello", ""},
		{"image with caption", wa.Payload{Image: &wa.Media{Caption: "look", URL: "u1"}}, KindImage, "look", "u1"},
		{"image without caption", wa.Payload{Image: &wa.Media{URL: "u2"}}, KindImage, "[image]", "u2"},
		{"video", wa.Payload{Video: &wa.Media{}}, KindVideo, "[video]", ""},
		{"audio", wa.Payload{Audio: &wa.Media{URL: "a"}}, KindAudio, "[audio]", "a"},
		{"document with name", wa.Payload{Document: &wa.Media{FileName: "cv.pdf"}}, KindDocument, "[document] cv.pdf", ""},
		{"sticker", wa.Payload{Sticker: &wa.Media{}}, KindSticker, "[sticker]", ""},
		{"contact", wa.Payload{Contact: &wa.ContactCard{DisplayName: "Ana"}}, KindContact, "[contact] Ana", ""},
		{"named location", wa.Payload{Location: &wa.Location{Name: "Office"}}, KindLocation, "[location] Office", ""},
		{"bare location", wa.Payload{Location: &wa.Location{Latitude: 1.5, Longitude: -2}}, KindLocation, "[location] 1.500000,-2.000000", ""},
		{"reaction", wa.Payload{Reaction: &wa.Reaction{Text: "❤"}}, KindReaction, "[reaction] ❤", ""},
		{"empty poll", wa.Payload{Poll: &wa.Poll{}}, KindPoll, "[poll]", ""},
		{"unknown", wa.Payload{}, KindUnknown, "[unknown]", ""},
		{"whitespace text", wa.Payload{Text: "  "}, KindUnknown, "[unknown]", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, body, media := Classify(tt.payload)
			if kind != tt.wantKind || body != tt.wantBody || media != tt.wantMedia {
				t.Errorf("Classify() = (%q, %q, %q), want (%q, %q, %q)",
					kind, body, media, tt.wantKind, tt.wantBody, tt.wantMedia)
			}
		})
	}
}

func TestNumberFromConversation(t *testing.T) {
	tests := map[string]string{
		"551199990000@s.whatsapp.net":    "551199990000",
		"551199990000:12@s.whatsapp.net": "551199990000",
		"+55 11 9999-0000":               "551199990000",
		"status@broadcast":               "",
	}
	for in, want := range tests {
		if got := NumberFromConversation(in); got != want {
			t.Errorf("NumberFromConversation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsDirectChat(t *testing.T) {
	tests := map[string]bool{
		"551199990000@s.whatsapp.net": true,
		"551199990000@c.us":           true,
		"+551199990000":               true,
		"120363@g.us":                 false,
		"status@broadcast":            false,
		"123456789@lid":               false,
	}
	for in, want := range tests {
		if got := isDirectChat(in); got != want {
			t.Errorf("isDirectChat(%q) = %v, want %v", in, got, want)
		}
	}
}
