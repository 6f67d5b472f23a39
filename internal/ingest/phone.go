package ingest

import "strings"

// NumberFromConversation derives a phone number from a conversation ID such
// as "5511999990000@s.whatsapp.net" or "5511999990000:12@s.whatsapp.net".
// Non-digit characters are dropped, so "+55 11 ..." also works.
func NumberFromConversation(conversationID string) string {
	user, _, _ := strings.Cut(conversationID, "@")
	user, _, _ = strings.Cut(user, ":")
	var b strings.Builder
	for _, r := range user {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isDirectChat reports whether a conversation is a one-to-one chat with a
// phone-number user. Groups, broadcasts, newsletters and unresolved hidden
// users are not.
func isDirectChat(conversationID string) bool {
	_, server, found := strings.Cut(conversationID, "@")
	if !found {
		return NumberFromConversation(conversationID) != ""
	}
	return server == "s.whatsapp.net" || server == "c.us"
}
