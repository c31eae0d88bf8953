package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateMessageContent validates the text of an outgoing message.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID. IDs are opaque to the
// inbox, so only their shape is checked.
func ValidateConversationID(id string) error {
	return validateToken("conversation ID", id, 128)
}

// ValidateAgentID validates an agent ID.
func ValidateAgentID(id string) error {
	return validateToken("agent ID", id, 128)
}

// ValidateVariableName validates a conversation variable name.
func ValidateVariableName(name string) error {
	return validateToken("variable name", name, 128)
}

// ValidateTag validates a tag. A blank tag passes; adding one is a no-op.
func ValidateTag(tag string) error {
	if len(strings.TrimSpace(tag)) > 64 {
		return errors.New("tag exceeds maximum length")
	}
	if !utf8.ValidString(tag) {
		return errors.New("tag must be valid UTF-8")
	}
	return nil
}

func validateToken(what, s string, max int) error {
	if s == "" {
		return errors.New(what + " is required")
	}
	if len(s) > max {
		return errors.New(what + " exceeds maximum length")
	}
	if strings.ContainsAny(s, "/?#") || !utf8.ValidString(s) {
		return errors.New("invalid " + what + " format")
	}
	return nil
}
