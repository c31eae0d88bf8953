package model

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderHuman     Sender = "human"
	SenderAgent     Sender = "agent"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// IsResponder reports whether the sender answers on behalf of the business.
func (s Sender) IsResponder() bool {
	return s == SenderAgent || s == SenderAssistant
}

// Eval is the quality signal attached to a message.
type Eval string

const (
	EvalGood    Eval = "good"
	EvalBad     Eval = "bad"
	EvalNeutral Eval = "neutral"
)

// Message represents a single turn within a conversation.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversationId,omitempty"`

	// Content
	From Sender `json:"from"`
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`

	// Metadata
	Read         bool    `json:"read"`
	Eval         *Eval   `json:"eval,omitempty"`
	UsageCredits float64 `json:"usageCredits"`
	AgentID      string  `json:"agentId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// Pending is set locally on optimistic sends until the server confirms them.
	Pending bool `json:"pending,omitempty"`
}

// Body returns the pre-rendered HTML when present, otherwise the plain text.
func (m *Message) Body() (string, bool) {
	if m.HTML != "" {
		return m.HTML, true
	}
	return m.Text, false
}

// ListMessagesResponse is the envelope returned by the messages endpoint.
type ListMessagesResponse struct {
	Status      string    `json:"status,omitempty"`
	IsAiEnabled bool      `json:"isAiEnabled"`
	Messages    []Message `json:"messages"`
}

// SendMessageRequest is the payload posted to the conversation service.
type SendMessageRequest struct {
	Message     string   `json:"message"`
	From        Sender   `json:"from,omitempty"`
	AgentID     string   `json:"agentId,omitempty"`
	Channel     string   `json:"channel,omitempty"`
	VisitorID   string   `json:"visitorId,omitempty"`
	ContactID   string   `json:"contactId,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
}

// ConversationInfo is the parent-conversation annotation carried by feed entries.
type ConversationInfo struct {
	ID              string   `json:"id"`
	Channel         string   `json:"channel"`
	Status          Status   `json:"status"`
	Priority        Priority `json:"priority"`
	AgentID         string   `json:"agentId,omitempty"`
	DisplayIdentity string   `json:"displayIdentity"`
}

// InfoOf builds the feed annotation for a conversation.
func InfoOf(c *Conversation) ConversationInfo {
	return ConversationInfo{
		ID:              c.ID,
		Channel:         c.Channel,
		Status:          c.Status,
		Priority:        c.Priority,
		AgentID:         c.AgentID,
		DisplayIdentity: c.DisplayIdentity(),
	}
}

// FeedEntry is a message in the cross-conversation feed.
type FeedEntry struct {
	Message
	ConversationInfo ConversationInfo `json:"conversationInfo"`
}
