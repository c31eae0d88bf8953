// Package model defines data structures for the support inbox.
package model

import (
	"strings"
	"time"
)

// Status is the resolution state of a conversation.
type Status string

const (
	StatusUnresolved     Status = "UNRESOLVED"
	StatusResolved       Status = "RESOLVED"
	StatusHumanRequested Status = "HUMAN_REQUESTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnresolved, StatusResolved, StatusHumanRequested:
		return true
	}
	return false
}

// Priority is the triage priority of a conversation.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Known channels. The upstream service may report others; channel is an open set.
const (
	ChannelDashboard = "dashboard"
	ChannelWebsite   = "website"
	ChannelTelegram  = "telegram"
	ChannelWhatsApp  = "whatsapp"
	ChannelInstagram = "instagram"
	ChannelZAPI      = "zapi"
)

// Contact is a participant of a conversation.
type Contact struct {
	FirstName string `json:"firstName"`
}

// Variable is a free-form name/value pair attached to a conversation.
type Variable struct {
	ConversationID string `json:"conversationId"`
	VarName        string `json:"varName"`
	VarValue       string `json:"varValue"`
}

// ContextSnippet is a free-text context entry. Index 0 is the current context.
type ContextSnippet struct {
	Context   string    `json:"context"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation represents a customer support thread on a single channel.
type Conversation struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title,omitempty"`
	Channel               string           `json:"channel"`
	Status                Status           `json:"status"`
	Priority              Priority         `json:"priority"`
	IsAiEnabled           bool             `json:"isAiEnabled"`
	AiUserIdentifier      string           `json:"aiUserIdentifier,omitempty"`
	AgentID               string           `json:"agentId,omitempty"`
	VisitorID             string           `json:"visitorId,omitempty"`
	ParticipantsContacts  []Contact        `json:"participantsContacts,omitempty"`
	UnreadMessagesCount   int              `json:"unreadMessagesCount"`
	Frustration           float64          `json:"frustration"`
	ConversationVariables []Variable       `json:"conversationVariables,omitempty"`
	ConversationContexts  []ContextSnippet `json:"conversationContexts,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// DisplayIdentity resolves the name shown for the customer. The AI-assigned
// identifier wins, then the first contact's first name, then a synthesized
// "CHANNEL #abcd" label built from the last four characters of the id.
func (c *Conversation) DisplayIdentity() string {
	if c.AiUserIdentifier != "" {
		return c.AiUserIdentifier
	}
	if len(c.ParticipantsContacts) > 0 && c.ParticipantsContacts[0].FirstName != "" {
		return c.ParticipantsContacts[0].FirstName
	}

	channel := "USER"
	if c.Channel != "" {
		channel = strings.ToUpper(c.Channel)
	}

	id := []rune(c.ID)
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return channel + " #" + strings.ToUpper(string(id))
}

// CurrentContext returns the most recent context snippet, or "".
func (c *Conversation) CurrentContext() string {
	if len(c.ConversationContexts) == 0 {
		return ""
	}
	return c.ConversationContexts[0].Context
}

// Variable returns the variable with the given name.
func (c *Conversation) Variable(name string) (Variable, int, bool) {
	for i, v := range c.ConversationVariables {
		if v.VarName == name {
			return v, i, true
		}
	}
	return Variable{}, -1, false
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParticipantsContacts != nil {
		out.ParticipantsContacts = append([]Contact(nil), c.ParticipantsContacts...)
	}
	if c.ConversationVariables != nil {
		out.ConversationVariables = append([]Variable(nil), c.ConversationVariables...)
	}
	if c.ConversationContexts != nil {
		out.ConversationContexts = append([]ContextSnippet(nil), c.ConversationContexts...)
	}
	return &out
}

// SetStatusRequest is the request to change a conversation's status.
type SetStatusRequest struct {
	Status Status `json:"status"`
}

// SetPriorityRequest is the request to change a conversation's priority.
type SetPriorityRequest struct {
	Priority Priority `json:"priority"`
}

// SetAiEnabledRequest is the request to toggle automated responses.
type SetAiEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// AckResponse is the acknowledgement returned by status and AI toggles.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SetPriorityResponse is the acknowledgement returned by a priority change.
type SetPriorityResponse struct {
	Success      bool          `json:"success"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

// DeleteVariableResponse is returned when a variable is deleted.
type DeleteVariableResponse struct {
	Message string   `json:"message"`
	Deleted Variable `json:"deleted"`
}
