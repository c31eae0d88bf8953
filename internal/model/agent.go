package model

import (
	"time"
)

// Agent is the profile of an automated responder on the agent platform.
type Agent struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Description         *string          `json:"description"`
	IconURL             string           `json:"iconUrl,omitempty"`
	ModelName           string           `json:"modelName"`
	Temperature         float64          `json:"temperature"`
	Visibility          string           `json:"visibility"`
	SystemPrompt        *string          `json:"systemPrompt"`
	EnableInactiveHours *bool            `json:"enableInactiveHours"`
	InactiveHours       map[string]any   `json:"inactiveHours"`
	InterfaceConfig     map[string]any   `json:"interfaceConfig"`
	Tools               []map[string]any `json:"tools"`
	OrganizationID      string           `json:"organizationId"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// WebhookType is a channel integration that can be toggled per agent.
type WebhookType string

const (
	WebhookWhatsApp  WebhookType = "whatsapp"
	WebhookTelegram  WebhookType = "telegram"
	WebhookZAPI      WebhookType = "zapi"
	WebhookInstagram WebhookType = "instagram"
)

// Valid reports whether t is a supported webhook type.
func (t WebhookType) Valid() bool {
	switch t {
	case WebhookWhatsApp, WebhookTelegram, WebhookZAPI, WebhookInstagram:
		return true
	}
	return false
}
