package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/capitalize-ai/support-inbox/internal/apperr"
	"github.com/capitalize-ai/support-inbox/internal/model"
)

// MissingKeyMessage is reported when the agent platform credential is absent.
const MissingKeyMessage = "API key is missing"

// AgentPlatform is the client for the agent platform.
type AgentPlatform struct {
	*Client
}

// NewAgentPlatform creates an agent platform client. The key is checked per call
// so that a process without one still serves everything else.
func NewAgentPlatform(baseURL, apiKey string, opts ...Option) *AgentPlatform {
	opts = append(opts, WithAPIKey(apiKey))
	return &AgentPlatform{Client: New(baseURL, opts...)}
}

// GetAgent returns the profile of an agent.
func (a *AgentPlatform) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	const op = "get agent"
	if a.apiKey == "" {
		return nil, apperr.Config(op, MissingKeyMessage)
	}
	if id == "" {
		return nil, apperr.Validationf(op, "agent ID is required")
	}

	var agent model.Agent
	if err := a.call(ctx, op, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	if agent.ID == "" || agent.Name == "" {
		return nil, apperr.Malformedf(op, "agent response is missing id or name")
	}
	return &agent, nil
}

// SetWebhook enables or disables a channel integration of an agent.
// The platform answers with plain text, which is returned as is.
func (a *AgentPlatform) SetWebhook(ctx context.Context, id string, typ model.WebhookType, enabled bool) (string, error) {
	const op = "set agent webhook"
	if a.apiKey == "" {
		return "", apperr.Config(op, MissingKeyMessage)
	}
	if !typ.Valid() {
		return "", apperr.Validationf(op, "Type must be one of 'whatsapp', 'telegram', 'zapi', 'instagram'")
	}

	q := url.Values{}
	q.Set("type", string(typ))
	q.Set("enabled", strconv.FormatBool(enabled))

	raw, err := a.sendRequest(ctx, op, http.MethodPatch, "/agents/"+url.PathEscape(id)+"/webhook?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
