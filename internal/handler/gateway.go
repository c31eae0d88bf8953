package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/apperr"
	"github.com/capitalize-ai/support-inbox/internal/client"
	"github.com/capitalize-ai/support-inbox/internal/middleware"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

// AgentGateway is the agent platform as the gateway uses it.
type AgentGateway interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	SetWebhook(ctx context.Context, id string, typ model.WebhookType, enabled bool) (string, error)
}

// VariableGateway is the variables API of the conversation service.
type VariableGateway interface {
	ListVariables(ctx context.Context, id string) ([]model.Variable, error)
	GetVariable(ctx context.Context, id, name string) (*model.Variable, error)
	CreateVariable(ctx context.Context, v model.Variable) (*model.Variable, error)
	DeleteVariable(ctx context.Context, id, name string) (*model.DeleteVariableResponse, error)
}

// GatewayHandler proxies agent platform and variable calls. Every route
// requires the platform API key to be configured, and upstream failures are
// reported as 500 with a fixed message.
type GatewayHandler struct {
	agents    AgentGateway
	variables VariableGateway
	hasKey    bool
	logger    *logger.Logger
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(agents AgentGateway, variables VariableGateway, apiKey string, log *logger.Logger) *GatewayHandler {
	return &GatewayHandler{
		agents:    agents,
		variables: variables,
		hasKey:    apiKey != "",
		logger:    log.With(zap.String("component", "gateway")),
	}
}

// Routes mounts the gateway endpoints.
func (h *GatewayHandler) Routes(r chi.Router) {
	r.Use(h.requireKey)

	r.Get("/agents/{agentId}", h.GetAgent)
	r.Patch("/agents/{agentId}/webhook", h.SetWebhook)

	r.Post("/variables", h.CreateVariable)
	r.Get("/variables/{conversationId}", h.ListVariables)
	r.Get("/variables/{conversationId}/{varName}", h.GetVariable)
	r.Delete("/variables/{conversationId}/{varName}", h.DeleteVariable)
}

func (h *GatewayHandler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.hasKey {
			h.logger.Error("API_KEY is not configured")
			writeError(w, http.StatusInternalServerError, client.MissingKeyMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAgent handles GET /agents/{agentId}
func (h *GatewayHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), agentID)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to fetch agent details", zap.String("agent_id", agentID))
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

// SetWebhook handles PATCH /agents/{agentId}/webhook?type=&enabled=
func (h *GatewayHandler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	typ := model.WebhookType(r.URL.Query().Get("type"))
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, "Type must be one of 'whatsapp', 'telegram', 'zapi', 'instagram'")
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be a boolean")
		return
	}

	body, err := h.agents.SetWebhook(r.Context(), agentID, typ, enabled)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to update agent webhook", zap.String("agent_id", agentID))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// CreateVariable handles POST /variables
func (h *GatewayHandler) CreateVariable(w http.ResponseWriter, r *http.Request) {
	var v model.Variable
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := client.ValidateVariable(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.variables.CreateVariable(r.Context(), v)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to create conversation variable", zap.String("conversation_id", v.ConversationID))
		return
	}

	writeJSON(w, http.StatusOK, created)
}

// ListVariables handles GET /variables/{conversationId}
func (h *GatewayHandler) ListVariables(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vars, err := h.variables.ListVariables(r.Context(), conversationID)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to fetch conversation variables", zap.String("conversation_id", conversationID))
		return
	}
	if vars == nil {
		vars = []model.Variable{}
	}

	writeJSON(w, http.StatusOK, vars)
}

// GetVariable handles GET /variables/{conversationId}/{varName}
func (h *GatewayHandler) GetVariable(w http.ResponseWriter, r *http.Request) {
	conversationID, varName, ok := variableParams(w, r)
	if !ok {
		return
	}

	v, err := h.variables.GetVariable(r.Context(), conversationID, varName)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to fetch conversation variable", zap.String("conversation_id", conversationID))
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// DeleteVariable handles DELETE /variables/{conversationId}/{varName}
func (h *GatewayHandler) DeleteVariable(w http.ResponseWriter, r *http.Request) {
	conversationID, varName, ok := variableParams(w, r)
	if !ok {
		return
	}

	resp, err := h.variables.DeleteVariable(r.Context(), conversationID, varName)
	if err != nil {
		h.upstreamError(w, r, err, "Failed to delete conversation variable", zap.String("conversation_id", conversationID))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func variableParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	conversationID := chi.URLParam(r, "conversationId")
	varName := chi.URLParam(r, "varName")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	if err := middleware.ValidateVariableName(varName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return conversationID, varName, true
}

// upstreamError logs the cause and answers 500 with message. A missing
// credential keeps its own message.
func (h *GatewayHandler) upstreamError(w http.ResponseWriter, r *http.Request, err error, message string, fields ...zap.Field) {
	if errors.Is(err, apperr.ErrConfig) {
		message = client.MissingKeyMessage
	}
	h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), "").
		Error(message, append(fields, zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, message)
}
