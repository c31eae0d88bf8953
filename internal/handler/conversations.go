package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/middleware"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/internal/service"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

// InboxHandler exposes the inbox engine: the conversation list, the
// selection and its intents, tags and the feed.
type InboxHandler struct {
	service *service.InboxService
	logger  *logger.Logger
}

// NewInboxHandler creates a new inbox handler.
func NewInboxHandler(svc *service.InboxService, log *logger.Logger) *InboxHandler {
	return &InboxHandler{
		service: svc,
		logger:  log.With(zap.String("component", "inbox_api")),
	}
}

// Routes mounts the inbox endpoints. Intents that write upstream require the
// write scope.
func (h *InboxHandler) Routes(r chi.Router) {
	r.Get("/conversations", h.List)
	r.Get("/conversations/facets", h.Facets)
	r.Get("/conversations/{id}/tags", h.Tags)
	r.Get("/selection", h.Selected)
	r.Get("/feed", h.Feed)
	r.Get("/agents/stats", h.AgentStats)

	// View state is local to the process and never reaches the service.
	r.Put("/conversations/filters", h.SetFilters)
	r.Post("/conversations/search", h.Search)
	r.Post("/conversations/more", h.LoadMore)
	r.Post("/selection", h.Select)
	r.Delete("/selection", h.Deselect)
	r.Post("/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireScope(middleware.ScopeWrite))

		r.Put("/selection/priority", h.SetPriority)
		r.Put("/selection/status", h.SetStatus)
		r.Put("/selection/ai", h.SetAiEnabled)
		r.Post("/selection/messages", h.SendMessage)
		r.Post("/selection/variables", h.CreateVariable)
		r.Delete("/selection/variables/{name}", h.DeleteVariable)

		r.Post("/conversations/{id}/tags", h.AddTag)
		r.Delete("/conversations/{id}/tags/{tag}", h.RemoveTag)
	})
}

// List handles GET /conversations
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Page())
}

// SetFilters handles PUT /conversations/filters
func (h *InboxHandler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var criteria model.FilterCriteria
	if err := decodeJSON(r, &criteria); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.service.SetCriteria(criteria.Normalized()))
}

type searchRequest struct {
	Search string `json:"search"`
}

// Search handles POST /conversations/search
func (h *InboxHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.service.Submit(req.Search))
}

// LoadMore handles POST /conversations/more
func (h *InboxHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	page, _ := h.service.LoadMore()
	writeJSON(w, http.StatusOK, page)
}

// Facets handles GET /conversations/facets
func (h *InboxHandler) Facets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Facets())
}

type tagsResponse struct {
	ConversationID string   `json:"conversationId"`
	Tags           []string `json:"tags"`
}

// Tags handles GET /conversations/{id}/tags
func (h *InboxHandler) Tags(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tagsResponse{
		ConversationID: conversationID,
		Tags:           h.service.Tags(conversationID),
	})
}

type tagRequest struct {
	Tag string `json:"tag"`
}

// AddTag handles POST /conversations/{id}/tags
func (h *InboxHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req tagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTag(req.Tag); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tags, err := h.service.AddTag(r.Context(), conversationID, req.Tag)
	if err != nil {
		h.requestLogger(r).WithConversation(conversationID).Error("Failed to add tag", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tagsResponse{ConversationID: conversationID, Tags: tags})
}

// RemoveTag handles DELETE /conversations/{id}/tags/{tag}
func (h *InboxHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	tag := chi.URLParam(r, "tag")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTag(tag); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tags, err := h.service.RemoveTag(r.Context(), conversationID, tag)
	if err != nil {
		h.requestLogger(r).WithConversation(conversationID).Error("Failed to remove tag", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tagsResponse{ConversationID: conversationID, Tags: tags})
}

// AgentStats handles GET /agents/stats
func (h *InboxHandler) AgentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.AgentStats())
}

// Refresh handles POST /refresh
func (h *InboxHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.service.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (h *InboxHandler) requestLogger(r *http.Request) *logger.Logger {
	ctx := r.Context()
	return h.logger.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx))
}
