package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/middleware"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/internal/view"
)

type selectRequest struct {
	ConversationID string `json:"conversationId"`
}

// Select handles POST /selection
func (h *InboxHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.service.Select(r.Context(), req.ConversationID); err != nil {
		h.requestLogger(r).WithConversation(req.ConversationID).
			Warn("Failed to select conversation", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.service.Selected(location(r)))
}

// Selected handles GET /selection?tz=
func (h *InboxHandler) Selected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Selected(location(r)))
}

// Deselect handles DELETE /selection
func (h *InboxHandler) Deselect(w http.ResponseWriter, r *http.Request) {
	h.service.Deselect()
	w.WriteHeader(http.StatusNoContent)
}

// SetPriority handles PUT /selection/priority
func (h *InboxHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	var req model.SetPriorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeMutation(w, r, func() error {
		_, err := h.service.SetPriority(r.Context(), req.Priority)
		return err
	})
}

// SetStatus handles PUT /selection/status
func (h *InboxHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req model.SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeMutation(w, r, func() error {
		_, err := h.service.SetStatus(r.Context(), req.Status)
		return err
	})
}

// SetAiEnabled handles PUT /selection/ai
func (h *InboxHandler) SetAiEnabled(w http.ResponseWriter, r *http.Request) {
	var req model.SetAiEnabledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeMutation(w, r, func() error {
		_, err := h.service.SetAiEnabled(r.Context(), req.Enabled)
		return err
	})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage handles POST /selection/messages
func (h *InboxHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.service.SendMessage(r.Context(), req.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Success: true,
		Message: msg,
	})
}

type createVariableRequest struct {
	VarName  string `json:"varName"`
	VarValue string `json:"varValue"`
}

// CreateVariable handles POST /selection/variables
func (h *InboxHandler) CreateVariable(w http.ResponseWriter, r *http.Request) {
	var req createVariableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := h.service.CreateVariable(r.Context(), req.VarName, req.VarValue)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

// DeleteVariable handles DELETE /selection/variables/{name}
func (h *InboxHandler) DeleteVariable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := middleware.ValidateVariableName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeMutation(w, r, func() error {
		_, err := h.service.DeleteVariable(r.Context(), name)
		return err
	})
}

// Feed handles GET /feed
func (h *InboxHandler) Feed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.service.Feed(view.FeedFilter{
		ConversationID: q.Get("conversationId"),
		AgentID:        q.Get("agentId"),
		Channel:        q.Get("channel"),
		From:           model.Sender(q.Get("from")),
		Since:          view.SinceFor(q.Get("range"), time.Now()),
		Search:         q.Get("search"),
	}))
}

// writeMutation runs an optimistic intent and answers with the resulting
// thread, which already carries the committed or rolled back value.
func (h *InboxHandler) writeMutation(w http.ResponseWriter, r *http.Request, run func() error) {
	if err := run(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Selected(location(r)))
}

// location reads the tz query parameter used for day buckets.
func location(r *http.Request) *time.Location {
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
