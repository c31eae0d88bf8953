package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-inbox/internal/apperr"
	"github.com/capitalize-ai/support-inbox/internal/model"
)

func newServer(t *testing.T, h http.HandlerFunc) *ConversationService {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewConversationService(srv.URL + "/")
}

func TestListConversations(t *testing.T) {
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversation", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"c1","channel":"whatsapp","status":"UNRESOLVED","createdAt":"2024-01-01T10:00:00Z"}]`))
	})

	convs, err := svc.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, model.StatusUnresolved, convs[0].Status)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), convs[0].CreatedAt.UTC())
}

func TestListConversations_ShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"object instead of array", `{"id":"c1"}`},
		{"missing id", `[{"channel":"telegram"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := svc.ListConversations(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, apperr.ErrNotFound},
		{"server error", http.StatusInternalServerError, apperr.ErrNetwork},
		{"bad gateway", http.StatusBadGateway, apperr.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			_, err := svc.GetConversation(context.Background(), "c1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	svc := NewConversationService(srv.URL)
	_, err := svc.ListConversations(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNetwork))
}

func TestGetMessages(t *testing.T) {
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversation/c1/messages/50", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"UNRESOLVED","messages":[{"id":"m2","from":"agent","text":"hi"},{"id":"m1","from":"human","text":"hello"}]}`))
	})

	msgs, err := svc.GetMessages(context.Background(), "c1", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID, "order is preserved as received")
	assert.Equal(t, "c1", msgs[1].ConversationID)
}

func TestGetMessages_MissingEnvelope(t *testing.T) {
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"UNRESOLVED"}`))
	})

	_, err := svc.GetMessages(context.Background(), "c1", 50)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.True(t, apperr.IsUpstream(err))
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestSendMessage(t *testing.T) {
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversation/message/conversationId/c1", r.URL.Path)

		var req model.SendMessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.SenderAgent, req.From)

		if req.Message == "reject" {
			_, _ = w.Write([]byte(`{"success":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":{"id":"m9","from":"agent","text":"` + req.Message + `"}}`))
	})

	msg, err := svc.SendMessage(context.Background(), "c1", model.SendMessageRequest{Message: "on it"})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID)

	_, err = svc.SendMessage(context.Background(), "c1", model.SendMessageRequest{Message: "reject"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err), "a refusal in the body is the service's answer")

	_, err = svc.SendMessage(context.Background(), "c1", model.SendMessageRequest{Message: "   "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}

func TestSetPriorityAndStatus(t *testing.T) {
	var paths []string
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/conversations/c1/set-priority":
			_, _ = w.Write([]byte(`{"success":true,"conversation":{"id":"c1","priority":"HIGH"}}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
		}
	})

	conv, err := svc.SetPriority(context.Background(), "c1", model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, conv.Priority)

	require.NoError(t, svc.SetStatus(context.Background(), "c1", model.StatusResolved))
	require.NoError(t, svc.SetAiEnabled(context.Background(), "c1", false))

	assert.Equal(t, []string{
		"/conversations/c1/set-priority",
		"/conversations/c1/set-status",
		"/conversations/c1/set-ai-enabled",
	}, paths)

	err = svc.SetStatus(context.Background(), "c1", model.Status("ARCHIVED"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestVariables(t *testing.T) {
	svc := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/variables":
			var v model.Variable
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&v))
			_ = json.NewEncoder(w).Encode(v)
		case r.Method == http.MethodDelete:
			_, _ = w.Write([]byte(`{"message":"deleted","deleted":{"conversationId":"c1","varName":"plan","varValue":"pro"}}`))
		default:
			_, _ = w.Write([]byte(`[{"conversationId":"c1","varName":"plan","varValue":"pro"}]`))
		}
	})
	ctx := context.Background()

	created, err := svc.CreateVariable(ctx, model.Variable{ConversationID: "c1", VarName: "plan", VarValue: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "pro", created.VarValue)

	_, err = svc.CreateVariable(ctx, model.Variable{ConversationID: "c1", VarName: "plan"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	vars, err := svc.ListVariables(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, vars, 1)

	deleted, err := svc.DeleteVariable(ctx, "c1", "plan")
	require.NoError(t, err)
	assert.Equal(t, "plan", deleted.Deleted.VarName)
}

func TestAgentPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, "telegram", r.URL.Query().Get("type"))
			assert.Equal(t, "true", r.URL.Query().Get("enabled"))
			_, _ = w.Write([]byte("Webhook status updated successfully"))
		default:
			if r.URL.Path == "/agents/broken" {
				_, _ = w.Write([]byte(`{"id":"broken"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"a1","name":"Sales bot","modelName":"gpt-4o","visibility":"private"}`))
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	platform := NewAgentPlatform(srv.URL, "secret")

	agent, err := platform.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Sales bot", agent.Name)

	_, err = platform.GetAgent(ctx, "broken")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	text, err := platform.SetWebhook(ctx, "a1", model.WebhookTelegram, true)
	require.NoError(t, err)
	assert.Equal(t, "Webhook status updated successfully", text)

	_, err = platform.SetWebhook(ctx, "a1", model.WebhookType("sms"), true)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestAgentPlatform_MissingKey(t *testing.T) {
	platform := NewAgentPlatform("http://127.0.0.1:0", "")

	_, err := platform.GetAgent(context.Background(), "a1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfig))
	assert.Contains(t, err.Error(), MissingKeyMessage)
}
