package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-inbox/internal/client"
	"github.com/capitalize-ai/support-inbox/internal/middleware"
	"github.com/capitalize-ai/support-inbox/internal/service"
	"github.com/capitalize-ai/support-inbox/internal/tags"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

const testSecret = "handler-secret"

// upstream imitates the conversation service for two conversations.
type upstream struct {
	mu     sync.Mutex
	status string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	conv := func(id, channel, status string) string {
		return `{"id":"` + id + `","channel":"` + channel + `","status":"` + status +
			`","priority":"MEDIUM","createdAt":"2024-03-01T10:00:00Z"}`
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/conversation":
		_, _ = io.WriteString(w, "["+conv("c1", "whatsapp", u.status)+","+conv("c2", "telegram", "UNRESOLVED")+"]")
	case r.Method == http.MethodGet && r.URL.Path == "/conversation/c1":
		_, _ = io.WriteString(w, conv("c1", "whatsapp", u.status))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/conversation/c1/messages/"):
		_, _ = io.WriteString(w, `{"messages":[{"id":"m1","text":"hello","from":"human","createdAt":"2024-03-01T10:01:00Z"}]}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/conversation/c2/messages/"):
		_, _ = io.WriteString(w, `{"messages":[]}`)
	case r.Method == http.MethodGet && r.URL.Path == "/variables/c1":
		_, _ = io.WriteString(w, `[]`)
	case r.Method == http.MethodPost && r.URL.Path == "/conversations/c1/set-status":
		var req struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		u.status = req.Status
		_, _ = io.WriteString(w, `{"success":true}`)
	case r.Method == http.MethodPost && r.URL.Path == "/conversations/c1/set-ai-enabled":
		_, _ = io.WriteString(w, `{"success":false,"message":"channel is closed"}`)
	default:
		http.NotFound(w, r)
	}
}

func newInboxRouter(t *testing.T) (http.Handler, *service.InboxService) {
	t.Helper()

	log, err := logger.New("error")
	require.NoError(t, err)

	srv := httptest.NewServer(&upstream{status: "UNRESOLVED"})
	t.Cleanup(srv.Close)

	tagStore, err := tags.Open(context.Background(), tags.NewMemoryBackend(), log)
	require.NoError(t, err)

	svc := service.New(client.NewConversationService(srv.URL), tagStore, service.DefaultConfig(), log)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	require.Eventually(t, svc.ListLoaded, 2*time.Second, 10*time.Millisecond)

	r := chi.NewRouter()
	r.Use(middleware.Auth(testSecret))
	NewInboxHandler(svc, log).Routes(r)
	return r, svc
}

func token(t *testing.T, scopes ...string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token(t, scopes...))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestListAndFilters(t *testing.T) {
	h, _ := newInboxRouter(t)

	var page struct {
		Total int `json:"total"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}

	rec := do(t, h, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Total)

	rec = do(t, h, http.MethodPut, "/conversations/filters", `{"channel":"telegram"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "c2", page.Items[0].ID)

	rec = do(t, h, http.MethodPut, "/conversations/filters", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTagRoutesRequireWriteScope(t *testing.T) {
	h, _ := newInboxRouter(t)

	rec := do(t, h, http.MethodPost, "/conversations/c1/tags", `{"tag":"vip"}`, "inbox:read")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/conversations/c1/tags", `{"tag":"vip"}`, middleware.ScopeWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tagsResponse
	decode(t, rec, &resp)
	assert.Equal(t, []string{"vip"}, resp.Tags)

	// A blank tag leaves the tags unchanged.
	rec = do(t, h, http.MethodPost, "/conversations/c1/tags", `{"tag":"  "}`, middleware.ScopeWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, []string{"vip"}, resp.Tags)

	rec = do(t, h, http.MethodPut, "/conversations/filters", `{"tag":"vip"}`)
	var page struct {
		Total int `json:"total"`
	}
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)

	rec = do(t, h, http.MethodDelete, "/conversations/c1/tags/vip", "", middleware.ScopeWrite)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Empty(t, resp.Tags)
}

func TestSelectAndSetStatus(t *testing.T) {
	h, svc := newInboxRouter(t)

	rec := do(t, h, http.MethodPost, "/selection", `{"conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(svc.Selected(time.UTC).Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(t, h, http.MethodPut, "/selection/status", `{"status":"RESOLVED"}`, middleware.ScopeWrite)
	require.Equal(t, http.StatusOK, rec.Code)

	var thread struct {
		Conversation struct {
			Status string `json:"status"`
		} `json:"conversation"`
	}
	decode(t, rec, &thread)
	assert.Equal(t, "RESOLVED", thread.Conversation.Status)

	rec = do(t, h, http.MethodPut, "/selection/status", `{"status":"ARCHIVED"}`, middleware.ScopeWrite)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefusedUpdateIsBadGateway(t *testing.T) {
	h, svc := newInboxRouter(t)

	rec := do(t, h, http.MethodPost, "/selection", `{"conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/selection/ai", `{"enabled":false}`, middleware.ScopeWrite)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "channel is closed")
	assert.Empty(t, svc.Selected(time.UTC).Pending)
}

func TestSelectUnknownConversation(t *testing.T) {
	h, _ := newInboxRouter(t)

	rec := do(t, h, http.MethodPost, "/selection", `{"conversationId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/selection", `{"conversationId":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntentWithoutSelection(t *testing.T) {
	h, _ := newInboxRouter(t)

	rec := do(t, h, http.MethodPut, "/selection/priority", `{"priority":"HIGH"}`, middleware.ScopeWrite)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/selection/messages", `{"message":"hi"}`, middleware.ScopeWrite)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFeedBeforeFirstRun(t *testing.T) {
	h, _ := newInboxRouter(t)

	rec := do(t, h, http.MethodGet, "/feed?range=week&channel=whatsapp", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var feed struct {
		Entries []json.RawMessage `json:"entries"`
	}
	decode(t, rec, &feed)
	assert.NotNil(t, feed.Entries)
}
