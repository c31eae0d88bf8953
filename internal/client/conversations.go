package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/capitalize-ai/support-inbox/internal/apperr"
	"github.com/capitalize-ai/support-inbox/internal/model"
)

// ConversationService is the client for the conversation-storage service.
type ConversationService struct {
	*Client
}

// NewConversationService creates a conversation service client.
func NewConversationService(baseURL string, opts ...Option) *ConversationService {
	return &ConversationService{Client: New(baseURL, opts...)}
}

// ListConversations returns every conversation visible to the caller.
func (s *ConversationService) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := s.call(ctx, "list conversations", http.MethodGet, "/conversation", nil, &convs); err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].ID == "" {
			return nil, apperr.Malformedf("list conversations", "conversation at index %d has no id", i)
		}
	}
	return convs, nil
}

// GetConversation returns one conversation.
func (s *ConversationService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.call(ctx, "get conversation", http.MethodGet, "/conversation/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, apperr.Malformedf("get conversation", "response has no id")
	}
	return &conv, nil
}

// GetMessages returns up to limit recent messages of a conversation, in the order
// the service sends them.
func (s *ConversationService) GetMessages(ctx context.Context, id string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, apperr.Validationf("get messages", "limit must be positive, got %d", limit)
	}

	var resp struct {
		Messages *[]model.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversation/%s/messages/%d", url.PathEscape(id), limit)
	if err := s.call(ctx, "get messages", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return nil, apperr.Malformedf("get messages", "response has no messages field")
	}

	msgs := *resp.Messages
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = id
		}
	}
	return msgs, nil
}

// SendMessage posts a message as the human agent and returns the stored message.
func (s *ConversationService) SendMessage(ctx context.Context, id string, req model.SendMessageRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.Validationf("send message", "message text is empty")
	}
	if req.From == "" {
		req.From = model.SenderAgent
	}

	var resp model.SendMessageResponse
	path := "/conversation/message/conversationId/" + url.PathEscape(id)
	if err := s.call(ctx, "send message", http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Message == nil {
		return nil, apperr.Malformedf("send message", "service did not confirm the message")
	}
	return resp.Message, nil
}

// SetPriority changes the conversation priority.
func (s *ConversationService) SetPriority(ctx context.Context, id string, p model.Priority) (*model.Conversation, error) {
	if !p.Valid() {
		return nil, apperr.Validationf("set priority", "unknown priority %q", p)
	}

	var resp model.SetPriorityResponse
	path := "/conversations/" + url.PathEscape(id) + "/set-priority"
	if err := s.call(ctx, "set priority", http.MethodPost, path, model.SetPriorityRequest{Priority: p}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperr.Malformedf("set priority", "service rejected the update")
	}
	return resp.Conversation, nil
}

// SetStatus changes the conversation status.
func (s *ConversationService) SetStatus(ctx context.Context, id string, st model.Status) error {
	if !st.Valid() {
		return apperr.Validationf("set status", "unknown status %q", st)
	}
	path := "/conversations/" + url.PathEscape(id) + "/set-status"
	return s.ack(ctx, "set status", path, model.SetStatusRequest{Status: st})
}

// SetAiEnabled toggles automated responses for the conversation.
func (s *ConversationService) SetAiEnabled(ctx context.Context, id string, enabled bool) error {
	path := "/conversations/" + url.PathEscape(id) + "/set-ai-enabled"
	return s.ack(ctx, "set ai enabled", path, model.SetAiEnabledRequest{Enabled: enabled})
}

func (s *ConversationService) ack(ctx context.Context, op, path string, body any) error {
	var resp model.AckResponse
	if err := s.call(ctx, op, http.MethodPost, path, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return apperr.Malformedf(op, "service rejected the update: %s", resp.Message)
	}
	return nil
}

// ListVariables returns the variables of a conversation.
func (s *ConversationService) ListVariables(ctx context.Context, id string) ([]model.Variable, error) {
	var vars []model.Variable
	if err := s.call(ctx, "list variables", http.MethodGet, "/variables/"+url.PathEscape(id), nil, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// GetVariable returns one variable by name.
func (s *ConversationService) GetVariable(ctx context.Context, id, name string) (*model.Variable, error) {
	var v model.Variable
	path := "/variables/" + url.PathEscape(id) + "/" + url.PathEscape(name)
	if err := s.call(ctx, "get variable", http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVariable stores a new variable.
func (s *ConversationService) CreateVariable(ctx context.Context, v model.Variable) (*model.Variable, error) {
	if err := ValidateVariable(v); err != nil {
		return nil, apperr.Validation("create variable", err)
	}

	var created model.Variable
	if err := s.call(ctx, "create variable", http.MethodPost, "/variables", v, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteVariable removes a variable by name.
func (s *ConversationService) DeleteVariable(ctx context.Context, id, name string) (*model.DeleteVariableResponse, error) {
	var resp model.DeleteVariableResponse
	path := "/variables/" + url.PathEscape(id) + "/" + url.PathEscape(name)
	if err := s.call(ctx, "delete variable", http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateVariable checks that every field of a variable is set.
func ValidateVariable(v model.Variable) error {
	switch {
	case v.ConversationID == "":
		return fmt.Errorf("conversation ID is required")
	case v.VarName == "":
		return fmt.Errorf("variable name is required")
	case v.VarValue == "":
		return fmt.Errorf("variable value is required")
	}
	return nil
}
