package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/apperr"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/internal/poller"
	"github.com/capitalize-ai/support-inbox/internal/store"
	"github.com/capitalize-ai/support-inbox/pkg/metrics"
)

// SetPriority changes the priority of the selected conversation.
func (s *InboxService) SetPriority(ctx context.Context, p model.Priority) (store.Selection, error) {
	if !p.Valid() {
		return store.Selection{}, apperr.Validationf("set priority", "invalid priority %q", p)
	}
	return s.mutate(ctx, "set priority", store.FieldPriority, p, func(ctx context.Context, id string) error {
		_, err := s.api.SetPriority(ctx, id, p)
		return err
	})
}

// SetStatus changes the status of the selected conversation.
func (s *InboxService) SetStatus(ctx context.Context, st model.Status) (store.Selection, error) {
	if !st.Valid() {
		return store.Selection{}, apperr.Validationf("set status", "invalid status %q", st)
	}
	return s.mutate(ctx, "set status", store.FieldStatus, st, func(ctx context.Context, id string) error {
		return s.api.SetStatus(ctx, id, st)
	})
}

// SetAiEnabled toggles AI handling of the selected conversation.
func (s *InboxService) SetAiEnabled(ctx context.Context, enabled bool) (store.Selection, error) {
	return s.mutate(ctx, "set ai enabled", store.FieldAiEnabled, enabled, func(ctx context.Context, id string) error {
		return s.api.SetAiEnabled(ctx, id, enabled)
	})
}

// DeleteVariable removes a variable from the selected conversation.
func (s *InboxService) DeleteVariable(ctx context.Context, name string) (store.Selection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Selection{}, apperr.Validationf("delete variable", "variable name is required")
	}
	return s.mutate(ctx, "delete variable", store.VariableField(name), (*model.Variable)(nil), func(ctx context.Context, id string) error {
		_, err := s.api.DeleteVariable(ctx, id, name)
		return err
	})
}

// CreateVariable attaches a variable to the selected conversation. The
// variable shows up once the service has stored it.
func (s *InboxService) CreateVariable(ctx context.Context, name, value string) (*model.Variable, error) {
	id, _, ok := s.selection.Current()
	if !ok {
		return nil, store.ErrNoSelection
	}

	v, err := s.api.CreateVariable(ctx, model.Variable{
		ConversationID: id,
		VarName:        strings.TrimSpace(name),
		VarValue:       value,
	})
	metrics.RecordMutation("variable", err)
	if err != nil {
		s.emit(poller.Key{Kind: KindVariables, ID: id}, model.EventTypeError, err)
		return nil, wrap("create variable", err)
	}

	s.scheduler.Invalidate(poller.Key{Kind: KindVariables, ID: id})
	s.scheduler.Invalidate(conversationsKey)
	s.emit(poller.Key{Kind: KindVariables, ID: id}, model.EventTypeMutation, nil)
	return v, nil
}

// SendMessage posts text as the agent. The message appears in the thread at
// once, marked pending, and is swapped for the stored message on success or
// removed on failure.
func (s *InboxService) SendMessage(ctx context.Context, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validationf("send message", "message is empty")
	}

	sel := s.selection.Snapshot()
	if sel.State == store.StateEmpty {
		return nil, store.ErrNoSelection
	}
	conv := sel.Conversation

	temp := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		From:           model.SenderAgent,
		Text:           text,
		Read:           true,
		AgentID:        conv.AgentID,
		CreatedAt:      time.Now(),
	}
	s.selection.AddOutgoing(sel.Epoch, temp)
	key := poller.Key{Kind: KindMessages, ID: conv.ID}
	s.emit(key, model.EventTypeMutation, nil)

	msg, err := s.api.SendMessage(ctx, conv.ID, model.SendMessageRequest{
		Message:   text,
		From:      model.SenderAgent,
		AgentID:   conv.AgentID,
		Channel:   conv.Channel,
		VisitorID: conv.VisitorID,
	})
	metrics.RecordMutation("message", err)
	if err != nil {
		s.selection.DropOutgoing(sel.Epoch, temp.ID)
		s.log.Warn("Failed to send message",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		s.emit(key, model.EventTypeRollback, err)
		return nil, wrap("send message", err)
	}

	if msg.ConversationID == "" {
		msg.ConversationID = conv.ID
	}
	s.selection.ConfirmOutgoing(sel.Epoch, temp.ID, *msg)
	s.scheduler.Invalidate(key)
	s.scheduler.Invalidate(conversationsKey)
	s.emit(key, model.EventTypeChanged, nil)
	return msg, nil
}

// AddTag tags a conversation and returns its tags. Adding a tag the
// conversation already has is a no-op.
func (s *InboxService) AddTag(ctx context.Context, conversationID, tag string) ([]string, error) {
	added, err := s.tags.AddTag(ctx, conversationID, tag)
	if err != nil {
		return nil, wrap("add tag", err)
	}
	if added {
		s.emit(poller.Key{Kind: KindTags, ID: conversationID}, model.EventTypeTags, nil)
	}
	return s.tags.Tags(conversationID), nil
}

// RemoveTag removes a tag from a conversation and returns its tags.
func (s *InboxService) RemoveTag(ctx context.Context, conversationID, tag string) ([]string, error) {
	removed, err := s.tags.RemoveTag(ctx, conversationID, tag)
	if err != nil {
		return nil, wrap("remove tag", err)
	}
	if removed {
		s.emit(poller.Key{Kind: KindTags, ID: conversationID}, model.EventTypeTags, nil)
	}
	return s.tags.Tags(conversationID), nil
}

// mutate applies value locally, calls the service, then commits or rolls
// back. Either way the conversation list is refetched afterwards.
func (s *InboxService) mutate(ctx context.Context, op string, field store.Field, value any, call func(ctx context.Context, id string) error) (store.Selection, error) {
	p, err := s.selection.Begin(field, value)
	if err != nil {
		return store.Selection{}, err
	}
	key := poller.Key{Kind: KindSelection, ID: p.ConversationID}
	s.emit(key, model.EventTypeMutation, nil)

	err = call(ctx, p.ConversationID)
	metrics.RecordMutation(fieldLabel(field), err)

	if err != nil {
		s.selection.Rollback(p)
		s.log.Warn("Mutation rolled back",
			zap.String("op", op),
			zap.String("conversation_id", p.ConversationID),
			zap.Error(err),
		)
		s.emit(key, model.EventTypeRollback, err)
	} else {
		s.selection.Commit(p)
		s.scheduler.Invalidate(poller.Key{Kind: KindConversation, ID: p.ConversationID})
		s.emit(key, model.EventTypeChanged, nil)
	}

	s.scheduler.Invalidate(conversationsKey)

	if err != nil {
		return s.selection.Snapshot(), wrap(op, err)
	}
	return s.selection.Snapshot(), nil
}

func fieldLabel(f store.Field) string {
	if strings.HasPrefix(string(f), string(store.VariableField(""))) {
		return "variable"
	}
	return string(f)
}

func wrap(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, err)
}
