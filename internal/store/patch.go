package store

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// Field names one optimistically patchable attribute of a conversation.
type Field string

const (
	FieldPriority  Field = "priority"
	FieldStatus    Field = "status"
	FieldAiEnabled Field = "aiEnabled"

	variablePrefix = "variable:"
)

// VariableField is the field for the variable with the given name.
func VariableField(name string) Field {
	return Field(variablePrefix + name)
}

// Patch is a local change that the server has not confirmed yet.
type Patch struct {
	ID             uint64
	Epoch          uint64
	ConversationID string
	Field          Field
	// Prev is the visible value when the patch began. Next is the applied value.
	// Variable fields hold *model.Variable, nil meaning absent.
	Prev any
	Next any
}

// Begin applies value to field of the selected conversation and returns the
// patch. The value stays visible until the patch is rolled back or a later
// patch of the same field replaces it.
func (s *Store) Begin(field Field, value any) (*Patch, error) {
	if err := checkValue(field, value); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEmpty {
		return nil, ErrNoSelection
	}

	s.nextPatch++
	p := &Patch{
		ID:             s.nextPatch,
		Epoch:          s.epoch,
		ConversationID: s.base.ID,
		Field:          field,
		Prev:           fieldValue(s.visible(), field),
		Next:           value,
	}
	s.patches = append(s.patches, p)
	return p, nil
}

// Commit marks the patch as confirmed by the server. Its value becomes part of
// the server view until the next reconciliation replaces it.
func (s *Store) Commit(p *Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removePatch(p) {
		return false
	}
	base := s.base.Clone()
	applyField(base, p.Field, p.Next)
	s.base = base

	s.gen++
	if s.committed == nil {
		s.committed = make(map[Field]uint64)
	}
	s.committed[p.Field] = s.gen
	return true
}

// Rollback withdraws the patch. The visible value falls back to the server view
// overlaid with whatever other patches are still pending, so a later patch of
// the same field, or patches of other fields, are left intact.
func (s *Store) Rollback(p *Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removePatch(p)
}

func (s *Store) removePatch(p *Patch) bool {
	if p == nil || p.Epoch != s.epoch {
		return false
	}
	for i, q := range s.patches {
		if q.ID == p.ID {
			s.patches = append(s.patches[:i:i], s.patches[i+1:]...)
			return true
		}
	}
	return false
}

// visible returns the server view with every pending patch applied in order.
// Callers hold the lock.
func (s *Store) visible() *model.Conversation {
	conv := s.base.Clone()
	for _, p := range s.patches {
		applyField(conv, p.Field, p.Next)
	}
	return conv
}

func checkValue(field Field, value any) error {
	ok := false
	switch {
	case field == FieldPriority:
		_, ok = value.(model.Priority)
	case field == FieldStatus:
		_, ok = value.(model.Status)
	case field == FieldAiEnabled:
		_, ok = value.(bool)
	case strings.HasPrefix(string(field), variablePrefix):
		_, ok = value.(*model.Variable)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	if !ok {
		return fmt.Errorf("invalid value %T for field %q", value, field)
	}
	return nil
}

func fieldValue(c *model.Conversation, field Field) any {
	switch field {
	case FieldPriority:
		return c.Priority
	case FieldStatus:
		return c.Status
	case FieldAiEnabled:
		return c.IsAiEnabled
	}

	name := strings.TrimPrefix(string(field), variablePrefix)
	if v, _, ok := c.Variable(name); ok {
		return &v
	}
	return (*model.Variable)(nil)
}

func applyField(c *model.Conversation, field Field, value any) {
	switch field {
	case FieldPriority:
		c.Priority = value.(model.Priority)
		return
	case FieldStatus:
		c.Status = value.(model.Status)
		return
	case FieldAiEnabled:
		c.IsAiEnabled = value.(bool)
		return
	}

	name := strings.TrimPrefix(string(field), variablePrefix)
	v := value.(*model.Variable)
	_, idx, found := c.Variable(name)
	switch {
	case v == nil && found:
		c.ConversationVariables = append(c.ConversationVariables[:idx:idx], c.ConversationVariables[idx+1:]...)
	case v != nil && found:
		c.ConversationVariables[idx] = *v
	case v != nil:
		c.ConversationVariables = append(c.ConversationVariables, *v)
	}
}
