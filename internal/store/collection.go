package store

import (
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

type collection struct {
	items     []model.Conversation
	index     map[string]int
	version   uint64
	updatedAt time.Time
}

// ConversationSet is the full conversation list. Each successful poll replaces
// it wholesale; readers hold on to the slice they got and never see a partial
// update.
type ConversationSet struct {
	cur atomic.Pointer[collection]
}

// NewConversationSet creates an empty set.
func NewConversationSet() *ConversationSet {
	cs := &ConversationSet{}
	cs.cur.Store(&collection{index: map[string]int{}})
	return cs
}

// Replace swaps in a new list. The caller must not modify convs afterwards.
// It returns the previous size.
func (cs *ConversationSet) Replace(convs []model.Conversation) int {
	next := &collection{
		items:     convs,
		index:     make(map[string]int, len(convs)),
		updatedAt: time.Now(),
	}
	for i := range convs {
		next.index[convs[i].ID] = i
	}

	for {
		prev := cs.cur.Load()
		next.version = prev.version + 1
		if cs.cur.CompareAndSwap(prev, next) {
			return len(prev.items)
		}
	}
}

// Snapshot returns the current list. It must be treated as read-only.
func (cs *ConversationSet) Snapshot() []model.Conversation {
	return cs.cur.Load().items
}

// Get returns one conversation by id.
func (cs *ConversationSet) Get(id string) (model.Conversation, bool) {
	c := cs.cur.Load()
	i, ok := c.index[id]
	if !ok {
		return model.Conversation{}, false
	}
	return c.items[i], true
}

// Len returns the number of conversations.
func (cs *ConversationSet) Len() int {
	return len(cs.cur.Load().items)
}

// Version increases on every Replace.
func (cs *ConversationSet) Version() uint64 {
	return cs.cur.Load().version
}

// UpdatedAt returns when the list was last replaced.
func (cs *ConversationSet) UpdatedAt() time.Time {
	return cs.cur.Load().updatedAt
}
