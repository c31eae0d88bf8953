// Package store holds the selected conversation and the conversation collection.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// ErrNoSelection is returned for intents that need a selected conversation.
var ErrNoSelection = errors.New("no conversation selected")

// State is the lifecycle of the selection slot.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Selection is an immutable snapshot of the selection slot.
type Selection struct {
	State        State               `json:"state"`
	Epoch        uint64              `json:"epoch"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Messages     []model.Message     `json:"messages"`
	// LastMessageAt is the creation time of the newest server message.
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	// Err is the last fetch failure. Conversation and Messages still carry the
	// last known good data.
	Err     error   `json:"-"`
	Pending []Field `json:"pendingFields,omitempty"`
}

// Store owns the selected conversation. Results of background fetches are
// tagged with the epoch they were issued under and are dropped when the
// selection has moved on.
type Store struct {
	mu sync.RWMutex

	epoch uint64
	state State

	// base is the last server view of the conversation. Pending patches are
	// overlaid on it when a snapshot is taken.
	base          *model.Conversation
	messages      []model.Message
	outgoing      []model.Message
	lastMessageAt time.Time
	err           error

	patches   []*Patch
	nextPatch uint64

	// gen counts commits. committed maps each field to the generation of its
	// last commit in this epoch, so a fetch issued before that commit cannot
	// bring back the old value.
	gen       uint64
	committed map[Field]uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Select makes conv the selection and returns the new epoch. Selecting again,
// even the same conversation, starts a new epoch in the loading state.
func (s *Store) Select(conv *model.Conversation) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.state = StateLoading
	s.base = conv.Clone()
	return s.epoch
}

// Deselect clears the selection and returns the new epoch.
func (s *Store) Deselect() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return s.epoch
}

func (s *Store) reset() {
	s.epoch++
	s.state = StateEmpty
	s.base = nil
	s.messages = nil
	s.outgoing = nil
	s.lastMessageAt = time.Time{}
	s.err = nil
	s.patches = nil
	s.committed = nil
}

// Current returns the selected conversation id and the epoch it belongs to.
func (s *Store) Current() (id string, epoch uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == StateEmpty {
		return "", s.epoch, false
	}
	return s.base.ID, s.epoch, true
}

// Generation returns the commit generation. Fetches of the conversation and
// its variables capture it when they are issued.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Epoch returns the current epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// current reports whether a result for id issued under epoch still applies.
// Callers hold the lock.
func (s *Store) current(epoch uint64, id string) bool {
	return s.state != StateEmpty && s.epoch == epoch && s.base.ID == id
}

// ApplyMessages stores a fetched thread. Messages are kept in ascending
// creation order regardless of the order the service sent them in. It reports
// whether the result was applied.
func (s *Store) ApplyMessages(epoch uint64, id string, msgs []model.Message) bool {
	sorted := make([]model.Message, len(msgs))
	copy(sorted, msgs)
	sortMessages(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(epoch, id) {
		return false
	}

	s.messages = sorted
	s.err = nil
	s.state = StateReady
	if n := len(sorted); n > 0 {
		s.lastMessageAt = sorted[n-1].CreatedAt
	}

	// An outgoing message that already came back from the server is no longer pending.
	kept := s.outgoing[:0]
	for _, m := range s.outgoing {
		if !containsID(sorted, m.ID) {
			kept = append(kept, m)
		}
	}
	s.outgoing = kept
	return true
}

// ApplyConversation replaces the server view of the selected conversation
// with a result fetched at generation gen. Fields committed after gen keep
// their committed value. Pending patches stay on top of it.
func (s *Store) ApplyConversation(epoch, gen uint64, conv *model.Conversation) bool {
	if conv == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(epoch, conv.ID) {
		return false
	}
	base := conv.Clone()
	s.keepCommitted(base, gen)
	s.base = base
	s.err = nil
	return true
}

// ApplyVariables replaces the server view of the selected conversation's
// variables with a result fetched at generation gen.
func (s *Store) ApplyVariables(epoch, gen uint64, id string, vars []model.Variable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(epoch, id) {
		return false
	}
	base := s.base.Clone()
	base.ConversationVariables = append([]model.Variable(nil), vars...)
	s.keepCommitted(base, gen)
	s.base = base
	return true
}

// keepCommitted copies onto next every field of the current base that was
// committed after gen. Callers hold the lock.
func (s *Store) keepCommitted(next *model.Conversation, gen uint64) {
	for field, at := range s.committed {
		if at > gen {
			applyField(next, field, fieldValue(s.base, field))
		}
	}
}

// Fail records a fetch failure for the selection. Existing data is kept.
func (s *Store) Fail(epoch uint64, id string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(epoch, id) {
		return false
	}
	s.err = err
	return true
}

// AddOutgoing appends an unconfirmed message to the thread.
func (s *Store) AddOutgoing(epoch uint64, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(epoch, msg.ConversationID) {
		return false
	}
	msg.Pending = true
	s.outgoing = append(s.outgoing, msg)
	return true
}

// ConfirmOutgoing swaps a pending message for the one the server stored. The
// confirmed message counts as the newest server message when it is.
func (s *Store) ConfirmOutgoing(epoch uint64, tempID string, confirmed model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || !s.dropOutgoing(tempID) {
		return false
	}
	confirmed.Pending = false
	if !containsID(s.messages, confirmed.ID) {
		msgs := append(append([]model.Message(nil), s.messages...), confirmed)
		sortMessages(msgs)
		s.messages = msgs
	}
	if confirmed.CreatedAt.After(s.lastMessageAt) {
		s.lastMessageAt = confirmed.CreatedAt
	}
	return true
}

// DropOutgoing removes a pending message whose send failed.
func (s *Store) DropOutgoing(epoch uint64, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}
	return s.dropOutgoing(tempID)
}

func (s *Store) dropOutgoing(tempID string) bool {
	for i, m := range s.outgoing {
		if m.ID == tempID {
			s.outgoing = append(s.outgoing[:i:i], s.outgoing[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the selection with pending patches applied.
func (s *Store) Snapshot() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sel := Selection{
		State:         s.state,
		Epoch:         s.epoch,
		LastMessageAt: s.lastMessageAt,
		Err:           s.err,
	}
	if s.state == StateEmpty {
		return sel
	}

	sel.Conversation = s.visible()
	sel.Messages = make([]model.Message, 0, len(s.messages)+len(s.outgoing))
	sel.Messages = append(sel.Messages, s.messages...)
	sel.Messages = append(sel.Messages, s.outgoing...)
	for _, p := range s.patches {
		sel.Pending = append(sel.Pending, p.Field)
	}
	return sel
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func containsID(msgs []model.Message, id string) bool {
	for i := range msgs {
		if msgs[i].ID == id {
			return true
		}
	}
	return false
}
