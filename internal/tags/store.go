// Package tags keeps free-text tags per conversation. Tags are local to this
// deployment: they are never sent to the conversation service and survive
// restarts through a persistent backend.
package tags

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/pkg/logger"
)


// Backend persists the tag map.
type Backend interface {
	// Load returns every stored tag list.
	Load(ctx context.Context) (map[string][]string, error)
	// Save replaces the tag list of one conversation. An empty list removes it.
	Save(ctx context.Context, conversationID string, tags []string) error
	Close() error
}

// Store is the in-memory tag map with write-through persistence.
type Store struct {
	mu      sync.RWMutex
	byConv  map[string][]string
	version uint64
	backend Backend
	log     *logger.Logger
}

// Open loads the backend contents into a new store.
func Open(ctx context.Context, backend Backend, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global()
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	if loaded == nil {
		loaded = make(map[string][]string)
	}

	return &Store{
		byConv:  loaded,
		backend: backend,
		log:     log.With(zap.String("component", "tags")),
	}, nil
}

// AddTag appends the trimmed tag to the conversation. It reports false without
// error when the tag is blank or the conversation already has it. The change is
// persisted before AddTag returns; if persisting fails nothing changes.
func (s *Store) AddTag(ctx context.Context, conversationID, tag string) (bool, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false, nil
	}
	if conversationID == "" {
		return false, errors.New("conversation ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.byConv[conversationID]
	if contains(cur, tag) {
		return false, nil
	}

	next := make([]string, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, tag)

	if err := s.commit(ctx, conversationID, next); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveTag deletes tag from the conversation. Only an exact match is removed.
// It reports whether the tag was present.
func (s *Store) RemoveTag(ctx context.Context, conversationID, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.byConv[conversationID]
	if !contains(cur, tag) {
		return false, nil
	}

	next := make([]string, 0, len(cur)-1)
	for _, t := range cur {
		if t != tag {
			next = append(next, t)
		}
	}

	if err := s.commit(ctx, conversationID, next); err != nil {
		return false, err
	}
	return true, nil
}

// commit persists next and then installs it. Callers hold the lock.
func (s *Store) commit(ctx context.Context, conversationID string, next []string) error {
	if err := s.backend.Save(ctx, conversationID, next); err != nil {
		s.log.Error("Failed to persist tags",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to persist tags: %w", err)
	}

	if len(next) == 0 {
		delete(s.byConv, conversationID)
	} else {
		s.byConv[conversationID] = next
	}
	s.version++
	return nil
}

// Tags returns the tags of a conversation in insertion order.
func (s *Store) Tags(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.byConv[conversationID]))
	copy(out, s.byConv[conversationID])
	return out
}

// Has reports whether the conversation carries tag.
func (s *Store) Has(conversationID, tag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return contains(s.byConv[conversationID], tag)
}

// AllUniqueTags returns every distinct tag, sorted.
func (s *Store) AllUniqueTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range s.byConv {
		for _, t := range list {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

// All returns a copy of the whole map.
func (s *Store) All() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.byConv))
	for id, list := range s.byConv {
		out[id] = append([]string(nil), list...)
	}
	return out
}

// Version increases on every successful change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func contains(list []string, tag string) bool {
	for _, t := range list {
		if t == tag {
			return true
		}
	}
	return false
}
