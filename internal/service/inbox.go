// Package service wires the inbox engine together: polling, the selection
// store, the conversation collection, the feed and the tag store.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-inbox/internal/aggregate"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/internal/poller"
	"github.com/capitalize-ai/support-inbox/internal/store"
	"github.com/capitalize-ai/support-inbox/internal/tags"
	"github.com/capitalize-ai/support-inbox/internal/view"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

// Poll kinds.
const (
	KindConversations = "conversations"
	KindMessages      = "messages"
	KindConversation  = "conversation"
	KindVariables     = "variables"
	KindFeed          = "feed"

	// KindSelection and KindTags label events that do not come from a poll.
	KindSelection = "selection"
	KindTags      = "tags"
)

var (
	conversationsKey = poller.Key{Kind: KindConversations}
	feedKey          = poller.Key{Kind: KindFeed}
)

// ConversationAPI is the conversation service as the engine uses it.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetMessages(ctx context.Context, id string, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, id string, req model.SendMessageRequest) (*model.Message, error)
	SetPriority(ctx context.Context, id string, p model.Priority) (*model.Conversation, error)
	SetStatus(ctx context.Context, id string, st model.Status) error
	SetAiEnabled(ctx context.Context, id string, enabled bool) error
	ListVariables(ctx context.Context, id string) ([]model.Variable, error)
	CreateVariable(ctx context.Context, v model.Variable) (*model.Variable, error)
	DeleteVariable(ctx context.Context, id, name string) (*model.DeleteVariableResponse, error)
}

// AgentLookup resolves agent ids in batch.
type AgentLookup interface {
	Resolve(ctx context.Context, ids []string) (map[string]model.Agent, map[string]error)
}

// Publisher forwards change events outside the process.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent) (uint64, error)
}

// Schedule is the interval and stale window of one poll kind.
type Schedule struct {
	Interval time.Duration
	Stale    time.Duration
}

// Config tunes the engine.
type Config struct {
	Conversations    Schedule
	Messages         Schedule
	Conversation     Schedule
	Variables        Schedule
	Feed             Schedule
	MessageLimit     int
	FeedMessageLimit int
	FeedParallelism  int
	PageSize         int
}

// DefaultConfig returns the stock polling schedule.
func DefaultConfig() Config {
	return Config{
		Conversations:    Schedule{Interval: 20 * time.Second, Stale: 30 * time.Second},
		Messages:         Schedule{Interval: 5 * time.Second, Stale: 10 * time.Second},
		Conversation:     Schedule{Interval: 15 * time.Second, Stale: 10 * time.Second},
		Variables:        Schedule{Stale: 2 * time.Minute},
		Feed:             Schedule{Interval: 60 * time.Second, Stale: 30 * time.Second},
		MessageLimit:     aggregate.DefaultMessageLimit,
		FeedMessageLimit: aggregate.DefaultMessageLimit,
		FeedParallelism:  aggregate.DefaultParallelism,
		PageSize:         view.DefaultPageSize,
	}
}

// Option configures an InboxService.
type Option func(*InboxService)

// WithAgents enables agent resolution for the feed and agent stats.
func WithAgents(agents AgentLookup) Option {
	return func(s *InboxService) { s.agents = agents }
}

// WithPublisher forwards every change event to p.
func WithPublisher(p Publisher) Option {
	return func(s *InboxService) { s.publisher = p }
}

// InboxService is one inbox session: it owns the pollers and the derived state
// and exposes intents and read models. Create one per process.
type InboxService struct {
	api       ConversationAPI
	agents    AgentLookup
	publisher Publisher
	cfg       Config
	log       *logger.Logger

	scheduler  *poller.Scheduler
	selection  *store.Store
	collection *store.ConversationSet
	aggregator *aggregate.Aggregator
	tags       *tags.Store
	cursor     *view.Cursor
	broker     *Broker

	// selectMu serializes selection changes so the per-selection polls
	// always belong to the newest epoch.
	selectMu sync.Mutex
	feedOnce sync.Once

	mu         sync.RWMutex
	agentIndex map[string]model.Agent

	wg sync.WaitGroup
}

// New creates an InboxService. Nothing polls until Start.
func New(api ConversationAPI, tagStore *tags.Store, cfg Config, log *logger.Logger, opts ...Option) *InboxService {
	if log == nil {
		log = logger.Global()
	}

	s := &InboxService{
		api:        api,
		cfg:        cfg,
		log:        log.With(zap.String("component", "inbox")),
		scheduler:  poller.New(log),
		selection:  store.New(),
		collection: store.NewConversationSet(),
		aggregator: aggregate.New(api, log,
			aggregate.WithMessageLimit(cfg.FeedMessageLimit),
			aggregate.WithParallelism(cfg.FeedParallelism),
		),
		tags:       tagStore,
		cursor:     view.NewCursor(cfg.PageSize),
		broker:     NewBroker(),
		agentIndex: make(map[string]model.Agent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling the conversation list. The feed starts after the
// first list arrives.
func (s *InboxService) Start(ctx context.Context) error {
	if s.publisher != nil {
		s.startForwarder()
	}

	return s.scheduler.Schedule(conversationsKey, poller.Options{
		Interval: s.cfg.Conversations.Interval,
		Stale:    s.cfg.Conversations.Stale,
		OnChange: func(key poller.Key, value any) {
			convs := value.([]model.Conversation)
			prev := s.collection.Replace(convs)

			s.feedOnce.Do(s.scheduleFeed)
			if prev != len(convs) {
				s.scheduler.Invalidate(feedKey)
			}
			s.emit(key, model.EventTypeChanged, nil)
		},
		OnError: func(key poller.Key, err error) {
			s.emit(key, model.EventTypeError, err)
		},
	}, func(ctx context.Context) (any, error) {
		return s.api.ListConversations(ctx)
	})
}

// Stop cancels every poll and closes subscriber channels.
func (s *InboxService) Stop() {
	s.scheduler.Stop()
	s.broker.Close()
	s.wg.Wait()
}

func (s *InboxService) scheduleFeed() {
	err := s.scheduler.Schedule(feedKey, poller.Options{
		Interval: s.cfg.Feed.Interval,
		Stale:    s.cfg.Feed.Stale,
		Equal: func(a, b any) bool {
			return a.(*aggregate.Result).Seq == b.(*aggregate.Result).Seq
		},
		OnChange: func(key poller.Key, value any) {
			s.emit(key, model.EventTypeChanged, nil)
		},
		OnError: func(key poller.Key, err error) {
			s.emit(key, model.EventTypeError, err)
		},
	}, s.fetchFeed)
	if err != nil && !errors.Is(err, poller.ErrStopped) {
		s.log.Error("Failed to schedule feed", zap.Error(err))
	}
}

func (s *InboxService) fetchFeed(ctx context.Context) (any, error) {
	res, _, err := s.aggregator.Run(ctx, s.collection.Snapshot())
	if err != nil {
		return nil, err
	}

	if s.agents != nil && len(res.AgentIDs) > 0 {
		resolved, _ := s.agents.Resolve(ctx, res.AgentIDs)
		s.mu.Lock()
		for id, a := range resolved {
			s.agentIndex[id] = a
		}
		s.mu.Unlock()
	}
	return res, nil
}

// Select makes the conversation with id the selection and starts its polls.
// The conversation comes from the polled list, or from the service when the
// list does not have it yet.
func (s *InboxService) Select(ctx context.Context, id string) (store.Selection, error) {
	conv, ok := s.collection.Get(id)
	if !ok {
		fetched, err := s.api.GetConversation(ctx, id)
		if err != nil {
			return store.Selection{}, wrap("select conversation", err)
		}
		conv = *fetched
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	epoch := s.selection.Select(&conv)
	s.cancelSelectionPolls()
	s.scheduleSelectionPolls(id, epoch)

	s.emit(poller.Key{Kind: KindSelection, ID: id}, model.EventTypeSelect, nil)
	return s.selection.Snapshot(), nil
}

// Deselect clears the selection and stops its polls.
func (s *InboxService) Deselect() {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.selection.Deselect()
	s.cancelSelectionPolls()
	s.emit(poller.Key{Kind: KindSelection}, model.EventTypeSelect, nil)
}

func (s *InboxService) cancelSelectionPolls() {
	for _, kind := range []string{KindMessages, KindConversation, KindVariables} {
		s.scheduler.CancelKind(kind)
	}
}

// selectionResult is a selection fetch tagged with the selection it was
// issued for and the commit generation at issue time. The poller compares
// whole results, so a no-op poll is never merged into the store again.
type selectionResult struct {
	epoch uint64
	gen   uint64
	id    string
	value any
}

func (s *InboxService) scheduleSelectionPolls(id string, epoch uint64) {
	onError := func(key poller.Key, err error) {
		s.selection.Fail(epoch, id, err)
		s.emit(key, model.EventTypeError, err)
	}
	onChange := func(key poller.Key, value any) {
		if s.applySelection(key.Kind, value.(selectionResult)) {
			s.emit(key, model.EventTypeChanged, nil)
		}
	}
	tagged := func(load func(ctx context.Context) (any, error)) poller.FetchFunc {
		return func(ctx context.Context) (any, error) {
			gen := s.selection.Generation()
			v, err := load(ctx)
			if err != nil {
				return nil, err
			}
			return selectionResult{epoch: epoch, gen: gen, id: id, value: v}, nil
		}
	}

	polls := []struct {
		kind  string
		sched Schedule
		fetch poller.FetchFunc
	}{
		{KindMessages, s.cfg.Messages, tagged(func(ctx context.Context) (any, error) {
			return s.api.GetMessages(ctx, id, s.cfg.MessageLimit)
		})},
		{KindConversation, s.cfg.Conversation, tagged(func(ctx context.Context) (any, error) {
			return s.api.GetConversation(ctx, id)
		})},
		{KindVariables, s.cfg.Variables, tagged(func(ctx context.Context) (any, error) {
			return s.api.ListVariables(ctx, id)
		})},
	}

	for _, p := range polls {
		err := s.scheduler.Schedule(poller.Key{Kind: p.kind, ID: id}, poller.Options{
			Interval: p.sched.Interval,
			Stale:    p.sched.Stale,
			OnChange: onChange,
			OnError:  onError,
		}, p.fetch)
		if err != nil {
			s.log.Warn("Failed to schedule selection poll",
				zap.String("kind", p.kind),
				zap.String("conversation_id", id),
				zap.Error(err),
			)
		}
	}
}

// applySelection merges a changed selection result into the store. It reports
// false when the selection has moved on since the fetch was issued.
func (s *InboxService) applySelection(kind string, res selectionResult) bool {
	switch kind {
	case KindMessages:
		return s.selection.ApplyMessages(res.epoch, res.id, res.value.([]model.Message))
	case KindConversation:
		return s.selection.ApplyConversation(res.epoch, res.gen, res.value.(*model.Conversation))
	case KindVariables:
		return s.selection.ApplyVariables(res.epoch, res.gen, res.id, res.value.([]model.Variable))
	}
	return false
}

// Refresh refetches every resource whose data is older than its stale window.
func (s *InboxService) Refresh() {
	s.scheduler.Refresh(conversationsKey)
	s.scheduler.Refresh(feedKey)
	if id, _, ok := s.selection.Current(); ok {
		for _, kind := range []string{KindMessages, KindConversation, KindVariables} {
			s.scheduler.Refresh(poller.Key{Kind: kind, ID: id})
		}
	}
}

// Subscribe registers for change events.
func (s *InboxService) Subscribe(buffer int) (<-chan model.ChangeEvent, func()) {
	return s.broker.Subscribe(buffer)
}

func (s *InboxService) emit(key poller.Key, typ model.EventType, err error) {
	e := model.ChangeEvent{
		Kind: key.Kind,
		Key:  key.String(),
		Type: typ,
		At:   time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.broker.Publish(e)
}

// startForwarder relays broker events to the external publisher on one
// goroutine so slow publishes never stall a poll.
func (s *InboxService) startForwarder() {
	ch, _ := s.broker.Subscribe(256)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.publisher.Publish(ctx, e); err != nil {
				s.log.Warn("Failed to forward change event",
					zap.String("key", e.Key),
					zap.Error(err),
				)
			}
			cancel()
		}
	}()
}
