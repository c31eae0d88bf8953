// Package aggregate builds the cross-conversation message feed.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
	"github.com/capitalize-ai/support-inbox/pkg/metrics"
)

const (
	// DefaultMessageLimit is how many recent messages are read per conversation.
	DefaultMessageLimit = 50
	// DefaultParallelism bounds concurrent message fetches in one run.
	DefaultParallelism = 8
)

// MessageFetcher reads the recent messages of one conversation.
type MessageFetcher interface {
	GetMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// Result is the outcome of one aggregation run.
type Result struct {
	// Seq is the issue order of the run. Larger is newer.
	Seq uint64 `json:"seq"`
	// Entries are every fetched message, newest first.
	Entries []model.FeedEntry `json:"entries"`
	// AgentIDs lists each agent id found on the conversations, in first-seen order.
	AgentIDs []string `json:"agentIds"`
	// Failed lists conversations whose messages could not be fetched.
	Failed      []string  `json:"failed,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Aggregator fans out message fetches over a conversation set and keeps the
// newest applied result. A run that was issued before the last applied run is
// discarded when it finishes, however late.
type Aggregator struct {
	fetcher     MessageFetcher
	limit       int
	parallelism int
	log         *logger.Logger

	issued atomic.Uint64

	mu      sync.RWMutex
	applied uint64
	latest  *Result
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMessageLimit sets the per-conversation message limit.
func WithMessageLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithParallelism sets how many conversations are fetched at once.
func WithParallelism(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// New creates an Aggregator.
func New(fetcher MessageFetcher, log *logger.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = logger.Global()
	}
	a := &Aggregator{
		fetcher:     fetcher,
		limit:       DefaultMessageLimit,
		parallelism: DefaultParallelism,
		log:         log.With(zap.String("component", "aggregate")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run aggregates the messages of convs. It returns the newest applied result
// and whether this run was the one applied. A failing conversation contributes
// no messages and never fails the run; only cancellation of ctx does.
func (a *Aggregator) Run(ctx context.Context, convs []model.Conversation) (*Result, bool, error) {
	seq := a.issued.Add(1)
	start := time.Now()

	perConv := make([][]model.FeedEntry, len(convs))
	failed := make([]bool, len(convs))

	g := new(errgroup.Group)
	g.SetLimit(a.parallelism)
	for i := range convs {
		g.Go(func() error {
			conv := &convs[i]
			msgs, err := a.fetcher.GetMessages(ctx, conv.ID, a.limit)
			if err != nil {
				failed[i] = true
				a.log.Warn("Failed to fetch messages for feed",
					zap.String("conversation_id", conv.ID),
					zap.Error(err),
				)
				return nil
			}

			info := model.InfoOf(conv)
			entries := make([]model.FeedEntry, len(msgs))
			for j := range msgs {
				entries[j] = model.FeedEntry{Message: msgs[j], ConversationInfo: info}
				if entries[j].ConversationID == "" {
					entries[j].ConversationID = conv.ID
				}
			}
			perConv[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return a.Latest(), false, err
	}

	res := &Result{
		Seq:         seq,
		Entries:     Flatten(perConv),
		AgentIDs:    UniqueAgentIDs(convs),
		CompletedAt: time.Now(),
	}
	for i, f := range failed {
		if f {
			res.Failed = append(res.Failed, convs[i].ID)
		}
	}

	a.mu.Lock()
	applied := seq > a.applied
	if applied {
		a.applied = seq
		a.latest = res
	}
	latest := a.latest
	a.mu.Unlock()

	metrics.RecordFeedRun(applied, len(res.Failed), time.Since(start).Seconds())
	if !applied {
		a.log.Debug("Discarding superseded feed run", zap.Uint64("seq", seq))
	}
	return latest, applied, nil
}

// Latest returns the newest applied result, or nil before the first run.
func (a *Aggregator) Latest() *Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Flatten concatenates per-conversation entries in conversation order and then
// sorts them newest first. The sort is stable, so entries with equal times keep
// their conversation order.
func Flatten(perConv [][]model.FeedEntry) []model.FeedEntry {
	n := 0
	for _, entries := range perConv {
		n += len(entries)
	}
	out := make([]model.FeedEntry, 0, n)
	for _, entries := range perConv {
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UniqueAgentIDs returns the distinct non-empty agent ids of convs.
func UniqueAgentIDs(convs []model.Conversation) []string {
	seen := make(map[string]struct{})
	var ids []string
	for i := range convs {
		id := convs[i].AgentID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
