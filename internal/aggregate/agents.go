package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/pkg/logger"
)

// DefaultAgentTTL is how long a resolved agent profile stays cached.
const DefaultAgentTTL = 5 * time.Minute

// AgentFetcher reads one agent profile.
type AgentFetcher interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
}

// AgentResolver resolves agent ids to profiles through an in-process TTL cache.
// Batch lookups settle every id independently.
type AgentResolver struct {
	fetcher     AgentFetcher
	cache       *ristretto.Cache[string, model.Agent]
	ttl         time.Duration
	parallelism int
	log         *logger.Logger
}

// NewAgentResolver creates a resolver caching up to maxAgents profiles for ttl.
func NewAgentResolver(fetcher AgentFetcher, ttl time.Duration, maxAgents int64, log *logger.Logger) (*AgentResolver, error) {
	if ttl <= 0 {
		ttl = DefaultAgentTTL
	}
	if maxAgents <= 0 {
		maxAgents = 1000
	}
	if log == nil {
		log = logger.Global()
	}

	// Cost counts profiles, not bytes.
	cache, err := ristretto.NewCache(&ristretto.Config[string, model.Agent]{
		NumCounters:        maxAgents * 10,
		MaxCost:            maxAgents,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &AgentResolver{
		fetcher:     fetcher,
		cache:       cache,
		ttl:         ttl,
		parallelism: DefaultParallelism,
		log:         log.With(zap.String("component", "agents")),
	}, nil
}

// Get returns one agent, from cache when possible.
func (r *AgentResolver) Get(ctx context.Context, id string) (*model.Agent, error) {
	if agent, ok := r.cache.Get(id); ok {
		return &agent, nil
	}

	agent, err := r.fetcher.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetWithTTL(id, *agent, 1, r.ttl)
	r.cache.Wait()
	return agent, nil
}

// Resolve looks up every id concurrently. Each id either lands in agents or in
// errs; one failure never prevents the others from resolving.
func (r *AgentResolver) Resolve(ctx context.Context, ids []string) (agents map[string]model.Agent, errs map[string]error) {
	agents = make(map[string]model.Agent, len(ids))
	errs = make(map[string]error)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			agent, err := r.Get(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[id] = err
				r.log.Warn("Failed to resolve agent", zap.String("agent_id", id), zap.Error(err))
				return nil
			}
			agents[id] = *agent
			return nil
		})
	}
	_ = g.Wait()
	return agents, errs
}

// Forget drops a cached profile.
func (r *AgentResolver) Forget(id string) {
	r.cache.Del(id)
}

// Close releases the cache.
func (r *AgentResolver) Close() {
	r.cache.Close()
}
