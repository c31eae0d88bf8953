package service

import (
	"time"

	"github.com/capitalize-ai/support-inbox/internal/aggregate"
	"github.com/capitalize-ai/support-inbox/internal/model"
	"github.com/capitalize-ai/support-inbox/internal/poller"
	"github.com/capitalize-ai/support-inbox/internal/store"
	"github.com/capitalize-ai/support-inbox/internal/view"
)

// PollStatus is the freshness of one polled resource.
type PollStatus struct {
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	Fetching  bool      `json:"fetching"`
	Error     string    `json:"error,omitempty"`
}

// ListPage is a page of the conversation list plus the list's poll status.
type ListPage struct {
	view.Page
	Status PollStatus `json:"status"`
}

// Thread is the selected conversation with its thread helpers.
type Thread struct {
	store.Selection
	Error string                 `json:"error,omitempty"`
	Tags  []string               `json:"tags"`
	Days  []view.DayBucket       `json:"days"`
	Stats view.ConversationStats `json:"stats"`
}

// Feed is the filtered cross-conversation feed.
type Feed struct {
	Entries   []model.FeedEntry `json:"entries"`
	Stats     view.FeedStats    `json:"stats"`
	Channels  []string          `json:"channels"`
	Failed    []string          `json:"failed,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
	Status    PollStatus        `json:"status"`
}

// Page evaluates the conversation list under the current criteria.
func (s *InboxService) Page() ListPage {
	return ListPage{
		Page:   s.cursor.Page(s.collection.Snapshot(), s.tags),
		Status: s.pollStatus(conversationsKey),
	}
}

// SetCriteria replaces the filter criteria and starts over at the first page.
func (s *InboxService) SetCriteria(f model.FilterCriteria) ListPage {
	s.cursor.SetCriteria(f)
	return s.Page()
}

// Submit replaces the search text and starts over at the first page.
func (s *InboxService) Submit(search string) ListPage {
	s.cursor.Submit(search)
	return s.Page()
}

// LoadMore reveals another page when more conversations match.
func (s *InboxService) LoadMore() (ListPage, bool) {
	criteria, search := s.cursor.Criteria()
	total := len(view.Apply(s.collection.Snapshot(), criteria, search, s.tags))
	grew := s.cursor.LoadMore(total)
	return s.Page(), grew
}

// Facets summarizes the whole conversation set for the filter bar.
func (s *InboxService) Facets() view.Facets {
	criteria, _ := s.cursor.Criteria()
	return view.BuildFacets(s.collection.Snapshot(), criteria, s.tags.AllUniqueTags())
}

// Tags returns the tags of one conversation.
func (s *InboxService) Tags(conversationID string) []string {
	return s.tags.Tags(conversationID)
}

// Conversations returns the last polled conversation list.
func (s *InboxService) Conversations() []model.Conversation {
	return s.collection.Snapshot()
}

// Selected returns the selection with day buckets and thread stats.
func (s *InboxService) Selected(loc *time.Location) Thread {
	sel := s.selection.Snapshot()
	t := Thread{
		Selection: sel,
		Tags:      []string{},
		Days:      view.BucketByDay(sel.Messages, loc),
		Stats:     view.ThreadStats(sel.Messages),
	}
	if sel.Err != nil {
		t.Error = sel.Err.Error()
	}
	if sel.Conversation != nil {
		t.Tags = s.tags.Tags(sel.Conversation.ID)
	}
	return t
}

// Feed returns the latest feed narrowed by f.
func (s *InboxService) Feed(f view.FeedFilter) Feed {
	out := Feed{
		Entries:  []model.FeedEntry{},
		Channels: []string{},
		Status:   s.pollStatus(feedKey),
	}

	res := s.aggregator.Latest()
	if res == nil {
		return out
	}
	out.Entries = view.FilterFeed(res.Entries, f)
	out.Stats = view.BuildFeedStats(out.Entries, time.Now())
	out.Channels = view.FeedChannels(res.Entries)
	out.Failed = res.Failed
	out.UpdatedAt = res.CompletedAt
	return out
}

// AgentStats counts conversations per resolved agent.
func (s *InboxService) AgentStats() []view.AgentStats {
	s.mu.RLock()
	agents := make(map[string]model.Agent, len(s.agentIndex))
	for id, a := range s.agentIndex {
		agents[id] = a
	}
	s.mu.RUnlock()

	return view.BuildAgentStats(s.collection.Snapshot(), agents)
}

// LatestFeed returns the raw newest feed result, or nil before the first run.
func (s *InboxService) LatestFeed() *aggregate.Result {
	return s.aggregator.Latest()
}

// ActivePolls reports how many poll tasks are running.
func (s *InboxService) ActivePolls() int {
	return s.scheduler.Active()
}

func (s *InboxService) pollStatus(key poller.Key) PollStatus {
	snap, ok := s.scheduler.Snapshot(key)
	if !ok {
		return PollStatus{}
	}
	st := PollStatus{UpdatedAt: snap.UpdatedAt, Fetching: snap.Fetching}
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	return st
}

// ListLoaded reports whether the conversation list has been fetched at least once.
func (s *InboxService) ListLoaded() bool {
	return !s.pollStatus(conversationsKey).UpdatedAt.IsZero()
}
