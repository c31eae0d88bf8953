package view

import (
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// DayBucket groups messages of one calendar day.
type DayBucket struct {
	Day      string          `json:"day"`
	Messages []model.Message `json:"messages"`
}

// BucketByDay groups messages by calendar day in loc, preserving their order.
// Buckets appear in order of their first message.
func BucketByDay(msgs []model.Message, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}

	var buckets []DayBucket
	index := make(map[string]int)
	for _, m := range msgs {
		day := m.CreatedAt.In(loc).Format(time.DateOnly)
		i, ok := index[day]
		if !ok {
			i = len(buckets)
			index[day] = i
			buckets = append(buckets, DayBucket{Day: day})
		}
		buckets[i].Messages = append(buckets[i].Messages, m)
	}
	return buckets
}

// ConversationStats summarizes one thread.
type ConversationStats struct {
	Total           int           `json:"total"`
	Human           int           `json:"human"`
	Agent           int           `json:"agent"`
	System          int           `json:"system"`
	Unread          int           `json:"unread"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	Duration        time.Duration `json:"duration"`
}

// ThreadStats computes stats over a thread sorted ascending by time. A
// response time is measured each time a responder message directly follows a
// customer message.
func ThreadStats(msgs []model.Message) ConversationStats {
	var st ConversationStats
	st.Total = len(msgs)

	var responses []time.Duration
	for i, m := range msgs {
		switch {
		case m.From == model.SenderHuman:
			st.Human++
		case m.From.IsResponder():
			st.Agent++
		case m.From == model.SenderSystem:
			st.System++
		}
		if !m.Read {
			st.Unread++
		}
		if i > 0 && msgs[i-1].From == model.SenderHuman && m.From.IsResponder() {
			responses = append(responses, m.CreatedAt.Sub(msgs[i-1].CreatedAt))
		}
	}

	if len(responses) > 0 {
		var sum time.Duration
		for _, d := range responses {
			sum += d
		}
		st.AvgResponseTime = sum / time.Duration(len(responses))
	}
	if len(msgs) > 0 {
		st.Duration = msgs[len(msgs)-1].CreatedAt.Sub(msgs[0].CreatedAt)
	}
	return st
}

// AgentStats summarizes the conversations handled by one agent.
type AgentStats struct {
	Agent         model.Agent `json:"agent"`
	Conversations int         `json:"totalConversations"`
	Active        int         `json:"activeConversations"`
	Unread        int         `json:"unreadMessages"`
}

// BuildAgentStats counts conversations per resolved agent, busiest first.
func BuildAgentStats(convs []model.Conversation, agents map[string]model.Agent) []AgentStats {
	byID := make(map[string]*AgentStats, len(agents))
	for id, a := range agents {
		byID[id] = &AgentStats{Agent: a}
	}
	for i := range convs {
		c := &convs[i]
		st, ok := byID[c.AgentID]
		if !ok {
			continue
		}
		st.Conversations++
		if c.Status == model.StatusUnresolved {
			st.Active++
		}
		st.Unread += c.UnreadMessagesCount
	}

	out := make([]AgentStats, 0, len(byID))
	for _, st := range byID {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Conversations != out[j].Conversations {
			return out[i].Conversations > out[j].Conversations
		}
		return out[i].Agent.ID < out[j].Agent.ID
	})
	return out
}

// FeedStats summarizes the cross-conversation feed.
type FeedStats struct {
	Total   int `json:"total"`
	Clients int `json:"clients"`
	Agents  int `json:"agents"`
	Today   int `json:"today"`
}

// BuildFeedStats counts feed entries by sender and those created on now's day.
func BuildFeedStats(entries []model.FeedEntry, now time.Time) FeedStats {
	st := FeedStats{Total: len(entries)}
	today := now.Format(time.DateOnly)
	for i := range entries {
		e := &entries[i]
		switch {
		case e.From == model.SenderHuman:
			st.Clients++
		case e.From.IsResponder():
			st.Agents++
		}
		if e.CreatedAt.In(now.Location()).Format(time.DateOnly) == today {
			st.Today++
		}
	}
	return st
}

// FeedFilter narrows the feed. Empty fields match everything.
type FeedFilter struct {
	ConversationID string       `json:"conversationId"`
	AgentID        string       `json:"agentId"`
	Channel        string       `json:"channel"`
	From           model.Sender `json:"from"`
	Since          time.Time    `json:"since"`
	Search         string       `json:"search"`
}

// SinceFor turns a named range into a start time. Unknown names mean no bound.
func SinceFor(rng string, now time.Time) time.Time {
	switch strings.ToLower(rng) {
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case "week":
		return now.AddDate(0, 0, -7)
	case "month":
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// FilterFeed returns the entries matching f, keeping their order.
func FilterFeed(entries []model.FeedEntry, f FeedFilter) []model.FeedEntry {
	needle := Normalize(strings.TrimSpace(f.Search))

	out := make([]model.FeedEntry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		switch {
		case f.ConversationID != "" && e.ConversationInfo.ID != f.ConversationID:
			continue
		case f.AgentID != "" && e.ConversationInfo.AgentID != f.AgentID:
			continue
		case f.Channel != "" && e.ConversationInfo.Channel != f.Channel:
			continue
		case f.From != "" && e.From != f.From:
			continue
		case !f.Since.IsZero() && e.CreatedAt.Before(f.Since):
			continue
		}
		if needle != "" &&
			!strings.Contains(Normalize(e.Text), needle) &&
			!strings.Contains(Normalize(e.ConversationInfo.DisplayIdentity), needle) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// FeedChannels lists the distinct channels present in the feed, sorted.
func FeedChannels(entries []model.FeedEntry) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for i := range entries {
		ch := entries[i].ConversationInfo.Channel
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; !ok {
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}
