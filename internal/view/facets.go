package view

import (
	"sort"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// Facets summarizes the conversation set for the filter bar.
type Facets struct {
	StatusCounts   map[model.Status]int `json:"statusCounts"`
	HumanRequested int                  `json:"humanRequested"`
	Unresolved     int                  `json:"unresolved"`
	Channels       []string             `json:"channels"`
	Tags           []string             `json:"tags"`
	AdvancedActive bool                 `json:"advancedFilterActive"`
}

// BuildFacets counts statuses and collects channel options over convs.
// tags is the list of known tags, passed through for the tag selector.
func BuildFacets(convs []model.Conversation, criteria model.FilterCriteria, tags []string) Facets {
	f := Facets{
		StatusCounts:   make(map[model.Status]int),
		Tags:           tags,
		AdvancedActive: criteria.Advanced(),
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}

	seen := make(map[string]struct{})
	for i := range convs {
		c := &convs[i]
		f.StatusCounts[c.Status]++
		if c.Channel == "" {
			continue
		}
		if _, ok := seen[c.Channel]; !ok {
			seen[c.Channel] = struct{}{}
			f.Channels = append(f.Channels, c.Channel)
		}
	}
	sort.Strings(f.Channels)
	if f.Channels == nil {
		f.Channels = []string{}
	}

	f.HumanRequested = f.StatusCounts[model.StatusHumanRequested]
	f.Unresolved = f.StatusCounts[model.StatusUnresolved]
	return f
}
