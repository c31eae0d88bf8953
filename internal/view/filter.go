// Package view derives the filtered, sorted and paginated conversation list and
// the read-only reports built on top of conversations and messages.
//
// Everything here is a pure function of its inputs.
package view

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// TagLookup answers tag membership for the tag filter.
type TagLookup interface {
	Has(conversationID, tag string) bool
}

// Normalize folds s for search: lower case, canonical decomposition, and
// combining marks removed, so "João" and "joao" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Apply filters and sorts convs. The input slice is not modified.
func Apply(convs []model.Conversation, criteria model.FilterCriteria, search string, tags TagLookup) []model.Conversation {
	criteria = criteria.Normalized()
	needle := Normalize(strings.TrimSpace(search))

	out := make([]model.Conversation, 0, len(convs))
	for i := range convs {
		if matches(&convs[i], criteria, needle, tags) {
			out = append(out, convs[i])
		}
	}

	newest := criteria.SortBy == model.SortNewest
	sort.SliceStable(out, func(i, j int) bool {
		if newest {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func matches(c *model.Conversation, f model.FilterCriteria, needle string, tags TagLookup) bool {
	if f.Status != model.All && string(c.Status) != f.Status {
		return false
	}
	if f.Channel != model.All && c.Channel != f.Channel {
		return false
	}
	if f.Priority != model.All && string(c.Priority) != f.Priority {
		return false
	}
	if f.Tag != model.All && (tags == nil || !tags.Has(c.ID, f.Tag)) {
		return false
	}
	if needle == "" {
		return true
	}
	return strings.Contains(Normalize(c.DisplayIdentity()), needle) ||
		strings.Contains(Normalize(c.CurrentContext()), needle)
}

// Window returns the first reveal items of filtered.
func Window(filtered []model.Conversation, reveal int) []model.Conversation {
	if reveal < 0 {
		reveal = 0
	}
	if reveal > len(filtered) {
		reveal = len(filtered)
	}
	return filtered[:reveal]
}
