package model

// All is the pass-through value for any filter dimension.
const All = "ALL"

// SortOrder orders conversations by creation time.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// FilterCriteria selects and orders conversations in the list view.
type FilterCriteria struct {
	SortBy   SortOrder `json:"sortBy"`
	Channel  string    `json:"channel"`
	Priority string    `json:"priority"`
	Status   string    `json:"status"`
	Tag      string    `json:"tag"`
}

// DefaultCriteria returns the criteria the list view starts with.
func DefaultCriteria() FilterCriteria {
	return FilterCriteria{
		SortBy:   SortNewest,
		Channel:  All,
		Priority: All,
		Status:   All,
		Tag:      All,
	}
}

// Normalized fills empty dimensions with their defaults.
func (f FilterCriteria) Normalized() FilterCriteria {
	if f.SortBy != SortOldest {
		f.SortBy = SortNewest
	}
	if f.Channel == "" {
		f.Channel = All
	}
	if f.Priority == "" {
		f.Priority = All
	}
	if f.Status == "" {
		f.Status = All
	}
	if f.Tag == "" {
		f.Tag = All
	}
	return f
}

// Advanced reports whether anything beyond the default sort and status is set.
func (f FilterCriteria) Advanced() bool {
	f = f.Normalized()
	return f.SortBy != SortNewest || f.Channel != All || f.Priority != All || f.Tag != All
}
