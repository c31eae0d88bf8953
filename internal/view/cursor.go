package view

import (
	"sync"

	"github.com/capitalize-ai/support-inbox/internal/model"
)

// DefaultPageSize is how many conversations each page reveals.
const DefaultPageSize = 20

// Page is one evaluation of the list view.
type Page struct {
	Items    []model.Conversation `json:"items"`
	Total    int                  `json:"total"`
	Revealed int                  `json:"revealed"`
	HasMore  bool                 `json:"hasMore"`
	Criteria model.FilterCriteria `json:"criteria"`
	Search   string               `json:"search"`
}

// Cursor holds the criteria, the submitted search text and how many pages are
// revealed. Changing the criteria or the search starts over at one page.
type Cursor struct {
	mu       sync.Mutex
	pageSize int
	criteria model.FilterCriteria
	search   string
	loads    int
}

// NewCursor creates a cursor with default criteria.
func NewCursor(pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{
		pageSize: pageSize,
		criteria: model.DefaultCriteria(),
	}
}

// SetCriteria replaces the criteria and resets the reveal count.
func (c *Cursor) SetCriteria(f model.FilterCriteria) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = f.Normalized()
	c.loads = 0
}

// Submit replaces the search text and resets the reveal count.
func (c *Cursor) Submit(search string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search = search
	c.loads = 0
}

// Criteria returns the current criteria and search text.
func (c *Cursor) Criteria() (model.FilterCriteria, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria, c.search
}

// LoadMore reveals one more page when the filtered set of size total has
// items left. It reports whether the reveal count grew.
func (c *Cursor) LoadMore(total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pageSize*(c.loads+1) >= total {
		return false
	}
	c.loads++
	return true
}

// Reveal returns how many of total items are exposed.
func (c *Cursor) Reveal(total int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return revealed(c.pageSize, c.loads, total)
}

func revealed(pageSize, loads, total int) int {
	n := pageSize * (loads + 1)
	if n > total {
		return total
	}
	return n
}

// Page evaluates the view over convs.
func (c *Cursor) Page(convs []model.Conversation, tags TagLookup) Page {
	c.mu.Lock()
	criteria, search, loads := c.criteria, c.search, c.loads
	c.mu.Unlock()

	filtered := Apply(convs, criteria, search, tags)
	reveal := revealed(c.pageSize, loads, len(filtered))

	return Page{
		Items:    Window(filtered, reveal),
		Total:    len(filtered),
		Revealed: reveal,
		HasMore:  reveal < len(filtered),
		Criteria: criteria,
		Search:   search,
	}
}
