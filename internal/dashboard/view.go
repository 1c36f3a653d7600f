package dashboard

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/category"
	"github.com/sells-group/lead-engine/internal/dedupe"
	"github.com/sells-group/lead-engine/internal/filter"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/permission"
)

// ViewState is what the dashboard renders.
type ViewState struct {
	Segment       string                  `json:"segment"`
	Leads         []model.Lead            `json:"leads"`
	Shown         int                     `json:"shown"`
	Total         int                     `json:"total"`
	Counts        map[model.Category]int  `json:"counts"`
	Criteria      model.FilterCriteria    `json:"criteria"`
	PendingSearch string                  `json:"pending_search,omitempty"`
	Capabilities  permission.Capabilities `json:"capabilities"`
	FetchedAt     *time.Time              `json:"fetched_at,omitempty"`
	Stale         bool                    `json:"stale"`
	Refreshing    bool                    `json:"refreshing"`
	LastError     string                  `json:"last_error,omitempty"`
}

// View returns a copy of the current view. Counters cover the whole cached
// segment, not just the filtered rows.
func (s *Session) View() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := ViewState{
		Segment:       s.segment,
		Leads:         append([]model.Lead{}, s.view...),
		Shown:         len(s.view),
		Total:         s.total,
		Criteria:      s.criteria,
		PendingSearch: s.pendingSearch,
		Capabilities:  permission.Resolve(s.oracle),
		Refreshing:    s.refreshing,
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	entry := s.cache.Peek(s.segment)
	if entry == nil {
		v.Counts = category.Counts(nil)
		return v
	}
	v.Counts = category.Counts(entry.Leads)
	at := entry.FetchedAt
	v.FetchedAt = &at
	v.Stale = s.cache.Get(s.segment) == nil
	return v
}

// Criteria returns the committed criteria.
func (s *Session) Criteria() model.FilterCriteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteria
}

// SetCriteria replaces every filter dimension and re-filters immediately.
// A pending debounced search is dropped in favour of c.Search.
func (s *Session) SetCriteria(c model.FilterCriteria) error {
	if err := c.Validate(); err != nil {
		return eris.Wrap(filter.ErrInvalidCriteria, err.Error())
	}
	s.search.Cancel()
	s.mu.Lock()
	s.criteria = c
	s.pendingSearch = c.Search
	s.mu.Unlock()
	s.refilter()
	return nil
}

// SetSearch records a keystroke. The pipeline runs once input has been
// quiet for the debounce window.
func (s *Session) SetSearch(term string) {
	s.mu.Lock()
	s.pendingSearch = term
	s.mu.Unlock()
	s.search.Trigger(s.commitSearch)
}

// FlushSearch applies a pending search term now.
func (s *Session) FlushSearch() bool {
	return s.search.Flush()
}

func (s *Session) commitSearch() {
	s.mu.Lock()
	s.criteria.Search = s.pendingSearch
	s.mu.Unlock()
	s.refilter()
}

// refilter runs the pipeline outside the lock and commits only if neither
// the criteria nor the underlying data changed meanwhile. A run that lost
// to newer criteria is dropped; the newer run commits its own result.
func (s *Session) refilter() {
	s.mu.Lock()
	key := s.criteria.Key()
	gen := s.generation
	c := s.criteria
	var leads []model.Lead
	if entry := s.cache.Peek(s.segment); entry != nil {
		leads = entry.Leads
	}
	now := s.nowFunc()
	s.mu.Unlock()

	out, err := s.applyFn(leads, c, now)
	if err != nil {
		zap.L().Error("dashboard: filter failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.criteria.Key() != key:
		zap.L().Debug("dashboard: dropping stale filter result")
	case s.generation != gen:
		s.refilterLocked()
	default:
		s.view = out
	}
}

// refilterLocked runs the pipeline synchronously under s.mu.
func (s *Session) refilterLocked() {
	entry := s.cache.Peek(s.segment)
	if entry == nil {
		s.view = nil
		return
	}
	out, err := s.applyFn(entry.Leads, s.criteria, s.nowFunc())
	if err != nil {
		zap.L().Error("dashboard: filter failed", zap.Error(err))
		return
	}
	s.view = out
}

// Facets lists the filter choices present in the active segment.
func (s *Session) Facets() filter.Facets {
	return filter.CollectFacets(s.segmentLeads())
}

// Duplicates groups the active segment's leads by shared contact number.
func (s *Session) Duplicates() []dedupe.Group {
	return dedupe.Groups(s.segmentLeads())
}

func (s *Session) segmentLeads() []model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.cache.Peek(s.segment); entry != nil {
		return entry.Leads
	}
	return nil
}
