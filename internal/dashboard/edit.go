package dashboard

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/permission"
	"github.com/sells-group/lead-engine/internal/taxonomy"
)

// StatusPicker is the navigator position and its selectable options.
type StatusPicker struct {
	State    string            `json:"state"`
	Main     string            `json:"main,omitempty"`
	Search   string            `json:"search,omitempty"`
	Options  []taxonomy.Option `json:"options"`
	Fallback bool              `json:"fallback"`
}

// StatusPicker returns the picker after applying search (empty restores
// hierarchical browsing).
func (s *Session) StatusPicker(search string) StatusPicker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nav.SetSearch(search)
	return s.pickerLocked()
}

// StatusBack returns the picker to the main status list.
func (s *Session) StatusBack() StatusPicker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nav.Back()
	return s.pickerLocked()
}

// SelectStatus feeds a picker selection to the navigator. When the
// selection resolves to a status it is applied to ids and the picker is
// closed.
func (s *Session) SelectStatus(ctx context.Context, ids []string, opt taxonomy.Option) (taxonomy.Result, int, error) {
	s.mu.Lock()
	res, err := s.nav.Select(opt)
	if err != nil || !res.Applied {
		s.mu.Unlock()
		return res, 0, err
	}
	s.nav.Close()
	s.mu.Unlock()

	n, err := s.ApplyStatus(ctx, ids, res.Main, res.Sub)
	return res, n, err
}

func (s *Session) pickerLocked() StatusPicker {
	st := s.nav.State()
	return StatusPicker{
		State:    st.String(),
		Main:     st.Main(),
		Search:   s.nav.Search(),
		Options:  s.nav.Options(),
		Fallback: s.taxFallback,
	}
}

// ApplyStatus sets main/sub on every listed lead of the active segment and
// returns how many were updated. The pair must exist in the taxonomy.
func (s *Session) ApplyStatus(ctx context.Context, ids []string, main, sub string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tax := s.nav.Taxonomy()
	if !tax.HasMain(main) {
		return 0, eris.Wrapf(taxonomy.ErrInvalidSelection, "main %q", main)
	}
	if sub != "" {
		if owner, ok := tax.MainOf(sub); !ok || owner != main {
			return 0, eris.Wrapf(taxonomy.ErrInvalidSelection, "sub %q under %q", sub, main)
		}
	}
	entry := s.cache.Peek(s.segment)
	if entry == nil {
		return 0, ErrNoSegment
	}

	byID := make(map[string]model.Lead, len(entry.Leads))
	for _, l := range entry.Leads {
		byID[l.ID] = l
	}
	now := s.nowFunc()
	updated := 0
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			continue
		}
		next := taxonomy.ApplyWith(s.norm.CategoryTable(), l, main, sub, now)
		if s.cache.Update(ctx, s.segment, next) {
			byID[id] = next
			updated++
		}
	}
	if updated > 0 {
		s.generation++
		s.refilterLocked()
	}
	zap.L().Info("dashboard: status applied",
		zap.String("segment", s.segment),
		zap.String("main", main),
		zap.String("sub", sub),
		zap.Int("requested", len(ids)),
		zap.Int("updated", updated),
	)
	return updated, nil
}

// Delete removes leads from the cache and the view. It needs the delete
// capability, and bulk delete for more than one id.
func (s *Session) Delete(ctx context.Context, ids []string) (int, error) {
	caps := permission.Resolve(s.oracle)
	if !caps.CanDelete || (len(ids) > 1 && !caps.BulkDelete) {
		return 0, ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == "" {
		return 0, ErrNoSegment
	}

	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.cache.Remove(ctx, s.segment, id) {
			gone[id] = struct{}{}
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	kept := s.view[:0:0]
	for _, l := range s.view {
		if _, ok := gone[l.ID]; !ok {
			kept = append(kept, l)
		}
	}
	s.view = kept
	s.total = max(s.total-len(gone), 0)
	s.generation++
	return len(gone), nil
}

// AddCreated implements live.Sink. A lead of the active segment whose id
// is not cached yet is prepended to the cache and the view and counted.
// Leads of other segments only reach that segment's cache, if loaded.
func (s *Session) AddCreated(ctx context.Context, lead model.Lead) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.Segment != s.segment {
		return s.cache.AppendOne(ctx, lead.Segment, lead)
	}
	if !s.cache.AppendOne(ctx, s.segment, lead) {
		return false
	}
	s.view = append([]model.Lead{lead}, s.view...)
	s.total++
	s.generation++
	return true
}
