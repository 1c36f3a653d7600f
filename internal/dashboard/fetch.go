package dashboard

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/permission"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/pkg/leadsapi"
)

// SwitchSegment makes segment active. Any fetch still running for the
// previous segment is cancelled and its result dropped, and an expired
// snapshot of the previous segment is dropped from memory. A cached snapshot
// of the new segment is served at once, even a stale one; when no fresh
// snapshot exists a fetch runs before returning.
func (s *Session) SwitchSegment(ctx context.Context, segment string) error {
	if segment == "" {
		return ErrNoSegment
	}

	s.mu.Lock()
	if segment != s.segment {
		s.cancelFetchLocked()
		prev := s.segment
		if prev != "" && s.cache.Get(prev) == nil {
			s.cache.Invalidate(prev)
		}
		s.segment = segment
		s.view = nil
		s.total = 0
		s.lastErr = nil
		s.generation++
		zap.L().Debug("dashboard: switch segment", zap.String("from", prev), zap.String("to", segment))
	}

	fresh := s.cache.Get(segment) != nil
	if !fresh && s.cache.Peek(segment) == nil {
		restored, err := s.cache.Restore(ctx, segment)
		if err != nil {
			zap.L().Warn("dashboard: restore snapshot failed", zap.String("segment", segment), zap.Error(err))
		}
		fresh = restored
	}
	if entry := s.cache.Peek(segment); entry != nil {
		s.total = len(entry.Leads)
		s.refilterLocked()
	}
	s.mu.Unlock()

	if fresh {
		s.drainPending(ctx)
		return nil
	}
	return s.Refresh(ctx, false)
}

// Refresh fetches the active segment. Without force a fresh snapshot is
// kept and nothing is fetched. On failure the previous snapshot stays and
// the error wraps ErrRefreshFailed.
func (s *Session) Refresh(ctx context.Context, force bool) error {
	s.mu.Lock()
	segment := s.segment
	if segment == "" {
		s.mu.Unlock()
		return ErrNoSegment
	}
	if !force && s.cache.Get(segment) != nil {
		s.mu.Unlock()
		return nil
	}
	s.cancelFetchLocked()
	fctx, cancel := context.WithCancel(ctx)
	s.fetchSeq++
	seq := s.fetchSeq
	s.fetchCancel = cancel
	s.refreshing = true
	opts := leadsapi.ListOptions{Scope: permission.Resolve(s.oracle).Scope.RequestScope()}
	s.mu.Unlock()
	defer cancel()

	resp, err := resilience.Call(fctx, s.guard, func(ctx context.Context) (*leadsapi.ListResponse, error) {
		return s.src.ListLeads(ctx, segment, opts)
	})

	s.mu.Lock()
	current := seq == s.fetchSeq && segment == s.segment
	if seq == s.fetchSeq {
		s.refreshing = false
		s.fetchCancel = nil
	}
	if !current {
		s.mu.Unlock()
		return eris.Wrapf(ErrSuperseded, "segment %s", segment)
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		zap.L().Warn("dashboard: refresh failed", zap.String("segment", segment), zap.Error(err))
		return eris.Wrapf(ErrRefreshFailed, "segment %s: %v", segment, err)
	}

	leads := s.norm.NormalizeBatch(resp.Items, segment)
	s.cache.Put(ctx, segment, leads)
	s.total = max(resp.Total, len(leads))
	s.lastErr = nil
	s.generation++
	s.refilterLocked()
	s.mu.Unlock()

	zap.L().Info("dashboard: refreshed segment",
		zap.String("segment", segment),
		zap.Int("records", len(resp.Items)),
		zap.Int("leads", len(leads)),
	)
	s.drainPending(ctx)
	return nil
}

// Refreshing reports whether a fetch is in flight.
func (s *Session) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

func (s *Session) cancelFetchLocked() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.fetchSeq++
	s.refreshing = false
}

// drainPending applies creations persisted while the dashboard was away.
// It must run without s.mu held.
func (s *Session) drainPending(ctx context.Context) {
	if s.kv == nil {
		return
	}
	if _, err := s.applier.DrainPending(ctx); err != nil {
		zap.L().Warn("dashboard: drain pending records failed", zap.Error(err))
	}
}
