// Package dashboard owns one user's lead dashboard: the active segment,
// its cached snapshot, the filter criteria and the derived view. Every
// event handler goes through Session, which serializes them.
package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-engine/internal/cache"
	"github.com/sells-group/lead-engine/internal/debounce"
	"github.com/sells-group/lead-engine/internal/filter"
	"github.com/sells-group/lead-engine/internal/live"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
	"github.com/sells-group/lead-engine/internal/permission"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/internal/store"
	"github.com/sells-group/lead-engine/internal/taxonomy"
	"github.com/sells-group/lead-engine/pkg/leadsapi"
)

var (
	// ErrRefreshFailed wraps every failed fetch. The last good snapshot
	// stays visible.
	ErrRefreshFailed = eris.New("dashboard: could not refresh leads")
	// ErrSuperseded is returned by a fetch whose result was discarded
	// because the segment changed or a newer fetch started.
	ErrSuperseded = eris.New("dashboard: fetch superseded")
	// ErrForbidden is returned when the permission oracle denies an action.
	ErrForbidden = eris.New("dashboard: action not permitted")
	// ErrNoSegment is returned by operations that need an active segment.
	ErrNoSegment = eris.New("dashboard: no active segment")
)

// DataSource is the lead service. leadsapi.Client satisfies it.
type DataSource interface {
	ListLeads(ctx context.Context, segment string, opts leadsapi.ListOptions) (*leadsapi.ListResponse, error)
	GetStatusTaxonomy(ctx context.Context) ([]model.StatusNode, error)
	ListLoanTypes(ctx context.Context) ([]string, error)
}

// Session is a single dashboard. It is safe for concurrent use; handlers
// run one at a time and only fetches run outside the lock.
type Session struct {
	src     DataSource
	cache   *cache.Cache
	norm    *normalize.Normalizer
	guard   *resilience.Guard
	oracle  permission.Oracle
	kv      store.KV
	search  *debounce.Debouncer
	applier *live.Applier
	nowFunc func() time.Time
	applyFn func([]model.Lead, model.FilterCriteria, time.Time) ([]model.Lead, error)

	mu            sync.Mutex
	segment       string
	criteria      model.FilterCriteria
	pendingSearch string
	view          []model.Lead
	total         int
	generation    uint64
	fetchSeq      uint64
	fetchCancel   context.CancelFunc
	refreshing    bool
	lastErr       error
	nav           *taxonomy.Navigator
	fallbackTax   *taxonomy.Taxonomy
	taxFallback   bool
	loanTypes     []string
}

// Option configures a Session.
type Option func(*Session)

// WithGuard sets the retry and circuit breaker policy for fetches.
func WithGuard(g *resilience.Guard) Option {
	return func(s *Session) {
		s.guard = g
	}
}

// WithOracle sets the permission oracle.
func WithOracle(o permission.Oracle) Option {
	return func(s *Session) {
		s.oracle = o
	}
}

// WithNormalizer overrides the record normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Session) {
		s.norm = n
	}
}

// WithStore enables the persisted pending-created list.
func WithStore(kv store.KV) Option {
	return func(s *Session) {
		s.kv = kv
	}
}

// WithSearchDebounce sets the search quiet window.
func WithSearchDebounce(d time.Duration) Option {
	return func(s *Session) {
		s.search = debounce.New(d)
	}
}

// WithFallbackTaxonomy replaces the embedded taxonomy used when the data
// source cannot provide one.
func WithFallbackTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(s *Session) {
		if t != nil {
			s.fallbackTax = t
			s.nav = taxonomy.NewNavigator(t)
		}
	}
}

// WithClock injects the time source used for filtering and edits.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.nowFunc = now
	}
}

// New creates a Session over src and c.
func New(src DataSource, c *cache.Cache, opts ...Option) *Session {
	s := &Session{
		src:     src,
		cache:   c,
		norm:    normalize.New(),
		guard:   resilience.NewGuard(resilience.DefaultRetryConfig(), resilience.DefaultCircuitBreakerConfig()),
		oracle:  permission.NewStatic(),
		search:  debounce.New(debounce.DefaultWindow),
		nowFunc: time.Now,
		applyFn: filter.Apply,
		nav:     taxonomy.NewNavigator(taxonomy.Default()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.applier = live.NewApplier(s.norm, s, s.kv)
	return s
}

// Bootstrap loads the status taxonomy and loan types concurrently. Neither
// failure is fatal: the taxonomy falls back to the embedded default and the
// loan types to the persisted list.
func (s *Session) Bootstrap(ctx context.Context) error {
	var (
		tax      *taxonomy.Taxonomy
		fallback bool
		types    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tax, fallback = taxonomy.Load(gctx, s.src)
		return nil
	})
	g.Go(func() error {
		var err error
		types, err = s.loadLoanTypes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if fallback && s.fallbackTax != nil {
		tax = s.fallbackTax
	}

	s.mu.Lock()
	s.nav.SetTaxonomy(tax)
	s.taxFallback = fallback
	s.loanTypes = types
	s.mu.Unlock()

	zap.L().Info("dashboard: bootstrapped",
		zap.Int("loan_types", len(types)),
		zap.Bool("taxonomy_fallback", fallback),
	)
	return nil
}

func (s *Session) loadLoanTypes(ctx context.Context) ([]string, error) {
	types, err := s.src.ListLoanTypes(ctx)
	if err == nil && len(types) > 0 {
		if err := s.cache.SaveLoanTypes(ctx, types); err != nil {
			zap.L().Warn("dashboard: persist loan types failed", zap.Error(err))
		}
		return types, nil
	}
	if err != nil {
		zap.L().Warn("dashboard: list loan types failed, using persisted list", zap.Error(err))
	}
	stored, serr := s.cache.LoanTypes(ctx)
	if serr != nil {
		zap.L().Warn("dashboard: load persisted loan types failed", zap.Error(serr))
		return nil, nil
	}
	return stored, nil
}

// LoanTypes returns the segments known at bootstrap.
func (s *Session) LoanTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loanTypes...)
}

// Segment returns the active segment.
func (s *Session) Segment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segment
}

// ActiveSegment implements live.Sink.
func (s *Session) ActiveSegment() string { return s.Segment() }

// Capabilities resolves the permission oracle.
func (s *Session) Capabilities() permission.Capabilities {
	return permission.Resolve(s.oracle)
}

// OnRecordCreated applies a pushed creation payload.
func (s *Session) OnRecordCreated(ctx context.Context, raw json.RawMessage) (bool, error) {
	return s.applier.OnRecordCreated(ctx, raw)
}

// Live returns the applier feeding pushed records into this session.
func (s *Session) Live() *live.Applier { return s.applier }

// Close cancels any in-flight fetch and pending search.
func (s *Session) Close() {
	s.search.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
}
