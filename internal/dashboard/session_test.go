package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/cache"
	"github.com/sells-group/lead-engine/internal/category"
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

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListLeads(ctx context.Context, segment string, opts leadsapi.ListOptions) (*leadsapi.ListResponse, error) {
	args := m.Called(ctx, segment, opts)
	if r := args.Get(0); r != nil {
		return r.(*leadsapi.ListResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSource) GetStatusTaxonomy(ctx context.Context) ([]model.StatusNode, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]model.StatusNode), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSource) ListLoanTypes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func records(raws ...string) *leadsapi.ListResponse {
	out := &leadsapi.ListResponse{Total: len(raws)}
	for _, r := range raws {
		out.Items = append(out.Items, json.RawMessage(r))
	}
	return out
}

func personalLoanRecords() *leadsapi.ListResponse {
	return records(
		`{"_id":"A","name":"Asha Rao","mobile":"+91 98765 43210","status":"Active Leads","sub_status":"Call Back","created_at":"2026-03-10T09:00:00Z","totalIncome":40000}`,
		`{"_id":"B","name":"Bharat Shah","mobile":"09876543210","status":"Lost Lead","sub_status":"Low Income","created_at":"2026-03-12T09:00:00Z","salary":"25,000"}`,
		`{"_id":"C","name":"Chitra Iyer","mobile":"9123456780","status":"Not A Lead","created_at":"2026-03-14T09:00:00Z"}`,
	)
}

type fixture struct {
	src     *mockSource
	cache   *cache.Cache
	kv      store.KV
	session *Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	kv, err := store.NewSQLite(filepath.Join(t.TempDir(), "dash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() }) //nolint:errcheck
	require.NoError(t, kv.Migrate(context.Background()))

	clock := func() time.Time { return testNow }
	c := cache.New(kv, cache.WithClock(clock))
	src := &mockSource{}
	base := []Option{
		WithClock(clock),
		WithStore(kv),
		WithOracle(permission.NewStatic(permission.ActionDelete, permission.ActionViewAll)),
		WithGuard(resilience.NewGuard(
			resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
			resilience.CircuitBreakerConfig{FailureThreshold: 10},
		)),
		WithSearchDebounce(10 * time.Millisecond),
	}
	s := New(src, c, append(base, opts...)...)
	t.Cleanup(s.Close)
	return &fixture{src: src, cache: c, kv: kv, session: s}
}

func viewIDs(v ViewState) []string {
	out := make([]string, 0, len(v.Leads))
	for _, l := range v.Leads {
		out = append(out, l.ID)
	}
	return out
}

func TestSwitchSegment_FetchesAndFilters(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, "personal-loan", leadsapi.ListOptions{Scope: "all"}).
		Return(personalLoanRecords(), nil).Once()

	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	v := f.session.View()
	assert.Equal(t, "personal-loan", v.Segment)
	assert.Equal(t, []string{"C", "B", "A"}, viewIDs(v))
	assert.Equal(t, 3, v.Total)
	assert.False(t, v.Stale)
	assert.Equal(t, 1, v.Counts[model.CategoryActiveLeads])
	assert.Equal(t, 1, v.Counts[model.CategoryLostLead])
	assert.Equal(t, 1, v.Counts[model.CategoryNotALead])
	assert.Zero(t, v.Counts[model.CategoryFileCompleted])
	assert.True(t, v.Capabilities.CanDelete)

	// Second switch to the same fresh segment does not refetch.
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))
	f.src.AssertExpectations(t)
}

func TestSwitchSegment_ServesCacheWithoutFetch(t *testing.T) {
	f := newFixture(t)
	f.cache.Put(context.Background(), "home-loan", []model.Lead{{ID: "H1", Segment: "home-loan"}})

	require.NoError(t, f.session.SwitchSegment(context.Background(), "home-loan"))
	assert.Equal(t, []string{"H1"}, viewIDs(f.session.View()))
	f.src.AssertNotCalled(t, "ListLeads", mock.Anything, mock.Anything, mock.Anything)
}

func TestSwitchSegment_RestoresPersistedSnapshot(t *testing.T) {
	f := newFixture(t)
	other := cache.New(f.kv, cache.WithClock(func() time.Time { return testNow.Add(-time.Minute) }))
	other.Put(context.Background(), "gold-loan", []model.Lead{{ID: "G1", Segment: "gold-loan"}})

	require.NoError(t, f.session.SwitchSegment(context.Background(), "gold-loan"))
	assert.Equal(t, []string{"G1"}, viewIDs(f.session.View()))
	f.src.AssertNotCalled(t, "ListLeads", mock.Anything, mock.Anything, mock.Anything)
}

func TestSwitchSegment_InvalidatesExpiredPreviousSegment(t *testing.T) {
	f := newFixture(t)
	clock := testNow
	c := cache.New(f.kv, cache.WithClock(func() time.Time { return clock }))
	s := New(f.src, c, WithClock(func() time.Time { return clock }))
	t.Cleanup(s.Close)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	ctx := context.Background()

	require.NoError(t, s.SwitchSegment(ctx, "personal-loan"))
	require.NoError(t, s.SwitchSegment(ctx, "home-loan"))
	assert.NotNil(t, c.Peek("personal-loan"), "fresh snapshot kept when leaving")

	clock = clock.Add(11 * time.Minute)
	require.NoError(t, s.SwitchSegment(ctx, "gold-loan"))
	assert.Nil(t, c.Peek("home-loan"))
	assert.NotNil(t, c.Peek("gold-loan"))

	stat, err := c.Stat(ctx, "home-loan")
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 3, stat.Leads)
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, "personal-loan", mock.Anything).
		Return(personalLoanRecords(), nil).Once()
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	f.src.On("ListLeads", mock.Anything, "personal-loan", mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503))

	err := f.session.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	v := f.session.View()
	assert.Len(t, v.Leads, 3)
	assert.Contains(t, v.LastError, "503")
	// Two attempts from the retry policy on top of the first load.
	f.src.AssertNumberOfCalls(t, "ListLeads", 3)
}

func TestRefresh_NoSegment(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.Refresh(context.Background(), true), ErrNoSegment)
	assert.ErrorIs(t, f.session.SwitchSegment(context.Background(), ""), ErrNoSegment)
}

func TestSwitchSegment_CancelsPreviousFetch(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	f.src.On("ListLeads", mock.Anything, "personal-loan", mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	f.src.On("ListLeads", mock.Anything, "home-loan", mock.Anything).
		Return(records(`{"_id":"H1"}`), nil).Once()

	errc := make(chan error, 1)
	go func() { errc <- f.session.SwitchSegment(context.Background(), "personal-loan") }()
	<-started

	require.NoError(t, f.session.SwitchSegment(context.Background(), "home-loan"))
	assert.ErrorIs(t, <-errc, ErrSuperseded)

	v := f.session.View()
	assert.Equal(t, "home-loan", v.Segment)
	assert.Equal(t, []string{"H1"}, viewIDs(v))
	assert.Nil(t, f.cache.Peek("personal-loan"))
}

func TestSetCriteria(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	require.NoError(t, f.session.SetCriteria(model.FilterCriteria{Statuses: []string{"Lost Lead"}}))
	assert.Equal(t, []string{"B"}, viewIDs(f.session.View()))

	require.NoError(t, f.session.SetCriteria(model.FilterCriteria{DuplicatesOnly: true, Sort: model.SortIncomeHighest}))
	assert.Equal(t, []string{"A", "B"}, viewIDs(f.session.View()))

	err := f.session.SetCriteria(model.FilterCriteria{Sort: "sideways"})
	assert.ErrorIs(t, err, filter.ErrInvalidCriteria)
	assert.Equal(t, model.SortIncomeHighest, f.session.Criteria().Sort)
}

func TestSetSearch_Debounced(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	f.session.SetSearch("a")
	f.session.SetSearch("ash")
	v := f.session.View()
	assert.Equal(t, "ash", v.PendingSearch)
	assert.Empty(t, v.Criteria.Search)
	assert.Len(t, v.Leads, 3)

	assert.Eventually(t, func() bool {
		return len(f.session.View().Leads) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ash", f.session.Criteria().Search)
	assert.Equal(t, []string{"A"}, viewIDs(f.session.View()))
}

func TestSetSearch_Flush(t *testing.T) {
	f := newFixture(t, WithSearchDebounce(time.Hour))
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	f.session.SetSearch("9123456780")
	assert.True(t, f.session.FlushSearch())
	assert.Equal(t, []string{"C"}, viewIDs(f.session.View()))
}

func TestSetCriteria_StaleSearchDropped(t *testing.T) {
	f := newFixture(t, WithSearchDebounce(time.Hour))
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	f.session.SetSearch("asha")
	require.NoError(t, f.session.SetCriteria(model.FilterCriteria{Search: "chitra"}))
	assert.False(t, f.session.FlushSearch())
	assert.Equal(t, []string{"C"}, viewIDs(f.session.View()))
}

// blockSearch makes filter runs for term wait until release is closed.
func blockSearch(s *Session, term string) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	s.applyFn = func(leads []model.Lead, c model.FilterCriteria, now time.Time) ([]model.Lead, error) {
		if c.Search == term {
			once.Do(func() { close(started) })
			<-release
		}
		return filter.Apply(leads, c, now)
	}
	return started, release
}

func TestRefilter_OlderRunDoesNotOverwriteNewer(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	started, release := blockSearch(f.session, "asha")
	done := make(chan error, 1)
	go func() {
		done <- f.session.SetCriteria(model.FilterCriteria{Search: "asha"})
	}()
	<-started

	require.NoError(t, f.session.SetCriteria(model.FilterCriteria{Search: "chitra"}))
	assert.Equal(t, []string{"C"}, viewIDs(f.session.View()))

	close(release)
	require.NoError(t, <-done)

	v := f.session.View()
	assert.Equal(t, "chitra", v.Criteria.Search)
	assert.Equal(t, []string{"C"}, viewIDs(v))
}

func TestRefilter_DataChangedDuringRunRefilters(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	started, release := blockSearch(f.session, "asha")
	done := make(chan error, 1)
	go func() {
		done <- f.session.SetCriteria(model.FilterCriteria{Search: "asha"})
	}()
	<-started

	added, err := f.session.OnRecordCreated(context.Background(),
		json.RawMessage(`{"_id":"E","name":"Asha Menon","created_at":"2026-03-15T08:00:00Z"}`))
	require.NoError(t, err)
	require.True(t, added)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"E", "A"}, viewIDs(f.session.View()))
}

func TestApplyStatus(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	n, err := f.session.ApplyStatus(context.Background(), []string{"A", "C", "missing"}, "File Sent To Login", "Login Done")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry := f.cache.Peek("personal-loan")
	for _, l := range entry.Leads {
		if l.ID == "A" || l.ID == "C" {
			assert.Equal(t, model.CategoryFileSentToLogin, l.Category, l.ID)
			assert.True(t, l.SentToLogin)
		}
		if l.ID == "C" {
			assert.Equal(t, testNow, l.CreatedAt)
		}
	}
	assert.Equal(t, 2, f.session.View().Counts[model.CategoryFileSentToLogin])

	_, err = f.session.ApplyStatus(context.Background(), []string{"A"}, "Lost Lead", "Login Done")
	assert.ErrorIs(t, err, taxonomy.ErrInvalidSelection)
	_, err = f.session.ApplyStatus(context.Background(), []string{"A"}, "Nope", "")
	assert.ErrorIs(t, err, taxonomy.ErrInvalidSelection)
}

func TestApplyStatus_UsesNormalizerCategoryTable(t *testing.T) {
	tbl, err := category.Parse([]byte("categories:\n  FileCompleted:\n    - Call Back\n"))
	require.NoError(t, err)
	f := newFixture(t, WithNormalizer(normalize.New(normalize.WithCategoryTable(tbl))))
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	n, err := f.session.ApplyStatus(context.Background(), []string{"C"}, "Active Leads", "Call Back")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for _, l := range f.cache.Peek("personal-loan").Leads {
		if l.ID == "A" || l.ID == "C" {
			assert.Equal(t, model.CategoryFileCompleted, l.Category, l.ID)
		}
	}
	assert.Equal(t, 2, f.session.View().Counts[model.CategoryFileCompleted])
}

func TestSelectStatus_Navigates(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	p := f.session.StatusPicker("")
	assert.Equal(t, "main_statuses", p.State)

	res, n, err := f.session.SelectStatus(context.Background(), []string{"B"}, taxonomy.Option{Main: "Lost Lead"})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, n)
	assert.Equal(t, "Lost Lead", f.session.StatusPicker("").Main)

	res, n, err = f.session.SelectStatus(context.Background(), []string{"B"}, taxonomy.Option{Main: "Lost Lead", Sub: "CIBIL Issue"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, n)
	assert.Equal(t, "main_statuses", f.session.StatusPicker("").State)

	assert.Equal(t, "main_statuses", f.session.StatusBack().State)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	n, err := f.session.Delete(context.Background(), []string{"A", "B", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v := f.session.View()
	assert.Equal(t, []string{"C"}, viewIDs(v))
	assert.Equal(t, 1, v.Total)
	assert.False(t, f.cache.Contains("personal-loan", "A"))
}

func TestDelete_Forbidden(t *testing.T) {
	f := newFixture(t, WithOracle(permission.NewStatic(permission.ActionViewOwn)))
	f.src.On("ListLeads", mock.Anything, "personal-loan", leadsapi.ListOptions{Scope: "own"}).
		Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	_, err := f.session.Delete(context.Background(), []string{"A"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Len(t, f.session.View().Leads, 3)
	assert.False(t, f.session.Capabilities().BulkDelete)
}

func TestOnRecordCreated_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	rec := json.RawMessage(`{"_id":"D","name":"Dev","created_at":"2026-03-15T08:00:00Z"}`)
	added, err := f.session.OnRecordCreated(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.session.OnRecordCreated(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, added)

	v := f.session.View()
	assert.Equal(t, "D", v.Leads[0].ID)
	assert.Len(t, v.Leads, 4)
	assert.Equal(t, 4, v.Total)
}

func TestOnRecordCreated_OtherSegment(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))
	f.cache.Put(context.Background(), "home-loan", nil)

	added, err := f.session.OnRecordCreated(context.Background(), json.RawMessage(`{"_id":"H","loan_type":"home-loan"}`))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, f.session.View().Leads, 3)
	assert.True(t, f.cache.Contains("home-loan", "H"))
}

func TestOnRecordCreated_MatchesActiveSegmentByAnyKey(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, "lt-1", mock.Anything).Return(records(
		`{"_id":"A","name":"Asha Rao","created_at":"2026-03-10T09:00:00Z"}`,
	), nil).Once()
	require.NoError(t, f.session.SwitchSegment(context.Background(), "lt-1"))

	// The name comes first in the record, the id second; either one places
	// the record in the active segment.
	for _, rec := range []string{
		`{"_id":"N","loan_type":"Personal Loan","loan_type_id":"lt-1"}`,
		`{"_id":"M","loanType":"lt-1","loan_type_id":"other"}`,
	} {
		added, err := f.session.OnRecordCreated(context.Background(), json.RawMessage(rec))
		require.NoError(t, err)
		assert.True(t, added, rec)
	}

	v := f.session.View()
	assert.Equal(t, []string{"M", "N", "A"}, viewIDs(v))
	assert.Equal(t, 3, v.Total)
	assert.True(t, f.cache.Contains("lt-1", "N"))
	assert.True(t, f.cache.Contains("lt-1", "M"))
}

func TestPendingDrainedOnLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, live.Enqueue(ctx, f.kv, json.RawMessage(`{"_id":"A","name":"dup of fetched"}`)))
	require.NoError(t, live.Enqueue(ctx, f.kv, json.RawMessage(`{"_id":"P","name":"Pending Person"}`)))
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)

	require.NoError(t, f.session.SwitchSegment(ctx, "personal-loan"))

	v := f.session.View()
	assert.Len(t, v.Leads, 4)
	assert.Equal(t, "P", v.Leads[0].ID)
	pending, err := live.Pending(ctx, f.kv)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	f.src.On("GetStatusTaxonomy", mock.Anything).Return(nil, errors.New("down"))
	f.src.On("ListLoanTypes", mock.Anything).Return([]string{"personal-loan", "home-loan"}, nil)

	require.NoError(t, f.session.Bootstrap(context.Background()))
	assert.Equal(t, []string{"personal-loan", "home-loan"}, f.session.LoanTypes())
	assert.True(t, f.session.StatusPicker("").Fallback)

	stored, err := f.cache.LoanTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"personal-loan", "home-loan"}, stored)
}

func TestBootstrap_LoanTypesFallBackToStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.SaveLoanTypes(context.Background(), []string{"gold-loan"}))
	f.src.On("GetStatusTaxonomy", mock.Anything).Return([]model.StatusNode{{Name: "Open", SubStatuses: []string{"New"}}}, nil)
	f.src.On("ListLoanTypes", mock.Anything).Return(nil, errors.New("down"))

	require.NoError(t, f.session.Bootstrap(context.Background()))
	assert.Equal(t, []string{"gold-loan"}, f.session.LoanTypes())
	p := f.session.StatusPicker("")
	assert.False(t, p.Fallback)
	require.Len(t, p.Options, 1)
	assert.Equal(t, "Open", p.Options[0].Label)
}

func TestConcurrentHandlers(t *testing.T) {
	f := newFixture(t)
	f.src.On("ListLeads", mock.Anything, mock.Anything, mock.Anything).Return(personalLoanRecords(), nil)
	require.NoError(t, f.session.SwitchSegment(context.Background(), "personal-loan"))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_ = f.session.SetCriteria(model.FilterCriteria{Sort: model.SortIncomeLowest})
			case 1:
				f.session.SetSearch("a")
			case 2:
				_ = f.session.View()
			case 3:
				_, _ = f.session.OnRecordCreated(context.Background(), json.RawMessage(`{"_id":"X"}`))
			}
		}()
	}
	wg.Wait()
	f.session.FlushSearch()
	assert.True(t, f.cache.Contains("personal-loan", "X"))
}
