package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/cache"
	"github.com/sells-group/lead-engine/internal/dashboard"
	"github.com/sells-group/lead-engine/internal/live"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/permission"
	"github.com/sells-group/lead-engine/internal/resilience"
	"github.com/sells-group/lead-engine/internal/store"
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

func leadPage() *leadsapi.ListResponse {
	raws := []string{
		`{"_id":"A","name":"Asha Rao","mobile":"9876543210","status":"Active Leads","sub_status":"Call Back","created_at":"2026-03-10T09:00:00Z","totalIncome":40000}`,
		`{"_id":"B","name":"Bharat Shah","mobile":"9876543211","status":"Lost Lead","sub_status":"Low Income","created_at":"2026-03-12T09:00:00Z","salary":"25,000"}`,
		`{"_id":"C","name":"Chitra Iyer","mobile":"9123456780","status":"Not A Lead","created_at":"2026-03-14T09:00:00Z"}`,
	}
	out := &leadsapi.ListResponse{Total: len(raws)}
	for _, r := range raws {
		out.Items = append(out.Items, json.RawMessage(r))
	}
	return out
}

type harness struct {
	src *mockSource
	kv  store.KV
	bus *live.Bus
	srv *httptest.Server
}

func newHarness(t *testing.T, oracle permission.Oracle) *harness {
	t.Helper()
	kv, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() }) //nolint:errcheck
	require.NoError(t, kv.Migrate(context.Background()))

	clock := func() time.Time { return testNow }
	src := &mockSource{}
	session := dashboard.New(src, cache.New(kv, cache.WithClock(clock)),
		dashboard.WithClock(clock),
		dashboard.WithStore(kv),
		dashboard.WithOracle(oracle),
		dashboard.WithGuard(resilience.NewGuard(
			resilience.RetryConfig{MaxAttempts: 1},
			resilience.CircuitBreakerConfig{FailureThreshold: 10},
		)),
		dashboard.WithSearchDebounce(5*time.Millisecond),
	)
	t.Cleanup(session.Close)

	bus := live.NewBus(4)
	t.Cleanup(bus.Close)

	srv := httptest.NewServer(NewServer(session, bus, WithPendingStore(kv)).Router())
	t.Cleanup(srv.Close)
	return &harness{src: src, kv: kv, bus: bus, srv: srv}
}

func adminOracle() permission.Oracle {
	return permission.NewStatic(permission.ActionDelete, permission.ActionViewAll)
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func ids(v dashboard.ViewState) []string {
	out := make([]string, 0, len(v.Leads))
	for _, l := range v.Leads {
		out = append(out, l.ID)
	}
	return out
}

func (h *harness) load(t *testing.T) {
	t.Helper()
	h.src.On("ListLeads", mock.Anything, "personal-loan", leadsapi.ListOptions{Scope: "all"}).
		Return(leadPage(), nil).Once()
	resp := h.do(t, http.MethodGet, "/leads?segment=personal-loan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, adminOracle())
	resp := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, resp))
}

func TestListLeads(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.src.On("ListLeads", mock.Anything, "personal-loan", leadsapi.ListOptions{Scope: "all"}).
		Return(leadPage(), nil).Once()

	resp := h.do(t, http.MethodGet, "/leads?segment=personal-loan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeBody[dashboard.ViewState](t, resp)
	assert.Equal(t, "personal-loan", v.Segment)
	assert.Equal(t, []string{"C", "B", "A"}, ids(v))
	assert.Equal(t, 1, v.Counts[model.CategoryLostLead])

	resp = h.do(t, http.MethodGet, "/leads?status=Lost%20Lead,Active%20Leads&sort=highest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decodeBody[dashboard.ViewState](t, resp)
	assert.Equal(t, []string{"A", "B"}, ids(v))
	assert.Equal(t, model.SortIncomeHighest, v.Criteria.Sort)

	// No filter parameters keeps the current criteria.
	resp = h.do(t, http.MethodGet, "/leads", nil)
	v = decodeBody[dashboard.ViewState](t, resp)
	assert.Equal(t, []string{"A", "B"}, ids(v))

	h.src.AssertExpectations(t)
}

func TestListLeads_BadQuery(t *testing.T) {
	h := newHarness(t, adminOracle())

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"bad integer", "age_from=soon", "invalid_query"},
		{"bad date", "from=15/03/2026", "invalid_query"},
		{"bad number", "income_to=lots", "invalid_query"},
		{"unknown sort", "sort=sideways", "invalid_criteria"},
		{"inverted range", "income_from=10&income_to=5", "invalid_criteria"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, http.MethodGet, "/leads?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			e := decodeBody[apiError](t, resp)
			assert.Equal(t, tt.code, e.Error.Code)
			assert.NotEmpty(t, e.Error.RequestID)
		})
	}
}

func TestListLeads_FetchFailure(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.src.On("ListLeads", mock.Anything, "home-loan", mock.Anything).
		Return(nil, errors.New("boom")).Once()

	resp := h.do(t, http.MethodGet, "/leads?segment=home-loan", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	e := decodeBody[apiError](t, resp)
	assert.Equal(t, "refresh_failed", e.Error.Code)
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, adminOracle())

	resp := h.do(t, http.MethodPost, "/leads/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.load(t)
	h.src.On("ListLeads", mock.Anything, "personal-loan", mock.Anything).
		Return(nil, errors.New("down")).Once()
	resp = h.do(t, http.MethodPost, "/leads/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// The snapshot survives the failed refresh.
	resp = h.do(t, http.MethodGet, "/leads", nil)
	v := decodeBody[dashboard.ViewState](t, resp)
	assert.Len(t, v.Leads, 3)
	assert.NotEmpty(t, v.LastError)
}

func TestSearch(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.load(t)

	resp := h.do(t, http.MethodPost, "/leads/search", map[string]any{"term": "chitra", "flush": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/leads", nil)
	v := decodeBody[dashboard.ViewState](t, resp)
	assert.Equal(t, []string{"C"}, ids(v))

	resp = h.do(t, http.MethodPost, "/leads/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplyStatus(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.load(t)

	resp := h.do(t, http.MethodPost, "/leads/status", map[string]any{
		"ids": []string{"B"}, "main_status": "Active Leads", "sub_status": "Call Back",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"updated": 1}, decodeBody[map[string]int](t, resp))

	resp = h.do(t, http.MethodGet, "/leads?status=Active%20Leads", nil)
	v := decodeBody[dashboard.ViewState](t, resp)
	assert.ElementsMatch(t, []string{"A", "B"}, ids(v))

	resp = h.do(t, http.MethodPost, "/leads/status", map[string]any{
		"ids": []string{"B"}, "main_status": "Made Up",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/leads/status", map[string]any{"main_status": "Active Leads"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.load(t)

	resp := h.do(t, http.MethodDelete, "/leads/A", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"deleted": 1}, decodeBody[map[string]int](t, resp))

	resp = h.do(t, http.MethodDelete, "/leads/A", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/leads/delete", map[string]any{"ids": []string{"B", "C"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/leads", nil)
	v := decodeBody[dashboard.ViewState](t, resp)
	assert.Empty(t, v.Leads)
}

func TestDelete_Forbidden(t *testing.T) {
	h := newHarness(t, permission.NewStatic(permission.ActionViewOwn))
	h.src.On("ListLeads", mock.Anything, "personal-loan", leadsapi.ListOptions{Scope: "own"}).
		Return(leadPage(), nil).Once()
	resp := h.do(t, http.MethodGet, "/leads?segment=personal-loan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/leads/A", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	e := decodeBody[apiError](t, resp)
	assert.Equal(t, "forbidden", e.Error.Code)
}

func TestExport(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.load(t)

	resp := h.do(t, http.MethodGet, "/leads/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "leads-personal-loan-")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Name"))

	resp = h.do(t, http.MethodGet, "/leads/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDuplicatesAndFacets(t *testing.T) {
	h := newHarness(t, adminOracle())
	h.load(t)

	resp := h.do(t, http.MethodGet, "/leads/duplicates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	groups := decodeBody[map[string]json.RawMessage](t, resp)
	assert.Contains(t, groups, "groups")

	resp = h.do(t, http.MethodGet, "/leads/facets", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaxonomyPicker(t *testing.T) {
	h := newHarness(t, adminOracle())

	resp := h.do(t, http.MethodGet, "/taxonomy/options", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[dashboard.StatusPicker](t, resp)
	assert.Equal(t, "main_statuses", p.State)
	assert.NotEmpty(t, p.Options)

	resp = h.do(t, http.MethodPost, "/taxonomy/select", map[string]any{
		"option": map[string]any{"label": "Lost Lead", "main": "Lost Lead", "has_children": true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sel struct {
		Result struct {
			Applied bool `json:"applied"`
		} `json:"result"`
		Picker dashboard.StatusPicker `json:"picker"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sel))
	assert.False(t, sel.Result.Applied)
	assert.Equal(t, "Lost Lead", sel.Picker.Main)

	resp = h.do(t, http.MethodPost, "/taxonomy/back", nil)
	p = decodeBody[dashboard.StatusPicker](t, resp)
	assert.Equal(t, "main_statuses", p.State)
}

func TestEvents(t *testing.T) {
	h := newHarness(t, adminOracle())
	record := json.RawMessage(`{"_id":"N1","name":"New Lead","loan_type":"personal-loan","created_at":"2026-03-15T10:00:00Z"}`)

	// Nobody listening: the event is queued.
	resp := h.do(t, http.MethodPost, "/events", map[string]any{"type": live.TypeRecordCreated, "record": record})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, out["queued"])
	pending, err := live.Pending(context.Background(), h.kv)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	ch := h.bus.Subscribe()
	resp = h.do(t, http.MethodPost, "/events", map[string]any{"type": live.TypeRecordCreated, "record": record})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out = decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(1), out["delivered"])
	assert.Equal(t, false, out["queued"])
	e := <-ch
	assert.Equal(t, live.TypeRecordCreated, e.Type)
	assert.JSONEq(t, string(record), string(e.Record))

	resp = h.do(t, http.MethodPost, "/events", map[string]any{"type": "recordDeleted", "record": record})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/events", map[string]any{"type": live.TypeRecordCreated})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCriteriaFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/leads?status=A,B&status=C&tl=Not%20Assigned&from=2026-03-01&to=2026-03-31T23:00:00Z&age_to=7&income_from=1000.5&duplicates=1", nil)
	c, err := criteriaFromQuery(req.URL.Query())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, c.Statuses)
	assert.Equal(t, []string{model.NotAssigned}, c.TeamLeaders)
	require.NotNil(t, c.LeadDateFrom)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *c.LeadDateFrom)
	require.NotNil(t, c.LeadDateTo)
	require.NotNil(t, c.AgeToDays)
	assert.Equal(t, 7, *c.AgeToDays)
	assert.Nil(t, c.AgeFromDays)
	require.NotNil(t, c.IncomeFrom)
	assert.InDelta(t, 1000.5, *c.IncomeFrom, 0.001)
	assert.True(t, c.DuplicatesOnly)
	assert.True(t, hasCriteria(req.URL.Query()))
}
