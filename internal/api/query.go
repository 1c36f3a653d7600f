package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-engine/internal/model"
)

// criteriaFromQuery reads filter criteria from query parameters. List
// parameters may repeat or hold comma-separated values.
func criteriaFromQuery(q url.Values) (model.FilterCriteria, error) {
	c := model.FilterCriteria{
		Search:         strings.TrimSpace(q.Get("search")),
		Statuses:       list(q, "status"),
		Teams:          list(q, "team"),
		Creators:       list(q, "creator"),
		TeamLeaders:    list(q, "tl"),
		Sort:           model.SortMode(q.Get("sort")),
		DuplicatesOnly: q.Get("duplicates") == "true" || q.Get("duplicates") == "1",
	}

	var err error
	dates := []struct {
		key string
		dst **time.Time
	}{
		{"from", &c.LeadDateFrom},
		{"to", &c.LeadDateTo},
		{"login_from", &c.SentToLoginFrom},
		{"login_to", &c.SentToLoginTo},
	}
	for _, d := range dates {
		if *d.dst, err = optTime(q, d.key); err != nil {
			return c, err
		}
	}
	if c.AgeFromDays, err = optInt(q, "age_from"); err != nil {
		return c, err
	}
	if c.AgeToDays, err = optInt(q, "age_to"); err != nil {
		return c, err
	}
	if c.IncomeFrom, err = optFloat(q, "income_from"); err != nil {
		return c, err
	}
	if c.IncomeTo, err = optFloat(q, "income_to"); err != nil {
		return c, err
	}
	return c, nil
}

var criteriaKeys = []string{
	"search", "status", "team", "creator", "tl", "sort", "duplicates",
	"from", "to", "login_from", "login_to", "age_from", "age_to", "income_from", "income_to",
}

// hasCriteria reports whether the query carries any filter parameter. A
// query without one keeps the session's current criteria.
func hasCriteria(q url.Values) bool {
	for _, k := range criteriaKeys {
		if _, ok := q[k]; ok {
			return true
		}
	}
	return false
}

func list(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func optTime(q url.Values, key string) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, eris.Errorf("api: %s: invalid date %q", key, v)
}

func optInt(q url.Values, key string) (*int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, eris.Errorf("api: %s: invalid integer %q", key, v)
	}
	return &n, nil
}

func optFloat(q url.Values, key string) (*float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, eris.Errorf("api: %s: invalid number %q", key, v)
	}
	return &f, nil
}
