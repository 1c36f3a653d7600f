// Package filter runs the fixed-order lead filter and sort pipeline.
package filter

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/lead-engine/internal/dedupe"
	"github.com/sells-group/lead-engine/internal/model"
)

// ErrInvalidCriteria is returned for criteria that fail validation.
var ErrInvalidCriteria = eris.New("filter: invalid criteria")

// stage is one step of the pipeline. Each stage receives the previous
// stage's output.
type stage struct {
	name string
	run  func(p *pass, leads []model.Lead) []model.Lead
}

// stages run in this exact order.
var stages = []stage{
	{"search", bySearch},
	{"status", byStatus},
	{"team", byTeam},
	{"creator", byCreator},
	{"team_leader", byTeamLeader},
	{"lead_date", byLeadDate},
	{"lead_age", byLeadAge},
	{"sent_to_login_date", bySentToLoginDate},
	{"income", byIncome},
	{"duplicates", byDuplicates},
	{"sort", byOrder},
}

// StageNames lists pipeline stages in execution order.
func StageNames() []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.name
	}
	return out
}

// pass carries per-invocation state shared by the stages.
type pass struct {
	c    model.FilterCriteria
	now  time.Time
	fold cases.Caser
}

// Apply filters and sorts leads. Dimensions combine with AND; multiple
// values within one dimension combine with OR. The input slice is not
// modified.
func Apply(leads []model.Lead, c model.FilterCriteria, now time.Time) ([]model.Lead, error) {
	if err := c.Validate(); err != nil {
		return nil, eris.Wrap(ErrInvalidCriteria, err.Error())
	}

	p := &pass{c: c, now: now, fold: cases.Fold()}
	out := make([]model.Lead, len(leads))
	copy(out, leads)
	for _, s := range stages {
		out = s.run(p, out)
	}
	return out, nil
}

func keep(leads []model.Lead, match func(model.Lead) bool) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if match(l) {
			out = append(out, l)
		}
	}
	return out
}

func bySearch(p *pass, leads []model.Lead) []model.Lead {
	term := p.fold.String(strings.TrimSpace(p.c.Search))
	if term == "" {
		return leads
	}
	return keep(leads, func(l model.Lead) bool {
		for _, f := range searchFields(l) {
			if f != "" && strings.Contains(p.fold.String(f), term) {
				return true
			}
		}
		return false
	})
}

// searchFields lists the values matched by free-text search.
func searchFields(l model.Lead) []string {
	fields := []string{
		l.DisplayName,
		l.Email,
		l.PANNumber,
		l.City,
		l.Status,
		l.SubStatusValue(),
		l.ID,
		l.CreatedBy,
		l.AssignedTo,
	}
	fields = append(fields, l.ContactNumbers...)
	return append(fields, l.TeamLeaders...)
}

func byStatus(p *pass, leads []model.Lead) []model.Lead {
	if len(p.c.Statuses) == 0 {
		return leads
	}
	set := newSet(p.c.Statuses)
	sentToLogin := set.has(model.SentToLoginStatus)
	return keep(leads, func(l model.Lead) bool {
		if set.has(l.Status) || (l.SubStatus != nil && set.has(*l.SubStatus)) {
			return true
		}
		return sentToLogin && l.SentToLogin
	})
}

func byTeam(p *pass, leads []model.Lead) []model.Lead {
	if len(p.c.Teams) == 0 {
		return leads
	}
	set := newSet(p.c.Teams)
	return keep(leads, func(l model.Lead) bool { return set.has(l.Team) })
}

func byCreator(p *pass, leads []model.Lead) []model.Lead {
	if len(p.c.Creators) == 0 {
		return leads
	}
	set := newSet(p.c.Creators)
	return keep(leads, func(l model.Lead) bool { return set.has(l.CreatedBy) })
}

// byTeamLeader matches leads without team leaders only through the
// NotAssigned sentinel, and leads with any selected team leader otherwise.
func byTeamLeader(p *pass, leads []model.Lead) []model.Lead {
	if len(p.c.TeamLeaders) == 0 {
		return leads
	}
	set := newSet(p.c.TeamLeaders)
	notAssigned := set.has(model.NotAssigned)
	return keep(leads, func(l model.Lead) bool {
		if len(l.TeamLeaders) == 0 {
			return notAssigned
		}
		for _, name := range l.TeamLeaders {
			if set.has(name) {
				return true
			}
		}
		return false
	})
}

func byLeadDate(p *pass, leads []model.Lead) []model.Lead {
	if p.c.LeadDateFrom == nil && p.c.LeadDateTo == nil {
		return leads
	}
	return keep(leads, func(l model.Lead) bool {
		return inDayRange(l.CreatedAt, p.c.LeadDateFrom, p.c.LeadDateTo)
	})
}

// byLeadAge drops undated leads, as the lead-date stage does.
func byLeadAge(p *pass, leads []model.Lead) []model.Lead {
	if p.c.AgeFromDays == nil && p.c.AgeToDays == nil {
		return leads
	}
	return keep(leads, func(l model.Lead) bool {
		if l.CreatedAt.IsZero() {
			return false
		}
		age := AgeDays(l.CreatedAt, p.now)
		if p.c.AgeFromDays != nil && age < *p.c.AgeFromDays {
			return false
		}
		if p.c.AgeToDays != nil && age > *p.c.AgeToDays {
			return false
		}
		return true
	})
}

func bySentToLoginDate(p *pass, leads []model.Lead) []model.Lead {
	if p.c.SentToLoginFrom == nil && p.c.SentToLoginTo == nil {
		return leads
	}
	return keep(leads, func(l model.Lead) bool {
		if l.SentToLoginAt == nil {
			return false
		}
		return inDayRange(*l.SentToLoginAt, p.c.SentToLoginFrom, p.c.SentToLoginTo)
	})
}

// byIncome treats a missing income as zero.
func byIncome(p *pass, leads []model.Lead) []model.Lead {
	if p.c.IncomeFrom == nil && p.c.IncomeTo == nil {
		return leads
	}
	return keep(leads, func(l model.Lead) bool {
		income := l.Income()
		if p.c.IncomeFrom != nil && income < *p.c.IncomeFrom {
			return false
		}
		if p.c.IncomeTo != nil && income > *p.c.IncomeTo {
			return false
		}
		return true
	})
}

func byDuplicates(p *pass, leads []model.Lead) []model.Lead {
	if !p.c.DuplicatesOnly {
		return leads
	}
	return dedupe.DuplicatesOnly(leads)
}

// byOrder sorts by income when an income sort is selected, otherwise by
// creation time, newest first. The sort is stable.
func byOrder(p *pass, leads []model.Lead) []model.Lead {
	newer := func(i, j int) bool { return leads[i].CreatedAt.After(leads[j].CreatedAt) }
	switch p.c.Sort {
	case model.SortIncomeHighest:
		sort.SliceStable(leads, func(i, j int) bool {
			a, b := leads[i].Income(), leads[j].Income()
			if a != b {
				return a > b
			}
			return newer(i, j)
		})
	case model.SortIncomeLowest:
		sort.SliceStable(leads, func(i, j int) bool {
			a, b := leads[i].Income(), leads[j].Income()
			if a != b {
				return a < b
			}
			return newer(i, j)
		})
	default:
		sort.SliceStable(leads, newer)
	}
	return leads
}

// inDayRange checks t against an inclusive day range: from is moved to the
// start of its day and to to the end of its day, in their own locations.
func inDayRange(t time.Time, from, to *time.Time) bool {
	if t.IsZero() {
		return false
	}
	if from != nil && t.Before(startOfDay(*from)) {
		return false
	}
	if to != nil && t.After(endOfDay(*to)) {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// AgeDays is the number of whole calendar days from created to now, in now's
// location.
func AgeDays(created, now time.Time) int {
	if created.IsZero() {
		return 0
	}
	from := startOfDay(created.In(now.Location()))
	to := startOfDay(now)
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// set is a case-insensitive string set.
type set map[string]struct{}

func newSet(values []string) set {
	s := make(set, len(values))
	for _, v := range values {
		s[normKey(v)] = struct{}{}
	}
	return s
}

func (s set) has(v string) bool {
	_, ok := s[normKey(v)]
	return ok
}

func normKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
