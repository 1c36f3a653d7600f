package filter

import (
	"sort"

	"github.com/sells-group/lead-engine/internal/model"
)

// Facets are the distinct values offered by the multi-select filters.
type Facets struct {
	Statuses    []string `json:"statuses"`
	Teams       []string `json:"teams"`
	Creators    []string `json:"creators"`
	TeamLeaders []string `json:"team_leaders"`
}

// CollectFacets gathers sorted distinct filter values from leads. Team
// leaders always include the NotAssigned sentinel, and statuses the
// SentToLoginStatus pseudo-status.
func CollectFacets(leads []model.Lead) Facets {
	statuses := map[string]struct{}{model.SentToLoginStatus: {}}
	teams := map[string]struct{}{}
	creators := map[string]struct{}{}
	tls := map[string]struct{}{model.NotAssigned: {}}

	for _, l := range leads {
		add(statuses, l.Status)
		add(statuses, l.SubStatusValue())
		add(teams, l.Team)
		add(creators, l.CreatedBy)
		for _, n := range l.TeamLeaders {
			add(tls, n)
		}
	}
	return Facets{
		Statuses:    sorted(statuses),
		Teams:       sorted(teams),
		Creators:    sorted(creators),
		TeamLeaders: sorted(tls),
	}
}

func add(m map[string]struct{}, v string) {
	if v != "" {
		m[v] = struct{}{}
	}
}

func sorted(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
