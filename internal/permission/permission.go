// Package permission resolves what the current user may do on the lead
// dashboard. Rule evaluation lives elsewhere; this package only asks
// can(action) and derives UI capabilities from the answers.
package permission

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Actions understood by the dashboard.
const (
	ActionCreate   = "create"
	ActionDelete   = "delete"
	ActionViewAll  = "viewAll"
	ActionViewTeam = "viewTeam"
	ActionViewOwn  = "viewOwn"
)

// Oracle answers capability questions.
type Oracle interface {
	Can(action string) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(action string) bool

// Can implements Oracle.
func (f OracleFunc) Can(action string) bool { return f(action) }

// Scope is the widest set of leads the user may list.
type Scope string

const (
	ScopeAll  Scope = "all"
	ScopeTeam Scope = "team"
	ScopeOwn  Scope = "own"
	ScopeNone Scope = "none"
)

// RequestScope is the scope sent to the lead service. Without any view
// grant the narrowest scope is requested.
func (s Scope) RequestScope() string {
	if s == ScopeNone || s == "" {
		return string(ScopeOwn)
	}
	return string(s)
}

// Capabilities is the dashboard's view of an Oracle.
type Capabilities struct {
	CanCreate  bool  `json:"can_create"`
	CanDelete  bool  `json:"can_delete"`
	BulkDelete bool  `json:"bulk_delete"`
	Scope      Scope `json:"scope"`
}

// Resolve asks o for every dashboard action. A nil oracle grants nothing.
func Resolve(o Oracle) Capabilities {
	if o == nil {
		return Capabilities{Scope: ScopeNone}
	}
	c := Capabilities{
		CanCreate: o.Can(ActionCreate),
		CanDelete: o.Can(ActionDelete),
	}
	c.BulkDelete = c.CanDelete
	switch {
	case o.Can(ActionViewAll):
		c.Scope = ScopeAll
	case o.Can(ActionViewTeam):
		c.Scope = ScopeTeam
	case o.Can(ActionViewOwn):
		c.Scope = ScopeOwn
	default:
		c.Scope = ScopeNone
	}
	return c
}

// Static is an Oracle over a fixed action set.
type Static struct {
	actions map[string]struct{}
}

// NewStatic grants exactly actions.
func NewStatic(actions ...string) *Static {
	s := &Static{actions: make(map[string]struct{}, len(actions))}
	for _, a := range actions {
		if a = strings.TrimSpace(a); a != "" {
			s.actions[a] = struct{}{}
		}
	}
	return s
}

// Can implements Oracle.
func (s *Static) Can(action string) bool {
	_, ok := s.actions[action]
	return ok
}

// Actions lists the granted actions, sorted.
func (s *Static) Actions() []string {
	out := make([]string, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

var roles = map[string][]string{
	"admin":       {ActionCreate, ActionDelete, ActionViewAll, ActionViewTeam, ActionViewOwn},
	"manager":     {ActionCreate, ActionDelete, ActionViewTeam, ActionViewOwn},
	"team_leader": {ActionCreate, ActionViewTeam, ActionViewOwn},
	"agent":       {ActionCreate, ActionViewOwn},
	"viewer":      {ActionViewOwn},
}

// FromRole grants a role's preset actions plus extra. An empty role grants
// only extra.
func FromRole(role string, extra ...string) (*Static, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return NewStatic(extra...), nil
	}
	preset, ok := roles[role]
	if !ok {
		return nil, eris.Errorf("permission: unknown role %q", role)
	}
	return NewStatic(append(append([]string{}, preset...), extra...)...), nil
}
