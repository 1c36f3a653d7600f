package taxonomy

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidSelection is returned when a selected option is not offered in
// the navigator's current state.
var ErrInvalidSelection = eris.New("taxonomy: invalid selection")

// State is the navigator's position in the hierarchy: either the list of
// main statuses, or the sub-statuses of one main status.
type State struct {
	main string
}

// ShowingMainStatuses reports whether the main status list is shown.
func (s State) ShowingMainStatuses() bool { return s.main == "" }

// Main returns the main status whose sub-statuses are shown, or "".
func (s State) Main() string { return s.main }

func (s State) String() string {
	if s.ShowingMainStatuses() {
		return "main_statuses"
	}
	return "sub_statuses_of:" + s.main
}

// Option is one selectable entry. Sub is empty for a main-status entry.
type Option struct {
	Label       string `json:"label"`
	Main        string `json:"main"`
	Sub         string `json:"sub,omitempty"`
	HasChildren bool   `json:"has_children,omitempty"`
	Exact       bool   `json:"exact,omitempty"`
}

// Result is the outcome of a selection. When Applied is false the
// navigator moved deeper and nothing should be written.
type Result struct {
	Applied bool   `json:"applied"`
	Main    string `json:"main,omitempty"`
	Sub     string `json:"sub,omitempty"`
}

// Navigator is the status picker's state machine.
//
//	ShowingMainStatuses --select main with subs--> ShowingSubStatusesOf(main)
//	ShowingMainStatuses --select main without subs--> apply
//	ShowingSubStatusesOf(m) --select sub--> apply, back to ShowingMainStatuses
//	any --back/close--> ShowingMainStatuses
//
// While a search term is set, options are the flattened hierarchy and any
// selection applies directly without changing state.
type Navigator struct {
	tax    *Taxonomy
	state  State
	search string
}

// NewNavigator starts at the main status list.
func NewNavigator(t *Taxonomy) *Navigator {
	return &Navigator{tax: t}
}

// State returns the current state.
func (n *Navigator) State() State { return n.state }

// Search returns the active search term.
func (n *Navigator) Search() string { return n.search }

// SetSearch sets the live search term. An empty term restores hierarchical
// browsing.
func (n *Navigator) SetSearch(term string) {
	n.search = strings.TrimSpace(term)
}

// SetTaxonomy swaps the taxonomy and resets navigation.
func (n *Navigator) SetTaxonomy(t *Taxonomy) {
	n.tax = t
	n.state = State{}
}

// Taxonomy returns the taxonomy being navigated.
func (n *Navigator) Taxonomy() *Taxonomy { return n.tax }

// Back returns to the main status list.
func (n *Navigator) Back() { n.state = State{} }

// Close resets navigation and clears the search term.
func (n *Navigator) Close() {
	n.state = State{}
	n.search = ""
}

// Options lists the entries selectable right now.
func (n *Navigator) Options() []Option {
	if n.search != "" {
		return n.searchOptions()
	}
	if n.state.ShowingMainStatuses() {
		out := make([]Option, 0, len(n.tax.mains))
		for _, m := range n.tax.mains {
			out = append(out, Option{
				Label:       m,
				Main:        m,
				HasChildren: len(n.tax.nodes[m].SubStatuses) > 0,
			})
		}
		return out
	}
	subs := n.tax.nodes[n.state.main].SubStatuses
	out := make([]Option, 0, len(subs))
	for _, s := range subs {
		out = append(out, Option{Label: s, Main: n.state.main, Sub: s})
	}
	return out
}

// Select acts on an option according to the current state.
func (n *Navigator) Select(opt Option) (Result, error) {
	if n.search != "" {
		if !n.valid(opt) {
			return Result{}, eris.Wrapf(ErrInvalidSelection, "%s/%s", opt.Main, opt.Sub)
		}
		return Result{Applied: true, Main: opt.Main, Sub: opt.Sub}, nil
	}

	if n.state.ShowingMainStatuses() {
		if opt.Sub != "" || !n.tax.HasMain(opt.Main) {
			return Result{}, eris.Wrapf(ErrInvalidSelection, "main %q", opt.Main)
		}
		if len(n.tax.nodes[opt.Main].SubStatuses) > 0 {
			n.state = State{main: opt.Main}
			return Result{}, nil
		}
		return Result{Applied: true, Main: opt.Main}, nil
	}

	if opt.Sub == "" || opt.Main != n.state.main || !n.valid(opt) {
		return Result{}, eris.Wrapf(ErrInvalidSelection, "sub %q under %q", opt.Sub, n.state.main)
	}
	n.state = State{}
	return Result{Applied: true, Main: opt.Main, Sub: opt.Sub}, nil
}

// valid reports whether opt names an existing main or main/sub pair.
func (n *Navigator) valid(opt Option) bool {
	if !n.tax.HasMain(opt.Main) {
		return false
	}
	if opt.Sub == "" {
		return len(n.tax.nodes[opt.Main].SubStatuses) == 0
	}
	owner, ok := n.tax.MainOf(opt.Sub)
	return ok && owner == opt.Main
}

// searchOptions flattens every sub-status (and every main status without
// sub-statuses) and matches it against the search term. Entries containing
// the whole term come first, then entries matching any word of it; each
// group keeps taxonomy order.
func (n *Navigator) searchOptions() []Option {
	term := strings.ToLower(n.search)
	words := strings.Fields(term)

	var exact, partial []Option
	consider := func(o Option) {
		label := strings.ToLower(o.Label)
		switch {
		case strings.Contains(label, term):
			o.Exact = true
			exact = append(exact, o)
		case containsAny(label, words) || strings.Contains(strings.ToLower(o.Main), term):
			partial = append(partial, o)
		}
	}
	for _, m := range n.tax.mains {
		subs := n.tax.nodes[m].SubStatuses
		if len(subs) == 0 {
			consider(Option{Label: m, Main: m})
			continue
		}
		for _, s := range subs {
			consider(Option{Label: s, Main: m, Sub: s})
		}
	}
	return append(exact, partial...)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if len(w) > 1 && strings.Contains(s, w) {
			return true
		}
	}
	return false
}
