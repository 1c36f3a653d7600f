// Package category maps lead statuses onto the closed set of dashboard
// summary categories.
package category

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-engine/internal/model"
)

//go:embed categories.yaml
var defaultTable []byte

// Table is a curated literal-string to category mapping.
type Table struct {
	byValue map[string]model.Category
}

var std = mustParse(defaultTable)

// Parse reads a YAML mapping of category name to literal status values.
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Categories map[string][]string `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "category: parse table")
	}

	t := &Table{byValue: make(map[string]model.Category)}
	for name, values := range doc.Categories {
		cat := model.Category(name)
		if !cat.Valid() {
			return nil, eris.Errorf("category: unknown category %q", name)
		}
		for _, v := range values {
			t.byValue[key(v)] = cat
		}
	}
	return t, nil
}

func mustParse(data []byte) *Table {
	t, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Default returns the embedded curated table.
func Default() *Table {
	return std
}

// Lookup returns the curated category for a literal status value.
func (t *Table) Lookup(value string) (model.Category, bool) {
	if t == nil {
		return "", false
	}
	c, ok := t.byValue[key(value)]
	return c, ok
}

// Categorize resolves the category of a status/sub-status pair. The curated
// table wins, sub-status first; substring heuristics are a best-effort
// fallback and everything else is an active lead. It never returns an empty
// category.
func (t *Table) Categorize(status, subStatus string) model.Category {
	if subStatus != "" {
		if c, ok := t.Lookup(subStatus); ok {
			return c
		}
	}
	if c, ok := t.Lookup(status); ok {
		return c
	}
	for _, v := range []string{subStatus, status} {
		if c, ok := heuristic(v); ok {
			return c
		}
	}
	return model.CategoryActiveLeads
}

// Categorize resolves a category using the embedded table.
func Categorize(status, subStatus string) model.Category {
	return std.Categorize(status, subStatus)
}

// IsLoginStage reports whether a status pair counts as a file sent to login.
func (t *Table) IsLoginStage(status, subStatus string) bool {
	return t.Categorize(status, subStatus) == model.CategoryFileSentToLogin
}

// IsLoginStage reports whether a status pair counts as a file sent to login
// under the embedded table.
func IsLoginStage(status, subStatus string) bool {
	return std.IsLoginStage(status, subStatus)
}

func heuristic(v string) (model.Category, bool) {
	s := key(v)
	if s == "" {
		return "", false
	}
	switch {
	case strings.Contains(s, "lost") && strings.Contains(s, "mistake"):
		return model.CategoryLostByMistake, true
	case strings.Contains(s, "not a lead"), strings.Contains(s, "not interested"),
		strings.Contains(s, "invalid"), strings.Contains(s, "wrong number"):
		return model.CategoryNotALead, true
	case strings.Contains(s, "login"), strings.Contains(s, "disbursed"):
		return model.CategoryFileSentToLogin, true
	case strings.Contains(s, "completed"), strings.Contains(s, "file complete"):
		return model.CategoryFileCompleted, true
	case strings.Contains(s, "lost"):
		return model.CategoryLostLead, true
	}
	return "", false
}

// Counts tallies leads per category. Every category is present in the
// result, zero-filled.
func Counts(leads []model.Lead) map[model.Category]int {
	out := make(map[model.Category]int, len(model.Categories))
	for _, c := range model.Categories {
		out[c] = 0
	}
	for _, l := range leads {
		c := l.Category
		if !c.Valid() {
			c = Categorize(l.Status, l.SubStatusValue())
		}
		out[c]++
	}
	return out
}

func key(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}
