// Package taxonomy holds the two-level status hierarchy and the navigation
// state machine used to pick a status for bulk edits.
package taxonomy

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-engine/internal/model"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// Taxonomy maps main statuses to their sub-statuses, with the reverse
// sub-status to main-status lookup derived at construction.
type Taxonomy struct {
	mains    []string
	nodes    map[string]model.StatusNode
	parentOf map[string]string
}

// New builds a taxonomy from nodes, keeping their order. Blank names are
// skipped; a sub-status listed under two mains resolves to the first.
func New(nodes []model.StatusNode) *Taxonomy {
	t := &Taxonomy{
		nodes:    make(map[string]model.StatusNode, len(nodes)),
		parentOf: make(map[string]string),
	}
	for _, n := range nodes {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			continue
		}
		if _, dup := t.nodes[name]; dup {
			continue
		}
		node := model.StatusNode{Name: name, SubStatuses: make([]string, 0, len(n.SubStatuses))}
		for _, s := range n.SubStatuses {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if owner, taken := t.parentOf[s]; taken {
				zap.L().Debug("taxonomy: sub-status already mapped",
					zap.String("sub_status", s),
					zap.String("main", owner),
					zap.String("ignored_main", name),
				)
				continue
			}
			t.parentOf[s] = name
			node.SubStatuses = append(node.SubStatuses, s)
		}
		t.mains = append(t.mains, name)
		t.nodes[name] = node
	}
	return t
}

// Parse reads a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc struct {
		Statuses []model.StatusNode `yaml:"statuses"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse")
	}
	if len(doc.Statuses) == 0 {
		return nil, eris.New("taxonomy: no statuses")
	}
	return New(doc.Statuses), nil
}

// ReadFile parses a taxonomy document from disk.
func ReadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// Default returns the embedded fallback taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(err)
	}
	return t
}

// MainStatuses lists main statuses in taxonomy order.
func (t *Taxonomy) MainStatuses() []string {
	out := make([]string, len(t.mains))
	copy(out, t.mains)
	return out
}

// SubStatuses lists the sub-statuses of main, or nil for an unknown main.
func (t *Taxonomy) SubStatuses(main string) []string {
	n, ok := t.nodes[main]
	if !ok {
		return nil
	}
	out := make([]string, len(n.SubStatuses))
	copy(out, n.SubStatuses)
	return out
}

// HasMain reports whether main is a known main status.
func (t *Taxonomy) HasMain(main string) bool {
	_, ok := t.nodes[main]
	return ok
}

// MainOf returns the main status a sub-status belongs to.
func (t *Taxonomy) MainOf(sub string) (string, bool) {
	m, ok := t.parentOf[sub]
	return m, ok
}

// Nodes returns the taxonomy as ordered nodes.
func (t *Taxonomy) Nodes() []model.StatusNode {
	out := make([]model.StatusNode, 0, len(t.mains))
	for _, m := range t.mains {
		n := t.nodes[m]
		out = append(out, model.StatusNode{Name: n.Name, SubStatuses: t.SubStatuses(m)})
	}
	return out
}

// Source provides the live taxonomy.
type Source interface {
	GetStatusTaxonomy(ctx context.Context) ([]model.StatusNode, error)
}

// Load fetches the taxonomy from src. When the source fails or returns
// nothing, the embedded default is used so status editing keeps working.
// The boolean reports whether the fallback was used.
func Load(ctx context.Context, src Source) (*Taxonomy, bool) {
	if src == nil {
		return Default(), true
	}
	nodes, err := src.GetStatusTaxonomy(ctx)
	if err != nil {
		zap.L().Warn("taxonomy: load failed, using default", zap.Error(err))
		return Default(), true
	}
	t := New(nodes)
	if len(t.mains) == 0 {
		zap.L().Warn("taxonomy: source returned no statuses, using default")
		return Default(), true
	}
	return t, false
}
