package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// maxTLDepth bounds how many times a JSON-encoded string is unwrapped.
const maxTLDepth = 3

// TLField is the parsed team-leader assignment of a record: either a list of
// names or empty. Downstream code never looks at the raw shape.
type TLField struct {
	names []string
}

// Names returns the flattened, de-duplicated team-leader names.
func (f TLField) Names() []string {
	if len(f.names) == 0 {
		return []string{}
	}
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Empty reports whether no team leader is assigned.
func (f TLField) Empty() bool { return len(f.names) == 0 }

// ParseTL accepts a string, array, JSON-encoded string or object and
// flattens it into names. JSON strings are decoded first; strings that are
// not JSON are read as comma-separated lists.
func ParseTL(v gjson.Result) TLField {
	var names []string
	collectTL(v, 0, &names)
	return TLField{names: dedupNames(names)}
}

func collectTL(v gjson.Result, depth int, out *[]string) {
	switch {
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return
		}
		if depth < maxTLDepth && looksLikeJSON(s) && gjson.Valid(s) {
			collectTL(gjson.Parse(s), depth+1, out)
			return
		}
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				*out = append(*out, p)
			}
		}
	case v.Type == gjson.Number:
		*out = append(*out, v.String())
	case v.IsArray():
		for _, e := range v.Array() {
			if e.IsObject() {
				if n, ok := nameOf(e); ok {
					*out = append(*out, n)
				}
				continue
			}
			collectTL(e, depth, out)
		}
	case v.IsObject():
		if n, ok := nameOf(v); ok {
			*out = append(*out, n)
		}
	}
}

func looksLikeJSON(s string) bool {
	switch s[0] {
	case '[', '{', '"':
		return true
	}
	return false
}

func dedupNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		k := strings.ToLower(n)
		if n == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n)
	}
	return out
}

// extractTL returns the first team-leader source that yields names.
func extractTL(doc gjson.Result) TLField {
	for _, p := range teamLeaderPaths {
		v := doc.Get(p)
		if !v.Exists() {
			continue
		}
		if f := ParseTL(v); !f.Empty() {
			return f
		}
	}
	return TLField{}
}
