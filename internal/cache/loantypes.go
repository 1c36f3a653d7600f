package cache

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-engine/internal/store"
)

// SaveLoanTypes persists the segment list under the segment-independent key.
func (c *Cache) SaveLoanTypes(ctx context.Context, loanTypes []string) error {
	if c.kv == nil {
		return nil
	}
	data, err := json.Marshal(loanTypes)
	if err != nil {
		return eris.Wrap(err, "cache: encode loan types")
	}
	return eris.Wrap(c.kv.Set(ctx, store.LoanTypesKey, data), "cache: save loan types")
}

// LoanTypes returns the persisted segment list, or nil when none is stored.
func (c *Cache) LoanTypes(ctx context.Context) ([]string, error) {
	if c.kv == nil {
		return nil, nil
	}
	data, err := c.kv.Get(ctx, store.LoanTypesKey)
	if err != nil {
		return nil, eris.Wrap(err, "cache: load loan types")
	}
	if data == nil {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "cache: decode loan types")
	}
	return out, nil
}
