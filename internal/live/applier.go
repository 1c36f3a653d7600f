package live

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
	"github.com/sells-group/lead-engine/internal/store"
)

// Sink receives created leads. AddCreated must be a no-op returning false
// when the lead id is already cached.
type Sink interface {
	ActiveSegment() string
	AddCreated(ctx context.Context, lead model.Lead) bool
}

// Applier turns raw creation payloads into leads and hands them to a Sink.
type Applier struct {
	norm *normalize.Normalizer
	sink Sink
	kv   store.KV
}

// NewApplier creates an Applier. kv backs the pending list and may be nil.
func NewApplier(norm *normalize.Normalizer, sink Sink, kv store.KV) *Applier {
	if norm == nil {
		norm = normalize.New()
	}
	return &Applier{norm: norm, sink: sink, kv: kv}
}

// OnRecordCreated applies one creation payload and reports whether it was
// added. Tombstoned records and already-known ids are skipped. A record
// naming the active segment by any of its loan type keys belongs to it.
func (a *Applier) OnRecordCreated(ctx context.Context, raw json.RawMessage) (bool, error) {
	lead, err := a.norm.Normalize(raw, "")
	if err != nil {
		return false, eris.Wrap(err, "live: normalize created record")
	}
	if lead == nil {
		return false, nil
	}
	active := a.sink.ActiveSegment()
	if lead.Segment == "" || slices.Contains(normalize.SegmentKeys(raw), active) {
		lead.Segment = active
	}
	return a.sink.AddCreated(ctx, *lead), nil
}

// DrainPending applies every record on the persisted pending list, then
// clears it. It returns the number added.
func (a *Applier) DrainPending(ctx context.Context) (int, error) {
	if a.kv == nil {
		return 0, nil
	}
	pending, err := readPending(ctx, a.kv)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	added := 0
	for _, raw := range pending {
		ok, err := a.OnRecordCreated(ctx, raw)
		if err != nil {
			zap.L().Warn("live: skipping pending record", zap.Error(err))
			continue
		}
		if ok {
			added++
		}
	}
	if err := a.kv.Delete(ctx, store.PendingCreatedKey); err != nil {
		return added, eris.Wrap(err, "live: clear pending")
	}
	zap.L().Debug("live: drained pending records",
		zap.Int("pending", len(pending)),
		zap.Int("added", added),
	)
	return added, nil
}

// Enqueue appends raw to the persisted pending list.
func Enqueue(ctx context.Context, kv store.KV, raw json.RawMessage) error {
	pending, err := readPending(ctx, kv)
	if err != nil {
		return err
	}
	pending = append(pending, raw)
	data, err := json.Marshal(pending)
	if err != nil {
		return eris.Wrap(err, "live: encode pending")
	}
	return eris.Wrap(kv.Set(ctx, store.PendingCreatedKey, data), "live: save pending")
}

// Pending returns the persisted pending list.
func Pending(ctx context.Context, kv store.KV) ([]json.RawMessage, error) {
	return readPending(ctx, kv)
}

func readPending(ctx context.Context, kv store.KV) ([]json.RawMessage, error) {
	data, err := kv.Get(ctx, store.PendingCreatedKey)
	if err != nil {
		return nil, eris.Wrap(err, "live: load pending")
	}
	if len(data) == 0 {
		return nil, nil
	}
	var pending []json.RawMessage
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, eris.Wrap(err, "live: decode pending")
	}
	return pending, nil
}
