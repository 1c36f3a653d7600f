// Package normalize turns heterogeneous raw lead records into model.Lead.
package normalize

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/category"
	"github.com/sells-group/lead-engine/internal/dedupe"
	"github.com/sells-group/lead-engine/internal/model"
)

// leadNamespace seeds deterministic ids for records that arrive without one.
var leadNamespace = uuid.MustParse("6f1c2a4e-8d53-4f0b-9a71-3c1d5e7b9f20")

// ErrNotObject is returned when a record is not a JSON object.
var ErrNotObject = eris.New("normalize: record is not a JSON object")

// Normalizer converts raw records into canonical leads.
type Normalizer struct {
	table *category.Table
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithCategoryTable overrides the curated status table.
func WithCategoryTable(t *category.Table) Option {
	return func(n *Normalizer) {
		n.table = t
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{table: category.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// CategoryTable returns the status table used for categorization.
func (n *Normalizer) CategoryTable() *category.Table {
	return n.table
}

// Normalize converts one record. It returns nil for tombstoned records and an
// error only when raw is not a JSON object; every other defect is filled with
// a default. segment wins over any loan type carried by the record.
func (n *Normalizer) Normalize(raw model.RawRecord, segment string) (*model.Lead, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrNotObject
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, ErrNotObject
	}

	if deleted, _ := firstMatch(doc, deletedRules); deleted {
		return nil, nil
	}

	lead := &model.Lead{
		Raw:         append(model.RawRecord(nil), raw...),
		TeamLeaders: extractTL(doc).Names(),
	}

	if id, ok := firstMatch(doc, idRules); ok {
		lead.ID = id
	} else {
		lead.ID = uuid.NewSHA1(leadNamespace, raw).String()
	}

	lead.DisplayName = displayName(doc)
	lead.ContactNumbers = contactNumbers(doc)
	lead.Email, _ = firstMatch(doc, emailRules)
	lead.PANNumber, _ = firstMatch(doc, panRules)
	lead.City, _ = firstMatch(doc, cityRules)

	lead.Status, _ = firstMatch(doc, statusRules)
	if sub, ok := firstMatch(doc, subStatusRules); ok {
		lead.SubStatus = &sub
	}
	lead.Category = n.table.Categorize(lead.Status, lead.SubStatusValue())

	lead.CreatedAt, _ = firstMatch(doc, createdAtRules)
	lead.CreatedBy, _ = firstMatch(doc, createdByRules)
	lead.Team, _ = firstMatch(doc, teamRules)
	lead.AssignedTo, _ = firstMatch(doc, assignedToRules)

	if income, ok := firstMatch(doc, incomeRules); ok {
		lead.TotalIncome = &income
	}
	lead.LoanAmount, _ = firstMatch(doc, loanAmountRules)

	lead.SentToLogin, _ = firstMatch(doc, sentToLoginRules)
	if at, ok := firstMatch(doc, loginDateRules); ok {
		lead.SentToLoginAt = &at
	}

	lead.Segment = segment
	if lead.Segment == "" {
		lead.Segment, _ = firstMatch(doc, segmentRules)
	}

	return lead, nil
}

// SegmentKeys returns every loan type value a record carries, ids first.
func SegmentKeys(raw model.RawRecord) []string {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	doc := gjson.ParseBytes(raw)
	var out []string
	for _, p := range segmentPaths {
		if s, ok := extractString(doc.Get(p)); ok {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeBatch converts a batch, dropping tombstones. A record that cannot
// be read is logged and skipped; the batch never aborts.
func (n *Normalizer) NormalizeBatch(raws []model.RawRecord, segment string) []model.Lead {
	out := make([]model.Lead, 0, len(raws))
	for i, raw := range raws {
		lead, err := n.Normalize(raw, segment)
		if err != nil {
			zap.L().Debug("normalize: skipping record",
				zap.Int("index", i),
				zap.String("segment", segment),
				zap.Error(err),
			)
			continue
		}
		if lead == nil {
			continue
		}
		out = append(out, *lead)
	}
	return out
}

func displayName(doc gjson.Result) string {
	if name, ok := firstMatch(doc, nameRules); ok {
		return name
	}
	first, _ := firstMatch(doc, firstNameRules)
	last, _ := firstMatch(doc, lastNameRules)
	return strings.TrimSpace(first + " " + last)
}

func contactNumbers(doc gjson.Result) []string {
	var values []string
	for _, p := range phonePaths {
		if s, ok := extractString(doc.Get(p)); ok {
			values = append(values, s)
		}
	}
	return dedupe.NormalizePhones(values)
}
