package taxonomy

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/category"
	"github.com/sells-group/lead-engine/internal/model"
)

// Apply writes a resolved main/sub-status pair onto a lead using the
// embedded category table.
func Apply(l model.Lead, main, sub string, now time.Time) model.Lead {
	return ApplyWith(category.Default(), l, main, sub, now)
}

// ApplyWith writes a resolved main/sub-status pair onto a lead, categorizing
// with table. A login-stage pair also marks the file as sent to login. A
// lead leaving NotALead gets a fresh creation time, since such records are
// only counted as created once they become real leads.
func ApplyWith(table *category.Table, l model.Lead, main, sub string, now time.Time) model.Lead {
	if table == nil {
		table = category.Default()
	}
	prev := l.Category
	if !prev.Valid() {
		prev = table.Categorize(l.Status, l.SubStatusValue())
	}

	l.Status = main
	if sub == "" {
		l.SubStatus = nil
	} else {
		s := sub
		l.SubStatus = &s
	}
	l.Category = table.Categorize(main, sub)

	if table.IsLoginStage(main, sub) {
		l.SentToLogin = true
		if l.SentToLoginAt == nil {
			at := now
			l.SentToLoginAt = &at
		}
	}
	if prev == model.CategoryNotALead && l.Category != model.CategoryNotALead {
		l.CreatedAt = now
	}

	l.Raw = patchRaw(l, now)
	return l
}

// patchRaw mirrors the applied status onto the retained raw record so it
// does not contradict the canonical fields.
func patchRaw(l model.Lead, now time.Time) model.RawRecord {
	if len(l.Raw) == 0 || !gjson.ValidBytes(l.Raw) {
		return l.Raw
	}
	raw := []byte(l.Raw)
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		raw, err = sjson.SetBytes(raw, path, v)
	}
	set("status", l.Status)
	if l.SubStatus != nil {
		set("sub_status", *l.SubStatus)
	} else if err == nil {
		raw, err = sjson.DeleteBytes(raw, "sub_status")
	}
	if l.SentToLogin {
		set("file_sent_to_login", true)
	}
	set("status_updated_at", now.UTC().Format(time.RFC3339))
	if err != nil {
		zap.L().Debug("taxonomy: patch raw record failed", zap.String("lead_id", l.ID), zap.Error(err))
		return l.Raw
	}
	return raw
}
