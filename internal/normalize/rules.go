package normalize

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
)

// rule is one candidate source for a canonical field. Rules for a field are
// evaluated in order and the first one whose extract reports ok wins.
type rule[T any] struct {
	path    string
	extract func(gjson.Result) (T, bool)
}

func firstMatch[T any](doc gjson.Result, rules []rule[T]) (T, bool) {
	var zero T
	for _, r := range rules {
		v := doc.Get(r.path)
		if !v.Exists() {
			continue
		}
		if out, ok := r.extract(v); ok {
			return out, true
		}
	}
	return zero, false
}

func rulesFor[T any](extract func(gjson.Result) (T, bool), paths ...string) []rule[T] {
	out := make([]rule[T], len(paths))
	for i, p := range paths {
		out[i] = rule[T]{path: p, extract: extract}
	}
	return out
}

// incomeRules lists income sources from highest to lowest priority.
var incomeRules = rulesFor(extractIncome,
	"totalIncome",
	"total_income",
	"financial_details.monthly_income",
	"financial_details.total_income",
	"eligibility_details.totalIncome",
	"eligibility_details.total_income",
	"eligibility_details.obligation_data.total_income",
	"obligation_data.total_income",
	"salary",
	"monthly_income",
	"income",
)

// incomeSubKeys are consulted when an income source resolves to an object.
var incomeSubKeys = []string{"totalIncome", "total_income", "amount", "value", "monthly"}

// nameKeys are the properties that carry a person's name inside an object.
var nameKeys = []string{"name", "full_name", "fullName", "username", "user_name", "label"}

var (
	idRules          = rulesFor(extractString, "_id", "id", "lead_id", "leadId")
	nameRules        = rulesFor(extractString, "name", "full_name", "customer_name", "personal_details.full_name", "personal_details.name")
	firstNameRules   = rulesFor(extractString, "first_name", "personal_details.first_name")
	lastNameRules    = rulesFor(extractString, "last_name", "personal_details.last_name")
	emailRules       = rulesFor(extractString, "email", "personal_details.email")
	panRules         = rulesFor(extractString, "pan_number", "pan", "personal_details.pan_number")
	cityRules        = rulesFor(extractString, "city", "personal_details.city", "address.city")
	statusRules      = rulesFor(extractString, "status", "main_status")
	subStatusRules   = rulesFor(extractString, "sub_status", "subStatus")
	segmentRules     = rulesFor(extractString, segmentPaths...)
	createdAtRules   = rulesFor(extractTime, "created_at", "createdAt", "created_date", "lead_date")
	createdByRules   = rulesFor(extractPerson, "created_by", "createdBy", "created_by_name")
	teamRules        = rulesFor(extractPerson, "team_name", "team", "department_name")
	assignedToRules  = rulesFor(extractPerson, "assigned_to", "assigned_user", "assignedTo")
	loanAmountRules  = rulesFor(extractNumber, "loan_amount", "loan_required", "financial_details.loan_amount")
	sentToLoginRules = rulesFor(extractBool, "file_sent_to_login", "sent_to_login", "is_file_sent_to_login")
	loginDateRules   = rulesFor(extractTime, "file_sent_to_login_date", "login_date", "sent_to_login_at")
	deletedRules     = rulesFor(extractBool, "is_deleted", "deleted", "isDeleted")
)

// segmentPaths carry the record's loan type. Ids come before names, the same
// precedence the loan-type listing uses.
var segmentPaths = []string{"loan_type_id", "loanTypeId", "loan_type", "loanType"}

// phonePaths are the phone-like fields of a record, in priority order.
var phonePaths = []string{
	"mobile",
	"phone",
	"mobile_number",
	"alternative_phone",
	"alternate_mobile",
	"personal_details.mobile",
}

// teamLeaderPaths are the fields that may carry team-leader assignments.
var teamLeaderPaths = []string{
	"assigned_tl",
	"assigned_tls",
	"team_leaders",
	"assignedTL",
	"tl_name",
}

func extractString(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String, gjson.Number:
		s := strings.TrimSpace(v.String())
		return s, s != ""
	}
	return "", false
}

// extractPerson accepts a plain string or an object carrying a name key.
func extractPerson(v gjson.Result) (string, bool) {
	if v.IsObject() {
		return nameOf(v)
	}
	if v.IsArray() {
		for _, e := range v.Array() {
			if s, ok := extractPerson(e); ok {
				return s, true
			}
		}
		return "", false
	}
	return extractString(v)
}

func nameOf(obj gjson.Result) (string, bool) {
	for _, k := range nameKeys {
		if s, ok := extractString(obj.Get(k)); ok {
			return s, true
		}
	}
	return "", false
}

func extractBool(v gjson.Result) (bool, bool) {
	switch v.Type {
	case gjson.True, gjson.False, gjson.Number:
		return v.Bool(), true
	case gjson.String:
		s := strings.ToLower(strings.TrimSpace(v.Str))
		switch s {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// extractIncome resolves an income value. Any defined, non-null, non-empty
// value matches; values that cannot be parsed count as zero.
func extractIncome(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Null:
		return 0, false
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return 0, false
		}
		return parseDigits(v.Str), true
	case gjson.True, gjson.False:
		return 0, true
	}
	if v.IsObject() {
		if len(v.Map()) == 0 {
			return 0, false
		}
		for _, k := range incomeSubKeys {
			sub := v.Get(k)
			if !sub.Exists() {
				continue
			}
			if n, ok := extractIncome(sub); ok {
				return n, true
			}
		}
		return 0, true
	}
	if v.IsArray() {
		if len(v.Array()) == 0 {
			return 0, false
		}
		return 0, true
	}
	return 0, false
}

func extractNumber(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return 0, false
		}
		return parseDigits(v.Str), true
	}
	return 0, false
}

// parseDigits keeps digits and the first decimal point followed by a digit,
// then parses. A dot right after a letter, as in "Rs.500", is punctuation.
// Anything unparsable is zero.
func parseDigits(s string) float64 {
	runes := []rune(s)
	var b strings.Builder
	dot := false
	for i, r := range runes {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !dot && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			if b.Len() == 0 && i > 0 && unicode.IsLetter(runes[i-1]) {
				continue
			}
			dot = true
			b.WriteRune(r)
		}
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return n
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
}

func extractTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return fromEpoch(v.Int()), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds or milliseconds.
func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
