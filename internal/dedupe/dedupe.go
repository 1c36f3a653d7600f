// Package dedupe finds leads that share a contact number.
package dedupe

import (
	"sort"
	"strings"

	"github.com/sells-group/lead-engine/internal/model"
)

// PhoneLength is the number of trailing digits that identify a phone number.
const PhoneLength = 10

// MaxPhoneFields caps how many phone-like values per lead are considered.
const MaxPhoneFields = 3

// NormalizePhone strips everything but digits and keeps the rightmost ten.
// Values with fewer than ten digits are invalid.
func NormalizePhone(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < PhoneLength {
		return "", false
	}
	return digits[len(digits)-PhoneLength:], true
}

// NormalizePhones keeps the first MaxPhoneFields valid values, dropping
// duplicates while keeping first-seen order. Invalid values do not use up a
// slot.
func NormalizePhones(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	considered := 0
	for _, v := range values {
		p, ok := NormalizePhone(v)
		if !ok {
			continue
		}
		if considered == MaxPhoneFields {
			break
		}
		considered++
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Keys returns a lead's distinct normalized numbers.
func Keys(l model.Lead) []string {
	return NormalizePhones(l.ContactNumbers)
}

// Index maps each normalized number to the positions of the leads carrying
// it. A lead appears at most once per number.
func Index(leads []model.Lead) map[string][]int {
	idx := make(map[string][]int)
	for i, l := range leads {
		for _, k := range Keys(l) {
			idx[k] = append(idx[k], i)
		}
	}
	return idx
}

// DuplicateKeys returns numbers shared by more than one distinct record.
// Copies of the same record (same id) do not count against each other.
func DuplicateKeys(leads []model.Lead) map[string]struct{} {
	out := make(map[string]struct{})
	for number, positions := range Index(leads) {
		if distinctRecords(leads, positions) > 1 {
			out[number] = struct{}{}
		}
	}
	return out
}

// DuplicatesOnly returns exactly the leads holding at least one duplicate
// number, in input order. With no duplicate numbers the result is empty.
func DuplicatesOnly(leads []model.Lead) []model.Lead {
	dups := DuplicateKeys(leads)
	out := make([]model.Lead, 0)
	if len(dups) == 0 {
		return out
	}
	for _, l := range leads {
		for _, k := range Keys(l) {
			if _, ok := dups[k]; ok {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// Group is a set of leads sharing one number.
type Group struct {
	Number string       `json:"number"`
	Leads  []model.Lead `json:"leads"`
}

// Groups lists every duplicate number with the leads that share it, largest
// groups first and then by number.
func Groups(leads []model.Lead) []Group {
	idx := Index(leads)
	var groups []Group
	for number, positions := range idx {
		if distinctRecords(leads, positions) < 2 {
			continue
		}
		g := Group{Number: number, Leads: make([]model.Lead, 0, len(positions))}
		for _, p := range positions {
			g.Leads = append(g.Leads, leads[p])
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Leads) != len(groups[j].Leads) {
			return len(groups[i].Leads) > len(groups[j].Leads)
		}
		return groups[i].Number < groups[j].Number
	})
	return groups
}

func distinctRecords(leads []model.Lead, positions []int) int {
	if len(positions) < 2 {
		return len(positions)
	}
	ids := make(map[string]struct{}, len(positions))
	anon := 0
	for _, p := range positions {
		id := leads[p].ID
		if id == "" {
			anon++
			continue
		}
		ids[id] = struct{}{}
	}
	return len(ids) + anon
}
