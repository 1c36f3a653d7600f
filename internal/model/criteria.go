package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// NotAssigned is the team-leader filter value that matches leads without any
// assigned team leader.
const NotAssigned = "Not Assigned"

// SentToLoginStatus is a pseudo-status matching any lead whose file has been
// sent to login, regardless of its current status.
const SentToLoginStatus = "Sent To Login"

// SortMode selects the final ordering of a filtered view.
type SortMode string

const (
	SortDefault       SortMode = ""
	SortIncomeHighest SortMode = "highest"
	SortIncomeLowest  SortMode = "lowest"
)

// FilterCriteria holds every active filter dimension for one pipeline pass.
// A zero value matches everything.
type FilterCriteria struct {
	Search          string     `json:"search,omitempty"`
	Statuses        []string   `json:"statuses,omitempty"`
	Teams           []string   `json:"teams,omitempty"`
	Creators        []string   `json:"creators,omitempty"`
	TeamLeaders     []string   `json:"team_leaders,omitempty"`
	LeadDateFrom    *time.Time `json:"lead_date_from,omitempty"`
	LeadDateTo      *time.Time `json:"lead_date_to,omitempty"`
	AgeFromDays     *int       `json:"age_from_days,omitempty"`
	AgeToDays       *int       `json:"age_to_days,omitempty"`
	SentToLoginFrom *time.Time `json:"sent_to_login_from,omitempty"`
	SentToLoginTo   *time.Time `json:"sent_to_login_to,omitempty"`
	IncomeFrom      *float64   `json:"income_from,omitempty"`
	IncomeTo        *float64   `json:"income_to,omitempty"`
	Sort            SortMode   `json:"sort,omitempty"`
	DuplicatesOnly  bool       `json:"duplicates_only,omitempty"`
}

// Validate rejects criteria that no caller should construct: unknown sort
// modes, negative ages and inverted ranges.
func (c FilterCriteria) Validate() error {
	switch c.Sort {
	case SortDefault, SortIncomeHighest, SortIncomeLowest:
	default:
		return eris.Errorf("criteria: unknown sort mode %q", c.Sort)
	}
	if c.AgeFromDays != nil && *c.AgeFromDays < 0 {
		return eris.New("criteria: negative age_from_days")
	}
	if c.AgeToDays != nil && *c.AgeToDays < 0 {
		return eris.New("criteria: negative age_to_days")
	}
	if c.AgeFromDays != nil && c.AgeToDays != nil && *c.AgeFromDays > *c.AgeToDays {
		return eris.New("criteria: age range inverted")
	}
	if c.IncomeFrom != nil && c.IncomeTo != nil && *c.IncomeFrom > *c.IncomeTo {
		return eris.New("criteria: income range inverted")
	}
	if c.LeadDateFrom != nil && c.LeadDateTo != nil && c.LeadDateFrom.After(*c.LeadDateTo) {
		return eris.New("criteria: lead date range inverted")
	}
	if c.SentToLoginFrom != nil && c.SentToLoginTo != nil && c.SentToLoginFrom.After(*c.SentToLoginTo) {
		return eris.New("criteria: sent-to-login date range inverted")
	}
	return nil
}

// Key returns a deterministic snapshot of the criteria. Two criteria with the
// same key produce the same pipeline output for the same input.
func (c FilterCriteria) Key() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
