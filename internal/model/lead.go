package model

import (
	"encoding/json"
	"time"
)

// RawRecord is an untyped lead payload as returned by the data source. Field
// names and nesting vary between record versions, so it is kept as raw JSON
// and read through path lookups.
type RawRecord = json.RawMessage

// Category is the summary bucket a lead's status rolls up into.
type Category string

const (
	CategoryNotALead        Category = "NotALead"
	CategoryActiveLeads     Category = "ActiveLeads"
	CategoryFileSentToLogin Category = "FileSentToLogin"
	CategoryFileCompleted   Category = "FileCompleted"
	CategoryLostByMistake   Category = "LostByMistake"
	CategoryLostLead        Category = "LostLead"
)

// Categories lists every category in dashboard counter order.
var Categories = []Category{
	CategoryNotALead,
	CategoryActiveLeads,
	CategoryFileSentToLogin,
	CategoryFileCompleted,
	CategoryLostByMistake,
	CategoryLostLead,
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Lead is the canonical shape of a lead after normalization.
type Lead struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	ContactNumbers []string   `json:"contact_numbers"`
	Email          string     `json:"email,omitempty"`
	PANNumber      string     `json:"pan_number,omitempty"`
	City           string     `json:"city,omitempty"`
	Status         string     `json:"status"`
	SubStatus      *string    `json:"sub_status,omitempty"`
	Category       Category   `json:"category"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      string     `json:"created_by,omitempty"`
	Team           string     `json:"team,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	TeamLeaders    []string   `json:"team_leaders"`
	TotalIncome    *float64   `json:"total_income,omitempty"`
	LoanAmount     float64    `json:"loan_amount,omitempty"`
	Segment        string     `json:"segment"`
	SentToLogin    bool       `json:"sent_to_login"`
	SentToLoginAt  *time.Time `json:"sent_to_login_at,omitempty"`
	Raw            RawRecord  `json:"raw,omitempty"`
}

// SubStatusValue returns the sub-status or "" when unset.
func (l Lead) SubStatusValue() string {
	if l.SubStatus == nil {
		return ""
	}
	return *l.SubStatus
}

// Income returns the total income, treating a missing value as zero.
func (l Lead) Income() float64 {
	if l.TotalIncome == nil {
		return 0
	}
	return *l.TotalIncome
}

// CacheEntry is one segment's cached lead snapshot.
type CacheEntry struct {
	Segment   string    `json:"segment"`
	Leads     []Lead    `json:"leads"`
	FetchedAt time.Time `json:"fetched_at"`
}

// StatusNode is a main status and the sub-statuses nested under it.
type StatusNode struct {
	Name        string   `json:"name" yaml:"name"`
	SubStatuses []string `json:"sub_statuses" yaml:"sub_statuses"`
}
