// Package model defines the core domain models used throughout the application.
package model

import (
	"strings"
	"time"
)

// Direction indicates whether money left or entered the account.
type Direction string

// Direction constants.
const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Record is a single transaction row as consumed by the scoring components.
// Empty strings mean the field was absent.
type Record struct {
	ID          string    `json:"id,omitempty"`
	Merchant    string    `json:"merchant,omitempty"`
	Description string    `json:"description,omitempty"`
	Direction   Direction `json:"direction"`
	Date        string    `json:"date,omitempty"`
	Category    string    `json:"category,omitempty"`
	Amount      float64   `json:"amount"`
}

// IsCredit reports whether the record is an incoming transaction.
func (r Record) IsCredit() bool {
	return strings.EqualFold(string(r.Direction), string(DirectionCredit))
}

// IsDebit reports whether the record is outgoing. A missing direction counts as a debit.
func (r Record) IsDebit() bool {
	return r.Direction == "" || strings.EqualFold(string(r.Direction), string(DirectionDebit))
}

// Text joins the merchant and description fields, skipping whichever is missing.
func (r Record) Text() string {
	parts := make([]string, 0, 2)
	if r.Merchant != "" {
		parts = append(parts, r.Merchant)
	}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	return strings.Join(parts, " ")
}

// ParsedDate returns the record date, or false when it is absent or unparseable.
func (r Record) ParsedDate() (time.Time, bool) {
	return ParseDate(r.Date)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date or timestamp. Offsets are kept so that
// calendar fields reflect the date as written.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
