// Package normalize holds the canonicalization rules shared by the request
// store and the vehicle status engine: request status codes and vehicle
// plate numbers. Both are pure string transforms with no storage coupling.
package normalize

import "strings"

// Canonical request status codes. Every stored request carries exactly one
// of these in its "status" field.
const (
	StatusPriority = "priority"
	StatusActive   = "active"
	StatusCurrent  = "current"
	StatusClosed   = "closed"
	StatusDone     = "done"
)

// statusHints maps a canonical code to the substrings that select it.
// Hints cover English, Russian and Georgian spellings as they appear in
// client input. Order matters: the first matching group wins.
var statusHints = []struct {
	code  string
	hints []string
}{
	{StatusPriority, []string{"prior", "приор", "პრიო"}},
	{StatusCurrent, []string{"current", "текущ", "მიმდინ"}},
	{StatusClosed, []string{"closed", "закрыт", "დახურ"}},
	{StatusDone, []string{"done", "cancel", "отмен", "გაუქმ"}},
	{StatusActive, []string{"active", "актив", "აქტიურ"}},
}

// RequestStatus maps an arbitrary localized status string to a canonical
// code. Exact codes pass through; anything else is classified by substring
// heuristics over three languages. Unrecognized or empty input yields
// StatusActive.
func RequestStatus(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return StatusActive
	}
	switch s {
	case StatusPriority, StatusActive, StatusCurrent, StatusClosed, StatusDone:
		return s
	}
	for _, g := range statusHints {
		for _, h := range g.hints {
			if strings.Contains(s, h) {
				return g.code
			}
		}
	}
	return StatusActive
}

// VehicleNumber normalizes a vehicle/plate number for stable deduplication:
// trim, collapse internal whitespace runs to a single space, uppercase.
// All set membership and uniqueness checks over plates use this form.
func VehicleNumber(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), " "))
}
