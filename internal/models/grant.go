package models

import "time"

// Grant records that a requester holds a live credential on a node until ValidUntil.
// Grants are never updated; they are created after delivery and deleted by the sweep.
type Grant struct {
	CredentialID string    `json:"credential_id"`
	ServerID     int       `json:"server_id"`
	RequesterID  int64     `json:"requester_id"`
	PlanID       int       `json:"plan_id"`
	ValidUntil   time.Time `json:"valid_until"`

	// Denormalized from the servers table
	ServerAlias    string `json:"server_alias"`
	ServerAddress  string `json:"server_address"`
	ServerLocation string `json:"server_location"`
}

// Expired reports whether the grant is due for revocation at now
func (g *Grant) Expired(now time.Time) bool {
	return !g.ValidUntil.After(now)
}

// ExpiryAfter adds whole calendar months to start. A day past the end of the
// target month is clamped to its last day, so Jan 31 + 1 month is Feb 28 (or 29).
func ExpiryAfter(start time.Time, months int) time.Time {
	y, m, d := start.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, start.Location())
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), start.Location()); d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d,
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
