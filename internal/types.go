package internal

import "time"

type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Destination is a long URL shared by every binding that points at it.
type Destination struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	VisitCount int64     `json:"visit_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Binding ties a short code owned by an account to a destination.
type Binding struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	AccountID      int64      `json:"account_id"`
	DestinationID  int64      `json:"destination_id"`
	DestinationURL string     `json:"destination_url"`
	Active         bool       `json:"active"`
	Deleted        bool       `json:"deleted"`
	VisitCount     int64      `json:"visit_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastVisitedAt  *time.Time `json:"last_visited_at,omitempty"`
}

type Visit struct {
	ID        int64     `json:"id"`
	BindingID int64     `json:"binding_id"`
	IPAddress string    `json:"ip_address"`
	Browser   string    `json:"browser"`
	Platform  string    `json:"platform"`
	VisitedAt time.Time `json:"visited_at"`
}

type VisitStats struct {
	Total         int64      `json:"total"`
	LastVisitedAt *time.Time `json:"last_visited_at"`
}

// VisitMeta is the request metadata recorded for a redirect.
type VisitMeta struct {
	IPAddress string
	UserAgent string
}

// Summary is one row of a popularity or date ranking. URL holds the short
// code for binding rankings and the long URL for destination rankings.
type Summary struct {
	URL        string    `json:"url"`
	VisitCount int64     `json:"visit_count"`
	CreatedAt  time.Time `json:"created_at"`
}
