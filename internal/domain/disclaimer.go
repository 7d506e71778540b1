package domain

import "time"

// DisclaimerVersion is one published revision of the informational notice.
// Only one version is current at a time; older versions are kept so that
// acceptances remain meaningful.
type DisclaimerVersion struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Text      string    `json:"text"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

// DisclaimerAcceptance records that a user accepted a specific disclaimer
// version. One row per (user, version).
type DisclaimerAcceptance struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id"`
	Version    int       `json:"version"`
	AcceptedAt time.Time `json:"accepted_at"`
}
