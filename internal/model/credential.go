package model

import "time"

// CredentialRecord is a user's delegated calendar credential.
type CredentialRecord struct {
	UserOpenID   string    `db:"user_open_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresIn    int64     `db:"expires_in"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Expired reports whether the access token should no longer be used, with
// margin subtracted from its lifetime.
func (c *CredentialRecord) Expired(now time.Time, margin time.Duration) bool {
	expiresAt := c.UpdatedAt.Add(time.Duration(c.ExpiresIn)*time.Second - margin)
	return !now.Before(expiresAt)
}

type UpsertCredentialParams struct {
	UserOpenID   string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	IssuedAt     time.Time
}
