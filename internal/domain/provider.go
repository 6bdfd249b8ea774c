package domain

import "time"

// Provider represents an organization that receives referrals.
type Provider struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
