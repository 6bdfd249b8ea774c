package domain

import "time"

// ProviderRole enumerates a contact's role within their provider.
type ProviderRole string

const (
	ProviderRoleAdmin ProviderRole = "admin"
	ProviderRoleUser  ProviderRole = "user"
)

// ProviderContact links a platform user to a provider organization.
type ProviderContact struct {
	ID                       string
	ProviderID               string
	UserID                   string
	Email                    string
	IsDefaultReferralHandler bool
	ProviderRole             ProviderRole
	CreatedAt                time.Time
}
