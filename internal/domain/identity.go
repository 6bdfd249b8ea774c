package domain

// Identity is the authenticated caller resolved by the auth middleware.
type Identity struct {
	UserID      string
	IsSiteAdmin bool
}

// ActorType classifies the identity for the audit trail.
func (i Identity) ActorType() ActorType {
	if i.IsSiteAdmin {
		return ActorTypeSiteAdmin
	}
	return ActorTypeProviderContact
}
