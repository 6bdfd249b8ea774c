package repository

import (
	"context"

	"github.com/spec-kit/referral-service/internal/domain"
)

// ProviderContactRepository is a read-only view over the contact directory.
type ProviderContactRepository interface {
	GetByID(ctx context.Context, id string) (*domain.ProviderContact, error)
	GetMembership(ctx context.Context, providerID, userID string) (*domain.ProviderContact, error)
	// FindDefaultHandlers returns every default handler of a provider, oldest first.
	FindDefaultHandlers(ctx context.Context, providerID string) ([]domain.ProviderContact, error)
	ListEmailsByProvider(ctx context.Context, providerID string) ([]string, error)
}

type providerContactRepository struct {
	db DBTX
}

// NewProviderContactRepository constructs repository.
func NewProviderContactRepository(db DBTX) ProviderContactRepository {
	return &providerContactRepository{db: db}
}

const contactColumns = `id, provider_id, user_id, email, is_default_referral_handler, provider_role, created_at`

func (r *providerContactRepository) GetByID(ctx context.Context, id string) (*domain.ProviderContact, error) {
	query := `SELECT ` + contactColumns + ` FROM provider_contacts WHERE id=$1`
	var contact domain.ProviderContact
	if err := r.db.QueryRow(ctx, query, id).Scan(contactDest(&contact)...); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *providerContactRepository) GetMembership(ctx context.Context, providerID, userID string) (*domain.ProviderContact, error) {
	query := `SELECT ` + contactColumns + ` FROM provider_contacts WHERE provider_id=$1 AND user_id=$2`
	var contact domain.ProviderContact
	if err := r.db.QueryRow(ctx, query, providerID, userID).Scan(contactDest(&contact)...); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *providerContactRepository) FindDefaultHandlers(ctx context.Context, providerID string) ([]domain.ProviderContact, error) {
	query := `SELECT ` + contactColumns + `
        FROM provider_contacts
        WHERE provider_id=$1 AND is_default_referral_handler
        ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []domain.ProviderContact
	for rows.Next() {
		var contact domain.ProviderContact
		if err := rows.Scan(contactDest(&contact)...); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

func (r *providerContactRepository) ListEmailsByProvider(ctx context.Context, providerID string) ([]string, error) {
	const query = `
        SELECT email FROM provider_contacts
        WHERE provider_id=$1 AND email <> ''
        ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func contactDest(c *domain.ProviderContact) []any {
	return []any{
		&c.ID,
		&c.ProviderID,
		&c.UserID,
		&c.Email,
		&c.IsDefaultReferralHandler,
		&c.ProviderRole,
		&c.CreatedAt,
	}
}
