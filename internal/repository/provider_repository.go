package repository

import (
	"context"

	"github.com/spec-kit/referral-service/internal/domain"
)

// ProviderRepository reads provider organizations.
type ProviderRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Provider, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type providerRepository struct {
	db DBTX
}

// NewProviderRepository builds the repository.
func NewProviderRepository(db DBTX) ProviderRepository {
	return &providerRepository{db: db}
}

func (r *providerRepository) GetByID(ctx context.Context, id string) (*domain.Provider, error) {
	const query = `SELECT id, name, created_at FROM providers WHERE id=$1`
	var provider domain.Provider
	if err := r.db.QueryRow(ctx, query, id).Scan(&provider.ID, &provider.Name, &provider.CreatedAt); err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *providerRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM providers WHERE id=$1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
