package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verity-labs/docvox/internal/domain"
)

type WebsiteRepository struct {
	db dbtx
}

func NewWebsiteRepository(pool *pgxpool.Pool) *WebsiteRepository {
	return &WebsiteRepository{db: pool}
}

func NewWebsiteRepositoryWithTx(tx pgx.Tx) *WebsiteRepository {
	return &WebsiteRepository{db: tx}
}

func (r *WebsiteRepository) Create(ctx context.Context, w *domain.Website) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO websites (id, name, domain, public_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.Name, w.Domain, w.PublicKey, w.CreatedAt,
	)
	return err
}

func (r *WebsiteRepository) GetByID(ctx context.Context, id string) (*domain.Website, error) {
	var w domain.Website
	err := r.db.QueryRow(ctx,
		`SELECT id, name, domain, public_key, created_at
		 FROM websites WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.Name, &w.Domain, &w.PublicKey, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebsiteNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WebsiteRepository) GetByPublicKey(ctx context.Context, publicKey string) (*domain.Website, error) {
	var w domain.Website
	err := r.db.QueryRow(ctx,
		`SELECT id, name, domain, public_key, created_at
		 FROM websites WHERE public_key = $1`,
		publicKey,
	).Scan(&w.ID, &w.Name, &w.Domain, &w.PublicKey, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebsiteNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WebsiteRepository) List(ctx context.Context) ([]*domain.Website, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, domain, public_key, created_at
		 FROM websites ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Website
	for rows.Next() {
		var w domain.Website
		if err := rows.Scan(&w.ID, &w.Name, &w.Domain, &w.PublicKey, &w.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &w)
	}
	return results, rows.Err()
}

// Delete removes a website. Documents, chunks, chats, and messages cascade
// at the database level.
func (r *WebsiteRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM websites WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebsiteNotFound
	}
	return nil
}
