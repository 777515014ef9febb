package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/pagination"
	"github.com/verity-labs/docvox/internal/service"
)

const documentColumns = `id, website_id, file_name, storage_path, mime_type, status, checksum, size_bytes, failed_chunks, created_at, updated_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.WebsiteID, d.FileName, d.StoragePath, d.MimeType, d.Status,
		d.Checksum, d.SizeBytes, d.FailedChunks, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) ListByWebsiteWithCursor(ctx context.Context, websiteID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE website_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			websiteID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM documents
			 WHERE website_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			websiteID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanDocumentRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.CreatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ClaimPending atomically claims up to limit pending documents, moving them
// to processing. SKIP LOCKED keeps concurrent workers from claiming the same
// rows.
func (r *DocumentRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := r.db.Query(ctx,
		`UPDATE documents
		 SET status = $1, updated_at = $2
		 WHERE id IN (
			SELECT id FROM documents
			WHERE status = $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+documentColumns,
		domain.DocumentStatusProcessing, time.Now().UTC(), domain.DocumentStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// UpdateStatus records a lifecycle transition. The guard in the WHERE clause
// enforces the monotonic lifecycle at the database level.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, failedChunks int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET status = $1, failed_chunks = $2, updated_at = $3
		 WHERE id = $4
		   AND ((status = $5 AND $1 = $6) OR (status = $6 AND $1 IN ($7, $8)))`,
		status, failedChunks, time.Now().UTC(), id,
		domain.DocumentStatusPending, domain.DocumentStatusProcessing,
		domain.DocumentStatusReady, domain.DocumentStatusFailed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if !existing.CanTransitionTo(status) {
			return domain.ErrInvalidDocumentState
		}
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	err := row.Scan(&d.ID, &d.WebsiteID, &d.FileName, &d.StoragePath, &d.MimeType,
		&d.Status, &d.Checksum, &d.SizeBytes, &d.FailedChunks, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var results []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
