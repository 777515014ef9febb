//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/pagination"
	"github.com/verity-labs/docvox/internal/testutil"
)

func setupWebsiteForDocuments(ctx context.Context, t *testing.T, websiteRepo *WebsiteRepository) *domain.Website {
	w := newTestWebsite("Docs Site", fmt.Sprintf("%s.example", uuid.NewString()))
	require.NoError(t, websiteRepo.Create(ctx, w))
	return w
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	docRepo := NewDocumentRepository(pool)
	w := setupWebsiteForDocuments(ctx, t, websiteRepo)

	doc := domain.NewDocument(uuid.NewString(), w.ID, "faq.txt", "documents/a/b", "text/plain",
		"abc123", 42, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, docRepo.Create(ctx, doc))

	retrieved, err := docRepo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, retrieved.ID)
	assert.Equal(t, domain.DocumentStatusPending, retrieved.Status)
	assert.Equal(t, "abc123", retrieved.Checksum)
	assert.Equal(t, int64(42), retrieved.SizeBytes)
}

func TestDocumentRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	docRepo := NewDocumentRepository(pool)
	w := setupWebsiteForDocuments(ctx, t, websiteRepo)

	older := domain.NewDocument(uuid.NewString(), w.ID, "a.txt", "documents/a", "text/plain", "", 1,
		time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond))
	newer := domain.NewDocument(uuid.NewString(), w.ID, "b.txt", "documents/b", "text/plain", "", 1,
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, docRepo.Create(ctx, older))
	require.NoError(t, docRepo.Create(ctx, newer))

	first, err := docRepo.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, older.ID, first[0].ID)
	assert.Equal(t, domain.DocumentStatusProcessing, first[0].Status)

	second, err := docRepo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, newer.ID, second[0].ID)

	third, err := docRepo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestDocumentRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	docRepo := NewDocumentRepository(pool)
	w := setupWebsiteForDocuments(ctx, t, websiteRepo)

	doc := domain.NewDocument(uuid.NewString(), w.ID, "a.txt", "documents/a", "text/plain", "", 1,
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, docRepo.Create(ctx, doc))

	require.NoError(t, docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, 0))
	require.NoError(t, docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusReady, 2))

	retrieved, err := docRepo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, retrieved.Status)
	assert.Equal(t, 2, retrieved.FailedChunks)

	// Terminal states never transition again.
	err = docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentState)
}

func TestDocumentRepository_UpdateStatus_SkipsProcessing(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	docRepo := NewDocumentRepository(pool)
	w := setupWebsiteForDocuments(ctx, t, websiteRepo)

	doc := domain.NewDocument(uuid.NewString(), w.ID, "a.txt", "documents/a", "text/plain", "", 1,
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, docRepo.Create(ctx, doc))

	// pending -> ready skips processing and must be rejected.
	err := docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusReady, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentState)
}

func TestDocumentRepository_ListByWebsiteWithCursor(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	docRepo := NewDocumentRepository(pool)
	w := setupWebsiteForDocuments(ctx, t, websiteRepo)
	other := setupWebsiteForDocuments(ctx, t, websiteRepo)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		doc := domain.NewDocument(uuid.NewString(), w.ID, fmt.Sprintf("doc-%d.txt", i),
			fmt.Sprintf("documents/%d", i), "text/plain", "", 1, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, docRepo.Create(ctx, doc))
	}
	foreign := domain.NewDocument(uuid.NewString(), other.ID, "other.txt", "documents/other",
		"text/plain", "", 1, base)
	require.NoError(t, docRepo.Create(ctx, foreign))

	page1, err := docRepo.ListByWebsiteWithCursor(ctx, w.ID, nil, 3)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 3)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)
	// Newest first.
	assert.Equal(t, "doc-4.txt", page1.Items[0].FileName)

	cursor, err := pagination.DecodeCursor(page1.NextCursor)
	require.NoError(t, err)

	page2, err := docRepo.ListByWebsiteWithCursor(ctx, w.ID, cursor, 3)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 2)
	assert.False(t, page2.HasMore)
	assert.Equal(t, "doc-0.txt", page2.Items[1].FileName)
}
