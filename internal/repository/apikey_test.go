//go:build integration

package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/testutil"
)

func newTestAPIKey(websiteID, name string) *domain.APIKey {
	return domain.NewAPIKey(uuid.NewString(), websiteID, name, uuid.NewString()+uuid.NewString(),
		time.Now().UTC().Truncate(time.Microsecond))
}

func TestAPIKeyRepository_CreateAndGetByHash(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	website := newTestWebsite("Acme", "acme.example")
	require.NoError(t, NewWebsiteRepository(pool).Create(ctx, website))

	repo := NewAPIKeyRepository(pool)
	key := newTestAPIKey(website.ID, "ops")
	require.NoError(t, repo.Create(ctx, key))

	retrieved, err := repo.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, retrieved.ID)
	assert.Equal(t, website.ID, retrieved.WebsiteID)
	assert.False(t, retrieved.IsRevoked())
}

func TestAPIKeyRepository_GetByHash_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewAPIKeyRepository(pool)
	_, err := repo.GetByHash(ctx, strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_Revoke(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	website := newTestWebsite("Acme", "acme.example")
	require.NoError(t, NewWebsiteRepository(pool).Create(ctx, website))

	repo := NewAPIKeyRepository(pool)
	key := newTestAPIKey(website.ID, "ops")
	require.NoError(t, repo.Create(ctx, key))

	require.NoError(t, repo.Revoke(ctx, key.ID))

	retrieved, err := repo.GetByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.True(t, retrieved.IsRevoked())

	// Revoking an already revoked key reports not found.
	assert.ErrorIs(t, repo.Revoke(ctx, key.ID), domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_ListByWebsite(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	acme := newTestWebsite("Acme", "acme.example")
	other := newTestWebsite("Other", "other.example")
	require.NoError(t, websiteRepo.Create(ctx, acme))
	require.NoError(t, websiteRepo.Create(ctx, other))

	repo := NewAPIKeyRepository(pool)
	require.NoError(t, repo.Create(ctx, newTestAPIKey(acme.ID, "first")))
	require.NoError(t, repo.Create(ctx, newTestAPIKey(acme.ID, "second")))
	require.NoError(t, repo.Create(ctx, newTestAPIKey(other.ID, "theirs")))

	keys, err := repo.ListByWebsite(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, key := range keys {
		assert.Equal(t, acme.ID, key.WebsiteID)
	}
}

func TestAPIKeyRepository_CascadeOnWebsiteDelete(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	website := newTestWebsite("Acme", "acme.example")
	require.NoError(t, websiteRepo.Create(ctx, website))

	repo := NewAPIKeyRepository(pool)
	key := newTestAPIKey(website.ID, "ops")
	require.NoError(t, repo.Create(ctx, key))

	require.NoError(t, websiteRepo.Delete(ctx, website.ID))

	_, err := repo.GetByHash(ctx, key.KeyHash)
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}
