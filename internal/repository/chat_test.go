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
	"github.com/verity-labs/docvox/internal/testutil"
)

func setupWebsiteForChats(ctx context.Context, t *testing.T, websiteRepo *WebsiteRepository) *domain.Website {
	w := newTestWebsite("Chat Site", uuid.NewString()+".example")
	require.NoError(t, websiteRepo.Create(ctx, w))
	return w
}

func TestChatRepository_GetOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	chatRepo := NewChatRepository(pool)
	w := setupWebsiteForChats(ctx, t, websiteRepo)

	first, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "")
	require.NoError(t, err)

	second, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestChatRepository_GetOrCreate_BackfillsVisitor(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	chatRepo := NewChatRepository(pool)
	w := setupWebsiteForChats(ctx, t, websiteRepo)

	anon, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "")
	require.NoError(t, err)
	assert.Empty(t, anon.VisitorID)

	identified, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "vis-42")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, identified.ID)
	assert.Equal(t, "vis-42", identified.VisitorID)

	// An already-set visitor is not overwritten.
	again, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "vis-99")
	require.NoError(t, err)
	assert.Equal(t, "vis-42", again.VisitorID)
}

func TestChatRepository_GetOrCreate_ScopedToWebsite(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	chatRepo := NewChatRepository(pool)
	wA := setupWebsiteForChats(ctx, t, websiteRepo)
	wB := setupWebsiteForChats(ctx, t, websiteRepo)

	chatA, err := chatRepo.GetOrCreate(ctx, wA.ID, "sess-1", "")
	require.NoError(t, err)
	chatB, err := chatRepo.GetOrCreate(ctx, wB.ID, "sess-1", "")
	require.NoError(t, err)

	assert.NotEqual(t, chatA.ID, chatB.ID)
}

func TestChatRepository_AppendAndRecentMessages(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	chatRepo := NewChatRepository(pool)
	w := setupWebsiteForChats(ctx, t, websiteRepo)

	chat, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "")
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Microsecond)
	roles := []domain.MessageRole{
		domain.MessageRoleUser, domain.MessageRoleAssistant,
		domain.MessageRoleSystem,
		domain.MessageRoleUser, domain.MessageRoleAssistant,
	}
	for i, role := range roles {
		require.NoError(t, chatRepo.AppendMessage(ctx, &domain.Message{
			ID:        uuid.NewString(),
			ChatID:    chat.ID,
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	messages, err := chatRepo.RecentMessages(ctx, chat.ID, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// System rows are excluded, the rest come back oldest first.
	assert.Equal(t, "message 1", messages[0].Content)
	assert.Equal(t, "message 3", messages[1].Content)
	assert.Equal(t, "message 4", messages[2].Content)
}

func TestChatRepository_AppendMessage_RejectsInvalidRole(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	websiteRepo := NewWebsiteRepository(pool)
	chatRepo := NewChatRepository(pool)
	w := setupWebsiteForChats(ctx, t, websiteRepo)

	chat, err := chatRepo.GetOrCreate(ctx, w.ID, "sess-1", "")
	require.NoError(t, err)

	err = chatRepo.AppendMessage(ctx, &domain.Message{
		ID:      uuid.NewString(),
		ChatID:  chat.ID,
		Role:    "robot",
		Content: "beep",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMessageRole)
}
