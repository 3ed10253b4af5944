package repository

import (
	"context"
	"testing"
	"time"

	"waster/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPostRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	post := createPost(t, s, "owner-1")
	assert.NotEqual(t, uuid.Nil, post.ID)
	assert.Equal(t, int64(1), post.Version)

	got, err := s.Posts().GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fresh bread", got.Title)
	assert.Equal(t, models.PostAvailable, got.Status)

	_, err = s.Posts().GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPostRepository_UpdateStatus_VersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	post := createPost(t, s, "owner-1")

	stale := *post

	require.NoError(t, s.Posts().UpdateStatus(ctx, post, models.PostReserved))
	assert.Equal(t, int64(2), post.Version)
	assert.Equal(t, models.PostReserved, post.Status)

	err := s.Posts().UpdateStatus(ctx, &stale, models.PostCompleted)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.True(t, IsConcurrencyError(err))

	got, err := s.Posts().GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostReserved, got.Status)
}

func TestPostRepository_SoftDeleteAndLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	kept := createPost(t, s, "owner-1")
	deleted := createPost(t, s, "owner-1")
	other := createPost(t, s, "owner-2")

	expired := &models.Post{
		OwnerID: "owner-2", Title: "Old soup", Quantity: "1", Unit: "kg",
		Status: models.PostAvailable, IsValid: true,
	}
	past := now.Add(-time.Hour)
	expired.ExpiresOn = &past
	require.NoError(t, s.Posts().Create(ctx, expired))

	hidden := createPost(t, s, "owner-2")
	require.NoError(t, s.Posts().UpdateFields(ctx, hidden, map[string]interface{}{"is_valid": false}))

	require.NoError(t, s.Posts().SoftDelete(ctx, deleted))
	assert.True(t, deleted.IsDeleted)

	mine, err := s.Posts().ListByOwner(ctx, "owner-1", Page{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, kept.ID, mine[0].ID)

	available, err := s.Posts().ListAvailable(ctx, now, Page{Limit: 10})
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(available))
	for _, p := range available {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{kept.ID, other.ID}, ids)

	count, err := s.Posts().CountAvailableByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	owners, err := s.Posts().ListOwnerIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner-1", "owner-2"}, owners)

	byID, err := s.Posts().GetByIDs(ctx, []uuid.UUID{kept.ID, other.ID})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
}

func TestPostRepository_ListCompletedIncludesDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	post := createPost(t, s, "owner-1")
	require.NoError(t, s.Posts().UpdateStatus(ctx, post, models.PostCompleted))
	require.NoError(t, s.Posts().SoftDelete(ctx, post))

	completed, err := s.Posts().ListCompletedByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}
