package repository

import (
	"context"
	"testing"
	"time"

	"waster/internal/models"
	"waster/internal/testutil"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	return NewStore(testutil.NewSQLiteDB(t))
}

func createPost(t *testing.T, s Store, owner string) *models.Post {
	t.Helper()
	post := &models.Post{
		OwnerID:  owner,
		Title:    "Fresh bread",
		Quantity: "4",
		Unit:     "kg",
		Status:   models.PostAvailable,
		IsValid:  true,
	}
	require.NoError(t, s.Posts().Create(context.Background(), post))
	return post
}

func createClaim(t *testing.T, s Store, post *models.Post, recipient string, status models.ClaimStatus) *models.Claim {
	t.Helper()
	claim := &models.Claim{
		PostID:      post.ID,
		OwnerID:     post.OwnerID,
		RecipientID: recipient,
		Status:      status,
		ClaimedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.Claims().Create(context.Background(), claim))
	return claim
}
