package service

import (
	"context"
	"testing"

	"waster/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.GetProfile(ctx, alice)
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	user, err := env.users.UpdateProfile(ctx, UpdateProfileInput{
		UserID:      alice,
		FullName:    "Alice",
		Email:       " alice@example.org ",
		PhoneNumber: "555-0100",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", user.Email)
	assert.False(t, user.HasContactDetails())

	user, err = env.users.UpdateProfile(ctx, UpdateProfileInput{
		UserID:      alice,
		FullName:    "Alice",
		PhoneNumber: "555-0100",
		Address:     "2 Side St",
	})
	require.NoError(t, err)
	assert.True(t, user.HasContactDetails())
	assert.Empty(t, user.Email)

	_, err = env.users.UpdateProfile(ctx, UpdateProfileInput{UserID: alice, Email: "nope"})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = env.users.UpdateProfile(ctx, UpdateProfileInput{})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}
