package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"waster/internal/lifecycle"
	"waster/internal/models"
	"waster/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    = "owner-1"
	alice    = "recipient-a"
	bob      = "recipient-b"
	stranger = "stranger"
)

func TestClaimLifecycle_Scenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "5", "kg")

	// Scenario 1
	claimA := env.claim(t, post.ID, alice)
	assert.Equal(t, models.ClaimPending, claimA.Status)
	assert.Equal(t, owner, claimA.OwnerID)
	assert.Equal(t, models.PostAvailable, env.postStatus(t, post.ID))

	// Scenario 2
	claimB := env.claim(t, post.ID, bob)
	assert.Equal(t, models.ClaimPending, claimB.Status)
	assert.Equal(t, models.PostAvailable, env.postStatus(t, post.ID))

	// Scenario 3
	approved, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimApproved, approved.Status)
	assert.Equal(t, models.ClaimRejected, env.claimStatus(t, claimB.ID))
	assert.Equal(t, models.PostReserved, env.postStatus(t, post.ID))

	// Scenario 4
	completed, err := env.claims.CompleteClaim(ctx, claimA.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimCompleted, completed.Status)
	assert.Equal(t, models.PostCompleted, env.postStatus(t, post.ID))

	ownerStats := env.statsOf(t, owner)
	assert.InDelta(t, 5.0, ownerStats.MealsServedKG, 1e-9)
	assert.Equal(t, int64(1), ownerStats.TotalDonations)
	assert.Equal(t, int64(0), ownerStats.AvailablePosts)

	aliceStats := env.statsOf(t, alice)
	assert.InDelta(t, 5.0, aliceStats.MealsServedKG, 1e-9)
	assert.Equal(t, int64(0), aliceStats.PendingClaims)
	assert.Equal(t, int64(1), aliceStats.TotalClaims)

	bobStats := env.statsOf(t, bob)
	assert.Equal(t, int64(0), bobStats.PendingClaims)
	assert.Equal(t, int64(1), bobStats.TotalClaims)

	env.requireInvariants(t, post.ID)
	env.requireNoDrift(t, owner, alice, bob)
}

func TestCancelClaim_PendingReturnsPostToAvailable(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, owner, "2", "kg")
	claimA := env.claim(t, post.ID, alice)
	require.Equal(t, int64(1), env.statsOf(t, alice).PendingClaims)

	// Scenario 5
	cancelled, err := env.claims.CancelClaim(context.Background(), claimA.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimCancelled, cancelled.Status)
	assert.Equal(t, models.PostAvailable, env.postStatus(t, post.ID))
	assert.Equal(t, int64(0), env.statsOf(t, alice).PendingClaims)
	assert.Equal(t, int64(1), env.statsOf(t, owner).AvailablePosts)

	env.requireNoDrift(t, owner, alice)
}

func TestCancelClaim_ApprovedReopensPost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "2", "kg")
	claimA := env.claim(t, post.ID, alice)
	_, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.statsOf(t, owner).AvailablePosts)

	_, err = env.claims.CancelClaim(ctx, claimA.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.PostAvailable, env.postStatus(t, post.ID))
	assert.Equal(t, int64(1), env.statsOf(t, owner).AvailablePosts)

	// the recipient may claim again once the first claim is terminal
	again := env.claim(t, post.ID, alice)
	assert.Equal(t, models.ClaimPending, again.Status)

	env.requireInvariants(t, post.ID)
	env.requireNoDrift(t, owner, alice)
}

func TestCompleteClaim_ByStrangerIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "3", "kg")
	claimA := env.claim(t, post.ID, alice)
	_, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	before := env.statsOf(t, owner)

	// Scenario 6
	_, err = env.claims.CompleteClaim(ctx, claimA.ID, stranger)
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	assert.Equal(t, models.ClaimApproved, env.claimStatus(t, claimA.ID))
	assert.Equal(t, models.PostReserved, env.postStatus(t, post.ID))
	assert.Equal(t, before.TotalDonations, env.statsOf(t, owner).TotalDonations)
}

func TestApproveClaim_TwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")
	claimA := env.claim(t, post.ID, alice)
	claimB := env.claim(t, post.ID, bob)

	_, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	afterFirst := []models.DashboardStats{env.statsOf(t, owner), env.statsOf(t, alice), env.statsOf(t, bob)}

	_, err = env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	assert.Equal(t, models.ClaimApproved, env.claimStatus(t, claimA.ID))
	assert.Equal(t, models.ClaimRejected, env.claimStatus(t, claimB.ID))
	assert.Equal(t, models.PostReserved, env.postStatus(t, post.ID))
	afterSecond := []models.DashboardStats{env.statsOf(t, owner), env.statsOf(t, alice), env.statsOf(t, bob)}
	for i := range afterFirst {
		assert.Equal(t, afterFirst[i].AvailablePosts, afterSecond[i].AvailablePosts)
		assert.Equal(t, afterFirst[i].PendingClaims, afterSecond[i].PendingClaims)
	}
}

func TestCompleteClaim_TwiceConflictsAndCountsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "10", "lb")
	claimA := env.claim(t, post.ID, alice)
	_, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	_, err = env.claims.CompleteClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)

	_, err = env.claims.CompleteClaim(ctx, claimA.ID, alice)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeConflict))
	assert.Contains(t, err.Error(), "already completed")

	stats := env.statsOf(t, owner)
	assert.Equal(t, int64(1), stats.TotalDonations)
	assert.InDelta(t, 4.53592, stats.MealsServedKG, 1e-6)
	assert.InDelta(t, 4.53592, env.statsOf(t, alice).MealsServedKG, 1e-6)
}

func TestCreateClaim_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")

	t.Run("missing post", func(t *testing.T) {
		_, err := env.claims.CreateClaim(ctx, uuid.New(), alice)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})

	t.Run("self claim", func(t *testing.T) {
		_, err := env.claims.CreateClaim(ctx, post.ID, owner)
		assert.True(t, models.IsCode(err, models.CodeConflict))
	})

	t.Run("duplicate active claim", func(t *testing.T) {
		env.claim(t, post.ID, alice)
		_, err := env.claims.CreateClaim(ctx, post.ID, alice)
		assert.True(t, models.IsCode(err, models.CodeConflict))
		assert.Equal(t, int64(1), env.statsOf(t, alice).TotalClaims)
	})

	t.Run("empty recipient", func(t *testing.T) {
		_, err := env.claims.CreateClaim(ctx, post.ID, "")
		assert.True(t, models.IsCode(err, models.CodeValidation))
	})

	t.Run("reserved post", func(t *testing.T) {
		reserved := env.createPost(t, owner, "1", "kg")
		c := env.claim(t, reserved.ID, alice)
		_, err := env.claims.ApproveClaim(ctx, c.ID, owner)
		require.NoError(t, err)

		_, err = env.claims.CreateClaim(ctx, reserved.ID, bob)
		assert.True(t, models.IsCode(err, models.CodeConflict))
	})

	t.Run("hidden post", func(t *testing.T) {
		hidden := env.createPost(t, owner, "1", "kg")
		_, err := env.posts.SetValidity(ctx, owner, hidden.ID, false)
		require.NoError(t, err)

		_, err = env.claims.CreateClaim(ctx, hidden.ID, bob)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})

	t.Run("deleted post", func(t *testing.T) {
		deleted := env.createPost(t, owner, "1", "kg")
		require.NoError(t, env.posts.DeletePost(ctx, owner, deleted.ID))

		_, err := env.claims.CreateClaim(ctx, deleted.ID, bob)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestCreateClaim_ExpiredPost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	post, err := env.posts.CreatePost(ctx, CreatePostInput{
		OwnerID:     owner,
		Title:       "Day-old pastries",
		Description: "Two trays of croissants and muffins",
		Quantity:    "2",
		Unit:        "kg",
		Category:    "bakery",
		ExpiresOn:   &expires,
	})
	require.NoError(t, err)

	env.claims.now = fixedClock(expires.Add(time.Minute))
	_, err = env.claims.CreateClaim(ctx, post.ID, alice)
	assert.True(t, models.IsCode(err, models.CodeConflict))
	assert.Contains(t, err.Error(), "expired")
}

func TestCreateClaim_ProfileRequirement(t *testing.T) {
	env := newTestEnv(t, WithProfileRequirement(true))
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")

	_, err := env.claims.CreateClaim(ctx, post.ID, alice)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = env.users.UpdateProfile(ctx, UpdateProfileInput{
		UserID:      alice,
		FullName:    "Alice Example",
		PhoneNumber: "+1 555 0100",
		Address:     "1 Main St",
	})
	require.NoError(t, err)

	claim, err := env.claims.CreateClaim(ctx, post.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPending, claim.Status)
}

func TestTransitions_Authorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")
	c := env.claim(t, post.ID, alice)

	_, err := env.claims.ApproveClaim(ctx, c.ID, alice)
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	_, err = env.claims.RejectClaim(ctx, c.ID, stranger)
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	_, err = env.claims.CancelClaim(ctx, c.ID, owner)
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	_, err = env.claims.CompleteClaim(ctx, c.ID, owner)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	_, err = env.claims.ApproveClaim(ctx, uuid.New(), owner)
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	assert.Equal(t, models.ClaimPending, env.claimStatus(t, c.ID))
}

func TestRejectClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")
	claimA := env.claim(t, post.ID, alice)
	claimB := env.claim(t, post.ID, bob)

	rejected, err := env.claims.RejectClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimRejected, rejected.Status)
	assert.Equal(t, models.ClaimPending, env.claimStatus(t, claimB.ID))
	assert.Equal(t, models.PostAvailable, env.postStatus(t, post.ID))

	_, err = env.claims.RejectClaim(ctx, claimA.ID, owner)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	env.requireNoDrift(t, owner, alice, bob)
}

func TestClaimEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")
	claimA := env.claim(t, post.ID, alice)
	claimB := env.claim(t, post.ID, bob)

	events := env.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventClaimCreated, events[0].EventType)
	assert.Equal(t, owner, events[0].UserID)
	assert.Equal(t, alice, events[0].RecipientID)
	assert.Equal(t, owner, events[0].OwnerID)
	assert.Equal(t, post.Title, events[0].PostTitle)
	assert.Equal(t, claimA.ID, events[0].ClaimID)

	env.events.Reset()
	_, err := env.claims.ApproveClaim(ctx, claimA.ID, owner)
	require.NoError(t, err)

	events = env.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.EventClaimApproved, events[0].EventType)
	assert.Equal(t, alice, events[0].UserID)
	assert.Equal(t, lifecycle.EventClaimRejected, events[1].EventType)
	assert.Equal(t, bob, events[1].UserID)
	assert.Equal(t, bob, events[1].RecipientID)
	assert.Equal(t, claimB.ID, events[1].ClaimID)

	env.events.Reset()
	_, err = env.claims.CompleteClaim(ctx, claimA.ID, alice)
	require.NoError(t, err)
	events = env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, lifecycle.EventClaimCompleted, events[0].EventType)
	assert.Equal(t, owner, events[0].UserID)
	assert.Equal(t, alice, events[0].RecipientID)

	env.events.Reset()
	_, err = env.claims.CompleteClaim(ctx, claimA.ID, alice)
	require.Error(t, err)
	assert.Empty(t, env.events.Events())
}

func TestClaimTransition_InvalidatesDashboards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")

	_, err := env.stats.GetDashboard(ctx, alice)
	require.NoError(t, err)
	require.True(t, env.redis.Exists("dashboard:"+alice))

	env.claim(t, post.ID, alice)
	assert.False(t, env.redis.Exists("dashboard:"+alice))

	dash, err := env.stats.GetDashboard(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dash.PendingClaims)
}

func TestCompleteClaim_UnparsableQuantityCountsZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")

	// rows written before quantities were validated
	err := env.store.WithTx(ctx, func(tx repository.Repos) error {
		return tx.Posts().UpdateFields(ctx, post, map[string]interface{}{"quantity": "a few"})
	})
	require.NoError(t, err)

	c := env.claim(t, post.ID, alice)
	_, err = env.claims.ApproveClaim(ctx, c.ID, owner)
	require.NoError(t, err)
	_, err = env.claims.CompleteClaim(ctx, c.ID, owner)
	require.NoError(t, err)

	assert.Zero(t, env.statsOf(t, owner).MealsServedKG)
	assert.Equal(t, int64(1), env.statsOf(t, owner).TotalDonations)
	env.requireNoDrift(t, owner, alice)
}

func TestConcurrentApprovals_OneWins(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, owner, "1", "kg")
	claimA := env.claim(t, post.ID, alice)
	claimB := env.claim(t, post.ID, bob)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{claimA.ID, claimB.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = env.claims.ApproveClaim(context.Background(), id, owner)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, models.IsCode(err, models.CodeConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, models.PostReserved, env.postStatus(t, post.ID))
	env.requireInvariants(t, post.ID)
	env.requireNoDrift(t, owner, alice, bob)
}

func TestConcurrentDuplicateClaims_OneWins(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t, owner, "1", "kg")

	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.claims.CreateClaim(context.Background(), post.ID, alice)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, models.IsCode(err, models.CodeConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(1), env.statsOf(t, alice).TotalClaims)
	env.requireInvariants(t, post.ID)
}

func TestCompleteRacingCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, owner, "1", "kg")
	c := env.claim(t, post.ID, alice)
	_, err := env.claims.ApproveClaim(ctx, c.ID, owner)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var completeErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, completeErr = env.claims.CompleteClaim(context.Background(), c.ID, owner)
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = env.claims.CancelClaim(context.Background(), c.ID, alice)
	}()
	wg.Wait()

	assert.True(t, (completeErr == nil) != (cancelErr == nil), "exactly one must win: complete=%v cancel=%v", completeErr, cancelErr)
	for _, err := range []error{completeErr, cancelErr} {
		if err != nil {
			assert.True(t, models.IsCode(err, models.CodeConflict))
		}
	}
	env.requireInvariants(t, post.ID)
	env.requireNoDrift(t, owner, alice)
}
