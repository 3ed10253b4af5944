package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"waster/internal/cache"
	"waster/internal/lifecycle"
	"waster/internal/models"
	"waster/internal/notifications"
	"waster/internal/repository"
	"waster/internal/testutil"
	"waster/internal/weight"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.ClaimEvent
}

func (p *recordingPublisher) Publish(events ...notifications.ClaimEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) Events() []notifications.ClaimEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notifications.ClaimEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type testEnv struct {
	store   repository.Store
	cache   *cache.Cache
	redis   *miniredis.Miniredis
	events  *recordingPublisher
	claims  *ClaimService
	posts   *PostService
	stats   *StatsService
	queries *QueryService
	users   *UserService
}

func newTestEnv(t *testing.T, opts ...ClaimServiceOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repository.NewStore(testutil.NewSQLiteDB(t))
	c := cache.New(rdb)
	events := &recordingPublisher{}
	weights := weight.Default()

	return &testEnv{
		store:   store,
		cache:   c,
		redis:   mr,
		events:  events,
		claims:  NewClaimService(store, weights, events, c, opts...),
		posts:   NewPostService(store, weights, events, c),
		stats:   NewStatsService(store, weights, c),
		queries: NewQueryService(store),
		users:   NewUserService(store),
	}
}

func (e *testEnv) createPost(t *testing.T, owner, quantity, unit string) *models.Post {
	t.Helper()
	post, err := e.posts.CreatePost(context.Background(), CreatePostInput{
		OwnerID:        owner,
		Title:          "Surplus vegetables",
		Description:    "Crates of carrots and potatoes from the market",
		Quantity:       quantity,
		Unit:           unit,
		Category:       "produce",
		PickupLocation: "Back door, 12 Market St",
	})
	require.NoError(t, err)
	return post
}

func (e *testEnv) claim(t *testing.T, postID uuid.UUID, recipient string) *models.Claim {
	t.Helper()
	claim, err := e.claims.CreateClaim(context.Background(), postID, recipient)
	require.NoError(t, err)
	return claim
}

func (e *testEnv) claimStatus(t *testing.T, id uuid.UUID) models.ClaimStatus {
	t.Helper()
	claim, err := e.store.Claims().GetByID(context.Background(), id)
	require.NoError(t, err)
	return claim.Status
}

func (e *testEnv) postStatus(t *testing.T, id uuid.UUID) models.PostStatus {
	t.Helper()
	post, err := e.store.Posts().GetByID(context.Background(), id)
	require.NoError(t, err)
	return post.Status
}

// statsOf reads the stored counters, zero when the user has no row.
func (e *testEnv) statsOf(t *testing.T, userID string) models.DashboardStats {
	t.Helper()
	stats, err := e.store.Stats().Get(context.Background(), userID)
	if err != nil {
		return models.DashboardStats{UserID: userID}
	}
	return *stats
}

// requireNoDrift checks that incremental counters match a full recompute.
func (e *testEnv) requireNoDrift(t *testing.T, users ...string) {
	t.Helper()
	for _, u := range users {
		drift, err := e.stats.AuditStats(context.Background(), u)
		require.NoError(t, err)
		require.Falsef(t, drift.Drifted(), "user %s drifted on %v: stored=%+v computed=%+v",
			u, drift.Counters, drift.Stored, drift.Computed)
	}
}

// requireInvariants checks the per-post claim invariants.
func (e *testEnv) requireInvariants(t *testing.T, postID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	post, err := e.store.Posts().GetByID(ctx, postID)
	require.NoError(t, err)
	claims, err := e.store.Claims().ListByPost(ctx, postID)
	require.NoError(t, err)

	active := map[string]int{}
	approved, completed := 0, 0
	statuses := make([]models.ClaimStatus, 0, len(claims))
	for _, c := range claims {
		statuses = append(statuses, c.Status)
		if c.Status.Active() {
			active[c.RecipientID]++
		}
		switch c.Status {
		case models.ClaimApproved:
			approved++
		case models.ClaimCompleted:
			completed++
		}
	}
	for recipient, n := range active {
		assert.LessOrEqualf(t, n, 1, "recipient %s holds %d active claims", recipient, n)
	}
	assert.LessOrEqual(t, approved+completed, 1)
	assert.Equal(t, lifecycle.DerivePostStatus(statuses), post.Status)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
