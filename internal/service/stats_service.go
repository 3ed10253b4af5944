package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"waster/internal/cache"
	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/repository"
	"waster/internal/weight"

	"gorm.io/gorm"
)

const maxMonthlyGoal = 100000

// StatsService owns the read side of the dashboard counters and the full
// recomputation that repairs them.
type StatsService struct {
	store   repository.Store
	weights weight.Policy
	cache   *cache.Cache
}

func NewStatsService(store repository.Store, weights weight.Policy, c *cache.Cache) *StatsService {
	if weights == nil {
		weights = weight.Default()
	}
	return &StatsService{store: store, weights: weights, cache: c}
}

// StatsDrift compares a user's stored counters with the values derived from
// posts and claims.
type StatsDrift struct {
	UserID   string                `json:"user_id"`
	Stored   models.DashboardStats `json:"stored"`
	Computed models.DashboardStats `json:"computed"`
	Counters []string              `json:"counters"`
}

// Drifted reports whether any counter differs.
func (d *StatsDrift) Drifted() bool {
	return len(d.Counters) > 0
}

// GetDashboard returns the user's counters, zero when the user has none yet.
func (s *StatsService) GetDashboard(ctx context.Context, userID string) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	err := s.cache.Aside(ctx, cache.DashboardKey(userID), &stats, cache.DashboardTTL, func() error {
		row, err := s.store.Stats().Get(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stats = models.DashboardStats{UserID: userID}
			return nil
		}
		if err != nil {
			return err
		}
		stats = *row
		return nil
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &stats, nil
}

type monthlyGoalInput struct {
	Goal int `json:"monthly_goal" validate:"min=0,max=100000"`
}

// SetMonthlyGoal stores the user's monthly target.
func (s *StatsService) SetMonthlyGoal(ctx context.Context, userID string, goal int) (*models.DashboardStats, error) {
	if err := validateInput(monthlyGoalInput{Goal: goal}); err != nil {
		return nil, err
	}
	if err := s.store.Stats().SetMonthlyGoal(ctx, userID, goal); err != nil {
		return nil, models.NewInternalError(err)
	}
	s.cache.InvalidateDashboards(ctx, userID)
	return s.GetDashboard(ctx, userID)
}

// RecomputeStats rebuilds the user's counters from posts and claims and
// stores them. MonthlyGoal is kept.
func (s *StatsService) RecomputeStats(ctx context.Context, userID string) (*models.DashboardStats, error) {
	if userID == "" {
		return nil, models.NewValidationError("user id is required")
	}

	var stored *models.DashboardStats
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		// Lifecycle transactions write this row last, so holding its lock
		// keeps any of them from committing between the reads and the save.
		if _, err := tx.Stats().GetForUpdate(ctx, userID); err != nil {
			return err
		}
		computed, err := s.compute(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Stats().SaveCounters(ctx, computed); err != nil {
			return err
		}
		stored, err = tx.Stats().Get(ctx, userID)
		return err
	})
	if repository.IsConcurrencyError(err) {
		return nil, models.NewConflictError("dashboard changed during recompute, try again")
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	s.cache.InvalidateDashboards(ctx, userID)
	return stored, nil
}

// AuditStats computes the user's counters without writing them.
func (s *StatsService) AuditStats(ctx context.Context, userID string) (*StatsDrift, error) {
	computed, err := s.compute(ctx, s.store, userID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	stored, err := s.store.Stats().Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stored = &models.DashboardStats{UserID: userID}
	} else if err != nil {
		return nil, models.NewInternalError(err)
	}

	drift := &StatsDrift{UserID: userID, Stored: *stored, Computed: *computed}
	if stored.AvailablePosts != computed.AvailablePosts {
		drift.Counters = append(drift.Counters, "available_posts")
	}
	if stored.PendingClaims != computed.PendingClaims {
		drift.Counters = append(drift.Counters, "pending_claims")
	}
	if stored.TotalClaims != computed.TotalClaims {
		drift.Counters = append(drift.Counters, "total_claims")
	}
	if stored.TotalDonations != computed.TotalDonations {
		drift.Counters = append(drift.Counters, "total_donations")
	}
	if !sameKG(stored.MealsServedKG, computed.MealsServedKG) {
		drift.Counters = append(drift.Counters, "meals_served_kg")
	}
	return drift, nil
}

// ListUserIDs returns every user that owns a post, made a claim or has a
// counters row.
func (s *StatsService) ListUserIDs(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	sources := []func(context.Context) ([]string, error){
		s.store.Stats().ListUserIDs,
		s.store.Posts().ListOwnerIDs,
		s.store.Claims().ListRecipientIDs,
	}
	for _, list := range sources {
		ids, err := list(ctx)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *StatsService) compute(ctx context.Context, repos repository.Repos, userID string) (*models.DashboardStats, error) {
	out := &models.DashboardStats{UserID: userID}

	available, err := repos.Posts().CountAvailableByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	out.AvailablePosts = available

	pending := models.ClaimPending
	if out.PendingClaims, err = repos.Claims().CountByRecipient(ctx, userID, &pending); err != nil {
		return nil, err
	}
	if out.TotalClaims, err = repos.Claims().CountByRecipient(ctx, userID, nil); err != nil {
		return nil, err
	}

	donated, err := repos.Posts().ListCompletedByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	out.TotalDonations = int64(len(donated))
	for i := range donated {
		out.MealsServedKG += postWeight(ctx, s.weights, &donated[i])
	}

	received, err := repos.Claims().ListCompletedByRecipient(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range received {
		if received[i].Post == nil {
			middleware.Logger.WarnContext(ctx, "completed claim without post",
				slog.String("claim_id", received[i].ID.String()))
			continue
		}
		out.MealsServedKG += postWeight(ctx, s.weights, received[i].Post)
	}
	return out, nil
}

func sameKG(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
