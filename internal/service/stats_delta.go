package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/repository"
	"waster/internal/weight"
)

// statsDeltas collects the counter changes of one transaction per user.
type statsDeltas map[string]models.StatsDelta

func (d statsDeltas) add(userID string, delta models.StatsDelta) {
	if userID == "" || delta.IsZero() {
		return
	}
	d[userID] = d[userID].Add(delta)
}

// users returns the affected users in a stable order so concurrent
// transactions touch stats rows in the same sequence.
func (d statsDeltas) users() []string {
	ids := make([]string, 0, len(d))
	for id, delta := range d {
		if !delta.IsZero() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d statsDeltas) apply(ctx context.Context, repo repository.StatsRepository) error {
	for _, id := range d.users() {
		if err := repo.ApplyDelta(ctx, id, d[id]); err != nil {
			return err
		}
	}
	return nil
}

// postStatusDelta is the owner's counter change when a post moves between
// statuses.
func postStatusDelta(from, to models.PostStatus) models.StatsDelta {
	var delta models.StatsDelta
	if from == to {
		return delta
	}
	if from == models.PostAvailable {
		delta.AvailablePosts--
	}
	if to == models.PostAvailable {
		delta.AvailablePosts++
	}
	if to == models.PostCompleted {
		delta.TotalDonations++
	}
	if from == models.PostCompleted {
		delta.TotalDonations--
	}
	return delta
}

// postWeight converts a post's quantity to kilograms. A stored quantity that
// does not parse counts as nothing; completing the claim must still work.
func postWeight(ctx context.Context, policy weight.Policy, post *models.Post) float64 {
	kg, err := policy.ToKG(post.Quantity, post.Unit)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, weight.ErrUnknownUnit) {
			level = slog.LevelInfo
		}
		middleware.Logger.Log(ctx, level, "post weight fallback applied",
			slog.String("post_id", post.ID.String()),
			slog.String("quantity", post.Quantity),
			slog.String("unit", post.Unit),
			slog.Float64("kg", kg),
			slog.String("error", err.Error()))
	}
	return kg
}
