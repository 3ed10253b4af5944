package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"waster/internal/cache"
	"waster/internal/lifecycle"
	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/notifications"
	"waster/internal/observability"
	"waster/internal/repository"
	"waster/internal/weight"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ClaimService runs the claim lifecycle. Each operation is one transaction
// covering the claim, its post and the affected dashboard counters; events
// and cache invalidation follow the commit.
type ClaimService struct {
	store          repository.Store
	weights        weight.Policy
	publisher      notifications.Publisher
	cache          *cache.Cache
	requireProfile bool
	now            func() time.Time
}

// ClaimServiceOption configures a ClaimService.
type ClaimServiceOption func(*ClaimService)

// WithProfileRequirement makes CreateClaim refuse recipients whose profile
// lacks a phone number or an address.
func WithProfileRequirement(required bool) ClaimServiceOption {
	return func(s *ClaimService) { s.requireProfile = required }
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) ClaimServiceOption {
	return func(s *ClaimService) { s.now = now }
}

func NewClaimService(
	store repository.Store,
	weights weight.Policy,
	publisher notifications.Publisher,
	c *cache.Cache,
	opts ...ClaimServiceOption,
) *ClaimService {
	if weights == nil {
		weights = weight.Default()
	}
	if publisher == nil {
		publisher = notifications.NopPublisher{}
	}
	s := &ClaimService{
		store:     store,
		weights:   weights,
		publisher: publisher,
		cache:     c,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// outcome is what a committed operation hands to the post-commit steps.
type outcome struct {
	claim  *models.Claim
	from   models.ClaimStatus
	events []notifications.ClaimEvent
	users  []string
}

// CreateClaim registers recipientID's interest in a post.
func (s *ClaimService) CreateClaim(ctx context.Context, postID uuid.UUID, recipientID string) (*models.Claim, error) {
	span, ctx := observability.NewSpan(ctx, "claim.create",
		attribute.String("post.id", postID.String()),
		attribute.String("recipient.id", recipientID))
	defer span.End()
	done := observability.TrackClaimOperation("create")

	res, err := s.createClaim(ctx, postID, recipientID)
	if err != nil {
		done(models.ErrorCode(err))
		span.SetError(err)
		return nil, err
	}
	done("")
	span.AddAttributes(attribute.String("claim.id", res.claim.ID.String()))
	s.afterCommit(ctx, "create", res)
	return res.claim, nil
}

func (s *ClaimService) createClaim(ctx context.Context, postID uuid.UUID, recipientID string) (*outcome, error) {
	if recipientID == "" {
		return nil, models.NewValidationError("recipient id is required")
	}
	if s.requireProfile {
		if err := s.checkProfile(ctx, recipientID); err != nil {
			return nil, err
		}
	}

	var res *outcome
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		post, err := tx.Posts().GetForUpdate(ctx, postID)
		if err != nil {
			return notFound(err, "Post", postID)
		}
		if err := s.checkClaimable(post, recipientID); err != nil {
			return err
		}
		if _, err := tx.Claims().FindActive(ctx, postID, recipientID); err == nil {
			return models.NewConflictError("you already have an active claim on this post")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		claim := &models.Claim{
			PostID:      post.ID,
			OwnerID:     post.OwnerID,
			RecipientID: recipientID,
			Status:      models.ClaimPending,
			ClaimedAt:   s.now().UTC(),
		}
		if err := tx.Claims().Create(ctx, claim); err != nil {
			return err
		}
		claim.Post = post

		deltas := statsDeltas{}
		deltas.add(recipientID, models.StatsDelta{PendingClaims: 1, TotalClaims: 1})
		if err := deltas.apply(ctx, tx.Stats()); err != nil {
			return err
		}

		res = &outcome{
			claim: claim,
			events: []notifications.ClaimEvent{
				notifications.NewClaimEvent(lifecycle.EventClaimCreated, post.OwnerID, claim, post.Title),
			},
			users: deltas.users(),
		}
		return nil
	})
	if err != nil {
		return nil, s.resolveCreateError(ctx, postID, recipientID, err)
	}
	return res, nil
}

func (s *ClaimService) checkProfile(ctx context.Context, recipientID string) error {
	user, err := s.store.Users().GetByID(ctx, recipientID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewInternalError(err)
	}
	if user == nil || !user.HasContactDetails() {
		return models.NewValidationError("complete your profile with a phone number and address before claiming")
	}
	return nil
}

func (s *ClaimService) checkClaimable(post *models.Post, recipientID string) error {
	if post.IsDeleted || !post.IsValid {
		return models.NewNotFoundError("Post", post.ID)
	}
	if post.Expired(s.now()) {
		return models.NewConflictError("post has expired")
	}
	if post.OwnerID == recipientID {
		return models.NewConflictError("you cannot claim your own post")
	}
	if post.Status != models.PostAvailable {
		return models.NewConflictError("post is not available")
	}
	return nil
}

// resolveCreateError turns a lost race into the conflict the current state
// explains, and anything unexpected into an internal error.
func (s *ClaimService) resolveCreateError(ctx context.Context, postID uuid.UUID, recipientID string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if !repository.IsConcurrencyError(err) {
		return models.NewInternalError(err)
	}

	observability.ClaimConflicts.WithLabelValues("create", conflictReason(err)).Inc()
	post, readErr := s.store.Posts().GetByID(ctx, postID)
	if readErr != nil {
		return notFound(readErr, "Post", postID)
	}
	if verr := s.checkClaimable(post, recipientID); verr != nil {
		return verr
	}
	if _, findErr := s.store.Claims().FindActive(ctx, postID, recipientID); findErr == nil {
		return models.NewConflictError("you already have an active claim on this post")
	}
	return models.NewConflictError("post was modified concurrently, try again")
}

// ApproveClaim accepts a pending claim. Every other pending claim on the
// post is rejected and the post becomes Reserved.
func (s *ClaimService) ApproveClaim(ctx context.Context, claimID uuid.UUID, callerID string) (*models.Claim, error) {
	return s.run(ctx, lifecycle.OpApprove, claimID, callerID)
}

// RejectClaim declines a pending claim.
func (s *ClaimService) RejectClaim(ctx context.Context, claimID uuid.UUID, callerID string) (*models.Claim, error) {
	return s.run(ctx, lifecycle.OpReject, claimID, callerID)
}

// CancelClaim withdraws the recipient's pending or approved claim.
func (s *ClaimService) CancelClaim(ctx context.Context, claimID uuid.UUID, callerID string) (*models.Claim, error) {
	return s.run(ctx, lifecycle.OpCancel, claimID, callerID)
}

// CompleteClaim records the hand-over of an approved claim.
func (s *ClaimService) CompleteClaim(ctx context.Context, claimID uuid.UUID, callerID string) (*models.Claim, error) {
	return s.run(ctx, lifecycle.OpComplete, claimID, callerID)
}

func (s *ClaimService) run(ctx context.Context, op lifecycle.Operation, claimID uuid.UUID, callerID string) (*models.Claim, error) {
	span, ctx := observability.NewSpan(ctx, "claim."+string(op),
		attribute.String("claim.id", claimID.String()),
		attribute.String("caller.id", callerID))
	defer span.End()
	done := observability.TrackClaimOperation(string(op))

	var res *outcome
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		res, err = s.transition(ctx, tx, op, claimID, callerID)
		return err
	})
	if err != nil {
		err = s.resolveTransitionError(ctx, op, claimID, callerID, err)
		done(models.ErrorCode(err))
		span.SetError(err)
		return nil, err
	}

	done("")
	span.AddAttributes(attribute.String("claim.status", string(res.claim.Status)))
	s.afterCommit(ctx, op, res)
	return res.claim, nil
}

func (s *ClaimService) transition(ctx context.Context, tx repository.Repos, op lifecycle.Operation, claimID uuid.UUID, callerID string) (*outcome, error) {
	claim, err := tx.Claims().GetByID(ctx, claimID)
	if err != nil {
		return nil, notFound(err, "Claim", claimID)
	}
	if err := lifecycle.Authorize(op, callerID, claim.OwnerID, claim.RecipientID); err != nil {
		return nil, err
	}

	post, err := tx.Posts().GetForUpdate(ctx, claim.PostID)
	if err != nil {
		return nil, notFound(err, "Post", claim.PostID)
	}

	from := claim.Status
	to, err := lifecycle.Transition(from, op)
	if err != nil {
		return nil, err
	}
	if op == lifecycle.OpApprove && post.Status != models.PostAvailable {
		return nil, models.NewConflictError("post is already " + string(post.Status))
	}

	if err := tx.Claims().UpdateStatus(ctx, claim, to); err != nil {
		return nil, err
	}

	deltas := statsDeltas{}
	if from == models.ClaimPending {
		deltas.add(claim.RecipientID, models.StatsDelta{PendingClaims: -1})
	}

	res := &outcome{
		claim: claim,
		from:  from,
		events: []notifications.ClaimEvent{
			notifications.NewClaimEvent(lifecycle.EventFor(op), lifecycle.Addressee(op, callerID, claim), claim, post.Title),
		},
	}

	siblings, err := tx.Claims().ListByPost(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	statuses := make([]models.ClaimStatus, 0, len(siblings))
	for i := range siblings {
		sibling := &siblings[i]
		if sibling.ID == claim.ID {
			statuses = append(statuses, claim.Status)
			continue
		}
		if op == lifecycle.OpApprove && sibling.Status == models.ClaimPending {
			if err := tx.Claims().UpdateStatus(ctx, sibling, models.ClaimRejected); err != nil {
				return nil, err
			}
			deltas.add(sibling.RecipientID, models.StatsDelta{PendingClaims: -1})
			res.events = append(res.events,
				notifications.NewClaimEvent(lifecycle.EventClaimRejected, sibling.RecipientID, sibling, post.Title))
		}
		statuses = append(statuses, sibling.Status)
	}

	prev := post.Status
	next := lifecycle.DerivePostStatus(statuses)
	if next != prev {
		if err := tx.Posts().UpdateStatus(ctx, post, next); err != nil {
			return nil, err
		}
		deltas.add(post.OwnerID, postStatusDelta(prev, next))
	}

	if to == models.ClaimCompleted {
		kg := postWeight(ctx, s.weights, post)
		deltas.add(post.OwnerID, models.StatsDelta{MealsServedKG: kg})
		deltas.add(claim.RecipientID, models.StatsDelta{MealsServedKG: kg})
	}

	if err := deltas.apply(ctx, tx.Stats()); err != nil {
		return nil, err
	}

	claim.Post = post
	res.users = deltas.users()
	return res, nil
}

// resolveTransitionError re-reads committed state after a lost race and
// reports the conflict that state explains.
func (s *ClaimService) resolveTransitionError(ctx context.Context, op lifecycle.Operation, claimID uuid.UUID, callerID string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if !repository.IsConcurrencyError(err) {
		middleware.Logger.ErrorContext(ctx, "claim transition failed",
			slog.String("op", string(op)),
			slog.String("claim_id", claimID.String()),
			slog.String("error", err.Error()))
		return models.NewInternalError(err)
	}

	observability.ClaimConflicts.WithLabelValues(string(op), conflictReason(err)).Inc()
	claim, readErr := s.store.Claims().GetByID(ctx, claimID)
	if readErr != nil {
		return notFound(readErr, "Claim", claimID)
	}
	if authErr := lifecycle.Authorize(op, callerID, claim.OwnerID, claim.RecipientID); authErr != nil {
		return authErr
	}
	if _, tErr := lifecycle.Transition(claim.Status, op); tErr != nil {
		return tErr
	}
	if op == lifecycle.OpApprove && claim.Post != nil && claim.Post.Status != models.PostAvailable {
		return models.NewConflictError("post is already " + string(claim.Post.Status))
	}
	return models.NewConflictError("claim was modified concurrently, try again")
}

func (s *ClaimService) afterCommit(ctx context.Context, op lifecycle.Operation, res *outcome) {
	s.cache.InvalidateDashboards(ctx, res.users...)
	s.publisher.Publish(res.events...)

	middleware.Logger.InfoContext(ctx, "claim transition",
		slog.String("op", string(op)),
		slog.String("claim_id", res.claim.ID.String()),
		slog.String("post_id", res.claim.PostID.String()),
		slog.String("from", string(res.from)),
		slog.String("to", string(res.claim.Status)))
}

func conflictReason(err error) string {
	switch {
	case errors.Is(err, repository.ErrStaleVersion):
		return "stale_version"
	case errors.Is(err, repository.ErrDuplicate):
		return "unique_violation"
	case errors.Is(err, repository.ErrSerialization):
		return "serialization"
	}
	return "unknown"
}

// notFound maps a missing row to a NOT_FOUND error for resource.
func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
