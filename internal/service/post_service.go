package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"waster/internal/cache"
	"waster/internal/lifecycle"
	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/notifications"
	"waster/internal/repository"
	"waster/internal/weight"

	"github.com/google/uuid"
)

// PostService manages donation posts on behalf of their owners.
type PostService struct {
	store     repository.Store
	weights   weight.Policy
	publisher notifications.Publisher
	cache     *cache.Cache
	now       func() time.Time
}

func NewPostService(store repository.Store, weights weight.Policy, publisher notifications.Publisher, c *cache.Cache) *PostService {
	if weights == nil {
		weights = weight.Default()
	}
	if publisher == nil {
		publisher = notifications.NopPublisher{}
	}
	return &PostService{
		store:     store,
		weights:   weights,
		publisher: publisher,
		cache:     c,
		now:       time.Now,
	}
}

type CreatePostInput struct {
	OwnerID        string     `json:"-" validate:"required"`
	Title          string     `json:"title" validate:"required,min=3,max=200"`
	Description    string     `json:"description" validate:"required,min=10,max=1000"`
	Quantity       string     `json:"quantity" validate:"required,max=32"`
	Unit           string     `json:"unit" validate:"required,max=32"`
	Category       string     `json:"category" validate:"required,max=64"`
	PickupLocation string     `json:"pickup_location" validate:"max=500"`
	ImageURL       string     `json:"image_url" validate:"omitempty,url"`
	Notes          string     `json:"notes" validate:"max=1000"`
	ExpiresOn      *time.Time `json:"expires_on"`
}

// UpdatePostInput carries the fields an owner wants to change; nil fields
// are left alone.
type UpdatePostInput struct {
	OwnerID        string     `json:"-"`
	PostID         uuid.UUID  `json:"-"`
	Title          *string    `json:"title" validate:"omitempty,min=3,max=200"`
	Description    *string    `json:"description" validate:"omitempty,min=10,max=1000"`
	Quantity       *string    `json:"quantity" validate:"omitempty,max=32"`
	Unit           *string    `json:"unit" validate:"omitempty,max=32"`
	Category       *string    `json:"category" validate:"omitempty,max=64"`
	PickupLocation *string    `json:"pickup_location" validate:"omitempty,max=500"`
	ImageURL       *string    `json:"image_url" validate:"omitempty,url"`
	Notes          *string    `json:"notes" validate:"omitempty,max=1000"`
	ExpiresOn      *time.Time `json:"expires_on"`
}

func (s *PostService) checkQuantity(quantity, unit string) error {
	qty, err := weight.ParseQuantity(quantity)
	if err != nil || qty <= 0 {
		return models.NewValidationError("quantity must be a positive number")
	}
	if !s.weights.Supports(unit) {
		return models.NewValidationError(fmt.Sprintf("unsupported unit %q", unit))
	}
	return nil
}

func (s *PostService) checkExpiry(expiresOn *time.Time) error {
	if expiresOn != nil && !expiresOn.After(s.now()) {
		return models.NewValidationError("expires_on must be in the future")
	}
	return nil
}

// CreatePost publishes a new Available post.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Unit = strings.TrimSpace(in.Unit)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkQuantity(in.Quantity, in.Unit); err != nil {
		return nil, err
	}
	if err := s.checkExpiry(in.ExpiresOn); err != nil {
		return nil, err
	}

	post := &models.Post{
		OwnerID:        in.OwnerID,
		Title:          in.Title,
		Description:    in.Description,
		Quantity:       strings.TrimSpace(in.Quantity),
		Unit:           in.Unit,
		Category:       in.Category,
		PickupLocation: in.PickupLocation,
		ImageURL:       in.ImageURL,
		Notes:          in.Notes,
		Status:         models.PostAvailable,
		IsValid:        true,
		ExpiresOn:      in.ExpiresOn,
	}

	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		if err := tx.Posts().Create(ctx, post); err != nil {
			return err
		}
		return tx.Stats().ApplyDelta(ctx, post.OwnerID, models.StatsDelta{AvailablePosts: 1})
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	s.cache.InvalidateDashboards(ctx, post.OwnerID)
	middleware.Logger.InfoContext(ctx, "post created",
		slog.String("post_id", post.ID.String()),
		slog.String("owner_id", post.OwnerID))
	return post, nil
}

// GetPost returns a post that has not been deleted.
func (s *PostService) GetPost(ctx context.Context, postID uuid.UUID) (*models.Post, error) {
	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return nil, wrapRead(notFound(err, "Post", postID))
	}
	if post.IsDeleted {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}

// ListAvailable lists the posts recipients can claim right now.
func (s *PostService) ListAvailable(ctx context.Context, page repository.Page) ([]models.Post, error) {
	posts, err := s.store.Posts().ListAvailable(ctx, s.now().UTC(), normalizePage(page))
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

// MyPosts lists the owner's posts, newest first.
func (s *PostService) MyPosts(ctx context.Context, ownerID string, page repository.Page) ([]models.Post, error) {
	posts, err := s.store.Posts().ListByOwner(ctx, ownerID, normalizePage(page))
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

// UpdatePost edits a post. Quantity and unit are frozen once a claim has
// been approved.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkExpiry(in.ExpiresOn); err != nil {
		return nil, err
	}

	var post *models.Post
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		post, err = s.ownedForUpdate(ctx, tx, in.OwnerID, in.PostID)
		if err != nil {
			return err
		}

		fields := map[string]interface{}{}
		if in.Quantity != nil || in.Unit != nil {
			if post.Status != models.PostAvailable {
				return models.NewConflictError("quantity and unit cannot change once a claim is approved")
			}
			quantity, unit := post.Quantity, post.Unit
			if in.Quantity != nil {
				quantity = strings.TrimSpace(*in.Quantity)
			}
			if in.Unit != nil {
				unit = strings.TrimSpace(*in.Unit)
			}
			if err := s.checkQuantity(quantity, unit); err != nil {
				return err
			}
			fields["quantity"], post.Quantity = quantity, quantity
			fields["unit"], post.Unit = unit, unit
		}
		if in.Title != nil {
			fields["title"], post.Title = *in.Title, *in.Title
		}
		if in.Description != nil {
			fields["description"], post.Description = *in.Description, *in.Description
		}
		if in.Category != nil {
			fields["category"], post.Category = *in.Category, *in.Category
		}
		if in.PickupLocation != nil {
			fields["pickup_location"], post.PickupLocation = *in.PickupLocation, *in.PickupLocation
		}
		if in.ImageURL != nil {
			fields["image_url"], post.ImageURL = *in.ImageURL, *in.ImageURL
		}
		if in.Notes != nil {
			fields["notes"], post.Notes = *in.Notes, *in.Notes
		}
		if in.ExpiresOn != nil {
			fields["expires_on"], post.ExpiresOn = *in.ExpiresOn, in.ExpiresOn
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.Posts().UpdateFields(ctx, post, fields)
	})
	if err != nil {
		return nil, wrapWrite(err)
	}
	return post, nil
}

// SetValidity shows or hides a post from browsing and claiming.
func (s *PostService) SetValidity(ctx context.Context, ownerID string, postID uuid.UUID, valid bool) (*models.Post, error) {
	var post *models.Post
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		post, err = s.ownedForUpdate(ctx, tx, ownerID, postID)
		if err != nil {
			return err
		}
		if post.IsValid == valid {
			return nil
		}
		if err := tx.Posts().UpdateFields(ctx, post, map[string]interface{}{"is_valid": valid}); err != nil {
			return err
		}
		post.IsValid = valid
		return nil
	})
	if err != nil {
		return nil, wrapWrite(err)
	}
	return post, nil
}

// DeletePost soft-deletes an Available post and cancels its pending claims.
func (s *PostService) DeletePost(ctx context.Context, ownerID string, postID uuid.UUID) error {
	var (
		events []notifications.ClaimEvent
		users  []string
	)
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		post, err := s.ownedForUpdate(ctx, tx, ownerID, postID)
		if err != nil {
			return err
		}
		if post.Status != models.PostAvailable {
			return models.NewConflictError("cannot delete a post that is " + string(post.Status))
		}

		claims, err := tx.Claims().ListByPost(ctx, post.ID)
		if err != nil {
			return err
		}
		deltas := statsDeltas{}
		for i := range claims {
			claim := &claims[i]
			if claim.Status != models.ClaimPending {
				continue
			}
			if err := tx.Claims().UpdateStatus(ctx, claim, models.ClaimCancelled); err != nil {
				return err
			}
			deltas.add(claim.RecipientID, models.StatsDelta{PendingClaims: -1})
			events = append(events,
				notifications.NewClaimEvent(lifecycle.EventClaimCancelled, claim.RecipientID, claim, post.Title))
		}

		if err := tx.Posts().SoftDelete(ctx, post); err != nil {
			return err
		}
		deltas.add(post.OwnerID, models.StatsDelta{AvailablePosts: -1})
		users = deltas.users()
		return deltas.apply(ctx, tx.Stats())
	})
	if err != nil {
		return wrapWrite(err)
	}

	s.cache.InvalidateDashboards(ctx, users...)
	s.publisher.Publish(events...)
	middleware.Logger.InfoContext(ctx, "post deleted",
		slog.String("post_id", postID.String()),
		slog.Int("cancelled_claims", len(events)))
	return nil
}

func (s *PostService) ownedForUpdate(ctx context.Context, tx repository.Repos, ownerID string, postID uuid.UUID) (*models.Post, error) {
	post, err := tx.Posts().GetForUpdate(ctx, postID)
	if err != nil {
		return nil, notFound(err, "Post", postID)
	}
	if post.IsDeleted {
		return nil, models.NewNotFoundError("Post", postID)
	}
	if post.OwnerID != ownerID {
		return nil, models.NewForbiddenError("only the post owner can change this post")
	}
	return post, nil
}

// wrapRead keeps AppErrors and hides everything else as internal.
func wrapRead(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

// wrapWrite is wrapRead for transactions, where a lost race is a conflict.
func wrapWrite(err error) error {
	if repository.IsConcurrencyError(err) {
		return models.NewConflictError("post was modified concurrently, try again")
	}
	return wrapRead(err)
}
