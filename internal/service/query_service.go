package service

import (
	"context"
	"errors"
	"time"

	"waster/internal/lifecycle"
	"waster/internal/models"
	"waster/internal/repository"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// PostSummary is the part of a post shown next to a claim.
type PostSummary struct {
	ID             uuid.UUID         `json:"id"`
	OwnerID        string            `json:"owner_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Quantity       string            `json:"quantity"`
	Unit           string            `json:"unit"`
	Category       string            `json:"category"`
	PickupLocation string            `json:"pickup_location"`
	ImageURL       string            `json:"image_url,omitempty"`
	Status         models.PostStatus `json:"status"`
	ExpiresOn      *time.Time        `json:"expires_on,omitempty"`
}

// UserContact is a party's contact details.
type UserContact struct {
	ID                string `json:"id"`
	UserName          string `json:"user_name"`
	FullName          string `json:"full_name"`
	Email             string `json:"email"`
	PhoneNumber       string `json:"phone_number"`
	Address           string `json:"address"`
	City              string `json:"city"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// ClaimView is a claim joined with its post and the parties' contacts.
type ClaimView struct {
	ID          uuid.UUID          `json:"id"`
	PostID      uuid.UUID          `json:"post_id"`
	RecipientID string             `json:"recipient_id"`
	OwnerID     string             `json:"owner_id"`
	Status      models.ClaimStatus `json:"status"`
	ClaimedAt   time.Time          `json:"claimed_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	PostSummary *PostSummary       `json:"post,omitempty"`
	Recipient   *UserContact       `json:"recipient,omitempty"`
	PostOwner   *UserContact       `json:"post_owner,omitempty"`
}

// QueryService serves read-only views over committed claims.
type QueryService struct {
	store repository.Store
}

func NewQueryService(store repository.Store) *QueryService {
	return &QueryService{store: store}
}

// MyClaims lists the recipient's claims, newest first, optionally filtered
// by status.
func (s *QueryService) MyClaims(ctx context.Context, recipientID string, status *models.ClaimStatus, page repository.Page) ([]ClaimView, error) {
	if status != nil && !status.Valid() {
		return nil, models.NewValidationError("unknown claim status " + string(*status))
	}
	claims, err := s.store.Claims().ListByRecipient(ctx, recipientID, status, normalizePage(page))
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	ownerIDs := make([]string, 0, len(claims))
	for i := range claims {
		ownerIDs = append(ownerIDs, claims[i].OwnerID)
	}
	owners, err := s.store.Users().GetByIDs(ctx, ownerIDs)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	views := make([]ClaimView, 0, len(claims))
	for i := range claims {
		view, err := buildClaimView(&claims[i], nil, owners[claims[i].OwnerID])
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		views = append(views, *view)
	}
	return views, nil
}

// PostClaims lists the claims on one of the owner's posts, hiding
// cancelled ones.
func (s *QueryService) PostClaims(ctx context.Context, ownerID string, postID uuid.UUID, page repository.Page) ([]ClaimView, error) {
	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return nil, wrapRead(notFound(err, "Post", postID))
	}
	if post.IsDeleted {
		return nil, models.NewNotFoundError("Post", postID)
	}
	if post.OwnerID != ownerID {
		return nil, models.NewForbiddenError("only the post owner can list its claims")
	}

	claims, err := s.store.Claims().ListVisibleByPost(ctx, postID, normalizePage(page))
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	recipientIDs := make([]string, 0, len(claims))
	for i := range claims {
		recipientIDs = append(recipientIDs, claims[i].RecipientID)
	}
	recipients, err := s.store.Users().GetByIDs(ctx, recipientIDs)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	views := make([]ClaimView, 0, len(claims))
	for i := range claims {
		view, err := buildClaimView(&claims[i], recipients[claims[i].RecipientID], nil)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		views = append(views, *view)
	}
	return views, nil
}

// ClaimDetail returns one claim with both parties' contacts. Only the two
// parties may see it.
func (s *QueryService) ClaimDetail(ctx context.Context, claimID uuid.UUID, callerID string) (*ClaimView, error) {
	claim, err := s.store.Claims().GetByID(ctx, claimID)
	if err != nil {
		return nil, wrapRead(notFound(err, "Claim", claimID))
	}
	if lifecycle.RoleOf(callerID, claim.OwnerID, claim.RecipientID) == lifecycle.RoleNone {
		return nil, models.NewForbiddenError("only the post owner or the recipient can view this claim")
	}

	var recipient, owner *models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recipient, err = s.contact(gctx, claim.RecipientID)
		return err
	})
	g.Go(func() error {
		var err error
		owner, err = s.contact(gctx, claim.OwnerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, models.NewInternalError(err)
	}

	view, err := buildClaimView(claim, recipient, owner)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return view, nil
}

// contact loads a profile; users who never saved one have none.
func (s *QueryService) contact(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return user, err
}

func buildClaimView(claim *models.Claim, recipient, owner *models.User) (*ClaimView, error) {
	view := &ClaimView{}
	if err := copier.Copy(view, claim); err != nil {
		return nil, err
	}
	if claim.Post != nil {
		view.PostSummary = &PostSummary{}
		if err := copier.Copy(view.PostSummary, claim.Post); err != nil {
			return nil, err
		}
	}
	if recipient != nil {
		view.Recipient = &UserContact{}
		if err := copier.Copy(view.Recipient, recipient); err != nil {
			return nil, err
		}
	}
	if owner != nil {
		view.PostOwner = &UserContact{}
		if err := copier.Copy(view.PostOwner, owner); err != nil {
			return nil, err
		}
	}
	return view, nil
}
