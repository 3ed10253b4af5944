// Package seed provides database seeding utilities for development and testing.
// Data goes through the services so counters and claim invariants hold.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"waster/internal/middleware"
	"waster/internal/models"
	"waster/internal/notifications"
	"waster/internal/repository"
	"waster/internal/service"
	"waster/internal/weight"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers int
	NumPosts int
	// MaxClaimsPerPost caps how many recipients try to claim each post.
	MaxClaimsPerPost int
	// RandSeed makes a run reproducible; zero uses the clock.
	RandSeed int64
}

// Summary counts what a run created.
type Summary struct {
	Users     int
	Posts     int
	Claims    int
	Approved  int
	Completed int
	Rejected  int
	Cancelled int
}

// Seeder handles database seeding
type Seeder struct {
	db     *gorm.DB
	opts   Options
	faker  *gofakeit.Faker
	users  *service.UserService
	posts  *service.PostService
	claims *service.ClaimService
}

var units = []string{"kg", "lb", "pieces", "g"}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.NumUsers < 2 {
		opts.NumUsers = 2
	}
	if opts.MaxClaimsPerPost <= 0 {
		opts.MaxClaimsPerPost = 3
	}
	if opts.RandSeed == 0 {
		opts.RandSeed = time.Now().UnixNano()
	}

	store := repository.NewStore(db)
	weights := weight.Default()
	return &Seeder{
		db:     db,
		opts:   opts,
		faker:  gofakeit.New(opts.RandSeed),
		users:  service.NewUserService(store),
		posts:  service.NewPostService(store, weights, notifications.NopPublisher{}, nil),
		claims: service.NewClaimService(store, weights, notifications.NopPublisher{}, nil),
	}
}

// ClearAll deletes every claim, post, counter row and profile.
func (s *Seeder) ClearAll(ctx context.Context) error {
	middleware.Logger.Info("clearing seeded data")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.Claim{}, &models.Post{}, &models.DashboardStats{}, &models.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// Run creates users, posts and claims, then walks a share of the claims
// through approval, completion, rejection and cancellation.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	userIDs := make([]string, 0, s.opts.NumUsers)
	for i := 0; i < s.opts.NumUsers; i++ {
		user, err := s.CreateUser(ctx)
		if err != nil {
			return summary, err
		}
		userIDs = append(userIDs, user.ID)
		summary.Users++
	}

	for i := 0; i < s.opts.NumPosts; i++ {
		ownerID := userIDs[s.faker.Number(0, len(userIDs)-1)]
		post, err := s.CreatePost(ctx, ownerID)
		if err != nil {
			return summary, err
		}
		summary.Posts++

		if err := s.claimPost(ctx, post, userIDs, summary); err != nil {
			return summary, err
		}
	}

	middleware.Logger.Info("seeding finished",
		slog.Int("users", summary.Users),
		slog.Int("posts", summary.Posts),
		slog.Int("claims", summary.Claims),
		slog.Int("completed", summary.Completed))
	return summary, nil
}

// CreateUser saves a profile with contact details.
func (s *Seeder) CreateUser(ctx context.Context) (*models.User, error) {
	address := s.faker.Address()
	return s.users.UpdateProfile(ctx, service.UpdateProfileInput{
		UserID:      s.faker.UUID(),
		UserName:    s.faker.Username() + strconv.Itoa(s.faker.Number(100, 999)),
		FullName:    s.faker.Name(),
		Email:       s.faker.Email(),
		PhoneNumber: s.faker.Phone(),
		Address:     address.Street,
		City:        address.City,
	})
}

// CreatePost publishes a post for ownerID.
func (s *Seeder) CreatePost(ctx context.Context, ownerID string) (*models.Post, error) {
	food := s.faker.Vegetable()
	category := "produce"
	if s.faker.Bool() {
		food = s.faker.Fruit()
	}
	if s.faker.Number(0, 4) == 0 {
		food, category = s.faker.Snack(), "prepared"
	}

	unit := units[s.faker.Number(0, len(units)-1)]
	quantity := strconv.FormatFloat(s.faker.Float64Range(0.5, 25), 'f', 1, 64)
	if unit == "pieces" || unit == "g" {
		quantity = strconv.Itoa(s.faker.Number(5, 400))
	}

	var expires *time.Time
	if s.faker.Bool() {
		at := time.Now().Add(time.Duration(s.faker.Number(6, 96)) * time.Hour).UTC()
		expires = &at
	}

	return s.posts.CreatePost(ctx, service.CreatePostInput{
		OwnerID:        ownerID,
		Title:          fmt.Sprintf("Surplus %s", food),
		Description:    s.faker.Sentence(12),
		Quantity:       quantity,
		Unit:           unit,
		Category:       category,
		PickupLocation: s.faker.Street(),
		Notes:          s.faker.Sentence(6),
		ExpiresOn:      expires,
	})
}

func (s *Seeder) claimPost(ctx context.Context, post *models.Post, userIDs []string, summary *Summary) error {
	var pending []*models.Claim
	n := s.faker.Number(0, s.opts.MaxClaimsPerPost)
	for _, recipientID := range s.pickRecipients(userIDs, post.OwnerID, n) {
		claim, err := s.claims.CreateClaim(ctx, post.ID, recipientID)
		if err != nil {
			return fmt.Errorf("seed claim on %s: %w", post.ID, err)
		}
		pending = append(pending, claim)
		summary.Claims++
	}
	if len(pending) == 0 {
		return nil
	}

	switch s.faker.Number(0, 3) {
	case 0:
		// left pending
	case 1:
		if _, err := s.claims.CancelClaim(ctx, pending[0].ID, pending[0].RecipientID); err != nil {
			return err
		}
		summary.Cancelled++
	case 2, 3:
		chosen := pending[0]
		if _, err := s.claims.ApproveClaim(ctx, chosen.ID, post.OwnerID); err != nil {
			return err
		}
		summary.Approved++
		summary.Rejected += len(pending) - 1
		if s.faker.Bool() {
			if _, err := s.claims.CompleteClaim(ctx, chosen.ID, post.OwnerID); err != nil {
				return err
			}
			summary.Completed++
		}
	}
	return nil
}

// pickRecipients returns up to n distinct users other than ownerID.
func (s *Seeder) pickRecipients(userIDs []string, ownerID string, n int) []string {
	candidates := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != ownerID {
			candidates = append(candidates, id)
		}
	}
	s.faker.ShuffleStrings(candidates)
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}
