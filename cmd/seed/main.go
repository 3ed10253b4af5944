// Command main seeds demo users, posts and claims.
package main

import (
	"context"
	"flag"
	"log"

	"waster/internal/config"
	"waster/internal/database"
	"waster/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	numPosts := flag.Int("posts", 60, "Number of posts to create")
	maxClaims := flag.Int("claims", 3, "Maximum claims per post")
	randSeed := flag.Int64("seed", 0, "Random seed (0 uses the clock)")
	shouldClean := flag.Bool("clean", false, "Delete existing claims, posts, counters and profiles first")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close() }()

	ctx := context.Background()
	s := seed.NewSeeder(db, seed.Options{
		NumUsers:         *numUsers,
		NumPosts:         *numPosts,
		MaxClaimsPerPost: *maxClaims,
		RandSeed:         *randSeed,
	})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	summary, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d users, %d posts, %d claims (%d approved, %d completed, %d rejected, %d cancelled)",
		summary.Users, summary.Posts, summary.Claims,
		summary.Approved, summary.Completed, summary.Rejected, summary.Cancelled)
}
