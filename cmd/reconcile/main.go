// Command reconcile compares dashboard counters with a full recomputation
// and, with -fix, overwrites them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"sync/atomic"

	"waster/internal/config"
	"waster/internal/database"
	"waster/internal/middleware"
	"waster/internal/repository"
	"waster/internal/service"
	"waster/internal/weight"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	userID := flag.String("user", "", "Reconcile a single user (default: all users)")
	fix := flag.Bool("fix", false, "Write recomputed counters instead of only reporting drift")
	workers := flag.Int("workers", 4, "Concurrent users")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = database.Close() }()

	weights, err := weight.LoadFile(cfg.WeightPolicyFile)
	if err != nil {
		return err
	}
	stats := service.NewStatsService(repository.NewStore(db), weights, nil)

	ctx := context.Background()
	users := []string{*userID}
	if *userID == "" {
		if users, err = stats.ListUserIDs(ctx); err != nil {
			return err
		}
	}

	var drifted, fixed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*workers, 1))
	for _, id := range users {
		g.Go(func() error {
			drift, err := stats.AuditStats(gctx, id)
			if err != nil {
				return fmt.Errorf("audit %s: %w", id, err)
			}
			if !drift.Drifted() {
				return nil
			}
			drifted.Add(1)
			middleware.Logger.Warn("dashboard counters drifted",
				slog.String("user_id", id),
				slog.Any("counters", drift.Counters),
				slog.Any("stored", drift.Stored),
				slog.Any("computed", drift.Computed))

			if !*fix {
				return nil
			}
			if _, err := stats.RecomputeStats(gctx, id); err != nil {
				return fmt.Errorf("recompute %s: %w", id, err)
			}
			fixed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("checked=%d drifted=%d fixed=%d", len(users), drifted.Load(), fixed.Load())
	return nil
}
