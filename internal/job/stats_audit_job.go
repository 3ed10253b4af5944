// Package job holds scheduled background work.
package job

import (
	"context"
	"log/slog"
	"time"

	"waster/internal/middleware"
	"waster/internal/observability"
	"waster/internal/service"
)

// StatsAuditor is the part of the stats service the audit needs.
type StatsAuditor interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	AuditStats(ctx context.Context, userID string) (*service.StatsDrift, error)
}

// AuditReport summarises one audit run.
type AuditReport struct {
	Users   int
	Drifted []*service.StatsDrift
	Failed  int
}

// StatsAuditJob compares every user's stored dashboard counters with a full
// recomputation. It reports drift and never writes.
type StatsAuditJob struct {
	auditor StatsAuditor
	timeout time.Duration
}

func NewStatsAuditJob(auditor StatsAuditor) *StatsAuditJob {
	return &StatsAuditJob{auditor: auditor, timeout: 10 * time.Minute}
}

// Run implements cron.Job.
func (j *StatsAuditJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.Audit(ctx); err != nil {
		middleware.Logger.Error("stats audit failed", slog.String("error", err.Error()))
	}
}

// Audit checks every known user once.
func (j *StatsAuditJob) Audit(ctx context.Context) (*AuditReport, error) {
	start := time.Now()
	users, err := j.auditor.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{Users: len(users)}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drift, err := j.auditor.AuditStats(ctx, userID)
		if err != nil {
			report.Failed++
			middleware.Logger.Warn("stats audit skipped user",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		if !drift.Drifted() {
			continue
		}

		report.Drifted = append(report.Drifted, drift)
		for _, counter := range drift.Counters {
			observability.StatsDrift.WithLabelValues(counter).Inc()
		}
		middleware.Logger.Warn("dashboard counters drifted",
			slog.String("user_id", userID),
			slog.Any("counters", drift.Counters),
			slog.Any("stored", drift.Stored),
			slog.Any("computed", drift.Computed))
	}

	middleware.Logger.Info("stats audit finished",
		slog.Int("users", report.Users),
		slog.Int("drifted", len(report.Drifted)),
		slog.Int("failed", report.Failed),
		slog.Duration("took", time.Since(start)))
	return report, nil
}
