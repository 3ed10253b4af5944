package job

import (
	"context"
	"log/slog"

	"waster/internal/middleware"

	"github.com/robfig/cron/v3"
)

// DefaultAuditSpec runs the stats audit daily at 03:30:00.
const DefaultAuditSpec = "0 30 3 * * *"

// Manager owns the cron engine. Specs carry a seconds field.
type Manager struct {
	engine     *cron.Cron
	statsAudit *StatsAuditJob
	auditSpec  string
}

func NewManager(statsAudit *StatsAuditJob, auditSpec string) *Manager {
	if auditSpec == "" {
		auditSpec = DefaultAuditSpec
	}
	return &Manager{
		engine:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		statsAudit: statsAudit,
		auditSpec:  auditSpec,
	}
}

// RegisterJobs adds every job to the engine.
func (m *Manager) RegisterJobs() error {
	if _, err := m.engine.AddJob(m.auditSpec, m.statsAudit); err != nil {
		return err
	}
	return nil
}

// Entries reports the scheduled jobs.
func (m *Manager) Entries() []cron.Entry {
	return m.engine.Entries()
}

func (m *Manager) Start() {
	middleware.Logger.Info("cron engine started", slog.String("stats_audit", m.auditSpec))
	m.engine.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (m *Manager) Stop(ctx context.Context) {
	done := m.engine.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		middleware.Logger.Warn("cron jobs still running at shutdown")
	}
	middleware.Logger.Info("cron engine stopped")
}
