package services

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	invitationSweepLock = "invitation_sweep"
	logCleanupLock      = "log_cleanup"
	invitationSweepSpec = "@every 15m"
	logCleanupSpec      = "@daily"
	sweepInterval       = 15 * time.Minute
)

// Scheduler runs the periodic maintenance jobs. Each run takes a lease row
// keyed by its time bucket, so with several replicas only one executes it.
type Scheduler struct {
	db          *gorm.DB
	invitations *InvitationService
	logs        *SystemLogService
	cron        *cron.Cron
	instance    string
	now         func() time.Time
}

func NewScheduler(db *gorm.DB, invitations *InvitationService, logs *SystemLogService) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		db:          db,
		invitations: invitations,
		logs:        logs,
		instance:    host + "-" + uuid.NewString()[:8],
		now:         time.Now,
	}
}

func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(invitationSweepSpec, s.sweepInvitations); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(logCleanupSpec, s.cleanupLogs); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info().Str("instance", s.instance).Msg("Scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	logger.Info().Msg("Scheduler stopped")
}

// acquire inserts the lease row for (name, key). A duplicate means another
// replica already owns this run.
func (s *Scheduler) acquire(name, key string, ttl time.Duration) bool {
	now := s.now()
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.db.Create(&lock).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error().Err(err).Str("lock", name).Msg("failed to acquire scheduler lock")
		}
		return false
	}
	return true
}

func (s *Scheduler) sweepInvitations() {
	key := s.now().UTC().Truncate(sweepInterval).Format(time.RFC3339)
	if !s.acquire(invitationSweepLock, key, sweepInterval) {
		return
	}
	count, err := s.invitations.ExpireStale(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("invitation sweep failed")
		return
	}
	if count > 0 {
		logger.Info().Int64("expired", count).Msg("expired stale invitations")
	}
}

func (s *Scheduler) cleanupLogs() {
	now := s.now().UTC()
	if !s.acquire(logCleanupLock, now.Format("2006-01-02"), 24*time.Hour) {
		return
	}

	days := s.logs.GetRetentionDays()
	deleted, err := s.logs.CleanupOldLogs(days)
	if err != nil {
		logger.Error().Err(err).Msg("system log cleanup failed")
	} else if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("cleaned up old system logs")
	}

	// Leases are only needed for the current bucket.
	if err := s.db.Where("expires_at < ?", now.Add(-24*time.Hour)).Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Warn().Err(err).Msg("failed to prune scheduler locks")
	}
}
