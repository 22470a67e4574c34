package workflow

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/jasonlvhit/gocron"
	"github.com/sirupsen/logrus"
)

const schedulerUserName = "Backup scheduler"

// BackupScheduler runs due scheduled backups once a minute.
// Schedules are read from the database on every tick, so edits apply without a restart.
type BackupScheduler struct {
	Store  utils.ObjectStore
	Logger *logrus.Logger
	Now    func() time.Time

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	stopped   chan bool
	busy      sync.Mutex
}

func NewBackupScheduler(store utils.ObjectStore, logger *logrus.Logger) *BackupScheduler {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &BackupScheduler{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
	}
}

func (s *BackupScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return
	}
	s.scheduler = gocron.NewScheduler()
	s.scheduler.Every(1).Minute().Do(s.tick)
	s.stopped = s.scheduler.Start()
	config.LogInfo(s.Logger, "workflow", "BackupScheduler.Start", "backup scheduler started", nil)
}

func (s *BackupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler == nil {
		return
	}
	s.scheduler.Clear()
	s.stopped <- true
	s.scheduler = nil
	s.stopped = nil
	// wait for a tick that is still running
	s.busy.Lock()
	s.busy.Unlock()
}

func (s *BackupScheduler) tick() {
	if !s.busy.TryLock() {
		return
	}
	defer s.busy.Unlock()
	if _, err := s.RunDue(context.Background()); err != nil {
		config.LogError(s.Logger, "workflow", "BackupScheduler.tick", "running scheduled backups", nil, err)
	}
}

// RunDue backs up every factory whose schedule is due and returns how many ran.
func (s *BackupScheduler) RunDue(ctx context.Context) (int, error) {
	schedules, err := models.ListEnabledBackupSchedules(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Now().UTC()
	ran := 0
	for _, schedule := range schedules {
		if schedule.NextRunAt != nil && schedule.NextRunAt.After(now) {
			continue
		}
		factoryCtx := utils.SystemContext(ctx, schedule.FactoryId, schedulerUserName)
		if schedule.NextRunAt == nil {
			// enabled without a computed run, schedule it instead of running now
			if err := s.markRun(factoryCtx, schedule, nil, now); err != nil {
				config.LogError(s.Logger, "workflow", "BackupScheduler.RunDue", "scheduling next run", schedule.FactoryId, err)
			}
			continue
		}
		ran++
		if _, err := CreateBackup(factoryCtx, s.Store, models.BackupTriggerScheduled); err != nil {
			config.LogError(s.Logger, "workflow", "BackupScheduler.RunDue", "scheduled backup failed", schedule.FactoryId, err)
		} else if _, err := PruneBackups(factoryCtx, s.Store, schedule.RetentionCount); err != nil {
			config.LogError(s.Logger, "workflow", "BackupScheduler.RunDue", "pruning backups", schedule.FactoryId, err)
		}
		if err := s.markRun(factoryCtx, schedule, &now, now); err != nil {
			config.LogError(s.Logger, "workflow", "BackupScheduler.RunDue", "recording run", schedule.FactoryId, err)
		}
	}
	return ran, nil
}

func (s *BackupScheduler) markRun(ctx context.Context, schedule *models.BackupSchedule, ranAt *time.Time, now time.Time) error {
	loc, err := utils.LoadLocation(models.FactoryTimezone(ctx))
	if err != nil {
		return err
	}
	next, err := models.NextBackupRun(schedule.Frequency, schedule.TimeOfDay, schedule.Weekday, now, loc)
	if err != nil {
		return err
	}
	if ranAt == nil {
		return models.SetBackupScheduleNextRun(ctx, next)
	}
	return models.MarkBackupScheduleRun(ctx, *ranAt, &next)
}
