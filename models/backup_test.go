package models_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackupRun(t *testing.T) {
	yangon, err := time.LoadLocation("Asia/Yangon")
	require.NoError(t, err)
	// Monday 2024-06-03 10:15 in Yangon
	now := time.Date(2024, 6, 3, 10, 15, 0, 0, yangon)

	tests := []struct {
		name      string
		frequency models.BackupFrequency
		timeOfDay string
		weekday   int
		want      time.Time
	}{
		{"daily later today", models.BackupFrequencyDaily, "22:00", 0, time.Date(2024, 6, 3, 22, 0, 0, 0, yangon)},
		{"daily already passed", models.BackupFrequencyDaily, "02:00", 0, time.Date(2024, 6, 4, 2, 0, 0, 0, yangon)},
		{"daily exactly now rolls over", models.BackupFrequencyDaily, "10:15", 0, time.Date(2024, 6, 4, 10, 15, 0, 0, yangon)},
		{"hourly later this hour", models.BackupFrequencyHourly, "00:45", 0, time.Date(2024, 6, 3, 10, 45, 0, 0, yangon)},
		{"hourly next hour", models.BackupFrequencyHourly, "00:05", 0, time.Date(2024, 6, 3, 11, 5, 0, 0, yangon)},
		{"weekly later this week", models.BackupFrequencyWeekly, "03:00", int(time.Friday), time.Date(2024, 6, 7, 3, 0, 0, 0, yangon)},
		{"weekly same day later", models.BackupFrequencyWeekly, "23:00", int(time.Monday), time.Date(2024, 6, 3, 23, 0, 0, 0, yangon)},
		{"weekly same day passed", models.BackupFrequencyWeekly, "01:00", int(time.Monday), time.Date(2024, 6, 10, 1, 0, 0, 0, yangon)},
		{"weekly sunday", models.BackupFrequencyWeekly, "01:00", int(time.Sunday), time.Date(2024, 6, 9, 1, 0, 0, 0, yangon)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.NextBackupRun(tt.frequency, tt.timeOfDay, tt.weekday, now, yangon)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
			assert.True(t, got.After(now))
		})
	}

	_, err = models.NextBackupRun(models.BackupFrequencyDaily, "25:00", 0, now, yangon)
	assert.Error(t, err)
	_, err = models.NextBackupRun("monthly", "01:00", 0, now, yangon)
	assert.Error(t, err)
}

func TestBackupScheduleDefaultsAndUpdate(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Schedules")

	schedule, err := models.GetBackupSchedule(ctx)
	require.NoError(t, err)
	assert.False(t, schedule.IsEnabled())
	assert.Equal(t, models.BackupFrequencyDaily, schedule.Frequency)

	schedule, err = models.UpdateBackupSchedule(ctx, &models.NewBackupSchedule{
		Enabled: true, Frequency: models.BackupFrequencyWeekly, TimeOfDay: "03:30", Weekday: 5, RetentionCount: 4,
	})
	require.NoError(t, err)
	assert.True(t, schedule.IsEnabled())
	assert.Equal(t, 4, schedule.RetentionCount)
	require.NotNil(t, schedule.NextRunAt)
	assert.True(t, schedule.NextRunAt.After(time.Now()))

	// second update goes through the existing row
	schedule, err = models.UpdateBackupSchedule(ctx, &models.NewBackupSchedule{
		Enabled: false, Frequency: models.BackupFrequencyDaily, TimeOfDay: "01:00",
	})
	require.NoError(t, err)
	assert.False(t, schedule.IsEnabled())
	assert.Nil(t, schedule.NextRunAt)

	enabled, err := models.ListEnabledBackupSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	_, err = models.UpdateBackupSchedule(ctx, &models.NewBackupSchedule{Frequency: "monthly", TimeOfDay: "01:00"})
	assert.Error(t, err)
}

func TestListExpiredBackups(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Retention")

	var ids []int
	for i := 0; i < 5; i++ {
		record, err := models.CreateBackupRecord(ctx, models.BackupTriggerManual, "backup.json.gz", []string{"lines"})
		require.NoError(t, err)
		require.NoError(t, models.CompleteBackupRecord(ctx, record))
		ids = append(ids, record.ID)
	}
	failed, err := models.CreateBackupRecord(ctx, models.BackupTriggerScheduled, "broken.json.gz", nil)
	require.NoError(t, err)
	require.NoError(t, models.FailBackupRecord(ctx, failed, errors.New("upload failed")))

	expired, err := models.ListExpiredBackups(ctx, 3)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, ids[0], expired[0].ID)
	assert.Equal(t, ids[1], expired[1].ID)

	none, err := models.ListExpiredBackups(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	stored, err := models.GetBackup(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupStatusFailed, stored.Status)
	assert.Equal(t, "upload failed", stored.ErrorMessage)
}
