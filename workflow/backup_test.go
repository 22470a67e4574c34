package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(to []string, subject string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func newStore(t *testing.T) *utils.LocalStore {
	t.Helper()
	store, err := utils.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestCreateAndRecoverBackup(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Backups")
	seedFactory(t, ctx)
	store := newStore(t)

	mailer := &fakeMailer{}
	workflow.UseMailer(mailer)
	t.Cleanup(func() { workflow.UseMailer(nil) })
	t.Setenv("BACKUP_NOTIFY_EMAILS", "owner@example.com, it@example.com")

	counts := tableRows(t, ctx)
	total := 0
	for _, n := range counts {
		total += n
	}

	record, err := workflow.CreateBackup(ctx, store, models.BackupTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.BackupStatusCompleted, record.Status)
	assert.Equal(t, "local", record.StorageProvider)
	assert.Len(t, record.Checksum, 64)
	assert.Positive(t, record.SizeBytes)
	assert.Equal(t, int64(total), record.RecordCount)
	assert.True(t, strings.HasPrefix(record.ObjectKey, "backups/"+record.FactoryId+"/"))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"owner@example.com", "it@example.com"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "Backup completed")
	assert.Contains(t, mailer.sent[0].body, record.Checksum)

	// lose some data, then recover
	lines, err := models.ListLines(ctx)
	require.NoError(t, err)
	dbtest.MustLine(t, ctx, "Line after backup")
	entries, err := models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ExpenseId == nil {
			_, err := models.DeleteCashbookEntry(ctx, e.ID)
			require.NoError(t, err)
		}
	}

	result, err := workflow.RecoverBackup(ctx, store, record.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ImportModeReplace, result.Mode)
	assert.Equal(t, total, result.Rows)
	assert.Equal(t, counts, tableRows(t, ctx))
	assert.Equal(t, "649.50", closingBalance(t, ctx))

	recovered, err := models.ListLines(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, len(lines))
	assert.Equal(t, lines[0].ID, recovered[0].ID)

	_, rc, err := workflow.DownloadBackup(ctx, store, record.ID)
	require.NoError(t, err)
	rc.Close()
}

func TestRecoverBackupRejectsTamperedFile(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Tampered")
	seedFactory(t, ctx)
	store := newStore(t)

	record, err := workflow.CreateBackup(ctx, store, models.BackupTriggerManual)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), record.ObjectKey, bytes.NewReader([]byte("not a backup")), "application/gzip")
	require.NoError(t, err)

	_, err = workflow.RecoverBackup(ctx, store, record.ID)
	assert.True(t, errors.Is(err, workflow.ErrorChecksumMismatch))
	assert.Equal(t, 3, tableRows(t, ctx)["cashbook_entries"])
}

func TestRecoverMissingBackup(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Missing")
	store := newStore(t)

	_, err := workflow.RecoverBackup(ctx, store, 999)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	record, err := workflow.CreateBackup(ctx, store, models.BackupTriggerManual)
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), record.ObjectKey))
	_, err = workflow.RecoverBackup(ctx, store, record.ID)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Prune")
	store := newStore(t)

	var records []*models.BackupRecord
	for i := 0; i < 3; i++ {
		record, err := workflow.CreateBackup(ctx, store, models.BackupTriggerManual)
		require.NoError(t, err)
		records = append(records, record)
	}

	deleted, err := workflow.PruneBackups(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := models.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, records[2].ID, remaining[0].ID)

	// the kept backup still has its own file
	_, rc, err := workflow.DownloadBackup(ctx, store, records[2].ID)
	require.NoError(t, err)
	rc.Close()
	_, err = store.Get(context.Background(), records[0].ObjectKey)
	assert.ErrorIs(t, err, utils.ErrorObjectNotFound)

	removed, err := workflow.DeleteBackup(ctx, store, records[2].ID)
	require.NoError(t, err)
	assert.Equal(t, records[2].ID, removed.ID)
	remaining, err = models.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSchedulerRunsDueBackups(t *testing.T) {
	dbtest.Setup(t)
	_, ctxDue := dbtest.NewFactory(t, "Due")
	_, ctxIdle := dbtest.NewFactory(t, "Idle")
	store := newStore(t)

	schedule, err := models.UpdateBackupSchedule(ctxDue, &models.NewBackupSchedule{
		Enabled: true, Frequency: models.BackupFrequencyDaily, TimeOfDay: "02:00", RetentionCount: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, schedule.NextRunAt)
	firstRun := *schedule.NextRunAt

	scheduler := workflow.NewBackupScheduler(store, nil)
	scheduler.Now = func() time.Time { return firstRun.Add(-time.Minute) }
	ran, err := scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ran)

	scheduler.Now = func() time.Time { return firstRun.Add(time.Minute) }
	ran, err = scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	backups, err := models.ListBackups(ctxDue)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, models.BackupTriggerScheduled, backups[0].Trigger)
	assert.Equal(t, models.BackupStatusCompleted, backups[0].Status)

	idle, err := models.ListBackups(ctxIdle)
	require.NoError(t, err)
	assert.Empty(t, idle)

	schedule, err = models.GetBackupSchedule(ctxDue)
	require.NoError(t, err)
	require.NotNil(t, schedule.LastRunAt)
	require.NotNil(t, schedule.NextRunAt)
	assert.True(t, schedule.NextRunAt.After(firstRun))
	assert.Equal(t, 24*time.Hour, schedule.NextRunAt.Sub(firstRun))

	// the next due run prunes down to the retention count
	scheduler.Now = func() time.Time { return schedule.NextRunAt.Add(time.Minute) }
	ran, err = scheduler.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	backups, err = models.ListBackups(ctxDue)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupMessage(t *testing.T) {
	failed := &models.BackupRecord{
		ID: 7, FactoryId: "f1", FileName: "backup-f1.json.gz", Trigger: models.BackupTriggerScheduled,
		Status: models.BackupStatusFailed, ErrorMessage: "disk full",
	}
	mailer := &fakeMailer{}
	workflow.UseMailer(mailer)
	t.Cleanup(func() { workflow.UseMailer(nil) })

	// no recipients configured, nothing is sent
	t.Setenv("BACKUP_NOTIFY_EMAILS", "")
	workflow.NotifyBackup(failed)
	assert.Empty(t, mailer.sent)

	t.Setenv("BACKUP_NOTIFY_EMAILS", "owner@example.com")
	workflow.NotifyBackup(failed)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Backup FAILED: backup-f1.json.gz", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "Error: disk full")
	assert.Contains(t, mailer.sent[0].body, "Trigger: scheduled")
}
