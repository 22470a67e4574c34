package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu       sync.Mutex
	fail     error
	messages []config.EventMessage
}

func (p *fakePublisher) Publish(ctx context.Context, msg config.EventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.messages = append(p.messages, msg)
	return "msg-" + msg.ReferenceType, nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func outboxRows(t *testing.T, db *gorm.DB) []models.EventOutbox {
	t.Helper()
	var rows []models.EventOutbox
	require.NoError(t, db.Order("id").Find(&rows).Error)
	return rows
}

func TestDispatchPublishesPendingEvents(t *testing.T) {
	db := dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Events")
	line := dbtest.MustLine(t, ctx, "Line A")

	publisher := &fakePublisher{}
	dispatcher := workflow.NewOutboxDispatcher(db, nil, publisher)
	published := dispatcher.DispatchOnce(context.Background())
	assert.Equal(t, 1, published)

	require.Len(t, publisher.messages, 1)
	msg := publisher.messages[0]
	assert.Equal(t, "lines", msg.ReferenceType)
	assert.Equal(t, line.ID, msg.ReferenceId)
	assert.Equal(t, string(models.EventActionCreate), msg.Action)
	assert.Equal(t, "test-correlation", msg.CorrelationId)

	rows := outboxRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxPublishStatusSent, rows[0].PublishStatus)
	assert.Equal(t, 1, rows[0].PublishAttempts)
	require.NotNil(t, rows[0].MessageId)
	assert.Equal(t, "msg-lines", *rows[0].MessageId)
	assert.NotNil(t, rows[0].PublishedAt)
	assert.Nil(t, rows[0].LockedBy)

	// nothing left to send
	assert.Zero(t, dispatcher.DispatchOnce(context.Background()))
}

func TestDispatchBacksOffThenGivesUp(t *testing.T) {
	db := dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Failing")
	dbtest.MustLine(t, ctx, "Line A")

	publisher := &fakePublisher{fail: errors.New("broker down")}
	dispatcher := workflow.NewOutboxDispatcher(db, nil, publisher)
	dispatcher.MaxAttempts = 2
	dispatcher.InitialBackoff = time.Hour

	assert.Zero(t, dispatcher.DispatchOnce(context.Background()))
	rows := outboxRows(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutboxPublishStatusFailed, rows[0].PublishStatus)
	require.NotNil(t, rows[0].LastPublishError)
	assert.Equal(t, "broker down", *rows[0].LastPublishError)
	require.NotNil(t, rows[0].NextAttemptAt)
	assert.True(t, rows[0].NextAttemptAt.After(time.Now().Add(50*time.Minute)))

	// not due yet
	assert.Zero(t, dispatcher.DispatchOnce(context.Background()))
	assert.Equal(t, 1, outboxRows(t, db)[0].PublishAttempts)

	require.NoError(t, db.Model(&models.EventOutbox{}).Where("id = ?", rows[0].ID).
		Update("next_attempt_at", time.Now().UTC().Add(-time.Minute)).Error)
	assert.Zero(t, dispatcher.DispatchOnce(context.Background()))
	rows = outboxRows(t, db)
	assert.Equal(t, models.OutboxPublishStatusDead, rows[0].PublishStatus)
	assert.Equal(t, 2, rows[0].PublishAttempts)

	// dead rows come back once requeued
	requeued, err := models.RequeueDeadEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	publisher.fail = nil
	assert.Equal(t, 1, dispatcher.DispatchOnce(context.Background()))
}

func TestDispatchReclaimsStaleLocks(t *testing.T) {
	db := dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Stale")
	dbtest.MustLine(t, ctx, "Line A")

	rows := outboxRows(t, db)
	require.Len(t, rows, 1)
	staleAt := time.Now().UTC().Add(-time.Hour)
	owner := "crashed-dispatcher"
	require.NoError(t, db.Model(&models.EventOutbox{}).Where("id = ?", rows[0].ID).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusProcessing,
		"locked_at":      &staleAt,
		"locked_by":      &owner,
	}).Error)

	publisher := &fakePublisher{}
	dispatcher := workflow.NewOutboxDispatcher(db, nil, publisher)
	assert.Equal(t, 1, dispatcher.DispatchOnce(context.Background()))
	assert.Equal(t, models.OutboxPublishStatusSent, outboxRows(t, db)[0].PublishStatus)
}

func TestPublishBackoff(t *testing.T) {
	d := workflow.NewOutboxDispatcher(nil, nil, nil)
	d.InitialBackoff = 5 * time.Second
	assert.Equal(t, 5*time.Second, d.PublishBackoff(1))
	assert.Equal(t, 10*time.Second, d.PublishBackoff(2))
	assert.Equal(t, 40*time.Second, d.PublishBackoff(4))
	assert.Equal(t, 10*time.Minute, d.PublishBackoff(20))
}

func TestDispatcherRunStopsWithContext(t *testing.T) {
	db := dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Runner")
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	publisher := &fakePublisher{}
	dispatcher := workflow.NewOutboxDispatcher(db, nil, publisher)
	dispatcher.PollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Run(runCtx)
	}()

	dbtest.MustLine(t, ctx, "Line A")
	dbtest.MustLine(t, ctx, "Line B")
	require.Eventually(t, func() bool { return publisher.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	scheduler := workflow.NewBackupScheduler(nil, nil)
	scheduler.Start()
	// a second start is a no-op
	scheduler.Start()
	scheduler.Stop()
	scheduler.Stop()
}
