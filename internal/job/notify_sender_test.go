package job

import (
	"context"
	"errors"
	"testing"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSender struct {
	fail bool
	sent []sentMessage
}

type sentMessage struct {
	topic, key, value string
}

func (s *fakeSender) Send(topic, key, value string) error {
	if s.fail {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, sentMessage{topic, key, value})
	return nil
}

func senderConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.Notify = "storebot.notify"
	cfg.Business.MaxNotifyRetries = 2
	return cfg
}

func seedNotification(t *testing.T, db *gorm.DB, ref, status string) *model.Notification {
	t.Helper()
	n := &model.Notification{
		UserID:      "u1",
		ProviderRef: ref,
		OrderStatus: status,
		Payload:     `{"status":"` + status + `"}`,
		Status:      model.NotificationStatusPending,
	}
	require.NoError(t, repository.NewNotificationRepository(db).Create(context.Background(), nil, n))
	return n
}

func TestNotifySenderDelivers(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, "TRX1", model.OrderStatusSucceeded)
	n := seedNotification(t, db, "TRX1", model.OrderStatusSucceeded)

	sender := &fakeSender{}
	s := NewNotifySender(db, sender, senderConfig())
	ctx := context.Background()

	s.ProcessPending(ctx)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "storebot.notify", sender.sent[0].topic)
	require.Equal(t, "u1", sender.sent[0].key)

	var row model.Notification
	require.NoError(t, db.First(&row, n.ID).Error)
	require.Equal(t, model.NotificationStatusSent, row.Status)

	order, err := repository.NewOrderRepository(db).GetByProviderRef(ctx, "TRX1")
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusSucceeded, order.LastNotifiedStatus)

	// A second pass finds nothing to do.
	s.ProcessPending(ctx)
	require.Len(t, sender.sent, 1)
}

func TestNotifySenderSuppressesDuplicateStatus(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, "TRX1", model.OrderStatusSucceeded)
	first := seedNotification(t, db, "TRX1", model.OrderStatusSucceeded)
	dup := seedNotification(t, db, "TRX1", model.OrderStatusSucceeded)

	sender := &fakeSender{}
	s := NewNotifySender(db, sender, senderConfig())

	s.ProcessPending(context.Background())

	// One message out; the duplicate row is settled without a send.
	require.Len(t, sender.sent, 1)

	for _, id := range []int64{first.ID, dup.ID} {
		var row model.Notification
		require.NoError(t, db.First(&row, id).Error)
		require.Equal(t, model.NotificationStatusSent, row.Status)
	}
}

func TestNotifySenderRetriesThenDeadLetters(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, "TRX1", model.OrderStatusFailed)
	n := seedNotification(t, db, "TRX1", model.OrderStatusFailed)

	sender := &fakeSender{fail: true}
	s := NewNotifySender(db, sender, senderConfig())
	ctx := context.Background()

	s.ProcessPending(ctx)

	var row model.Notification
	require.NoError(t, db.First(&row, n.ID).Error)
	require.Equal(t, model.NotificationStatusPending, row.Status)
	require.Equal(t, 1, row.RetryCount)

	// Second failure hits the retry cap.
	s.ProcessPending(ctx)

	require.NoError(t, db.First(&row, n.ID).Error)
	require.Equal(t, model.NotificationStatusFailed, row.Status)

	// Order state is never touched by delivery failures.
	order, err := repository.NewOrderRepository(db).GetByProviderRef(ctx, "TRX1")
	require.NoError(t, err)
	require.Empty(t, order.LastNotifiedStatus)
}

func TestNotifySenderRecoversAfterBrokerReturns(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, "TRX1", model.OrderStatusSucceeded)
	seedNotification(t, db, "TRX1", model.OrderStatusSucceeded)

	sender := &fakeSender{fail: true}
	s := NewNotifySender(db, sender, senderConfig())
	ctx := context.Background()

	s.ProcessPending(ctx)
	require.Empty(t, sender.sent)

	sender.fail = false
	s.ProcessPending(ctx)
	require.Len(t, sender.sent, 1)
}
