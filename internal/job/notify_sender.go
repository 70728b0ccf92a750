package job

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/mq"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/repository"

	"gorm.io/gorm"
)

// NotifySender drains the notification outbox to the chat front-end. Delivery
// is best-effort: a failed send retries up to the configured maximum and never
// touches order state. last_notified_status is written only after a
// successful send and suppresses a later duplicate for the same status.
type NotifySender struct {
	notifyRepo *repository.NotificationRepository
	orderRepo  *repository.OrderRepository
	sender     mq.MessageSender
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewNotifySender(db *gorm.DB, sender mq.MessageSender, cfg *config.Config) *NotifySender {
	return &NotifySender{
		notifyRepo: repository.NewNotificationRepository(db),
		orderRepo:  repository.NewOrderRepository(db),
		sender:     sender,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   time.Second,
		batchSize:  50,
	}
}

func (s *NotifySender) Start(ctx context.Context) {
	log.Println("[NotifySender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[NotifySender] context cancelled, stopping")
			return
		case <-s.stopCh:
			log.Println("[NotifySender] stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *NotifySender) Stop() {
	close(s.stopCh)
}

// ProcessPending delivers one batch. Exported for tests and for a final drain
// on shutdown.
func (s *NotifySender) ProcessPending(ctx context.Context) {
	notifications, err := s.notifyRepo.GetPending(ctx, s.batchSize)
	if err != nil {
		log.Printf("[NotifySender] pending query failed: %v", err)
		return
	}

	for _, n := range notifications {
		s.deliver(ctx, n)
	}
}

func (s *NotifySender) deliver(ctx context.Context, n *model.Notification) {
	order, err := s.orderRepo.GetByProviderRef(ctx, n.ProviderRef)
	if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		log.Printf("[NotifySender] order lookup failed: ref=%s err=%v", n.ProviderRef, err)
		return
	}

	// Dedup: the user already heard about this status.
	if order != nil && order.LastNotifiedStatus == n.OrderStatus {
		if err := s.notifyRepo.MarkSent(ctx, n.ID); err != nil {
			log.Printf("[NotifySender] mark sent failed: id=%d err=%v", n.ID, err)
		}
		return
	}

	if err := s.sender.Send(s.cfg.Kafka.Topic.Notify, n.UserID, n.Payload); err != nil {
		log.Printf("[NotifySender] send failed: id=%d ref=%s err=%v", n.ID, n.ProviderRef, err)

		if err := s.notifyRepo.IncrementRetry(ctx, n.ID); err != nil {
			log.Printf("[NotifySender] retry bump failed: id=%d err=%v", n.ID, err)
			return
		}
		if n.RetryCount+1 >= s.cfg.Business.MaxNotifyRetries {
			if err := s.notifyRepo.MarkFailed(ctx, n.ID); err != nil {
				log.Printf("[NotifySender] mark failed failed: id=%d err=%v", n.ID, err)
			} else {
				log.Printf("[NotifySender] notification dead-lettered: id=%d ref=%s", n.ID, n.ProviderRef)
			}
		}
		return
	}

	if err := s.orderRepo.SetLastNotified(ctx, n.ProviderRef, n.OrderStatus); err != nil {
		log.Printf("[NotifySender] set last notified failed: ref=%s err=%v", n.ProviderRef, err)
	}
	if err := s.notifyRepo.MarkSent(ctx, n.ID); err != nil {
		log.Printf("[NotifySender] mark sent failed: id=%d err=%v", n.ID, err)
	}
	log.Printf("[NotifySender] delivered: id=%d user=%s status=%s", n.ID, n.UserID, n.OrderStatus)
}
