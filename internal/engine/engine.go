package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/lock"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/provider"
	"github.com/amifistore/cekot-sub000/internal/repository"
	"github.com/amifistore/cekot-sub000/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrProductUnavailable = errors.New("product is not available")
	ErrInvalidTarget      = errors.New("customer input does not match product format")
)

// Dispatcher is the slice of the provider client the engine needs for
// placing orders.
type Dispatcher interface {
	Dispatch(ctx context.Context, productCode, target, providerRef string) provider.DispatchResult
}

// StatusEvent is the single entry point for asynchronous order signals.
// Webhook intake and the reconciler both feed it.
type StatusEvent struct {
	ProviderRef string
	Observed    string // one of the model.Observed* values
	SN          string
	Note        string
}

// Engine owns every order's lifecycle. It is the only writer of order status:
// all mutations run under a per-order lock keyed by provider ref, and every
// transition is a compare-and-set so a lost race is a no-op, never a double
// side effect. The lock is never held across the outbound dispatch call
// (read, call, re-read under lock, CAS).
type Engine struct {
	db         *gorm.DB
	cfg        *config.Config
	locker     lock.Locker
	dispatcher Dispatcher
	ids        *idgen.Snowflake

	orderRepo   *repository.OrderRepository
	ledgerRepo  *repository.LedgerRepository
	userRepo    *repository.UserRepository
	productRepo *repository.ProductRepository
	notifyRepo  *repository.NotificationRepository

	// webhook-before-store lookup retry
	lookupRetries int
	lookupBackoff time.Duration
}

func New(db *gorm.DB, cfg *config.Config, locker lock.Locker, dispatcher Dispatcher, ids *idgen.Snowflake) *Engine {
	return &Engine{
		db:            db,
		cfg:           cfg,
		locker:        locker,
		dispatcher:    dispatcher,
		ids:           ids,
		orderRepo:     repository.NewOrderRepository(db),
		ledgerRepo:    repository.NewLedgerRepository(db, ids),
		userRepo:      repository.NewUserRepository(db),
		productRepo:   repository.NewProductRepository(db),
		notifyRepo:    repository.NewNotificationRepository(db),
		lookupRetries: 3,
		lookupBackoff: 200 * time.Millisecond,
	}
}

// PlaceOrder validates, debits and dispatches a purchase. The order row
// exists from the CREATED state on so every later signal has something to
// correlate with.
func (e *Engine) PlaceOrder(ctx context.Context, chatID, productCode, customerInput string) (*model.Order, error) {
	user, err := e.userRepo.GetOrCreate(ctx, chatID, "", "")
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	product, err := e.productRepo.GetByCode(ctx, productCode)
	if err != nil {
		return nil, err
	}
	if product.Status != model.ProductStatusActive {
		return nil, ErrProductUnavailable
	}
	if err := validateTarget(product.TargetHint, customerInput); err != nil {
		return nil, err
	}

	order := &model.Order{
		ProviderRef:   e.ids.ProviderRef(),
		UserID:        chatID,
		ProductCode:   product.Code,
		ProductName:   product.Name,
		Price:         product.Price,
		CustomerInput: customerInput,
		Status:        model.OrderStatusCreated,
	}
	if err := e.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := e.debitOrder(ctx, user, order, product.Price); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			e.rejectOrder(ctx, order, "saldo tidak cukup")
			return nil, repository.ErrInsufficientFunds
		}
		if errors.Is(err, repository.ErrOptimisticLock) {
			// Retries exhausted. Close the order out rather than stranding
			// it in CREATED.
			e.rejectOrder(ctx, order, "sistem sibuk, coba lagi")
			return nil, err
		}
		return nil, fmt.Errorf("debit: %w", err)
	}
	log.Printf("[Engine] order debited: ref=%s user=%s amount=%d", order.ProviderRef, chatID, product.Price)

	// Outbound call with no lock held. The result is reconciled against
	// whatever state the order reached in the meantime.
	result := e.dispatcher.Dispatch(ctx, product.ProviderTag, customerInput, order.ProviderRef)

	release, err := e.locker.Acquire(ctx, order.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}
	defer release()

	current, err := e.orderRepo.GetByProviderRef(ctx, order.ProviderRef)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case provider.DispatchAccepted:
		if current.Status == model.OrderStatusDebited {
			if err := e.orderRepo.UpdateStatus(ctx, nil, order.ProviderRef, model.OrderStatusDebited, model.OrderStatusDispatched, nil); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
				return nil, err
			}
		}
		log.Printf("[Engine] order dispatched: ref=%s status_was=%s", order.ProviderRef, current.Status)

	case provider.DispatchRejected:
		if current.Status == model.OrderStatusDebited {
			if err := e.failAndSettle(ctx, current, result.Reason, ""); err != nil {
				return nil, err
			}
		}
		log.Printf("[Engine] dispatch rejected: ref=%s reason=%q", order.ProviderRef, result.Reason)

	case provider.DispatchUnknown:
		if current.Status == model.OrderStatusDebited {
			if err := e.orderRepo.UpdateStatus(ctx, nil, order.ProviderRef, model.OrderStatusDebited, model.OrderStatusPendingProvider, nil); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
				return nil, err
			}
		}
		log.Printf("[Engine] dispatch indeterminate, left for reconciler: ref=%s", order.ProviderRef)
	}

	return e.orderRepo.GetByProviderRef(ctx, order.ProviderRef)
}

// debitRetries bounds how often a lost version race on the user row is
// retried before the order is given up on.
const debitRetries = 3

// debitOrder commits the wallet debit and the CREATED→DEBITED transition
// together; either both land or neither does. A lost version race (another
// writer moved the user row between snapshot and debit) reloads the row and
// tries again.
func (e *Engine) debitOrder(ctx context.Context, user *model.User, order *model.Order, amount int64) error {
	for attempt := 0; ; attempt++ {
		err := e.db.Transaction(func(tx *gorm.DB) error {
			if _, err := e.ledgerRepo.Debit(ctx, tx, user, amount, model.TransactionKindPurchase, order.ProviderRef); err != nil {
				return err
			}
			return e.orderRepo.UpdateStatus(ctx, tx, order.ProviderRef, model.OrderStatusCreated, model.OrderStatusDebited, nil)
		})
		if !errors.Is(err, repository.ErrOptimisticLock) || attempt >= debitRetries-1 {
			return err
		}

		current, err := e.userRepo.GetByChatID(ctx, user.ChatID)
		if err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
		user = current
		log.Printf("[Engine] debit version race, retrying: ref=%s attempt=%d", order.ProviderRef, attempt+1)
	}
}

// ApplyStatusEvent folds one observed signal into the order state. Duplicate,
// stale and out-of-order signals all fall out as no-ops: either the mapped
// state equals the current one, the DAG forbids the edge, or the CAS loses.
func (e *Engine) ApplyStatusEvent(ctx context.Context, ev StatusEvent) error {
	order, err := e.lookupWithRetry(ctx, ev.ProviderRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Printf("[Engine] event for unknown order dropped: ref=%s observed=%s", ev.ProviderRef, ev.Observed)
			return err
		}
		return err
	}

	if ev.Observed == model.ObservedUnknown {
		return nil
	}

	target, note := mapObserved(ev)
	if target == "" {
		return nil
	}

	release, err := e.locker.Acquire(ctx, ev.ProviderRef)
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	defer release()

	order, err = e.orderRepo.GetByProviderRef(ctx, ev.ProviderRef)
	if err != nil {
		return err
	}

	if order.Status == target {
		// Same state observed again: keep newly learned sn/note, no
		// transition, no notification.
		if err := e.orderRepo.UpdateResult(ctx, ev.ProviderRef, ev.SN, note); err != nil {
			return err
		}
		// A FAILED order whose refund decision never committed (crash or
		// error between the FAILED CAS and the settle) is re-driven here.
		if target == model.OrderStatusFailed && order.StatusRefund == 0 {
			return e.settleFailed(ctx, order, note, ev.SN)
		}
		return nil
	}

	if !model.CanTransitionTo(order.Status, target) {
		log.Printf("[Engine] transition dropped: ref=%s %s -> %s (observed=%s)", ev.ProviderRef, order.Status, target, ev.Observed)
		return nil
	}

	log.Printf("[Engine] transition: ref=%s %s -> %s sn=%q", ev.ProviderRef, order.Status, target, ev.SN)

	switch target {
	case model.OrderStatusSucceeded:
		return e.succeed(ctx, order, ev.SN, note)
	case model.OrderStatusFailed:
		return e.failAndSettle(ctx, order, note, ev.SN)
	default:
		// PROCESSING / PENDING_PROVIDER: intermediate, no notification.
		err := e.orderRepo.UpdateStatus(ctx, nil, ev.ProviderRef, order.Status, target, resultPatch(ev.SN, note))
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil
		}
		return err
	}
}

// mapObserved resolves the observed status to the internal target state.
// Presence of a serial is authoritative evidence of delivery, so a "failed"
// observation carrying an sn is treated as success with the discrepancy kept
// in the note.
func mapObserved(ev StatusEvent) (target, note string) {
	note = ev.Note
	switch ev.Observed {
	case model.ObservedSuccess:
		target = model.OrderStatusSucceeded
	case model.ObservedFailed, model.ObservedRefunded:
		if ev.SN != "" {
			target = model.OrderStatusSucceeded
			note = fmt.Sprintf("status text said failed but sn present: %s", ev.Note)
		} else {
			target = model.OrderStatusFailed
		}
	case model.ObservedProcessing:
		target = model.OrderStatusProcessing
	case model.ObservedPending:
		target = model.OrderStatusPendingProvider
	}
	return target, note
}

func (e *Engine) succeed(ctx context.Context, order *model.Order, sn, note string) error {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.orderRepo.UpdateStatus(ctx, tx, order.ProviderRef, order.Status, model.OrderStatusSucceeded, resultPatch(sn, note)); err != nil {
			return err
		}
		return e.enqueueNotification(ctx, tx, order, model.OrderStatusSucceeded, sn, note)
	})
	if errors.Is(err, repository.ErrStaleStatus) {
		return nil
	}
	return err
}

// failAndSettle commits the FAILED transition and then executes the refund
// decision. The two commit separately, so a crash in between leaves a FAILED
// order with status_refund=0; the reconciler keeps such orders in its working
// set and the equal-state branch in ApplyStatusEvent re-drives the settle.
func (e *Engine) failAndSettle(ctx context.Context, order *model.Order, note, sn string) error {
	if err := e.orderRepo.UpdateStatus(ctx, nil, order.ProviderRef, order.Status, model.OrderStatusFailed, resultPatch(sn, note)); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil
		}
		return err
	}
	return e.settleFailed(ctx, order, note, sn)
}

// settleFailed executes the refund decision for a FAILED order. Refund
// applies iff policy is on and no serial was ever captured; a partial
// delivery with sn holds FAILED as terminal for operator review. Either way
// the status_refund 0→1 CAS is taken exactly once: whichever signal arrives
// second loses it and credits nothing. Idempotent, safe to re-drive.
func (e *Engine) settleFailed(ctx context.Context, order *model.Order, note, sn string) error {
	hasSN := sn != "" || order.SN != ""
	if !e.cfg.Business.RefundOnFailure || hasSN {
		err := e.orderRepo.MarkRefunded(ctx, nil, order.ProviderRef)
		if errors.Is(err, repository.ErrRefundAlreadyTaken) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("[Engine] order held FAILED without refund: ref=%s sn_present=%v", order.ProviderRef, hasSN)
		return e.enqueueNotification(ctx, nil, order, model.OrderStatusFailed, sn, note)
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.orderRepo.MarkRefunded(ctx, tx, order.ProviderRef); err != nil {
			return err
		}
		if _, err := e.ledgerRepo.Credit(ctx, tx, order.UserID, order.Price, model.TransactionKindRefund, order.ProviderRef); err != nil {
			return err
		}
		if err := e.orderRepo.UpdateStatus(ctx, tx, order.ProviderRef, model.OrderStatusFailed, model.OrderStatusRefunded, nil); err != nil {
			return err
		}
		return e.enqueueNotification(ctx, tx, order, model.OrderStatusRefunded, sn, note)
	})
	if errors.Is(err, repository.ErrRefundAlreadyTaken) {
		log.Printf("[Engine] refund already taken, no-op: ref=%s", order.ProviderRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	log.Printf("[Engine] order refunded: ref=%s amount=%d", order.ProviderRef, order.Price)
	return nil
}

// rejectOrder terminates an order that never got debited.
func (e *Engine) rejectOrder(ctx context.Context, order *model.Order, note string) {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.orderRepo.UpdateStatus(ctx, tx, order.ProviderRef, model.OrderStatusCreated, model.OrderStatusRejected, map[string]interface{}{"note": note}); err != nil {
			return err
		}
		return e.enqueueNotification(ctx, tx, order, model.OrderStatusRejected, "", note)
	})
	if err != nil {
		log.Printf("[Engine] reject order failed: ref=%s err=%v", order.ProviderRef, err)
	}
}

func (e *Engine) lookupWithRetry(ctx context.Context, ref string) (*model.Order, error) {
	var order *model.Order
	var err error
	for attempt := 0; attempt < e.lookupRetries; attempt++ {
		order, err = e.orderRepo.GetByProviderRef(ctx, ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.lookupBackoff):
		}
	}
	return nil, err
}

// NotificationPayload is what the chat front-end receives for each terminal
// transition.
type NotificationPayload struct {
	Product     string `json:"product"`
	Target      string `json:"target"`
	Price       int64  `json:"price"`
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
	SN          string `json:"sn,omitempty"`
	Note        string `json:"note,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (e *Engine) enqueueNotification(ctx context.Context, tx *gorm.DB, order *model.Order, status, sn, note string) error {
	if sn == "" {
		sn = order.SN
	}
	if note == "" {
		note = order.Note
	}
	payload := NotificationPayload{
		Product:     order.ProductName,
		Target:      order.CustomerInput,
		Price:       order.Price,
		ProviderRef: order.ProviderRef,
		Status:      status,
		SN:          sn,
		Note:        note,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.notifyRepo.Create(ctx, tx, &model.Notification{
		UserID:      order.UserID,
		ProviderRef: order.ProviderRef,
		OrderStatus: status,
		Payload:     string(body),
	})
}

func resultPatch(sn, note string) map[string]interface{} {
	patch := map[string]interface{}{}
	if sn != "" {
		patch["sn"] = sn
	}
	if note != "" {
		patch["note"] = note
	}
	if len(patch) == 0 {
		return nil
	}
	return patch
}

func validateTarget(hint, input string) error {
	if input == "" {
		return ErrInvalidTarget
	}
	if hint == "" {
		return nil
	}
	re, err := regexp.Compile(hint)
	if err != nil {
		// A broken hint in the catalog must not block purchases.
		return nil
	}
	if !re.MatchString(input) {
		return ErrInvalidTarget
	}
	return nil
}
