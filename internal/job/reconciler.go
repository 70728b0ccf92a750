package job

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/engine"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/provider"
	"github.com/amifistore/cekot-sub000/internal/repository"

	"gorm.io/gorm"
)

// Querier is the slice of the provider client the reconciler needs.
type Querier interface {
	Query(ctx context.Context, providerRef string) provider.QueryResult
}

// StatusSink consumes reconciled observations; the fulfillment engine
// implements it.
type StatusSink interface {
	ApplyStatusEvent(ctx context.Context, ev engine.StatusEvent) error
}

// Reconciler periodically polls the provider for every non-terminal order and
// feeds the results to the engine. It is the safety net for lost webhooks and
// indeterminate dispatches. One tick runs at a time; an overrunning tick is
// cancelled at the next interval boundary and missed ticks do not queue up.
type Reconciler struct {
	orderRepo *repository.OrderRepository
	querier   Querier
	sink      StatusSink
	cfg       *config.Config

	interval    time.Duration
	maxAge      time.Duration
	maxInFlight int
	batchSize   int
	stopCh      chan struct{}

	tickMu sync.Mutex

	// backoff tracks orders the provider keeps answering "unknown" for.
	// After n consecutive unknowns an order skips min(2^n, cap) ticks; it is
	// never dropped while younger than maxAge.
	backoffMu sync.Mutex
	backoff   map[string]*orderBackoff
}

type orderBackoff struct {
	failures  int
	skipTicks int
}

func NewReconciler(db *gorm.DB, querier Querier, sink StatusSink, cfg *config.Config) *Reconciler {
	return &Reconciler{
		orderRepo:   repository.NewOrderRepository(db),
		querier:     querier,
		sink:        sink,
		cfg:         cfg,
		interval:    cfg.ReconcileInterval(),
		maxAge:      cfg.MaxOrderAge(),
		maxInFlight: cfg.Reconciler.MaxInFlight,
		batchSize:   200,
		stopCh:      make(chan struct{}),
		backoff:     make(map[string]*orderBackoff),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	log.Printf("[Reconciler] started: interval=%s max_age=%s", r.interval, r.maxAge)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Reconciler] context cancelled, stopping")
			return
		case <-r.stopCh:
			log.Println("[Reconciler] stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Tick runs one reconciliation sweep. Exported so startup recovery can run an
// immediate pass before the first interval elapses.
func (r *Reconciler) Tick(ctx context.Context) {
	if !r.tickMu.TryLock() {
		return
	}
	defer r.tickMu.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	r.failTimedOut(tickCtx)
	r.sweep(tickCtx)
}

// failTimedOut terminates orders stuck non-terminal past maxAge: the provider
// never confirmed, the user gets their money back.
func (r *Reconciler) failTimedOut(ctx context.Context) {
	orders, err := r.orderRepo.GetTimedOut(ctx, r.maxAge, r.batchSize)
	if err != nil {
		log.Printf("[Reconciler] timed-out query failed: %v", err)
		return
	}

	for _, order := range orders {
		ev := engine.StatusEvent{
			ProviderRef: order.ProviderRef,
			Observed:    model.ObservedFailed,
			Note:        "timeout: provider never confirmed",
		}
		if err := r.sink.ApplyStatusEvent(ctx, ev); err != nil {
			log.Printf("[Reconciler] timeout transition failed: ref=%s err=%v", order.ProviderRef, err)
			continue
		}
		r.clearBackoff(order.ProviderRef)
		log.Printf("[Reconciler] order timed out: ref=%s age=%s", order.ProviderRef, time.Since(order.UpdatedAt))
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	orders, err := r.orderRepo.GetNonTerminal(ctx, r.maxAge, r.batchSize)
	if err != nil {
		log.Printf("[Reconciler] non-terminal query failed: %v", err)
		return
	}

	active := make(map[string]bool, len(orders))
	for _, order := range orders {
		active[order.ProviderRef] = true
	}
	r.pruneBackoff(active)

	if len(orders) == 0 {
		return
	}

	sem := make(chan struct{}, r.maxInFlight)
	var wg sync.WaitGroup

	for _, order := range orders {
		if r.shouldSkip(order.ProviderRef) {
			continue
		}

		select {
		case <-ctx.Done():
			// Tick deadline hit; in-flight queries finish below, the rest
			// wait for the next tick.
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			defer func() { <-sem }()
			r.reconcileOrder(ctx, ref)
		}(order.ProviderRef)
	}

	wg.Wait()
}

func (r *Reconciler) reconcileOrder(ctx context.Context, ref string) {
	result := r.querier.Query(ctx, ref)

	if result.Status == model.ObservedUnknown {
		r.recordUnknown(ref)
		return
	}
	r.clearBackoff(ref)

	ev := engine.StatusEvent{
		ProviderRef: ref,
		Observed:    result.Status,
		SN:          result.SN,
		Note:        result.Note,
	}
	if err := r.sink.ApplyStatusEvent(ctx, ev); err != nil {
		log.Printf("[Reconciler] apply failed: ref=%s observed=%s err=%v", ref, result.Status, err)
	}
}

func (r *Reconciler) shouldSkip(ref string) bool {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	b, ok := r.backoff[ref]
	if !ok || b.skipTicks == 0 {
		return false
	}
	b.skipTicks--
	return true
}

func (r *Reconciler) recordUnknown(ref string) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	b, ok := r.backoff[ref]
	if !ok {
		b = &orderBackoff{}
		r.backoff[ref] = b
	}
	b.failures++
	skip := 1 << b.failures
	if skip > r.cfg.Reconciler.MaxBackoffTicks {
		skip = r.cfg.Reconciler.MaxBackoffTicks
	}
	b.skipTicks = skip
}

// pruneBackoff drops entries whose order left the working set, e.g. resolved
// by a webhook between ticks. Without this the map grows for the process
// lifetime.
func (r *Reconciler) pruneBackoff(active map[string]bool) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	for ref := range r.backoff {
		if !active[ref] {
			delete(r.backoff, ref)
		}
	}
}

func (r *Reconciler) clearBackoff(ref string) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	delete(r.backoff, ref)
}
