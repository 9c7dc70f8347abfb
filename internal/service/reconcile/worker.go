// Package reconcile runs the background pass that settles pending payments
// and moves subscriptions through the end of their billing period.
package reconcile

import (
	"context"
	"time"

	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/gateway"
	"cashier-service/internal/service/cashier"

	"go.uber.org/zap"
)

const defaultBatchSize = 200

// Report counts what one pass did.
type Report struct {
	Synced      int `json:"synced"`
	SyncFailed  int `json:"sync_failed"`
	Renewed     int `json:"renewed"`
	Expired     int `json:"expired"`
	ExpiryFails int `json:"expiry_failed"`
}

type Worker struct {
	engine    *cashier.Engine
	registry  *gateway.Registry
	logger    *zap.Logger
	interval  time.Duration
	window    time.Duration
	batchSize int
	now       func() time.Time
}

type Option func(*Worker)

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

func NewWorker(engine *cashier.Engine, registry *gateway.Registry, logger *zap.Logger, interval, window time.Duration, opts ...Option) *Worker {
	w := &Worker{
		engine:    engine,
		registry:  registry,
		logger:    logger.With(zap.String("component", "reconcile")),
		interval:  interval,
		window:    window,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run performs a pass immediately and then on every interval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("reconcile worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("renewal_window", w.window),
	)
	w.runLogged(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	report, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("reconcile pass failed", zap.Error(err))
		return
	}
	if report != (Report{}) {
		w.logger.Info("reconcile pass finished", zap.Any("report", report))
	}
}

// RunOnce syncs every subscription with a payment in flight, then runs the
// period-end sweep. Failures on one subscription are logged and skipped;
// only listing errors are returned.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	syncable, err := w.engine.ListSyncable(ctx, w.batchSize)
	if err != nil {
		return report, err
	}
	for _, sub := range syncable {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := w.sync(ctx, sub); err != nil {
			report.SyncFailed++
			w.logger.Warn("sync failed",
				zap.String("subscription_id", sub.ID),
				zap.String("gateway", sub.Gateway),
				zap.Error(err),
			)
			continue
		}
		report.Synced++
	}

	ending, err := w.engine.ListEndingBefore(ctx, w.now().Add(w.window), w.batchSize)
	if err != nil {
		return report, err
	}
	for _, sub := range ending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		renewed, expired, err := w.sweep(ctx, sub)
		if err != nil {
			report.ExpiryFails++
			w.logger.Warn("period check failed",
				zap.String("subscription_id", sub.ID),
				zap.String("gateway", sub.Gateway),
				zap.Error(err),
			)
			continue
		}
		if renewed {
			report.Renewed++
		}
		if expired {
			report.Expired++
		}
	}
	return report, nil
}

func (w *Worker) sync(ctx context.Context, sub *subscription.Subscription) error {
	gw, err := w.registry.Get(sub.Gateway)
	if err != nil {
		return err
	}
	return gw.Sync(ctx, sub)
}

// sweep renews auto-billing subscriptions that are about to end and then lets
// the engine end or flag whatever is left.
func (w *Worker) sweep(ctx context.Context, sub *subscription.Subscription) (renewed, expired bool, err error) {
	gw, err := w.registry.Get(sub.Gateway)
	if err != nil {
		return false, false, err
	}
	caps := gw.Capabilities()

	if caps.AutoBilling {
		if renewed, err = w.autoRenew(ctx, gw, sub); err != nil {
			return false, false, err
		}
		if renewed {
			return true, false, nil
		}
	}

	expired, err = w.engine.Expire(ctx, sub.ID, w.window, caps.AutoBilling)
	return false, expired, err
}

// autoRenew charges the card on file once per period. A renewal that already
// failed waits for the customer to act on the attached warning.
func (w *Worker) autoRenew(ctx context.Context, gw gateway.PaymentGateway, sub *subscription.Subscription) (bool, error) {
	if !sub.IsActive() || !w.now().Before(sub.EndsAt) {
		return false, nil
	}
	if sub.Error != nil && sub.Error.Type == subscription.ErrorTypeRenewFailed {
		return false, nil
	}
	pending, err := gw.HasPending(ctx, sub)
	if err != nil || pending {
		return false, err
	}
	cust, err := w.engine.Customers().GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return false, err
	}
	hasCard, err := gw.BillableUserHasCard(ctx, cust)
	if err != nil || !hasCard {
		return false, err
	}

	inv, err := gw.Renew(ctx, sub)
	if err != nil {
		return false, err
	}
	w.logger.Info("automatic renewal submitted",
		zap.String("subscription_id", sub.ID),
		zap.String("invoice_id", inv.ID),
		zap.Bool("paid", inv.IsPaid()),
	)
	return true, nil
}
