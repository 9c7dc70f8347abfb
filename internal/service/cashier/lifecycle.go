package cashier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/pkg/ids"
	"cashier-service/internal/pkg/lock"

	"go.uber.org/zap"
)

// Create subscribes the customer to plan through gateway. The customer's
// never-activated subscription is reused; a terminal one is kept for audit
// and a new row is started. Free plans become active immediately.
func (e *Engine) Create(ctx context.Context, cust Billable, plan BillablePlan, gateway string, pm customer.PaymentMethod) (*subscription.Subscription, error) {
	unlock, err := e.locker.Lock(ctx, lock.CustomerKey(cust.BillableID()))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := e.store.GetCurrentSubscription(ctx, cust.BillableID())
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load current subscription: %w", err)
	}

	if sub != nil {
		unlockSub, err := e.locker.Lock(ctx, lock.SubscriptionKey(sub.ID))
		if err != nil {
			return nil, err
		}
		defer unlockSub()

		if sub, err = e.store.GetSubscription(ctx, sub.ID); err != nil {
			return nil, fmt.Errorf("failed to reload subscription: %w", err)
		}
		pending, err := e.pending(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if pending != nil || sub.IsPending() {
			return nil, xerrors.AlreadyPending(sub.ID)
		}
		if sub.IsActive() || sub.IsExpiring() {
			return nil, fmt.Errorf("customer %s already subscribed with %s: %w", cust.BillableID(), sub.ID, xerrors.ErrConflict)
		}
		if sub.IsTerminal() {
			sub = nil
		}
	}

	now := e.now()
	endsAt := plan.PeriodEndsAt(now)
	if sub == nil {
		sub = subscription.New(ids.NewAt(now), cust.BillableID(), plan.BillableID(), gateway, now, endsAt)
		sub.CreatedAt = now
	} else if err := sub.Restart(plan.BillableID(), gateway, now, endsAt); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := e.store.UpdatePaymentMethod(ctx, cust.BillableID(), pm); err != nil {
		return nil, fmt.Errorf("failed to update payment method: %w", err)
	}

	cs := &Changeset{Subscription: sub}
	var logs []*auditlog.Entry
	if plan.BillableAmount().IsZero() {
		txn := e.newTransaction(sub, transaction.TypeSubscribe, plan.BillableAmount(), plan.BillableCurrency(),
			plan.BillableID(), endsAt, "Subscribed to plan "+plan.BillableName(), now)
		if err := txn.SetSuccess(now); err != nil {
			return nil, err
		}
		if err := sub.SetActive(); err != nil {
			return nil, err
		}
		cs.Append = txn
		logs = e.planLogs(plan, "", auditlog.TypePaid, auditlog.TypeSubscribed)
	}

	if err := e.store.Commit(ctx, cs); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	e.appendLogs(ctx, sub.ID, logs...)

	e.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("customer_id", sub.CustomerID),
		zap.String("plan_id", sub.PlanID),
		zap.String("gateway", gateway),
		zap.String("status", string(sub.Status)),
	)
	return sub, nil
}

// OpenCheckout starts the initial SUBSCRIBE payment and moves the
// subscription to PENDING. The returned invoice still has to be charged.
func (e *Engine) OpenCheckout(ctx context.Context, subID string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		pending, err := e.pending(ctx, sub.ID)
		if err != nil {
			return err
		}
		if pending != nil || sub.IsPending() {
			return xerrors.AlreadyPending(sub.ID)
		}
		if !sub.IsNew() {
			return invalidState(sub, "checkout")
		}

		plan, err := e.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}
		if plan.IsFree() {
			return xerrors.ValidationFailed("free plans are activated without checkout")
		}

		now := e.now()
		txn := e.newTransaction(sub, transaction.TypeSubscribe, plan.Price, plan.Currency, plan.ID, sub.EndsAt,
			"Subscribe to plan "+plan.Name, now)
		inv = e.newInvoice(sub, txn, now)
		if err := sub.MarkPending(); err != nil {
			return err
		}
		sub.UpdatedAt = now

		if err := e.store.Commit(ctx, &Changeset{Subscription: sub, Append: txn, Invoice: inv}); err != nil {
			return fmt.Errorf("failed to open checkout: %w", err)
		}

		e.logger.Info("checkout opened",
			zap.String("subscription_id", sub.ID),
			zap.String("transaction_id", txn.ID),
			zap.String("amount", txn.Amount.StringFixed(2)),
		)
		return nil
	})
	return inv, err
}

// OpenRenewal starts a RENEW payment extending the period by one cycle.
func (e *Engine) OpenRenewal(ctx context.Context, subID string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		pending, err := e.pending(ctx, sub.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return xerrors.AlreadyPending(sub.ID)
		}
		if !sub.IsActive() && !sub.IsExpiring() {
			return invalidState(sub, "renew")
		}

		plan, err := e.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}

		now := e.now()
		from := sub.CurrentPeriodEndsAt
		if now.After(from) {
			from = now
		}
		txn := e.newTransaction(sub, transaction.TypeRenew, plan.Price, plan.Currency, plan.ID, plan.PeriodEndsAt(from),
			"Renew plan "+plan.Name, now)

		inv, err = e.open(ctx, sub, txn, now)
		return err
	})
	return inv, err
}

// PreviewPlanChange prices a switch to planID without touching the subscription.
func (e *Engine) PreviewPlanChange(ctx context.Context, subID, planID string) (Proration, *subscription.Plan, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return Proration{}, nil, err
	}
	current, next, err := e.changePlans(ctx, sub, planID)
	if err != nil {
		return Proration{}, nil, err
	}
	p, err := CalcChangePlan(sub, current, next, e.now())
	return p, next, err
}

// OpenPlanChange starts a CHANGE_PLAN payment for the prorated amount.
func (e *Engine) OpenPlanChange(ctx context.Context, subID, planID string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		pending, err := e.pending(ctx, sub.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return xerrors.AlreadyPending(sub.ID)
		}

		current, next, err := e.changePlans(ctx, sub, planID)
		if err != nil {
			return err
		}
		now := e.now()
		p, err := CalcChangePlan(sub, current, next, now)
		if err != nil {
			return err
		}

		txn := e.newTransaction(sub, transaction.TypeChangePlan, p.Amount, next.Currency, next.ID, p.EndsAt,
			"Change plan to "+next.Name, now)
		inv, err = e.open(ctx, sub, txn, now)
		return err
	})
	return inv, err
}

func (e *Engine) changePlans(ctx context.Context, sub *subscription.Subscription, planID string) (*subscription.Plan, *subscription.Plan, error) {
	current, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load current plan: %w", err)
	}
	next, err := e.store.GetPlan(ctx, planID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil, xerrors.ValidationFailed("plan " + planID + " does not exist")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if !next.IsActive() {
		return nil, nil, xerrors.ValidationFailed("plan " + next.Name + " is not available")
	}
	return current, next, nil
}

// open persists a new RENEW or CHANGE_PLAN transaction with its invoice.
// Nothing is collected for a zero amount, so it is approved on the spot.
func (e *Engine) open(ctx context.Context, sub *subscription.Subscription, txn *transaction.Transaction, now time.Time) (*invoice.Invoice, error) {
	inv := e.newInvoice(sub, txn, now)

	if !txn.Amount.IsZero() {
		if err := e.store.Commit(ctx, &Changeset{Append: txn, Invoice: inv}); err != nil {
			return nil, fmt.Errorf("failed to open %s transaction: %w", txn.Type, err)
		}
		e.logger.Info("transaction opened",
			zap.String("subscription_id", sub.ID),
			zap.String("transaction_id", txn.ID),
			zap.String("type", string(txn.Type)),
			zap.String("amount", txn.Amount.StringFixed(2)),
		)
		return inv, nil
	}

	logs, err := e.approve(ctx, sub, txn, inv, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.Commit(ctx, &Changeset{Subscription: sub, Append: txn, Invoice: inv}); err != nil {
		return nil, fmt.Errorf("failed to settle %s transaction: %w", txn.Type, err)
	}
	e.appendLogs(ctx, sub.ID, logs...)
	return inv, nil
}

// RecordCharge stores the provider reference and payment URLs for a charged invoice.
func (e *Engine) RecordCharge(ctx context.Context, invoiceID string, res ChargeResult) error {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}

	return e.withSubscription(ctx, inv.SubscriptionID, func(sub *subscription.Subscription) error {
		inv, err := e.store.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		txn, err := e.store.GetTransaction(ctx, inv.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to load transaction: %w", err)
		}
		if !txn.IsPending() {
			return nil
		}

		now := e.now()
		meta := invoice.Metadata{
			TxnID:       res.Reference,
			CheckoutURL: res.CheckoutURL,
			StatusURL:   res.StatusURL,
			QRCodeURL:   res.QRCodeURL,
			Extra:       res.Extra,
		}
		if err := inv.UpdateMetadata(meta, now); err != nil {
			return err
		}
		txn.Reference = res.Reference
		txn.CheckoutURL = res.CheckoutURL
		txn.StatusURL = res.StatusURL
		txn.QRCodeURL = res.QRCodeURL
		txn.UpdatedAt = now

		return e.store.Commit(ctx, &Changeset{Update: []*transaction.Transaction{txn}, Invoice: inv})
	})
}

// PayFailed records that charging the invoice failed before the provider
// accepted it. The pending transaction fails as if the provider had said so.
func (e *Engine) PayFailed(ctx context.Context, invoiceID, message string) error {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}

	e.logger.Warn("charge failed",
		zap.String("invoice_id", invoiceID),
		zap.String("subscription_id", inv.SubscriptionID),
		zap.String("error", message),
	)
	return e.withSubscription(ctx, inv.SubscriptionID, func(sub *subscription.Subscription) error {
		return e.resolve(ctx, sub, inv.TransactionID, transaction.OutcomeFailed, message, nil)
	})
}

// CancelNow ends a subscription that was never activated.
func (e *Engine) CancelNow(ctx context.Context, subID string) error {
	return e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		if !sub.IsNew() {
			return invalidState(sub, "cancel")
		}
		if err := sub.SetEnded(); err != nil {
			return err
		}
		sub.UpdatedAt = e.now()
		if err := e.store.Commit(ctx, &Changeset{Subscription: sub}); err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		e.logger.Info("subscription cancelled before activation", zap.String("subscription_id", sub.ID))
		return nil
	})
}

// Expire ends subscriptions whose period is over and, for gateways that do
// not bill automatically, flags those within window of their end as EXPIRING.
// Subscriptions with a transaction in flight are left alone.
func (e *Engine) Expire(ctx context.Context, subID string, window time.Duration, autoBilling bool) (bool, error) {
	changed := false
	err := e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		pending, err := e.pending(ctx, sub.ID)
		if err != nil || pending != nil {
			return err
		}

		now := e.now()
		var entry *auditlog.Entry
		switch {
		case (sub.IsActive() || sub.IsExpiring()) && !now.Before(sub.EndsAt):
			if err := sub.SetEnded(); err != nil {
				return err
			}
			entry = auditlog.New(auditlog.TypeEnded, map[string]string{"ends_at": sub.EndsAt.Format(time.RFC3339)})
		case sub.IsActive() && !autoBilling && sub.EndsAt.Sub(now) <= window:
			if err := sub.MarkExpiring(); err != nil {
				return err
			}
			entry = auditlog.New(auditlog.TypeExpiring, map[string]string{"ends_at": sub.EndsAt.Format(time.RFC3339)})
		default:
			return nil
		}

		sub.UpdatedAt = now
		if err := e.store.Commit(ctx, &Changeset{Subscription: sub}); err != nil {
			return fmt.Errorf("failed to expire subscription: %w", err)
		}
		e.appendLogs(ctx, sub.ID, entry)
		changed = true
		e.logger.Info("subscription period check",
			zap.String("subscription_id", sub.ID),
			zap.String("status", string(sub.Status)),
		)
		return nil
	})
	return changed, err
}
