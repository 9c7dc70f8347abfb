package cashier

import (
	"context"
	"fmt"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Sync reconciles the subscription against the provider. A PENDING
// subscription is resolved through its SUBSCRIBE transaction, then whichever
// transaction is still pending is resolved. Finalized transactions are never
// fetched again, so repeated calls are no-ops.
//
// Provider calls happen outside the subscription lock; the result is applied
// only if the transaction is still pending once the lock is held.
func (e *Engine) Sync(ctx context.Context, subID string, fetch Fetcher) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", subID, err)
	}

	var resolved string
	if sub.IsPending() {
		init, err := e.InitTransaction(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to load init transaction: %w", err)
		}
		if init != nil && init.IsPending() {
			if err := e.syncTransaction(ctx, sub.ID, init, fetch); err != nil {
				return err
			}
			resolved = init.ID
		}
	}

	pending, err := e.PendingTransaction(ctx, sub.ID)
	if err != nil {
		return err
	}
	if pending != nil && pending.ID != resolved {
		return e.syncTransaction(ctx, sub.ID, pending, fetch)
	}
	return nil
}

func (e *Engine) syncTransaction(ctx context.Context, subID string, txn *transaction.Transaction, fetch Fetcher) error {
	remote, err := fetch(ctx, txn)
	if err != nil {
		e.logger.Error("failed to fetch remote status",
			zap.String("subscription_id", subID),
			zap.String("transaction_id", txn.ID),
			zap.String("reference", txn.Reference),
			zap.Error(err),
		)
		return fmt.Errorf("fetch status of transaction %s: %w", txn.ID, err)
	}
	return e.Settle(ctx, subID, txn.ID, remote)
}

// Settle applies a provider status to a pending transaction. It is a no-op
// when the transaction has already been finalized.
func (e *Engine) Settle(ctx context.Context, subID, txnID string, remote transaction.RemoteStatus) error {
	switch remote.Outcome {
	case transaction.OutcomePending, transaction.OutcomeSuccess, transaction.OutcomeFailed:
	default:
		return xerrors.UnmappedStatus(remote.Code)
	}
	if remote.FetchedAt.IsZero() {
		remote.FetchedAt = e.now()
	}

	return e.withSubscription(ctx, subID, func(sub *subscription.Subscription) error {
		return e.resolve(ctx, sub, txnID, remote.Outcome, failureReason(remote), &remote)
	})
}

func failureReason(remote transaction.RemoteStatus) string {
	if remote.Text != "" {
		return remote.Text
	}
	return fmt.Sprintf("payment failed with status %d", remote.Code)
}

// resolve must be called with the subscription lock held.
func (e *Engine) resolve(ctx context.Context, sub *subscription.Subscription, txnID string, outcome transaction.Outcome, reason string, remote *transaction.RemoteStatus) error {
	txn, err := e.store.GetTransaction(ctx, txnID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", txnID, err)
	}
	if txn.SubscriptionID != sub.ID {
		return fmt.Errorf("transaction %s does not belong to %s: %w", txnID, sub.ID, xerrors.ErrInvalidInput)
	}
	if !txn.IsPending() {
		return nil
	}

	now := e.now()
	if remote != nil {
		txn.RecordRemote(*remote)
	}

	var inv *invoice.Invoice
	if txn.InvoiceID != "" {
		if inv, err = e.store.GetInvoice(ctx, txn.InvoiceID); err != nil {
			return fmt.Errorf("failed to load invoice: %w", err)
		}
	}

	var logs []*auditlog.Entry
	switch outcome {
	case transaction.OutcomePending:
		return e.store.Commit(ctx, &Changeset{Update: []*transaction.Transaction{txn}})
	case transaction.OutcomeSuccess:
		logs, err = e.approve(ctx, sub, txn, inv, now)
	case transaction.OutcomeFailed:
		logs, err = e.reject(ctx, sub, txn, inv, reason, now)
	}
	if err != nil {
		return err
	}

	if err := e.store.Commit(ctx, &Changeset{Subscription: sub, Update: []*transaction.Transaction{txn}, Invoice: inv}); err != nil {
		return fmt.Errorf("failed to save %s result: %w", txn.Type, err)
	}
	e.appendLogs(ctx, sub.ID, logs...)

	e.logger.Info("transaction resolved",
		zap.String("subscription_id", sub.ID),
		zap.String("transaction_id", txn.ID),
		zap.String("type", string(txn.Type)),
		zap.String("status", string(txn.Status)),
		zap.String("subscription_status", string(sub.Status)),
	)
	return nil
}

// approve finalizes a successful transaction and applies it to the subscription.
func (e *Engine) approve(ctx context.Context, sub *subscription.Subscription, txn *transaction.Transaction, inv *invoice.Invoice, now time.Time) ([]*auditlog.Entry, error) {
	if err := txn.SetSuccess(now); err != nil {
		return nil, err
	}
	if inv != nil && !inv.IsPaid() {
		if err := inv.Fulfill(now); err != nil {
			return nil, err
		}
	}

	var (
		applied auditlog.Type
		price   string
	)
	switch txn.Type {
	case transaction.TypeSubscribe:
		if err := sub.SetActive(); err != nil {
			return nil, err
		}
		applied = auditlog.TypeSubscribed
	case transaction.TypeRenew:
		if err := sub.ApproveRenewal(txn.EndsAt); err != nil {
			return nil, err
		}
		applied = auditlog.TypeRenewed
	case transaction.TypeChangePlan:
		if err := sub.ApprovePlanChange(txn.PlanID, txn.EndsAt); err != nil {
			return nil, err
		}
		applied = auditlog.TypePlanChanged
		price = subscription.FormatPrice(txn.Amount, txn.Currency)
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txn.Type)
	}
	sub.UpdatedAt = now

	plan, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return e.planLogs(plan, price, auditlog.TypePaid, applied), nil
}

// reject finalizes a failed transaction. A failed initial payment cancels the
// subscription; a failed renewal or plan change leaves it as it was and
// attaches an error the customer can act on.
func (e *Engine) reject(ctx context.Context, sub *subscription.Subscription, txn *transaction.Transaction, inv *invoice.Invoice, reason string, now time.Time) ([]*auditlog.Entry, error) {
	if err := txn.SetFailed(reason, now); err != nil {
		return nil, err
	}
	if inv != nil && !inv.IsPaid() {
		if err := inv.PayFailed(reason, now); err != nil {
			return nil, err
		}
	}
	sub.UpdatedAt = now

	switch txn.Type {
	case transaction.TypeSubscribe:
		if !sub.IsPending() {
			return []*auditlog.Entry{errorLog(reason)}, nil
		}
		if err := sub.CancelNow(); err != nil {
			return nil, err
		}
		plan, err := e.store.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
		return append([]*auditlog.Entry{errorLog(reason)}, e.planLogs(plan, "", auditlog.TypeCancelledNow)...), nil

	case transaction.TypeRenew:
		sub.Fail(subscription.ErrorDescriptor{
			Status:    subscription.ErrorStatusWarning,
			Type:      subscription.ErrorTypeRenewFailed,
			Message:   fmt.Sprintf("Renewal payment failed: %s. Please try again.", reason),
			ActionURL: e.links(sub, "renew"),
		})

	case transaction.TypeChangePlan:
		desc := subscription.ErrorDescriptor{
			Status:    subscription.ErrorStatusError,
			Type:      subscription.ErrorTypeChangePlanFailed,
			Message:   fmt.Sprintf("Plan change payment failed: %s.", reason),
			ActionURL: e.links(sub, "change-plan"),
		}
		if sub.IsExpiring() {
			desc.Message = fmt.Sprintf("Plan change payment failed: %s. Renew your current plan before %s to keep your subscription.",
				reason, sub.CurrentPeriodEndsAt.Format("2006-01-02"))
			desc.ActionURL = e.links(sub, "renew")
		}
		sub.Fail(desc)
	}
	return []*auditlog.Entry{errorLog(reason)}, nil
}
