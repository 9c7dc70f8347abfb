// Package memory is an in-process implementation of the cashier store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cashier-service/internal/domain/auditlog"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/invoice"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
	"cashier-service/internal/service/cashier"
)

// Store keeps copies of every aggregate; callers never share memory with it.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription.Subscription
	transactions  map[string]*transaction.Transaction
	ledger        map[string][]string // subscription id -> transaction ids, oldest first
	invoices      map[string]*invoice.Invoice
	customers     map[string]*customer.Customer
	plans         map[string]*subscription.Plan
	logs          map[string][]*auditlog.Entry
}

var _ cashier.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		transactions:  make(map[string]*transaction.Transaction),
		ledger:        make(map[string][]string),
		invoices:      make(map[string]*invoice.Invoice),
		customers:     make(map[string]*customer.Customer),
		plans:         make(map[string]*subscription.Plan),
		logs:          make(map[string][]*auditlog.Entry),
	}
}

func copySubscription(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	c.Metadata = copyMap(s.Metadata)
	return &c
}

func copyTransaction(t *transaction.Transaction) *transaction.Transaction {
	c := *t
	if t.Remote != nil {
		r := *t.Remote
		r.Raw = append([]byte(nil), t.Remote.Raw...)
		c.Remote = &r
	}
	c.Metadata = copyMap(t.Metadata)
	return &c
}

func copyInvoice(i *invoice.Invoice) *invoice.Invoice {
	c := *i
	c.Metadata.Extra = copyMap(i.Metadata.Extra)
	if i.PaidAt != nil {
		p := *i.PaidAt
		c.PaidAt = &p
	}
	return &c
}

func copyCustomer(cu *customer.Customer) *customer.Customer {
	c := *cu
	if cu.PaymentMethod != nil {
		pm := *cu.PaymentMethod
		pm.Extra = copyMap(cu.PaymentMethod.Extra)
		c.PaymentMethod = &pm
	}
	return &c
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Seeding

func (s *Store) PutPlan(p *subscription.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.plans[p.ID] = &c
}

func (s *Store) PutCustomer(c *customer.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = copyCustomer(c)
}

// EnsureCustomer records c, keeping the payment method of a known customer.
func (s *Store) EnsureCustomer(_ context.Context, c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyCustomer(c)
	if existing, ok := s.customers[c.ID]; ok {
		stored.PaymentMethod = existing.PaymentMethod
		stored.CreatedAt = existing.CreatedAt
	}
	s.customers[c.ID] = stored
	return nil
}

// ListPlans returns the active plans, cheapest first.
func (s *Store) ListPlans(_ context.Context) ([]*subscription.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*subscription.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if !p.IsActive() {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

// Subscriptions

func (s *Store) GetSubscription(_ context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return copySubscription(sub), nil
}

func (s *Store) GetCurrentSubscription(_ context.Context, customerID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var current *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.CustomerID != customerID {
			continue
		}
		if current == nil || sub.ID > current.ID {
			current = sub
		}
	}
	if current == nil {
		return nil, xerrors.ErrNotFound
	}
	return copySubscription(current), nil
}

func (s *Store) ListSyncable(_ context.Context, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsPending() || s.hasPendingLocked(sub.ID) {
			out = append(out, copySubscription(sub))
		}
	}
	return truncate(out, limit), nil
}

func (s *Store) ListEndingBefore(_ context.Context, t time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if (sub.IsActive() || sub.IsExpiring()) && sub.EndsAt.Before(t) {
			out = append(out, copySubscription(sub))
		}
	}
	return truncate(out, limit), nil
}

func truncate(subs []*subscription.Subscription, limit int) []*subscription.Subscription {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs
}

func (s *Store) hasPendingLocked(subID string) bool {
	for _, id := range s.ledger[subID] {
		if s.transactions[id].IsPending() {
			return true
		}
	}
	return false
}

// Transactions

func (s *Store) GetTransaction(_ context.Context, id string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return copyTransaction(t), nil
}

func (s *Store) ListTransactions(_ context.Context, subscriptionID string) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.ledger[subscriptionID]
	out := make([]*transaction.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyTransaction(s.transactions[id]))
	}
	return out, nil
}

// FindTransactionByReference returns the newest transaction carrying the
// provider reference. Providers that reuse an id across charges resolve to
// the latest one.
func (s *Store) FindTransactionByReference(_ context.Context, reference string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *transaction.Transaction
	for _, t := range s.transactions {
		if reference == "" || t.Reference != reference {
			continue
		}
		if found == nil || t.ID > found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, xerrors.ErrNotFound
	}
	return copyTransaction(found), nil
}

// Invoices, customers, plans

func (s *Store) GetInvoice(_ context.Context, id string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return copyCustomer(c), nil
}

func (s *Store) UpdatePaymentMethod(_ context.Context, customerID string, pm customer.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return xerrors.ErrNotFound
	}
	pm.Extra = copyMap(pm.Extra)
	c.PaymentMethod = &pm
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetPlan(_ context.Context, id string) (*subscription.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	c := *p
	return &c, nil
}

// Audit log

func (s *Store) AppendLogs(_ context.Context, subscriptionID string, entries []*auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.logs[subscriptionID]))
	for _, e := range entries {
		seq++
		e.Seq = seq
		c := *e
		c.Payload = copyMap(e.Payload)
		s.logs[subscriptionID] = append(s.logs[subscriptionID], &c)
	}
	return nil
}

func (s *Store) ListLogs(_ context.Context, subscriptionID string) ([]*auditlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auditlog.Entry, 0, len(s.logs[subscriptionID]))
	for _, e := range s.logs[subscriptionID] {
		c := *e
		c.Payload = copyMap(e.Payload)
		out = append(out, &c)
	}
	return out, nil
}

// Commit applies cs as a single step: either every change lands or none does.
func (s *Store) Commit(_ context.Context, cs *cashier.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Subscription != nil {
		if err := cs.Subscription.Validate(); err != nil {
			return err
		}
	}
	for _, t := range cs.Update {
		stored, ok := s.transactions[t.ID]
		if !ok {
			return fmt.Errorf("transaction %s: %w", t.ID, xerrors.ErrNotFound)
		}
		if !stored.IsPending() {
			return fmt.Errorf("transaction %s is %s: %w", t.ID, stored.Status, xerrors.ErrInvalidTransition)
		}
		if stored.Type != t.Type {
			return fmt.Errorf("transaction %s type is immutable: %w", t.ID, xerrors.ErrInvalidInput)
		}
	}
	if cs.Append != nil {
		if _, exists := s.transactions[cs.Append.ID]; exists {
			return fmt.Errorf("transaction %s: %w", cs.Append.ID, xerrors.ErrConflict)
		}
		if s.hasPendingLocked(cs.Append.SubscriptionID) {
			return xerrors.AlreadyPending(cs.Append.SubscriptionID)
		}
	}

	if cs.Subscription != nil {
		s.subscriptions[cs.Subscription.ID] = copySubscription(cs.Subscription)
	}
	for _, t := range cs.Update {
		s.transactions[t.ID] = copyTransaction(t)
	}
	if cs.Append != nil {
		s.transactions[cs.Append.ID] = copyTransaction(cs.Append)
		s.ledger[cs.Append.SubscriptionID] = append(s.ledger[cs.Append.SubscriptionID], cs.Append.ID)
	}
	if cs.Invoice != nil {
		s.invoices[cs.Invoice.ID] = copyInvoice(cs.Invoice)
	}
	return nil
}
