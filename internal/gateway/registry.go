package gateway

import (
	"sync"

	xerrors "cashier-service/internal/pkg/errors"
)

// Registry resolves gateways by name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]PaymentGateway
	order    []string
}

func NewRegistry(gateways ...PaymentGateway) *Registry {
	r := &Registry{gateways: make(map[string]PaymentGateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds g, replacing any gateway registered under the same name.
func (r *Registry) Register(g PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gateways[g.Name()]; !ok {
		r.order = append(r.order, g.Name())
	}
	r.gateways[g.Name()] = g
}

func (r *Registry) Get(name string) (PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, xerrors.ValidationFailed("unknown payment gateway " + name)
	}
	return g, nil
}

// Names returns gateway names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []PaymentGateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PaymentGateway, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.gateways[name])
	}
	return out
}
