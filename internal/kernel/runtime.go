package kernel

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"ex-fronter/pkg/fronter"
)

// moduleRecord is the kernel's bookkeeping for one registered module.
type moduleRecord struct {
	name         string
	module       fronter.Module
	capabilities []fronter.Capability

	mu   sync.Mutex
	subs []fronter.Subscription
}

func (m *moduleRecord) track(sub fronter.Subscription) {
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
}

// closeSubscriptions closes and forgets every tracked subscription. Calling it
// again is a no-op.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		if err := sub.Close(ctx); err != nil {
			closeErr = multierr.Append(closeErr, errors.Wrapf(err, "close subscription %s", sub.Name()))
		}
	}

	return closeErr
}

// moduleRuntime is what a module sees during OnRegister.
type moduleRuntime struct {
	moduleName    string
	serviceLookup fronter.ServiceRegistry
	bus           fronter.EventBus
	record        *moduleRecord
}

// Services returns the shared service registry.
func (r *moduleRuntime) Services() fronter.ServiceRegistry {
	return r.serviceLookup
}

// Subscribe attaches a module-owned subscription. The interest must be covered
// by one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest fronter.InterestSet,
	spec fronter.SubscriptionSpec,
	handler fronter.EventHandler,
) (fronter.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if !declaresInterest(r.record.capabilities, interest) {
		return nil, errors.Errorf(
			"module %s subscribe %s: interest not covered by %d declared capabilities",
			r.moduleName,
			spec.Name,
			len(r.record.capabilities),
		)
	}

	sub, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, errors.Wrapf(err, "module %s subscribe %s", r.moduleName, spec.Name)
	}
	r.record.track(sub)

	return sub, nil
}

func declaresInterest(capabilities []fronter.Capability, interest fronter.InterestSet) bool {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return true
		}
	}

	return false
}
