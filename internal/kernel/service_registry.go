package kernel

import (
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// ServiceRegistry holds the named singletons modules resolve at registration
// time: the logger, the sink dispatcher, the roster store and so on.
type ServiceRegistry struct {
	mu     sync.RWMutex
	byName map[string]any
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{byName: map[string]any{}}
}

// Register stores service under name. Names are trimmed and must be unique.
func (r *ServiceRegistry) Register(name string, service any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("register service: empty name")
	}
	if isNilService(service) {
		return errors.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return errors.Wrapf(fronter.ErrServiceAlreadyRegistered, "register service %s", name)
	}
	r.byName[name] = service

	return nil
}

// Resolve returns the service registered under name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("resolve service: empty name")
	}

	r.mu.RLock()
	service, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(fronter.ErrServiceNotFound, "resolve service %s", name)
	}

	return service, nil
}

// Names lists registered service names in lexical order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)

	return names
}

// isNilService also catches typed nils such as (*roster.Store)(nil).
func isNilService(service any) bool {
	if service == nil {
		return true
	}
	value := reflect.ValueOf(service)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return value.IsNil()
	default:
		return false
	}
}
