// Package registry implements the service registry that every typed bus
// consults to resolve a handler's request to a concrete provider: a
// handler-scoped, priority-ordered list of providers per service type,
// falling back to a global list when no handler-specific provider
// qualifies.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/meridian-run/meridian/core"
)

// GlobalHandler is the bucket name providers register under when they are
// not scoped to a specific handler.
const GlobalHandler = "*global*"

// Provider is the handle every registered service implementation is stored
// under. Concrete typed buses type-assert this back to their own
// provider contract (e.g. bus.CommunicationProvider); the registry itself
// never knows the concrete shape.
type Provider interface {
	// Capabilities returns the set of capability strings this provider
	// advertises. A provider is selected only when its capability set is
	// a superset of the caller's required capabilities.
	Capabilities() []string

	// IsHealthy reports whether the provider can currently serve
	// requests. The registry caches the result until the next
	// InvalidateHealthCache call.
	IsHealthy(ctx context.Context) bool
}

// Registration is one entry in a priority-ordered provider list.
type Registration struct {
	Handler     string
	ServiceType core.ServiceType
	Provider    Provider
	Priority    core.Priority
	Metadata    map[string]string

	// order breaks ties within equal priority by registration sequence.
	order int
}

type providerList []*Registration

func (l providerList) Len() int      { return len(l) }
func (l providerList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }
func (l providerList) Less(i, j int) bool {
	if l[i].Priority != l[j].Priority {
		return l[i].Priority < l[j].Priority
	}
	return l[i].order < l[j].order
}

// healthCacheEntries is the initial capacity of the health cache maps.
// Cached results carry no TTL: each is reused until InvalidateHealthCache
// starts a new generation.
const healthCacheEntries = 256

type healthCache struct {
	mu      sync.Mutex
	healthy map[*Registration]bool
	seq     map[*Registration]int64
	gen     int64
}

func newHealthCache() *healthCache {
	return &healthCache{
		healthy: make(map[*Registration]bool, healthCacheEntries),
		seq:     make(map[*Registration]int64, healthCacheEntries),
	}
}

// Registry holds every provider registration, keyed by (handler,
// serviceType) plus the global bucket, in ascending-priority order.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]providerList // key = handler+"\x00"+serviceType
	global map[core.ServiceType]providerList
	logger core.Logger
	health *healthCache
	seq    int
}

// New creates an empty registry. A nil logger is replaced with a no-op.
func New(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		byKey:  make(map[string]providerList),
		global: make(map[core.ServiceType]providerList),
		logger: logger,
		health: newHealthCache(),
	}
}

func key(handler string, st core.ServiceType) string {
	return handler + "\x00" + string(st)
}

// Register binds provider under (handler, serviceType) at the given
// priority. Registrations are additive and ordered by registration
// sequence within equal priority.
func (r *Registry) Register(handler string, st core.ServiceType, provider Provider, priority core.Priority, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	reg := &Registration{
		Handler:     handler,
		ServiceType: st,
		Provider:    provider,
		Priority:    priority,
		Metadata:    metadata,
		order:       r.seq,
	}

	k := key(handler, st)
	r.byKey[k] = append(r.byKey[k], reg)
	sort.Stable(r.byKey[k])

	r.logger.Info("provider registered", map[string]interface{}{
		"operation":    "registry_register",
		"handler":      handler,
		"service_type": string(st),
		"priority":     priority.String(),
	})
}

// RegisterGlobal binds provider in the global fallback bucket for
// serviceType, consulted when no handler-specific provider qualifies.
func (r *Registry) RegisterGlobal(st core.ServiceType, provider Provider, priority core.Priority, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	reg := &Registration{
		Handler:     GlobalHandler,
		ServiceType: st,
		Provider:    provider,
		Priority:    priority,
		Metadata:    metadata,
		order:       r.seq,
	}

	r.global[st] = append(r.global[st], reg)
	sort.Stable(r.global[st])

	r.logger.Info("provider registered globally", map[string]interface{}{
		"operation":    "registry_register_global",
		"service_type": string(st),
		"priority":     priority.String(),
	})
}

// capabilitiesCover reports whether have is a superset of want.
func capabilitiesCover(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// isHealthy consults the health cache before probing the provider
// directly, so GetService re-probes a provider only after
// InvalidateHealthCache has started a new generation.
func (r *Registry) isHealthy(ctx context.Context, reg *Registration) bool {
	r.health.mu.Lock()
	gen := r.health.gen
	if seq, ok := r.health.seq[reg]; ok && seq == gen {
		healthy := r.health.healthy[reg]
		r.health.mu.Unlock()
		return healthy
	}
	r.health.mu.Unlock()

	healthy := reg.Provider.IsHealthy(ctx)

	r.health.mu.Lock()
	r.health.healthy[reg] = healthy
	r.health.seq[reg] = gen
	r.health.mu.Unlock()

	return healthy
}

// InvalidateHealthCache forces the next GetService call to re-probe every
// provider's health instead of reusing cached results. Nothing in this
// module calls it on a schedule.
func (r *Registry) InvalidateHealthCache() {
	r.health.mu.Lock()
	r.health.gen++
	r.health.mu.Unlock()
}

// GetService resolves a provider for (handler, serviceType, requiredCapabilities).
// It scans the handler-specific list first in ascending priority order,
// skipping providers whose capability set doesn't cover requiredCapabilities
// or whose health probe fails; if none qualify and fallbackToGlobal is
// true, it repeats over the global list. Returns (nil, false) if no
// provider qualifies — callers decide whether that's an error or a
// degrade-gracefully condition.
func (r *Registry) GetService(ctx context.Context, handler string, st core.ServiceType, requiredCapabilities []string, fallbackToGlobal bool) (Provider, bool) {
	r.mu.RLock()
	handlerList := append(providerList(nil), r.byKey[key(handler, st)]...)
	globalList := append(providerList(nil), r.global[st]...)
	r.mu.RUnlock()

	if p, ok := r.scan(ctx, handlerList, requiredCapabilities); ok {
		return p, true
	}

	if !fallbackToGlobal {
		return nil, false
	}

	return r.scan(ctx, globalList, requiredCapabilities)
}

func (r *Registry) scan(ctx context.Context, list providerList, requiredCapabilities []string) (Provider, bool) {
	for _, reg := range list {
		if !capabilitiesCover(reg.Provider.Capabilities(), requiredCapabilities) {
			continue
		}
		if !r.isHealthy(ctx, reg) {
			continue
		}
		return reg.Provider, true
	}
	return nil, false
}

// ListRegistrations returns every registration for a service type across
// both handler-scoped and global buckets, for introspection (e.g. the
// runtime_control "get_config" operation). The returned slice is a copy;
// mutating it has no effect on the registry.
func (r *Registry) ListRegistrations(st core.ServiceType) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Registration
	for k, list := range r.byKey {
		if len(list) == 0 || list[0].ServiceType != st {
			continue
		}
		_ = k
		out = append(out, list...)
	}
	out = append(out, r.global[st]...)
	return out
}
