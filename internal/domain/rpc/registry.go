package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Handler is a plain request/response method. It returns either a result
// value (marshaled as the JSON-RPC result) or an *Error.
type Handler func(ctx context.Context, params json.RawMessage) (any, *Error)

// SubscriptionHandler starts a streaming subscription. The handler owns the
// sink for the lifetime of the subscription: it sends items with Notify and
// must stop when the sink's context is done (unsubscribe or connection
// close). A returned error rejects the subscription before it is accepted.
type SubscriptionHandler func(ctx context.Context, params json.RawMessage, sink Sink) error

// Sink delivers notifications for one active subscription.
// Implementations are provided by the transport and are safe for concurrent
// use.
type Sink interface {
	// ID returns the subscription identifier minted by the server's
	// identity provider.
	ID() string

	// Notify sends one subscription item to the subscriber.
	Notify(result any) error

	// Context is done when the subscription ends, either because the client
	// unsubscribed or the connection closed.
	Context() context.Context
}

// MethodKind distinguishes the three callable entry kinds a registry holds.
type MethodKind int

const (
	// KindCall is a plain request/response method.
	KindCall MethodKind = iota
	// KindSubscribe starts a subscription and returns its ID.
	KindSubscribe
	// KindUnsubscribe cancels a subscription by ID and returns a bool.
	KindUnsubscribe
)

// Method is a resolved registry entry.
type Method struct {
	Name string
	Kind MethodKind

	// Call is set for KindCall.
	Call Handler

	// Subscribe, NotifMethod and UnsubscribeName are set for KindSubscribe.
	// NotifMethod names the notification carrying subscription items;
	// UnsubscribeName is the paired KindUnsubscribe entry.
	Subscribe       SubscriptionHandler
	NotifMethod     string
	UnsubscribeName string
}

// Registry maps unique method names to handlers. The caller builds it before
// bootstrap; the server freezes it the instant it begins accepting
// connections, so dispatch reads it without locking.
//
// Method names form a disjoint namespace. Registering a name twice, or
// registering after Freeze, is a contract violation between the caller and
// the bootstrap and panics rather than returning an error.
type Registry struct {
	methods  map[string]Method
	reserved map[string]struct{}
	frozen   atomic.Bool
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{
		methods:  make(map[string]Method),
		reserved: make(map[string]struct{}),
	}
}

// Register adds a plain method. It panics if the name is already taken or
// the registry is frozen.
func (r *Registry) Register(name string, h Handler) {
	r.add(Method{Name: name, Kind: KindCall, Call: h})
}

// RegisterSubscription adds a subscription method triple: the subscribe
// method, the notification method name used for items, and the unsubscribe
// method. Subscribe and unsubscribe occupy registry entries; the
// notification method name is reserved but not callable.
// It panics on any name collision or if the registry is frozen.
func (r *Registry) RegisterSubscription(subscribe, notifMethod, unsubscribe string, h SubscriptionHandler) {
	if subscribe == notifMethod || subscribe == unsubscribe || notifMethod == unsubscribe {
		panic(fmt.Sprintf("rpc: subscription method names must be distinct: %q, %q, %q",
			subscribe, notifMethod, unsubscribe))
	}
	r.add(Method{
		Name:            subscribe,
		Kind:            KindSubscribe,
		Subscribe:       h,
		NotifMethod:     notifMethod,
		UnsubscribeName: unsubscribe,
	})
	r.add(Method{Name: unsubscribe, Kind: KindUnsubscribe})
	// Reserve the notification name so no method can shadow it. Reserved
	// names are not callable and do not appear in MethodNames.
	r.checkName(notifMethod)
	r.reserved[notifMethod] = struct{}{}
}

func (r *Registry) add(m Method) {
	r.checkName(m.Name)
	r.methods[m.Name] = m
}

func (r *Registry) checkName(name string) {
	if r.frozen.Load() {
		panic(fmt.Sprintf("rpc: registry is frozen, cannot register %q", name))
	}
	if _, exists := r.methods[name]; exists {
		panic(fmt.Sprintf("rpc: method %q is already registered; method names must be unique", name))
	}
	if _, exists := r.reserved[name]; exists {
		panic(fmt.Sprintf("rpc: method %q collides with a reserved notification name", name))
	}
}

// Freeze marks the registry read-only. All registration after Freeze panics.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup resolves a callable method by name.
func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// MethodNames returns every callable name (plain, subscribe and unsubscribe
// methods) in map order. Reserved notification names are excluded.
func (r *Registry) MethodNames() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	return len(r.methods)
}
