package domain

import (
	"context"
	"sync"
)

// Registry is the ordered list of raw statements executed during one unit of
// work (one tool call, one request). It travels in a context.Context so that
// concurrent units of work never share entries.
type Registry struct {
	mu      sync.Mutex
	queries []string
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Reset drops every recorded statement.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = r.queries[:0]
}

// Record appends a statement exactly as the engine executed it.
func (r *Registry) Record(stmt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, stmt)
}

// Queries returns a copy of the recorded statements in execution order.
func (r *Registry) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}

// First returns the first recorded statement, or "" if none was recorded.
func (r *Registry) First() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queries) == 0 {
		return ""
	}
	return r.queries[0]
}

type registryKey struct{}

// WithRegistry returns a context carrying a fresh Registry.
func WithRegistry(ctx context.Context) (context.Context, *Registry) {
	reg := NewRegistry()
	return context.WithValue(ctx, registryKey{}, reg), reg
}

// RegistryFromContext returns the Registry carried by ctx, if any.
func RegistryFromContext(ctx context.Context) (*Registry, bool) {
	reg, ok := ctx.Value(registryKey{}).(*Registry)
	return reg, ok
}

// EnsureRegistry returns ctx unchanged if it already carries a Registry,
// otherwise it attaches a new one.
func EnsureRegistry(ctx context.Context) (context.Context, *Registry) {
	if reg, ok := RegistryFromContext(ctx); ok {
		return ctx, reg
	}
	return WithRegistry(ctx)
}

// RegistryListener records every statement into the Registry carried by the
// statement's context. Statements executed outside a unit of work are ignored.
type RegistryListener struct{}

func (RegistryListener) OnStatement(ctx context.Context, sql string) {
	if reg, ok := RegistryFromContext(ctx); ok {
		reg.Record(sql)
	}
}
