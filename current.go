package spanz

import (
	"sync/atomic"
)

// Scope restores the previously current context when closed. Close must be
// called on every path that entered the scope, conventionally via defer.
type Scope interface {
	Close()
}

// NoopScope is returned when entering a scope that changes nothing. It is
// never passed to decorators.
var NoopScope Scope = noopScope{}

type noopScope struct{}

func (noopScope) Close() {}

// ScopeDecorator observes scope transitions, for example to mirror the
// current context into external correlation state. Decorators run in
// registration order on enter and reverse order on the corresponding exit.
type ScopeDecorator interface {
	// DecorateScope is called with the context becoming current (nil when
	// clearing) and the scope that will revert it. The returned scope is
	// what the caller closes.
	DecorateScope(tc *TraceContext, scope Scope) Scope
}

// CurrentTraceContext exposes the logically current trace context with
// explicit, nestable scopes.
//
// The cell models a single logical thread of control. Propagation across
// an explicit goroutine handoff is done by copying the value at the
// handoff point via Wrap, never by sharing a lock.
type CurrentTraceContext interface {
	// Get returns the current context, or nil.
	Get() *TraceContext

	// NewScope makes tc current until the returned scope closes, which
	// deterministically restores the previous value even under nesting.
	// Passing nil deliberately clears the current context, used when
	// fire-and-forget work must not inherit a parent.
	NewScope(tc *TraceContext) Scope

	// Wrap captures the current context at call time and returns a
	// function that restores it for the duration of fn, regardless of
	// which goroutine runs it.
	Wrap(fn func()) func()
}

// NewCurrentTraceContext returns the default CurrentTraceContext with the
// given decorators.
func NewCurrentTraceContext(decorators ...ScopeDecorator) CurrentTraceContext {
	return &localCurrentTraceContext{decorators: decorators}
}

type localCurrentTraceContext struct {
	cell       atomic.Pointer[TraceContext]
	decorators []ScopeDecorator
}

func (c *localCurrentTraceContext) Get() *TraceContext {
	return c.cell.Load()
}

func (c *localCurrentTraceContext) NewScope(tc *TraceContext) Scope {
	previous := c.cell.Load()
	if previous == tc {
		return NoopScope
	}
	c.cell.Store(tc)
	var scope Scope = &revertScope{cell: &c.cell, previous: previous}
	for _, d := range c.decorators {
		scope = d.DecorateScope(tc, scope)
	}
	return scope
}

func (c *localCurrentTraceContext) Wrap(fn func()) func() {
	captured := c.Get()
	return func() {
		scope := c.NewScope(captured)
		defer scope.Close()
		fn()
	}
}

// revertScope restores the exact value that was current when the scope was
// entered, which keeps nesting consistent even under out-of-order closes
// within one logical thread.
type revertScope struct {
	cell     *atomic.Pointer[TraceContext]
	previous *TraceContext
}

func (s *revertScope) Close() {
	s.cell.Store(s.previous)
}
