package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoobzio/spanz"
)

// MockCollector wraps a real collector with test utilities. Collection is
// synchronous so assertions never race the filing goroutine.
type MockCollector struct {
	*spanz.Collector
	t *testing.T

	mu       sync.Mutex
	exported []spanz.FinishedSpan
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string) *MockCollector {
	collector := spanz.NewCollector(name, 1000, 1000)
	collector.SetSyncMode(true)
	return &MockCollector{Collector: collector, t: t}
}

// Export returns newly collected records and remembers them for GetAll.
func (m *MockCollector) Export() []spanz.FinishedSpan {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.Collector.Export()
	m.exported = append(m.exported, records...)
	return records
}

// GetAll returns every record seen so far without clearing.
func (m *MockCollector) GetAll() []spanz.FinishedSpan {
	m.mu.Lock()
	defer m.mu.Unlock()

	if records := m.Collector.Export(); len(records) > 0 {
		m.exported = append(m.exported, records...)
	}
	all := make([]spanz.FinishedSpan, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitFor polls until at least expected records arrived or the timeout
// passes. Useful when finishing goroutines are still in flight.
func (m *MockCollector) WaitFor(expected int, timeout time.Duration) []spanz.FinishedSpan {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if all := m.GetAll(); len(all) >= expected {
			return all
		}
		time.Sleep(10 * time.Millisecond)
	}
	all := m.GetAll()
	m.t.Errorf("Timeout waiting for records: expected %d, got %d", expected, len(all))
	return all
}

// FindByName returns the first record whose span carries name, or nil.
func (m *MockCollector) FindByName(name string) *spanz.FinishedSpan {
	all := m.GetAll()
	for i := range all {
		if all[i].Span.Name() == name {
			return &all[i]
		}
	}
	return nil
}

// AssertParentChild verifies childName's span references parentName's span
// id and shares its trace.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	m.t.Helper()
	parent := m.FindByName(parentName)
	child := m.FindByName(childName)
	if parent == nil || child == nil {
		m.t.Errorf("Missing spans: parent=%v child=%v", parent != nil, child != nil)
		return
	}
	if child.Context.ParentID() != parent.Context.SpanID() {
		m.t.Errorf("Expected %q to be parent of %q, got parent id %d want %d",
			parentName, childName, child.Context.ParentID(), parent.Context.SpanID())
	}
	if !sameTrace(parent.Context, child.Context) {
		m.t.Errorf("Trace mismatch: parent=%s child=%s",
			parent.Context.TraceIDString(), child.Context.TraceIDString())
	}
}

func sameTrace(a, b *spanz.TraceContext) bool {
	return a.TraceIDHigh() == b.TraceIDHigh() && a.TraceID() == b.TraceID()
}

// newTestTracer wires a tracer to the given collector with quiet logging.
func newTestTracer(collector *MockCollector, cfg *spanz.Config) *spanz.Tracer {
	if cfg == nil {
		cfg = &spanz.Config{}
	}
	logger := zerolog.Nop()
	cfg.Logger = &logger
	cfg.Handlers = append(cfg.Handlers, collector.Collector)
	return spanz.NewTracer(cfg)
}

// MockService simulates one hop of a distributed call chain. Outbound calls
// inject the client span into a carrier; the remote service extracts and
// joins it, the same dance a real RPC framework performs.
type MockService struct {
	name    string
	tracer  *spanz.Tracer
	latency time.Duration
}

// NewMockService creates a simulated service over its own tracer.
func NewMockService(name string, tracer *spanz.Tracer) *MockService {
	return &MockService{name: name, tracer: tracer, latency: time.Millisecond}
}

// Handle plays the server side: extract the incoming identity, join it,
// do the work, respond.
func (s *MockService) Handle(carrier spanz.MapCarrier, operation string, work func(ctx context.Context)) {
	extracted := s.tracer.Propagation().Extract(carrier)
	span := s.tracer.NextSpanFrom(extracted)
	span.SetName(fmt.Sprintf("%s.%s", s.name, operation))
	span.SetKind(spanz.KindServer)
	defer span.Finish()

	scope := s.tracer.WithSpanInScope(span)
	defer scope.Close()

	time.Sleep(s.latency)
	if work != nil {
		work(spanz.ContextWithSpan(context.Background(), s.tracer, span))
	}
}

// Call plays the client side against remote: a client span is created under
// ctx, injected into a fresh carrier, and handed to the remote service.
func (s *MockService) Call(ctx context.Context, remote *MockService, operation string, work func(ctx context.Context)) {
	_, span := s.tracer.StartSpan(ctx, fmt.Sprintf("%s.call.%s", s.name, operation))
	span.SetKind(spanz.KindClient)
	span.SetRemoteServiceName(remote.name)
	defer span.Finish()

	carrier := spanz.MapCarrier{}
	s.tracer.Propagation().Inject(span.Context(), carrier)
	remote.Handle(carrier, operation, work)
}
