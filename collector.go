package spanz

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FinishedSpan is one finalized record handed off by the handler chain:
// the identity, the data, and why the span ended.
type FinishedSpan struct {
	Context *TraceContext
	Span    *MutableSpan
	Cause   Cause
}

// Collector is a SpanHandler sink that buffers finished spans for batch
// export. Safe for concurrent use by multiple goroutines.
//
// Records are grouped per trace id in an LRU cache so memory stays bounded
// under load: when too many distinct traces are pending, the
// least-recently-touched trace is evicted and its spans counted as
// dropped. Use DroppedCount to monitor.
type Collector struct {
	name    string
	spansCh chan FinishedSpan
	stopCh  chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	byTrace   *lru.Cache[uint64, *traceBuffer]
	buffered  int
	exporting bool // suppress drop accounting while purging for export

	dropped  atomic.Int64
	closed   atomic.Bool
	syncMode bool
}

type traceBuffer struct {
	spans []FinishedSpan
}

// NewCollector creates a collector buffering up to maxTraces distinct
// traces, with a channel of bufferSize between finishing goroutines and
// the filing goroutine.
func NewCollector(name string, maxTraces, bufferSize int) *Collector {
	c := &Collector{
		name:    name,
		spansCh: make(chan FinishedSpan, bufferSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	cache, err := lru.NewWithEvict[uint64, *traceBuffer](maxTraces, c.onEvict)
	if err != nil {
		panic("spanz: collector maxTraces must be > 0")
	}
	c.byTrace = cache
	go c.start()
	return c
}

// Begin implements SpanHandler.
func (c *Collector) Begin(*TraceContext, *MutableSpan, *TraceContext) bool { return true }

// End implements SpanHandler: the finished record is queued for buffering.
// The span is copied so later mutation by the finishing caller is not
// observable.
func (c *Collector) End(tc *TraceContext, span *MutableSpan, cause Cause) bool {
	record := FinishedSpan{Context: tc, Span: span.clone(), Cause: cause}

	if c.syncMode {
		// Direct synchronous filing for deterministic tests.
		if c.closed.Load() {
			c.dropped.Add(1)
			return true
		}
		c.file(record)
		return true
	}

	select {
	case c.spansCh <- record:
	default:
		// Channel full - drop rather than block the finishing goroutine.
		c.dropped.Add(1)
	}
	return true
}

// start runs the filing loop, receiving records from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case record := <-c.spansCh:
					c.file(record)
				default:
					return
				}
			}
		case record := <-c.spansCh:
			c.file(record)
		}
	}
}

func (c *Collector) file(record FinishedSpan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	traceID := record.Context.TraceID()
	buffer, ok := c.byTrace.Get(traceID)
	if !ok {
		buffer = &traceBuffer{}
		c.byTrace.Add(traceID, buffer)
	}
	buffer.spans = append(buffer.spans, record)
	c.buffered++
}

// onEvict runs inside byTrace operations, which only happen under c.mu.
func (c *Collector) onEvict(_ uint64, buffer *traceBuffer) {
	c.buffered -= len(buffer.spans)
	if !c.exporting {
		c.dropped.Add(int64(len(buffer.spans)))
	}
}

// Export returns all buffered records, oldest trace first, and clears the
// buffer. The returned slice is safe to retain.
func (c *Collector) Export() []FinishedSpan {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buffered == 0 {
		return nil
	}

	result := make([]FinishedSpan, 0, c.buffered)
	for _, traceID := range c.byTrace.Keys() {
		if buffer, ok := c.byTrace.Peek(traceID); ok {
			result = append(result, buffer.spans...)
		}
	}

	c.exporting = true
	c.byTrace.Purge()
	c.exporting = false
	c.buffered = 0
	return result
}

// Count returns the number of buffered records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// DroppedCount returns how many records were dropped to protect memory.
func (c *Collector) DroppedCount() int64 {
	return c.dropped.Load()
}

// SetSyncMode bypasses the channel so tests observe filing synchronously.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Close drains in-flight records and stops the filing goroutine.
func (c *Collector) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
		// Timeout - give up rather than hang the caller.
	}
}
