package integration

import (
	"runtime"
	"testing"
	"time"

	"github.com/zoobzio/spanz"
)

//go:noinline
func leakSpan(tracer *spanz.Tracer, name string) {
	span := tracer.NewTrace()
	span.SetName(name)
	span.SetTag("leaked", "true")
	// Dropped without Finish: the garbage collector is the only one who
	// knows this span is gone.
}

// TestOrphanedSpanRecovered verifies a span abandoned by buggy
// instrumentation is still reported, flagged as orphaned, once its context
// is collected.
func TestOrphanedSpanRecovered(t *testing.T) {
	collector := NewMockCollector(t, "orphans")
	defer collector.Close()
	tracer := newTestTracer(collector, nil)

	leakSpan(tracer, "leaked-operation")

	// The sweep runs lazily on tracer activity, so probe with short-lived
	// spans until the collected context surfaces.
	var orphan *spanz.FinishedSpan
	deadline := time.Now().Add(5 * time.Second)
	for orphan == nil && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)

		probe := tracer.NewTrace()
		probe.SetName("probe")
		probe.Finish()

		for _, record := range collector.GetAll() {
			if record.Cause == spanz.CauseOrphaned {
				r := record
				orphan = &r
				break
			}
		}
	}

	if orphan == nil {
		t.Fatal("Expected the leaked span recovered as an orphan")
	}
	if orphan.Span.Name() != "leaked-operation" {
		t.Errorf("Expected the leaked span, got %q", orphan.Span.Name())
	}
	if v, ok := orphan.Span.GetTag("leaked"); !ok || v != "true" {
		t.Error("Expected recorded data preserved on the orphan")
	}

	annotated := false
	orphan.Span.ForEachAnnotation(func(_ int64, value string) bool {
		annotated = value == "spanz.orphaned"
		return !annotated
	})
	if !annotated {
		t.Error("Expected the orphan flagged with spanz.orphaned")
	}
	if orphan.Span.FinishTimestamp() != 0 {
		t.Error("Expected no synthetic finish timestamp on the orphan")
	}
}

// TestFinishedSpansNeverReportedAsOrphans is the inverse: correctly
// finished work must not resurface when its contexts are collected.
func TestFinishedSpansNeverReportedAsOrphans(t *testing.T) {
	collector := NewMockCollector(t, "orphans")
	defer collector.Close()
	tracer := newTestTracer(collector, nil)

	for i := 0; i < 10; i++ {
		span := tracer.NewTrace()
		span.SetName("clean")
		span.Finish()
	}

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
		probe := tracer.NewTrace()
		probe.Finish()
	}

	for _, record := range collector.GetAll() {
		if record.Cause == spanz.CauseOrphaned {
			t.Fatalf("Unexpected orphan: %q", record.Span.Name())
		}
	}
}
