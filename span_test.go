package spanz

import (
	"testing"
)

func TestMutableSpanTagDedup(t *testing.T) {
	span := &MutableSpan{}
	span.SetTag("http.method", "GET")
	span.SetTag("http.path", "/items")
	span.SetTag("http.method", "POST")

	if got, _ := span.GetTag("http.method"); got != "POST" {
		t.Errorf("Expected last write to win, got %q", got)
	}
	if span.TagCount() != 2 {
		t.Errorf("Expected 2 tags, got %d", span.TagCount())
	}

	// Rewriting a key must preserve its original position.
	var keys []string
	span.ForEachTag(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	if len(keys) != 2 || keys[0] != "http.method" || keys[1] != "http.path" {
		t.Errorf("Expected position preserved, got %v", keys)
	}
}

func TestMutableSpanInterleavedAnnotations(t *testing.T) {
	span := &MutableSpan{}
	span.SetTag("a", "1")
	span.Annotate(100, "ws")
	span.SetTag("b", "2")
	span.Annotate(200, "wr")

	if span.TagCount() != 2 {
		t.Errorf("Expected 2 tags, got %d", span.TagCount())
	}
	if span.AnnotationCount() != 2 {
		t.Errorf("Expected 2 annotations, got %d", span.AnnotationCount())
	}

	var timestamps []int64
	span.ForEachAnnotation(func(micros int64, _ string) bool {
		timestamps = append(timestamps, micros)
		return true
	})
	if len(timestamps) != 2 || timestamps[0] != 100 || timestamps[1] != 200 {
		t.Errorf("Expected annotation order preserved, got %v", timestamps)
	}
}

func TestMutableSpanAnnotateZeroTimestampDropped(t *testing.T) {
	span := &MutableSpan{}
	span.Annotate(0, "ignored")
	if span.AnnotationCount() != 0 {
		t.Error("Expected zero-timestamp annotation to be dropped")
	}
}

func TestMutableSpanEmptyTagKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for empty tag key")
		}
	}()
	span := &MutableSpan{}
	span.SetTag("", "value")
}

func TestMutableSpanEmptyAnnotationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for empty annotation value")
		}
	}()
	span := &MutableSpan{}
	span.Annotate(100, "")
}

func TestMutableSpanRemoteEndpoint(t *testing.T) {
	span := &MutableSpan{}
	span.SetRemoteServiceName("backend")
	if !span.SetRemoteIPPort("192.168.0.1", 8080) {
		t.Error("Expected ip/port to be recorded")
	}
	if span.SetRemoteIPPort("", 8080) {
		t.Error("Expected empty ip to be rejected")
	}

	remote := span.RemoteEndpoint()
	if remote.ServiceName != "backend" || remote.IP != "192.168.0.1" || remote.Port != 8080 {
		t.Errorf("Unexpected remote endpoint: %+v", remote)
	}
}

func TestMutableSpanCloneIsolatesMutation(t *testing.T) {
	span := &MutableSpan{}
	span.SetTag("a", "1")
	span.SetName("original")

	copied := span.clone()
	span.SetTag("a", "2")
	span.SetName("mutated")

	if got, _ := copied.GetTag("a"); got != "1" {
		t.Errorf("Expected clone isolated from tag mutation, got %q", got)
	}
	if copied.Name() != "original" {
		t.Errorf("Expected clone isolated from name mutation, got %q", copied.Name())
	}
}

func TestMutableSpanShared(t *testing.T) {
	span := &MutableSpan{}
	if span.Shared() {
		t.Error("Expected shared to default false")
	}
	span.SetShared()
	if !span.Shared() {
		t.Error("Expected shared after SetShared")
	}
}
