package event

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingHandler struct {
	names  []string
	events []DomainEvent
}

func (h *recordingHandler) Handle(e DomainEvent) error {
	h.events = append(h.events, e)
	return nil
}

func (h *recordingHandler) HandledEvents() []string {
	return h.names
}

type panickingHandler struct{}

func (panickingHandler) Handle(DomainEvent) error { panic("boom") }
func (panickingHandler) HandledEvents() []string { return []string{NameAll} }

func TestInMemoryDispatcher_RoutesByName(t *testing.T) {
	d := NewInMemoryDispatcher(false, zap.NewNop())
	failed := &recordingHandler{names: []string{NameJobFailed}}
	all := &recordingHandler{names: []string{NameAll}}
	d.Subscribe(failed)
	d.Subscribe(all)

	d.Dispatch(NewJobRequested("j1", "alice", "dQw4w9WgXcQ", "mp3"))
	d.Dispatch(NewJobFailed("j1", 3, "boom", false))

	if len(failed.events) != 1 {
		t.Errorf("failed handler got %d events, want 1", len(failed.events))
	}
	if len(all.events) != 2 {
		t.Errorf("wildcard handler got %d events, want 2", len(all.events))
	}
}

type failingHandler struct{}

func (failingHandler) Handle(DomainEvent) error { return errors.New("counter store down") }
func (failingHandler) HandledEvents() []string { return []string{NameAssetServed} }

func TestInMemoryDispatcher_LogsHandlerFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewInMemoryDispatcher(false, zap.New(core))
	d.Subscribe(failingHandler{})
	d.Subscribe(panickingHandler{})

	d.Dispatch(NewAssetServed("alice", "dQw4w9WgXcQ.mp3", 512, true))

	entries := logs.FilterMessage("event handler failed").All()
	if len(entries) != 2 {
		t.Fatalf("logged %d handler failures, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["event"]; got != NameAssetServed {
		t.Errorf("event field = %v, want %s", got, NameAssetServed)
	}
}

func TestInMemoryDispatcher_PanicIsContained(t *testing.T) {
	d := NewInMemoryDispatcher(false, zap.NewNop())
	after := &recordingHandler{names: []string{NameAll}}
	d.Subscribe(panickingHandler{})
	d.Subscribe(after)

	d.Dispatch(NewJobStarted("j1", 1))

	if len(after.events) != 1 {
		t.Errorf("handler after panicking one got %d events, want 1", len(after.events))
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetricsHandler()
	d := NewInMemoryDispatcher(false, zap.NewNop())
	d.Subscribe(m)
	d.Subscribe(NewLoggingHandler(zap.NewNop()))

	d.Dispatch(NewJobRequested("j1", "alice", "dQw4w9WgXcQ", "mp3"))
	d.Dispatch(NewJobRetrying("j1", 1, "timeout", 0))
	d.Dispatch(NewJobSucceeded("j1", "alice", "/data/audio/alice/dQw4w9WgXcQ.mp3", 1024, 0))
	d.Dispatch(NewAssetServed("alice", "dQw4w9WgXcQ.mp3", 512, true))

	got := m.GetMetrics()
	want := map[string]int64{
		"jobs_requested": 1,
		"jobs_retried":   1,
		"jobs_succeeded": 1,
		"jobs_failed":    0,
		"bytes_stored":   1024,
		"bytes_served":   512,
		"streams_served": 1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
}
