package activity

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"focusflow-api/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	got     []domain.Activity
	block   chan struct{}
	err     error
	callers chan struct{}
}

func (f *fakeSink) Publish(ctx context.Context, a domain.Activity) error {
	if f.callers != nil {
		f.callers <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, a)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDispatcherDeliversAllOnClose(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{Workers: 3, Buffer: 16}, quietLogger())
	for i := 0; i < 50; i++ {
		d.Record(context.Background(), domain.Activity{Kind: domain.ActivityTaskAssigned})
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.count() != 50 {
		t.Fatalf("expected 50 deliveries, got %d", sink.count())
	}
}

func TestDispatcherDeliversInlineWhenSaturated(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{}), callers: make(chan struct{}, 8)}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	d := NewDispatcher(sink, Options{Workers: 1, Buffer: 1, HandoffTimeout: 10 * time.Millisecond}, logger)

	// Occupy the only worker, then fill the buffer.
	d.Record(context.Background(), domain.Activity{Kind: domain.ActivityProjectCreated})
	<-sink.callers
	d.Record(context.Background(), domain.Activity{Kind: domain.ActivityProjectCreated})

	done := make(chan struct{})
	go func() {
		d.Record(context.Background(), domain.Activity{Kind: domain.ActivityTaskCompleted})
		close(done)
	}()
	select {
	case <-sink.callers:
	case <-time.After(time.Second):
		t.Fatal("expected inline delivery after hand-off timeout")
	}
	close(sink.block)
	<-done
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.count() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", sink.count())
	}

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "activity buffer saturated, delivering inline" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected saturation to be logged")
	}
}

func TestDispatcherLogsDeliveryFailures(t *testing.T) {
	sink := &fakeSink{err: errors.New("queue down")}
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(sink, Options{Workers: 1}, logger)
	d.Record(context.Background(), domain.Activity{Kind: domain.ActivityTaskAssigned, ProjectID: "p1", TaskID: "t1"})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel || entry.Message != "activity delivery failed" {
		t.Fatalf("expected delivery failure entry, got %+v", entry)
	}
	if entry.Data["task"] != "t1" || entry.Data["project"] != "p1" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, Options{Workers: 1}, quietLogger())
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	d.Record(context.Background(), domain.Activity{Kind: domain.ActivityTaskAssigned})
	if sink.count() != 0 {
		t.Fatalf("expected no delivery after close, got %d", sink.count())
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	d := NewDispatcher(sink, Options{Workers: 1, DeliverTimeout: time.Minute}, quietLogger())
	d.Record(context.Background(), domain.Activity{Kind: domain.ActivityTaskAssigned})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(sink.block)
}

func TestLogSinkWritesFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := domain.Bucket{ProjectID: "p1", Employee: "a@x.com", Year: "2025", Month: "March", Week: "Week 1", Day: "Monday"}
	err := LogSink{Log: logger}.Publish(context.Background(), domain.Activity{
		Kind:      domain.ActivityTaskCompleted,
		ProjectID: "p1",
		Actor:     "a@x.com",
		Bucket:    &b,
		TaskID:    "t1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	entry := hook.LastEntry()
	if entry.Data["kind"] != domain.ActivityTaskCompleted || entry.Data["bucket"] != b.String() || entry.Data["actor"] != "a@x.com" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
	if _, ok := entry.Data["employees"]; ok {
		t.Fatalf("empty employees must be omitted")
	}
}
