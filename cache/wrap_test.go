package cache

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

func TestWithCacheHitSkipsCall(t *testing.T) {
	c := newTestCache(t, clockz.NewFakeClock())
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	v, hit, err := WithCache(context.Background(), c, "k", CallOptions{}, fn)
	if err != nil || v != "fresh" || hit {
		t.Fatalf("Expected fresh miss, got %q hit=%v err=%v", v, hit, err)
	}
	v, hit, err = WithCache(context.Background(), c, "k", CallOptions{}, fn)
	if err != nil || v != "fresh" || !hit {
		t.Fatalf("Expected cached hit, got %q hit=%v err=%v", v, hit, err)
	}
	if calls != 1 {
		t.Errorf("Expected fn to run once, ran %d times", calls)
	}
}

func TestWithCacheNeverStoresErrors(t *testing.T) {
	c := newTestCache(t, clockz.NewFakeClock())
	boom := errors.New("boom")
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "", boom
	}

	for i := 0; i < 2; i++ {
		if _, _, err := WithCache(context.Background(), c, "k", CallOptions{}, fn); !errors.Is(err, boom) {
			t.Fatalf("Expected error to pass through, got %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("Expected errors to bypass the cache, fn ran %d times", calls)
	}
	if c.Len() != 0 {
		t.Error("Expected nothing stored")
	}
}

func TestWithCacheRespectsEligibility(t *testing.T) {
	c := newTestCache(t, clockz.NewFakeClock())
	c.Put("k", "stale", time.Minute)

	v, hit, err := WithCache(context.Background(), c, "k", CallOptions{Tools: true}, func(context.Context) (string, error) {
		return "live", nil
	})
	if err != nil || v != "live" || hit {
		t.Errorf("Expected ineligible call to bypass cache, got %q hit=%v", v, hit)
	}
}

func TestWithCacheTTL(t *testing.T) {
	clock := clockz.NewFakeClock()
	c := newTestCache(t, clock)
	fn := func(context.Context) (string, error) { return "v", nil }

	_, _, _ = WithCache(context.Background(), c, "k", CallOptions{}, fn, WithTTL(time.Second))
	clock.Advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected per-call ttl to apply")
	}
}

type memorySink struct {
	mu      sync.Mutex
	records map[string]any
	metas   map[string]Metadata
	err     error
	entered chan struct{}
	release chan struct{}
}

func newMemorySink() *memorySink {
	return &memorySink{records: map[string]any{}, metas: map[string]Metadata{}}
}

func (s *memorySink) Store(_ context.Context, key string, value any, meta Metadata) error {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = value
	s.metas[key] = meta
	return nil
}

func TestWithCacheWriteBehind(t *testing.T) {
	c := newTestCache(t, clockz.NewFakeClock())
	sink := newMemorySink()
	wb := NewWriteBehind(sink, zerolog.Nop())
	if err := wb.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	meta := Metadata{Provider: "anthropic", Endpoint: "messages"}
	_, _, err := WithCache(context.Background(), c, "k", CallOptions{}, func(context.Context) (string, error) {
		return "v", nil
	}, WithWriteBehind(wb, meta))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := wb.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	if sink.records["k"] != "v" {
		t.Errorf("Expected record to be written, got %v", sink.records)
	}
	if sink.metas["k"].Provider != "anthropic" || sink.metas["k"].CapturedAt.IsZero() {
		t.Errorf("Unexpected metadata %+v", sink.metas["k"])
	}
	if got := wb.Stats().Written; got != 1 {
		t.Errorf("Expected 1 written, got %d", got)
	}
}

func TestWithCacheWriteBehindGetsOwnCopy(t *testing.T) {
	c, err := New[[]string](context.Background(), nil, WithCopy(slices.Clone[[]string]))
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	sink := newMemorySink()
	wb := NewWriteBehind(sink, zerolog.Nop())
	if err := wb.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	v, _, err := WithCache(context.Background(), c, "k", CallOptions{}, func(context.Context) ([]string, error) {
		return []string{"v"}, nil
	}, WithWriteBehind(wb, Metadata{}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	v[0] = "changed"

	if err := wb.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	if got, _ := sink.records["k"].([]string); len(got) != 1 || got[0] != "v" {
		t.Errorf("Expected the written record to be isolated from the caller, got %v", sink.records["k"])
	}
}

func TestWithCacheLogsRejectedSubmit(t *testing.T) {
	var buf bytes.Buffer
	c, err := New[string](context.Background(), nil, WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	wb := NewWriteBehind(newMemorySink(), zerolog.Nop())

	_, _, err = WithCache(context.Background(), c, "k", CallOptions{}, func(context.Context) (string, error) {
		return "v", nil
	}, WithWriteBehind(wb, Metadata{}))
	if err != nil {
		t.Fatalf("Expected the call to succeed, got %v", err)
	}
	if !strings.Contains(buf.String(), ErrNotStarted.Error()) {
		t.Errorf("Expected the rejected submit to be logged, got %q", buf.String())
	}
}

func TestWriteBehindFailuresAreContained(t *testing.T) {
	c := newTestCache(t, clockz.NewFakeClock())
	sink := newMemorySink()
	sink.err = errors.New("disk full")
	wb := NewWriteBehind(sink, zerolog.Nop())
	_ = wb.Start(context.Background())

	v, _, err := WithCache(context.Background(), c, "k", CallOptions{}, func(context.Context) (string, error) {
		return "v", nil
	}, WithWriteBehind(wb, Metadata{}))
	if err != nil || v != "v" {
		t.Fatalf("Expected the call to succeed despite sink failure, got %q, %v", v, err)
	}

	_ = wb.Stop(2 * time.Second)
	if got := wb.Stats().Failed; got != 1 {
		t.Errorf("Expected 1 failed write, got %d", got)
	}
}

func TestWriteBehindDropsWhenFull(t *testing.T) {
	sink := newMemorySink()
	sink.entered = make(chan struct{})
	sink.release = make(chan struct{})
	wb := NewWriteBehind(sink, zerolog.Nop(), WithWorkers(1), WithQueueSize(1))

	if err := wb.Submit(Record{Key: "early"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	_ = wb.Start(context.Background())

	if err := wb.Submit(Record{Key: "a"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	<-sink.entered // worker is busy with "a"

	if err := wb.Submit(Record{Key: "b"}); err != nil {
		t.Fatalf("Expected queued record, got %v", err)
	}
	if err := wb.Submit(Record{Key: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(sink.release)
	go func() {
		for range sink.entered {
		}
	}()
	if err := wb.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	if got := wb.Stats().Dropped; got != 1 {
		t.Errorf("Expected 1 dropped record, got %d", got)
	}
	if err := wb.Submit(Record{Key: "late"}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}
