package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConvertAllSucceed(t *testing.T) {
	fn := func(ctx context.Context, path string) (string, error) {
		return path + ".wav", nil
	}

	paths := []string{"a.mp4", "b.mp3", "c.mkv"}
	items := Convert(context.Background(), fn, paths)

	if len(items) != 3 {
		t.Fatalf("len = %d", len(items))
	}
	for i, item := range items {
		if item.Input != paths[i] {
			t.Errorf("items out of order: %d = %q", i, item.Input)
		}
		if item.Err != nil || item.Output != paths[i]+".wav" {
			t.Errorf("item %d: %+v", i, item)
		}
	}
}

func TestConvertIsolatesFailures(t *testing.T) {
	fn := func(ctx context.Context, path string) (string, error) {
		if strings.HasPrefix(path, "bad") {
			return "", errors.New("no audio stream")
		}
		return path + ".wav", nil
	}

	items := Convert(context.Background(), fn, []string{"good1", "bad1", "good2"})

	if items[0].Err != nil || items[2].Err != nil {
		t.Error("healthy siblings affected by the failing item")
	}
	if items[1].Err == nil || items[1].Error != "no audio stream" {
		t.Errorf("failing item: %+v", items[1])
	}
}

func TestConvertBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	var mu sync.Mutex

	fn := func(ctx context.Context, path string) (string, error) {
		n := current.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return path, nil
	}

	paths := make([]string, 16)
	for i := range paths {
		paths[i] = fmt.Sprintf("file%d", i)
	}
	Convert(context.Background(), fn, paths)

	if got := peak.Load(); got > int32(maxWorkers()) {
		t.Errorf("peak concurrency %d exceeds bound %d", got, maxWorkers())
	}
}

func TestConvertRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := func(ctx context.Context, path string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return path, nil
	}

	// With a cancelled context the semaphore acquire fails immediately
	// once the buffer is exhausted, so most items carry the ctx error.
	paths := make([]string, 20)
	for i := range paths {
		paths[i] = fmt.Sprintf("file%d", i)
	}
	items := Convert(ctx, fn, paths)

	var errored int
	for _, item := range items {
		if errors.Is(item.Err, context.Canceled) {
			errored++
		}
	}
	if errored == 0 {
		t.Error("no items observed the cancellation")
	}
}
