package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJanitor_RunsImmediatelyAndPeriodically(t *testing.T) {
	var a, b atomic.Int32
	j := NewJanitor(10 * time.Millisecond)
	j.Add("a", func(context.Context) error {
		a.Add(1)
		return nil
	})
	j.Add("failing", func(context.Context) error {
		b.Add(1)
		return errors.New("boom")
	})
	j.Start()

	deadline := time.Now().Add(2 * time.Second)
	for a.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("task ran %d times, want >= 3", a.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()

	// 失败的任务不影响其他任务，停止后不再执行
	if b.Load() < 2 {
		t.Errorf("failing task ran %d times", b.Load())
	}
	after := a.Load()
	time.Sleep(30 * time.Millisecond)
	if a.Load() != after {
		t.Errorf("task ran after Stop: %d -> %d", after, a.Load())
	}
}

func TestJanitor_NoTasks(t *testing.T) {
	j := NewJanitor(0)
	if j.interval != DefaultJanitorInterval {
		t.Errorf("interval = %s", j.interval)
	}
	j.Start()
	j.Stop()
}

func TestJanitor_StopCancelsContext(t *testing.T) {
	started := make(chan struct{})
	var canceled atomic.Bool
	j := NewJanitor(time.Hour)
	j.Add("block", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	})
	j.Start()
	<-started
	j.Stop()
	if !canceled.Load() {
		t.Error("task context not canceled on Stop")
	}
}
