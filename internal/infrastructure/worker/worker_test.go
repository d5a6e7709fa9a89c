package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(2, 10, zap.NewNop())
	pool.Start()

	var results sync.Map
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		jobID := i

		job := Job{
			Kind: "notification",
			Handler: func(ctx context.Context) error {
				defer wg.Done()
				results.Store(jobID, true)
				return nil
			},
		}

		if err := pool.Submit(job); err != nil {
			t.Errorf("Failed to submit job %d: %v", jobID, err)
		}
	}

	wg.Wait()
	pool.Stop()

	for i := 0; i < 5; i++ {
		if _, ok := results.Load(i); !ok {
			t.Errorf("Job %d was not processed", i)
		}
	}

	if processed := pool.GetProcessedJobs(); processed != 5 {
		t.Errorf("Expected 5 processed jobs, got %d", processed)
	}
}

func TestWorkerPool_FailuresByKind(t *testing.T) {
	pool := NewWorkerPool(1, 5, zap.NewNop())
	pool.Start()

	jobs := []Job{
		{Kind: "download", Handler: func(context.Context) error { return errors.New("http 404") }},
		{Kind: "download", Handler: func(context.Context) error { panic("boom") }},
		{Kind: "notification", Handler: func(context.Context) error { return nil }},
		{Kind: "notification"},
	}
	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			t.Errorf("Failed to submit job: %v", err)
		}
	}

	// Stop дожидается выполнения очереди
	pool.Stop()

	m := pool.GetMetrics()
	if m.FailedJobs != 3 {
		t.Errorf("Expected 3 failed jobs, got %d", m.FailedJobs)
	}
	if got := m.Kinds["download"]; got.Failed != 2 || got.Processed != 0 {
		t.Errorf("Unexpected download stats: %+v", got)
	}
	if got := m.Kinds["notification"]; got.Failed != 1 || got.Processed != 1 {
		t.Errorf("Unexpected notification stats: %+v", got)
	}
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	pool := NewWorkerPool(1, 1, zap.NewNop())
	pool.Start()

	done := make(chan error, 1)
	err := pool.Submit(Job{
		Kind:    "download",
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context) error {
			<-ctx.Done()
			done <- ctx.Err()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Failed to submit job: %v", err)
	}

	select {
	case got := <-done:
		if !errors.Is(got, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Job timeout was not applied")
	}

	pool.Stop()
	if failed := pool.GetFailedJobs(); failed != 1 {
		t.Errorf("Expected 1 failed job, got %d", failed)
	}
}

func TestWorkerPool_PanicError(t *testing.T) {
	pool := NewWorkerPool(1, 1, zap.NewNop())
	err := pool.execute(Job{Kind: "download", Handler: func(context.Context) error { panic("nil map") }})

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %v", err)
	}
	if panicErr.Kind != "download" {
		t.Errorf("Expected kind download, got %q", panicErr.Kind)
	}
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 5, zap.NewNop())
	pool.Start()
	pool.Stop()

	err := pool.Submit(Job{Handler: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped, got %v", err)
	}

	// Повторная остановка безопасна
	pool.Stop()
}

func TestWorkerPoolQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 1, zap.NewNop())

	// Воркеры не запущены, поэтому очередь не разбирается
	if err := pool.Submit(Job{Handler: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Failed to submit first job: %v", err)
	}
	if err := pool.Submit(Job{Handler: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if size := pool.GetQueueSize(); size != 1 {
		t.Errorf("Expected queue size 1, got %d", size)
	}

	pool.Start()
	pool.Stop()
}
