package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MarcusNeufeldt/fundingscope/internal/core"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})              {}
func (l *noopLogger) Info(msg string, fields ...interface{})               {}
func (l *noopLogger) Warn(msg string, fields ...interface{})               {}
func (l *noopLogger) Error(msg string, fields ...interface{})              {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})              {}
func (l *noopLogger) WithField(key string, value interface{}) core.Logger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.Logger { return l }

func TestWorkerPool_SubmitRunsTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TestPool",
		MaxWorkers:  4,
		MaxCapacity: 64,
	}, &noopLogger{})

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
	}
	wg.Wait()
	pool.Stop()

	if got := atomic.LoadInt64(&counter); got != 32 {
		t.Fatalf("expected 32 tasks to run, got %d", got)
	}
}

func TestWorkerPool_NonBlockingRejectsWhenFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "TinyPool",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, &noopLogger{})
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot.
	_ = pool.Submit(func() { <-block })

	var rejected bool
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() {}); err != nil {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("expected a submission to be rejected once the pool is full")
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
		NonBlocking: false,
	}, &noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	var counter int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}

func BenchmarkWorkerPool_SubmitAndWait(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPoolWait",
		MaxWorkers:  10,
		MaxCapacity: 1000,
		NonBlocking: false,
	}, &noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.SubmitAndWait(func() {
			// work
		})
	}
}

func BenchmarkGoroutine_Spawn(b *testing.B) {
	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			wg.Done()
		}()
	}
	wg.Wait()
}
