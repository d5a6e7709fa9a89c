package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки постановки в очередь
var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job фоновая задача
type Job struct {
	ID string
	// Kind тип задачи: "notification", "download"
	Kind string
	// Timeout ограничивает выполнение Handler, ноль означает без ограничения
	Timeout time.Duration
	Handler func(ctx context.Context) error
}

// KindStats счетчики по одному типу задач
type KindStats struct {
	Processed int64         `json:"processed"`
	Failed    int64         `json:"failed"`
	Busy      time.Duration `json:"busy"`
}

// Metrics метрики пула
type Metrics struct {
	ProcessedJobs  int64
	FailedJobs     int64
	ProcessingTime time.Duration
	QueueSize      int
	Kinds          map[string]KindStats
}

// PanicError паника, перехваченная в обработчике задачи
type PanicError struct {
	Kind  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s job panicked: %v", e.Kind, e.Value)
}

// Pool фиксированное число воркеров над буферизованной очередью.
// Stop дорабатывает уже принятые задачи.
type Pool struct {
	workers int
	queue   chan Job
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	statsMu sync.Mutex
	stats   Metrics
}

var _ PoolInterface = (*Pool)(nil)

// NewWorkerPool создает пул. Непозитивные значения заменяются единицей.
func NewWorkerPool(workers int, queueSize int, logger *zap.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: max(workers, 1),
		queue:   make(chan Job, max(queueSize, 1)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		stats:   Metrics{Kinds: make(map[string]KindStats)},
	}
}

// Start запускает воркеры
func (p *Pool) Start() {
	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.workers),
		zap.Int("queue_capacity", cap(p.queue)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
}

// Stop закрывает очередь и ждет, пока воркеры доработают принятые задачи. Повторный вызов безопасен.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.Int("pending_jobs", len(p.queue)))

		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
	})

	p.wg.Wait()
	p.cancel()
	p.logger.Info("Worker pool stopped")
}

// Submit ставит задачу в очередь
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case p.queue <- job:
		p.setQueueSize()
		return nil
	default:
		p.logger.Warn("Worker queue is full, job rejected",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind))
		return ErrQueueFull
	}
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()

	for job := range p.queue {
		p.setQueueSize()
		p.process(id, job)
	}
}

func (p *Pool) process(workerID int, job Job) {
	start := time.Now()
	err := p.execute(job)
	elapsed := time.Since(start)

	p.record(job.Kind, elapsed, err)

	if err != nil {
		p.logger.Error("Job processing failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return
	}

	p.logger.Debug("Job processed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Duration("duration", elapsed))
}

// execute вызывает обработчик с таймаутом задачи. Паника превращается в ошибку.
func (p *Pool) execute(job Job) (err error) {
	if job.Handler == nil {
		return errors.New("job has no handler")
	}

	ctx := p.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Kind: job.Kind, Value: r}
		}
	}()
	return job.Handler(ctx)
}

func (p *Pool) record(kind string, elapsed time.Duration, err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	ks := p.stats.Kinds[kind]
	ks.Busy += elapsed
	if err != nil {
		ks.Failed++
		p.stats.FailedJobs++
	} else {
		ks.Processed++
		p.stats.ProcessedJobs++
		p.stats.ProcessingTime += elapsed
	}
	p.stats.Kinds[kind] = ks
}

func (p *Pool) setQueueSize() {
	p.statsMu.Lock()
	p.stats.QueueSize = len(p.queue)
	p.statsMu.Unlock()
}

// GetMetrics возвращает копию метрик
func (p *Pool) GetMetrics() Metrics {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	out := p.stats
	out.Kinds = make(map[string]KindStats, len(p.stats.Kinds))
	for k, v := range p.stats.Kinds {
		out.Kinds[k] = v
	}
	return out
}

// GetProcessedJobs возвращает количество успешных задач
func (p *Pool) GetProcessedJobs() int64 {
	return p.GetMetrics().ProcessedJobs
}

// GetFailedJobs возвращает количество неудачных задач
func (p *Pool) GetFailedJobs() int64 {
	return p.GetMetrics().FailedJobs
}

// GetQueueSize возвращает число задач, ожидающих в очереди
func (p *Pool) GetQueueSize() int {
	return len(p.queue)
}
