package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueFull 任务队列已满
var ErrQueueFull = errors.New("worker pool queue full")

// ErrStopped 协程池已停止
var ErrStopped = errors.New("worker pool stopped")

// Task 交给协程池执行的任务，ctx 在协程池停止时取消
type Task func(ctx context.Context)

// WorkerPool 协程池
//
// 用于限制并发协程数量，避免创建过多协程导致资源耗尽
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	log        *zap.Logger
	onPanic    func()

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, queueSize),
		log:        log,
	}
}

// OnPanic 设置任务 panic 时的回调，用于计数
func (p *WorkerPool) OnPanic(fn func()) {
	p.onPanic = fn
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 ErrQueueFull
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 停止接收新任务，等待已排队的任务执行完毕
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.taskQueue {
		p.run(ctx, task)
	}
}

func (p *WorkerPool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Any("panic", r), zap.Stack("stack"))
			if p.onPanic != nil {
				p.onPanic()
			}
		}
	}()
	task(ctx)
}
