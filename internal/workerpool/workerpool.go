// Package workerpool runs small jobs on a fixed set of goroutines. Jobs are
// grouped in rooms; a room collects the results of its jobs in submission
// order.
package workerpool

import (
	"runtime"
	"sync"
)

type WorkerPool struct {
	config    Config
	taskQueue chan func()
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1024
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for run := range wp.taskQueue {
		run()
	}
}

// Close stops the workers once the queued jobs are done. Adding jobs after
// Close panics.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.taskQueue) })
}

// Room holds the results of one group of jobs.
type Room[T any] struct {
	wp          *WorkerPool
	wg          sync.WaitGroup
	resultMutex sync.Mutex
	result      []T
}

func NewRoom[T any](wp *WorkerPool, size int) *Room[T] {
	return &Room[T]{wp: wp, result: make([]T, 0, size)}
}

// NewTask queues job, blocking while the global buffer is full.
func (ro *Room[T]) NewTask(job func() T) {
	ro.resultMutex.Lock()
	i := len(ro.result)
	var zero T
	ro.result = append(ro.result, zero)
	ro.resultMutex.Unlock()

	ro.wg.Add(1)
	ro.wp.taskQueue <- func() {
		defer ro.wg.Done()
		r := job()
		ro.resultMutex.Lock()
		ro.result[i] = r
		ro.resultMutex.Unlock()
	}
}

// Collect waits for every job of the room and returns the results in the
// order the jobs were added.
func (ro *Room[T]) Collect() []T {
	ro.wg.Wait()
	ro.resultMutex.Lock()
	defer ro.resultMutex.Unlock()
	return append([]T(nil), ro.result...)
}
