package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Handler func(ctx context.Context, task Task) error

// Hooks receive task outcomes. OnFailed fires only when a task is terminal,
// retries stay inside the runner.
type Hooks struct {
	OnCompleted func(task Task)
	OnFailed    func(task Task, reason string)
}

// Runner drains the queue with bounded concurrency and a ceiling on task
// starts per second, to stay under the transport's abuse limits.
type Runner struct {
	backend      Backend
	handlers     map[string]Handler
	hooks        Hooks
	concurrency  int
	limiter      *rate.Limiter
	pollInterval time.Duration

	wg sync.WaitGroup
}

func NewRunner(backend Backend, concurrency, startsPerSecond int, hooks Hooks) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if startsPerSecond < 1 {
		startsPerSecond = 1
	}
	return &Runner{
		backend:      backend,
		handlers:     make(map[string]Handler),
		hooks:        hooks,
		concurrency:  concurrency,
		limiter:      rate.NewLimiter(rate.Limit(startsPerSecond), startsPerSecond),
		pollInterval: 500 * time.Millisecond,
	}
}

func (r *Runner) Register(taskType string, handler Handler) {
	r.handlers[taskType] = handler
}

// Start launches the claim loop. It returns immediately; Wait blocks until
// in-flight tasks drain after ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	slots := make(chan struct{}, r.concurrency)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}

			task, err := r.backend.Claim(ctx)
			if err != nil {
				<-slots
				if err != ErrNoTask && ctx.Err() == nil {
					log.Printf("queue: claim error: %v", err)
				}
				select {
				case <-time.After(r.pollInterval):
				case <-ctx.Done():
					return
				}
				continue
			}

			r.wg.Add(1)
			go func(task *Task) {
				defer r.wg.Done()
				defer func() { <-slots }()
				r.process(ctx, task)
			}(task)
		}
	}()
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) process(ctx context.Context, task *Task) {
	handler, ok := r.handlers[task.Type]
	if !ok {
		r.fail(ctx, task, fmt.Sprintf("no handler for task type %q", task.Type))
		return
	}

	// A panicking handler must not take down the task loop.
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("handler panic: %v", rec)
			}
		}()
		err = handler(ctx, *task)
	}()

	if err != nil {
		log.Printf("queue: task %s (%s) attempt %d failed: %v", task.ID, task.Type, task.Attempts, err)
		r.fail(ctx, task, err.Error())
		return
	}

	if err := r.backend.Complete(ctx, task.ID); err != nil {
		log.Printf("queue: failed to mark task %s completed: %v", task.ID, err)
	}
	if r.hooks.OnCompleted != nil {
		r.hooks.OnCompleted(*task)
	}
}

func (r *Runner) fail(ctx context.Context, task *Task, reason string) {
	terminal, err := r.backend.Fail(ctx, task, reason)
	if err != nil {
		log.Printf("queue: failed to mark task %s failed: %v", task.ID, err)
	}
	if terminal && r.hooks.OnFailed != nil {
		r.hooks.OnFailed(*task, reason)
	}
}
