package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/digkill/TGSpeechBot/internal/metrics"
)

// ErrOverloaded is returned when every worker is busy.
var ErrOverloaded = errors.New("worker pool overloaded")

type Task func(ctx context.Context) error

// Pool runs tasks on a bounded set of goroutines. Each task gets its own
// deadline derived from the submitting context.
type Pool struct {
	name    string
	pool    *ants.Pool
	timeout time.Duration
	log     *slog.Logger
}

// New creates a pool of size workers. Submit never waits for a free worker;
// a full pool reports ErrOverloaded. timeout <= 0 disables the per-task deadline.
func New(name string, size int, timeout time.Duration, log *slog.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than 0")
	}
	p := &Pool{name: name, timeout: timeout, log: log}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			log.Error("task panicked", "pool", name, "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", name, err)
	}
	p.pool = pool
	return p, nil
}

// Submit schedules task. Errors returned by the task are logged here; callers
// that need to tell the user something do so inside the task.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	err := p.pool.Submit(func() {
		metrics.PoolRunning.Inc()
		defer metrics.PoolRunning.Dec()

		taskCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		defer cancel()

		if err := task(taskCtx); err != nil {
			p.log.Warn("task failed", "pool", p.name, "task", name, "err", err)
		}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		return ErrOverloaded
	}
	if err != nil {
		return fmt.Errorf("submit %s: %w", name, err)
	}
	return nil
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Release() {
	p.pool.Release()
}
