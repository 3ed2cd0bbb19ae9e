package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Pool runs independent worker loops against a shared queue. Each loop
// claims one job at a time, so a slow handler never blocks the others.
type Pool struct {
	store JobStore
	exec  *Executor
	cfg   PoolConfig
	log   *zerolog.Logger
}

func NewPool(store JobStore, exec *Executor, cfg PoolConfig, logger *zerolog.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Pool{store: store, exec: exec, cfg: cfg, log: logging.Component(logger, "WorkerPool")}
}

// Run blocks until ctx is cancelled. In-flight jobs are allowed to finish;
// no new jobs are claimed after cancellation.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().Int("concurrency", p.cfg.Concurrency).Msg("starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.log.Info().Msg("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.With().Int("worker", id).Logger()

	// Exponential backoff on store errors
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("error fetching job")
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// Reset backoff on success
		backoff = time.Second

		if job == nil {
			if !sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		// Shutdown must not abort a claimed job halfway.
		p.exec.Run(context.WithoutCancel(ctx), job)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
