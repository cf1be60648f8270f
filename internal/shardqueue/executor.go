// Package shardqueue runs jobs on worker goroutines partitioned by key. Jobs
// submitted under one key run one at a time in submission order; jobs under
// different keys may run in parallel.
//
// Each client component submits every state mutation under its own key, which
// is what serializes reconciliation handlers against fetch and send completions.
package shardqueue

import (
	"context"
	stderrors "errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/cbbshop1/solace-sentience/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// ShardExecutor executes Jobs on shard workers selected by a stable hash of the key.
type ShardExecutor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	cfg = cfg.withDefaults()
	p := &ShardExecutor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job on the shard derived from key.
//
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns *QueueFullError if the shard stays full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Key: key, Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier waits until every job submitted under key before the call has run.
// It must not be called from inside a job running on the same key.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := p.Submit(ctx, key, JobFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop drains every shard, waits for the workers to exit and returns.
// It is idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("stopping shard executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("shard executor stopped")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}
			select {
			case <-qj.ctx.Done():
				p.safeHandleError(qj.ctx.Err())
			default:
				if stop := p.runWithRetry(idx, label, qj); stop {
					return
				}
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						_ = p.runOnce(idx, label, qj)
						drained++
					}
				default:
					if drained > 0 {
						p.cfg.Logger.Debug().Int("shard", idx).Int("jobs", drained).Msg("drained shard on stop")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// runWithRetry reports true when the executor stopped during a backoff wait.
func (p *ShardExecutor) runWithRetry(idx int, label string, qj queuedJob) bool {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := p.runOnce(idx, label, qj)
		if err == nil {
			return false
		}
		var pe *PanicError
		if errors.IsIrrecoverable(err) || stderrors.As(err, &pe) || attempt >= p.cfg.MaxAttempts {
			p.safeHandleError(err)
			return false
		}
		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			return true
		case <-qj.ctx.Done():
			p.safeHandleError(qj.ctx.Err())
			return false
		}
	}
}

// runOnce executes a single attempt. A panic is converted into *PanicError so
// one misbehaving job cannot take the shard down with it.
func (p *ShardExecutor) runOnce(idx int, label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			panicsTotal.WithLabelValues(label).Inc()
			p.cfg.Logger.Error().Int("shard", idx).Str("key", qj.key).Interface("panic", r).Msg("job panicked")
			err = &PanicError{Key: qj.key, Value: r}
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue error handler panicked")
		}
	}()
	p.cfg.ErrorHandler(err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
