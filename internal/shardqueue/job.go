package shardqueue

import "context"

// Job is a unit of work executed on a key's shard. Reconciliation handlers,
// fetch completions and send completions are all submitted as Jobs.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job for JobFunc.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }
