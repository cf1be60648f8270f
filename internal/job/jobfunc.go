// Package job holds the small helpers components use to hand closures to the
// shard executor.
package job

import (
	"context"
	"errors"
	"fmt"
)

// ErrNilJobFunc is returned when a nil closure is run.
var ErrNilJobFunc = errors.New("nil JobFunc")

type jobFunc func(context.Context) error

func (f jobFunc) Run(ctx context.Context) error {
	if f == nil {
		return fmt.Errorf("jobfunc: %w", ErrNilJobFunc)
	}
	return f(ctx)
}

// New wraps fn as a shardqueue.Job.
func New(fn func(context.Context) error) jobFunc {
	return jobFunc(fn)
}

// Apply wraps a mutation that cannot fail.
func Apply(fn func()) jobFunc {
	return jobFunc(func(context.Context) error {
		fn()
		return nil
	})
}

