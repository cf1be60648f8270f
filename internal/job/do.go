package job

import (
	"context"

	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Do runs fn on key's shard and waits for it to finish. It must not be called
// from inside a job: the shard it waits on may be the caller's own.
func Do(ctx context.Context, exec types.Executor, key string, fn func()) error {
	done := make(chan struct{})
	if err := exec.Submit(ctx, key, Apply(func() {
		defer close(done)
		fn()
	})); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
