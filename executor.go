package client

import (
	"context"

	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
)

// executor abstracts the internal job runner every component serializes on.
type executor interface {
	Submit(context.Context, string, shardqueue.Job) error
	Barrier(context.Context, string) error
	Stop()
}
