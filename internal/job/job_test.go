package job

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
)

func TestJobFunc_NilGuard(t *testing.T) {
	t.Parallel()
	var jf jobFunc
	if err := jf.Run(context.Background()); !errors.Is(err, ErrNilJobFunc) {
		t.Fatalf("expected ErrNilJobFunc, got %v", err)
	}
}

func TestJobFunc_ErrorPropagation(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("boom")
	if err := New(func(context.Context) error { return sentinel }).Run(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

func TestApply_RunsMutation(t *testing.T) {
	t.Parallel()
	n := 0
	if err := Apply(func() { n++ }).Run(context.Background()); err != nil || n != 1 {
		t.Fatalf("Apply: n=%d err=%v", n, err)
	}
}

func TestConversationLabel_DeterministicAndRange(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"", "c1", "2f1c7a4e-9f8e-4c1b-a0f3-8b3fd1d1a9c2"} {
		a, b := ConversationLabel(id), ConversationLabel(id)
		if a != b {
			t.Fatalf("label not deterministic for %q", id)
		}
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 31 {
			t.Fatalf("label out of range for %q: %s", id, a)
		}
	}
}

func TestDo_WaitsForCompletion(t *testing.T) {
	t.Parallel()
	ex := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2})
	defer ex.Stop()

	n := 0
	for i := 0; i < 3; i++ {
		if err := Do(context.Background(), ex, KeyLogSync, func() { n++ }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if n != 3 {
		t.Fatalf("n = %d", n)
	}
}

func TestDo_ClosedExecutor(t *testing.T) {
	t.Parallel()
	ex := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 1})
	ex.Stop()
	if err := Do(context.Background(), ex, KeySender, func() {}); !errors.Is(err, shardqueue.ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}
