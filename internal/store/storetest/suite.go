// Package storetest is the compliance suite every store.Store implementation runs.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Run exercises a store.Store implementation. makeStore must return a clean,
// isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()
	t.Run("Conversations", func(t *testing.T) { testConversations(t, makeStore(t)) })
	t.Run("Logs", func(t *testing.T) { testLogs(t, makeStore(t)) })
	t.Run("FeedConversations", func(t *testing.T) { testFeedConversations(t, makeStore(t)) })
	t.Run("FeedLogsFiltered", func(t *testing.T) { testFeedLogsFiltered(t, makeStore(t)) })
	t.Run("FeedClose", func(t *testing.T) { testFeedClose(t, makeStore(t)) })
}

func testConversations(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.Conversations().Create(ctx, types.StringPtr("first"))
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() || a.IsArchived {
		t.Fatalf("Create a: unexpected %+v", a)
	}
	time.Sleep(5 * time.Millisecond) // distinct created_at
	b, err := s.Conversations().Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if b.Title != nil {
		t.Fatalf("Create b: title = %q, want nil", *b.Title)
	}

	lst, err := s.Conversations().ListActive(ctx)
	if err != nil || len(lst) != 2 {
		t.Fatalf("ListActive: n=%d err=%v", len(lst), err)
	}
	if lst[0].ID != b.ID || lst[1].ID != a.ID {
		t.Fatalf("ListActive not newest first: %s, %s", lst[0].ID, lst[1].ID)
	}

	renamed, err := s.Conversations().SetTitle(ctx, a.ID, "renamed")
	if err != nil || renamed.Title == nil || *renamed.Title != "renamed" {
		t.Fatalf("SetTitle: %+v err=%v", renamed, err)
	}
	got, err := s.Conversations().Get(ctx, a.ID)
	if err != nil || got.DisplayTitle() != "renamed" {
		t.Fatalf("Get after SetTitle: %+v err=%v", got, err)
	}

	if _, err := s.Conversations().SetArchived(ctx, a.ID, true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}
	if _, err := s.Conversations().SetArchived(ctx, a.ID, true); err != nil {
		t.Fatalf("SetArchived twice: %v", err)
	}
	lst, err = s.Conversations().ListActive(ctx)
	if err != nil || len(lst) != 1 || lst[0].ID != b.ID {
		t.Fatalf("ListActive after archive: %+v err=%v", lst, err)
	}

	if _, err := s.Conversations().Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if _, err := s.Conversations().SetTitle(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetTitle missing: %v", err)
	}
}

func testLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, err := s.Conversations().Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := s.Conversations().Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create other: %v", err)
	}

	e1, err := s.Logs().Insert(ctx, types.LogEntry{ConversationID: c.ID, UserText: types.StringPtr("hello"), Affect: types.NeutralAffect()})
	if err != nil {
		t.Fatalf("Insert e1: %v", err)
	}
	e2, err := s.Logs().Insert(ctx, types.LogEntry{ConversationID: c.ID, UserText: types.StringPtr("again"), Affect: types.NeutralAffect()})
	if err != nil {
		t.Fatalf("Insert e2: %v", err)
	}
	if _, err := s.Logs().Insert(ctx, types.LogEntry{ConversationID: other.ID, UserText: types.StringPtr("elsewhere"), Affect: types.NeutralAffect()}); err != nil {
		t.Fatalf("Insert other: %v", err)
	}
	if e1.ID == 0 || e2.ID <= e1.ID {
		t.Fatalf("ids not increasing: %d, %d", e1.ID, e2.ID)
	}
	if !e1.Pending() {
		t.Fatal("fresh entry should be pending")
	}

	affect := types.NeutralAffect()
	affect.Happiness = 0.9
	e1.AIResponse = types.StringPtr("hi there")
	e1.Reasoning = types.NewReasoning("greeted back")
	e1.Affect = affect
	e1.TrustScore = types.Float64Ptr(0.7)
	if _, err := s.Logs().Update(ctx, e1); err != nil {
		t.Fatalf("Update: %v", err)
	}

	lst, err := s.Logs().List(ctx, c.ID)
	if err != nil || len(lst) != 2 {
		t.Fatalf("List: n=%d err=%v", len(lst), err)
	}
	if lst[0].ID != e1.ID || lst[1].ID != e2.ID {
		t.Fatalf("List not ordered by id: %d, %d", lst[0].ID, lst[1].ID)
	}
	got := lst[0]
	if got.Pending() || *got.AIResponse != "hi there" || got.Trust() != 0.7 || got.Affect.Happiness != 0.9 {
		t.Fatalf("Update not persisted: %+v", got)
	}
	if txt, ok := got.Reasoning.Text(); !ok || txt != "greeted back" {
		t.Fatalf("reasoning = %q %v", txt, ok)
	}
	if lst[1].Trust() != types.NeutralTrust || lst[1].Affect != types.NeutralAffect() {
		t.Fatalf("defaults not preserved: %+v", lst[1])
	}

	if err := s.Logs().Delete(ctx, e2.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Logs().Delete(ctx, e2.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Delete twice: %v", err)
	}
	if _, err := s.Logs().Update(ctx, types.LogEntry{ID: 1 << 40}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Update missing: %v", err)
	}
	lst, _ = s.Logs().List(ctx, c.ID)
	if len(lst) != 1 {
		t.Fatalf("List after delete: n=%d", len(lst))
	}
}

func testFeedConversations(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := s.Feed().Subscribe(ctx, store.Filter{Table: types.TableConversations})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	c, err := s.Conversations().Create(ctx, types.StringPtr("t"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Conversations().SetArchived(ctx, c.ID, true); err != nil {
		t.Fatalf("SetArchived: %v", err)
	}

	ins := next(ctx, t, sub)
	if ins.Op != types.OpInsert || ins.Table != types.TableConversations {
		t.Fatalf("first change = %s %s", ins.Op, ins.Table)
	}
	row, err := ins.DecodeConversation()
	if err != nil || row.ID != c.ID {
		t.Fatalf("insert row: %+v err=%v", row, err)
	}
	upd := next(ctx, t, sub)
	if upd.Op != types.OpUpdate || upd.Seq <= ins.Seq {
		t.Fatalf("second change = %s seq=%d", upd.Op, upd.Seq)
	}
	row, err = upd.DecodeConversation()
	if err != nil || !row.IsArchived {
		t.Fatalf("update row: %+v err=%v", row, err)
	}
}

func testFeedLogsFiltered(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, _ := s.Conversations().Create(ctx, nil)
	b, _ := s.Conversations().Create(ctx, nil)

	sub, err := s.Feed().Subscribe(ctx, store.Filter{Table: types.TableLogs, ConversationID: a.ID})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer func() { _ = sub.Close() }()

	if _, err := s.Logs().Insert(ctx, types.LogEntry{ConversationID: b.ID, UserText: types.StringPtr("not for a")}); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	e, err := s.Logs().Insert(ctx, types.LogEntry{ConversationID: a.ID, UserText: types.StringPtr("for a")})
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	e.AIResponse = types.StringPtr("reply")
	if _, err := s.Logs().Update(ctx, e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Logs().Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	wantOps := []types.Op{types.OpInsert, types.OpUpdate, types.OpDelete}
	for i, op := range wantOps {
		c := next(ctx, t, sub)
		if c.Op != op || c.ConversationID != a.ID {
			t.Fatalf("change %d = %s for %s, want %s for %s", i, c.Op, c.ConversationID, op, a.ID)
		}
		got, err := c.DecodeLogEntry()
		if err != nil || got.ID != e.ID {
			t.Fatalf("change %d row: %+v err=%v", i, got, err)
		}
		if op == types.OpUpdate && (got.AIResponse == nil || *got.AIResponse != "reply") {
			t.Fatalf("update payload missing reply: %+v", got)
		}
	}
}

func testFeedClose(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := s.Feed().Subscribe(ctx, store.Filter{Table: types.TableConversations})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-sub.Done():
	case <-ctx.Done():
		t.Fatal("Done not closed after Close")
	}
	if sub.Err() != nil {
		t.Fatalf("Err after clean close = %v", sub.Err())
	}
	for range sub.Events() {
	}
}

func next(ctx context.Context, t *testing.T, sub store.Subscription) types.Change {
	t.Helper()
	select {
	case c, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return c
	case <-ctx.Done():
		t.Fatal("timed out waiting for change")
	}
	return types.Change{}
}
