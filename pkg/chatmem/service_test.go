// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package chatmem_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DeL1215/kirox-memory/pkg/chatmem"
	"github.com/DeL1215/kirox-memory/pkg/embedding"
	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore/embedded"
)

const testDim = 512

type fixture struct {
	svc     *chatmem.Service
	manager *vectorstore.Manager
}

func newFixture(t *testing.T, opts ...chatmem.ServiceOption) *fixture {
	t.Helper()

	engine := embedding.NewMockEngine(testDim)
	sched := embedding.NewScheduler(engine, embedding.SchedulerConfig{BatchSize: 8})
	sched.Start()
	t.Cleanup(sched.Close)

	manager := vectorstore.NewManager(embedded.New())
	if err := manager.EnsureCollection(context.Background(), vectorstore.Schema{
		Name:      chatmem.DefaultCollection,
		Dimension: testDim,
	}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := chatmem.NewSQLiteChatStore(db)
	if err != nil {
		t.Fatalf("new chat store: %v", err)
	}

	return &fixture{
		svc:     chatmem.NewService(sched, manager, store, opts...),
		manager: manager,
	}
}

func (f *fixture) add(t *testing.T, user, robot, msg string) *chatmem.ChatRecord {
	t.Helper()
	rec, err := f.svc.AddChat(context.Background(), chatmem.AddChatRequest{
		UserID: user, RobotID: robot, UserMsg: msg,
	})
	if err != nil {
		t.Fatalf("AddChat(%q): %v", msg, err)
	}
	return rec
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.manager.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestAddChatValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  chatmem.AddChatRequest
	}{
		{"missing robot", chatmem.AddChatRequest{UserID: "u1", UserMsg: "hi"}},
		{"missing user", chatmem.AddChatRequest{RobotID: "r1", UserMsg: "hi"}},
		{"no content", chatmem.AddChatRequest{UserID: "u1", RobotID: "r1"}},
		{"whitespace only", chatmem.AddChatRequest{UserID: "u1", RobotID: "r1", AIMsg: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.AddChat(ctx, tc.req); !errors.IsCode(err, errors.CodeInvalidQuery) {
				t.Fatalf("want INVALID_QUERY, got %v", err)
			}
		})
	}
}

func TestAddChatConcatenatesParts(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.AddChat(context.Background(), chatmem.AddChatRequest{
		UserID:  "u1",
		RobotID: "r1",
		UserMsg: "what is the weather",
		ToolMsg: "lookup: sunny 28C",
		AIMsg:   "It is sunny and warm today.",
	})
	if err != nil {
		t.Fatalf("AddChat: %v", err)
	}
	want := "what is the weather\nlookup: sunny 28C\nIt is sunny and warm today."
	if rec.Text != want {
		t.Fatalf("Text = %q, want %q", rec.Text, want)
	}
	if rec.ChatID == 0 {
		t.Fatal("ChatID not assigned")
	}
	if _, err := time.Parse(time.RFC3339, rec.CreatedAt); err != nil {
		t.Fatalf("CreatedAt %q not RFC3339: %v", rec.CreatedAt, err)
	}
}

func TestSearchChatRanksBySimilarity(t *testing.T) {
	f := newFixture(t)

	f.add(t, "u1", "r1", "the sky is blue and clear today")
	f.add(t, "u1", "r1", "my favourite dinner is fried rice")
	f.flush(t)

	matches, err := f.svc.SearchChat(context.Background(), "what colour is the sky", "u1", "r1", 2)
	if err != nil {
		t.Fatalf("SearchChat: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Text != "the sky is blue and clear today" {
		t.Fatalf("nearest = %q", matches[0].Text)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Fatal("results not sorted by ascending distance")
	}
}

func TestSearchChatScopedToUserAndRobot(t *testing.T) {
	f := newFixture(t)

	mine := f.add(t, "u1", "r1", "remember the door code is nine nine two")
	f.add(t, "u2", "r1", "remember the door code is nine nine two")
	f.add(t, "u1", "r2", "remember the door code is nine nine two")
	f.flush(t)

	matches, err := f.svc.SearchChat(context.Background(), "door code", "u1", "r1", 10)
	if err != nil {
		t.Fatalf("SearchChat: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].ChatID != mine.ChatID {
		t.Fatalf("matched chat %d, want %d", matches[0].ChatID, mine.ChatID)
	}
	if matches[0].UserID != "u1" || matches[0].RobotID != "r1" {
		t.Fatalf("match leaked scope: user=%q robot=%q", matches[0].UserID, matches[0].RobotID)
	}
}

func TestSearchChatUnflushedInvisible(t *testing.T) {
	f := newFixture(t)

	f.add(t, "u1", "r1", "an unflushed secret message")

	matches, err := f.svc.SearchChat(context.Background(), "secret message", "u1", "r1", 5)
	if err != nil {
		t.Fatalf("SearchChat: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("unflushed insert visible: %d matches", len(matches))
	}

	f.flush(t)
	matches, err = f.svc.SearchChat(context.Background(), "secret message", "u1", "r1", 5)
	if err != nil {
		t.Fatalf("SearchChat after flush: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches after flush, want 1", len(matches))
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)

	first := f.add(t, "u1", "r1", "first message")
	second := f.add(t, "u1", "r1", "second message")
	third := f.add(t, "u1", "r1", "third message")
	f.add(t, "u2", "r1", "someone else entirely")

	history, err := f.svc.GetHistory(context.Background(), "u1", "r1", 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d rows, want 2", len(history))
	}
	if history[0].ChatID != third.ChatID || history[1].ChatID != second.ChatID {
		t.Fatalf("history order = [%d %d], want [%d %d]",
			history[0].ChatID, history[1].ChatID, third.ChatID, second.ChatID)
	}

	all, err := f.svc.GetHistory(context.Background(), "u1", "r1", 0)
	if err != nil {
		t.Fatalf("GetHistory default limit: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d rows, want 3", len(all))
	}
	if all[2].ChatID != first.ChatID {
		t.Fatalf("oldest row = %d, want %d", all[2].ChatID, first.ChatID)
	}
}

func TestStats7dZeroFilled(t *testing.T) {
	zone, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Skipf("zone data unavailable: %v", err)
	}
	f := newFixture(t, chatmem.WithStatsZone(zone))

	f.add(t, "u1", "r1", "hello there")
	f.add(t, "u1", "r1", "hello again")
	f.add(t, "u1", "r2", "different robot")

	stats, err := f.svc.Stats7d(context.Background(), "u1", "r1")
	if err != nil {
		t.Fatalf("Stats7d: %v", err)
	}
	if len(stats) != 7 {
		t.Fatalf("got %d days, want 7", len(stats))
	}

	today := time.Now().In(zone).Format("2006-01-02")
	if stats[6].Date != today {
		t.Fatalf("last entry date = %q, want today %q", stats[6].Date, today)
	}
	if stats[6].Count != 2 {
		t.Fatalf("today count = %d, want 2", stats[6].Count)
	}

	for i, day := range stats[:6] {
		if day.Count != 0 {
			t.Fatalf("day %d (%s) count = %d, want 0", i, day.Date, day.Count)
		}
	}
	for i := 1; i < len(stats); i++ {
		if stats[i-1].Date >= stats[i].Date {
			t.Fatalf("dates not ascending: %q then %q", stats[i-1].Date, stats[i].Date)
		}
	}
}

func TestDeleteChatRemovesBothSides(t *testing.T) {
	f := newFixture(t)

	rec := f.add(t, "u1", "r1", "message to forget")
	f.flush(t)

	if err := f.svc.DeleteChat(context.Background(), rec.ChatID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}

	matches, err := f.svc.SearchChat(context.Background(), "message to forget", "u1", "r1", 5)
	if err != nil {
		t.Fatalf("SearchChat: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("deleted chat still searchable: %d matches", len(matches))
	}

	history, err := f.svc.GetHistory(context.Background(), "u1", "r1", 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("deleted chat still in history: %d rows", len(history))
	}

	// Deleting again is a no-op, not an error.
	if err := f.svc.DeleteChat(context.Background(), rec.ChatID); err != nil {
		t.Fatalf("repeat DeleteChat: %v", err)
	}
}

func TestSearchChatValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SearchChat(ctx, "q", "u1", "r1", 0); !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("top_k 0: want INVALID_QUERY, got %v", err)
	}
	if _, err := f.svc.SearchChat(ctx, "q", "", "r1", 5); !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("missing user: want INVALID_QUERY, got %v", err)
	}
	if _, err := f.svc.SearchChat(ctx, "   ", "u1", "r1", 5); !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("blank query: want INVALID_QUERY, got %v", err)
	}
}
