// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package kb_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/DeL1215/kirox-memory/pkg/embedding"
	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/kb"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore/embedded"
)

const testDim = 512

type fixture struct {
	svc     *kb.Service
	manager *vectorstore.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engine := embedding.NewMockEngine(testDim)
	sched := embedding.NewScheduler(engine, embedding.SchedulerConfig{BatchSize: 8})
	sched.Start()
	t.Cleanup(sched.Close)

	manager := vectorstore.NewManager(embedded.New())
	if err := manager.EnsureCollection(context.Background(), vectorstore.Schema{
		Name:      kb.DefaultCollection,
		Dimension: testDim,
	}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kb.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := kb.NewSQLiteDocStore(db)
	if err != nil {
		t.Fatalf("new doc store: %v", err)
	}

	return &fixture{
		svc:     kb.NewService(sched, manager, store),
		manager: manager,
	}
}

func (f *fixture) add(t *testing.T, robot, title, text string) *kb.KnowledgeDoc {
	t.Helper()
	doc, err := f.svc.AddKnowledge(context.Background(), kb.AddKnowledgeRequest{
		RobotID: robot, Title: title, Text: text,
	})
	if err != nil {
		t.Fatalf("AddKnowledge(%q): %v", title, err)
	}
	return doc
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	if err := f.manager.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestAddKnowledgeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddKnowledge(ctx, kb.AddKnowledgeRequest{Text: "orphan"}); !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("missing robot: want INVALID_QUERY, got %v", err)
	}
	if _, err := f.svc.AddKnowledge(ctx, kb.AddKnowledgeRequest{RobotID: "r1", Text: "  "}); !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("blank text: want INVALID_QUERY, got %v", err)
	}
}

func TestSearchKnowledgeRanksBySimilarity(t *testing.T) {
	f := newFixture(t)

	target := f.add(t, "r1", "wifi", "the office wifi password is stored in the vault")
	f.add(t, "r1", "lunch", "the cafeteria serves lunch from noon to two")
	f.add(t, "r1", "parking", "visitor parking is behind the north building")
	f.flush(t)

	matches, err := f.svc.SearchKnowledge(context.Background(), "what is the wifi password", "r1", 3)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].DocID != target.DocID {
		t.Fatalf("nearest doc = %q, want %q", matches[0].Title, target.Title)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1].Distance > matches[i].Distance {
			t.Fatal("results not sorted by ascending distance")
		}
	}
}

func TestSearchKnowledgeScopedToRobot(t *testing.T) {
	f := newFixture(t)

	mine := f.add(t, "r1", "codes", "emergency exit codes for the lab")
	f.add(t, "r2", "codes", "emergency exit codes for the lab")
	f.flush(t)

	matches, err := f.svc.SearchKnowledge(context.Background(), "exit codes", "r1", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].DocID != mine.DocID {
		t.Fatalf("matched doc %d, want %d", matches[0].DocID, mine.DocID)
	}
}

func TestGetKnowledge(t *testing.T) {
	f := newFixture(t)

	doc := f.add(t, "r1", "handbook", "handbook contents go here")

	got, err := f.svc.GetKnowledge(context.Background(), doc.DocID)
	if err != nil {
		t.Fatalf("GetKnowledge: %v", err)
	}
	if got.Title != "handbook" || got.Text != "handbook contents go here" {
		t.Fatalf("got %+v", got)
	}

	if _, err := f.svc.GetKnowledge(context.Background(), doc.DocID+999); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("absent doc: want NOT_FOUND, got %v", err)
	}
}

func TestListKnowledgeNewestFirst(t *testing.T) {
	f := newFixture(t)

	first := f.add(t, "r1", "a", "first document")
	second := f.add(t, "r1", "b", "second document")
	f.add(t, "r2", "c", "other robot's document")

	docs, err := f.svc.ListKnowledge(context.Background(), "r1", 0)
	if err != nil {
		t.Fatalf("ListKnowledge: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0].DocID != second.DocID || docs[1].DocID != first.DocID {
		t.Fatalf("list order = [%d %d], want [%d %d]",
			docs[0].DocID, docs[1].DocID, second.DocID, first.DocID)
	}
}

func TestDeleteKnowledgeRemovesBothSides(t *testing.T) {
	f := newFixture(t)

	doc := f.add(t, "r1", "old", "a stale document to remove")
	f.flush(t)

	if err := f.svc.DeleteKnowledge(context.Background(), doc.DocID); err != nil {
		t.Fatalf("DeleteKnowledge: %v", err)
	}

	if _, err := f.svc.GetKnowledge(context.Background(), doc.DocID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("want NOT_FOUND after delete, got %v", err)
	}

	matches, err := f.svc.SearchKnowledge(context.Background(), "stale document", "r1", 5)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("deleted doc still searchable: %d matches", len(matches))
	}

	if err := f.svc.DeleteKnowledge(context.Background(), doc.DocID); err != nil {
		t.Fatalf("repeat DeleteKnowledge: %v", err)
	}
}

func TestSearchAndListWithoutRobotScope(t *testing.T) {
	f := newFixture(t)

	a := f.add(t, "r1", "a", "shutdown procedure for the reactor")
	b := f.add(t, "r2", "b", "startup procedure for the reactor")
	f.flush(t)

	matches, err := f.svc.SearchKnowledge(context.Background(), "reactor procedure", "", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("unscoped search got %d matches, want 2", len(matches))
	}

	docs, err := f.svc.ListKnowledge(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("ListKnowledge: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("unscoped list got %d docs, want 2", len(docs))
	}
	if docs[0].DocID != b.DocID || docs[1].DocID != a.DocID {
		t.Fatalf("list order = [%d %d], want [%d %d]", docs[0].DocID, docs[1].DocID, b.DocID, a.DocID)
	}
}
