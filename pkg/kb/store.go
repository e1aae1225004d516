// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package kb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

const kbTable = "kb_docs"

// SQLiteDocStore persists knowledge documents in a SQLite database,
// keyed by the same ids as their vectors.
type SQLiteDocStore struct {
	db *sql.DB
}

// NewSQLiteDocStore creates a SQLite-backed document store and ensures schema.
func NewSQLiteDocStore(db *sql.DB) (*SQLiteDocStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureDocSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteDocStore{db: db}, nil
}

func ensureDocSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			doc_id INTEGER PRIMARY KEY,
			robot_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`, kbTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_robot ON %s(robot_id);`, kbTable, kbTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure kb schema: %w", err)
		}
	}
	return nil
}

// Save upserts one document row, idempotent by doc id.
func (s *SQLiteDocStore) Save(ctx context.Context, doc KnowledgeDoc) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(doc_id, robot_id, title, source, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			robot_id=excluded.robot_id,
			title=excluded.title,
			source=excluded.source,
			text=excluded.text,
			created_at=excluded.created_at;`, kbTable),
		doc.DocID, doc.RobotID, doc.Title, doc.Source, doc.Text, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("save kb row: %w", err)
	}
	return nil
}

// Get returns one document by id, NOT_FOUND when absent.
func (s *SQLiteDocStore) Get(ctx context.Context, docID int64) (KnowledgeDoc, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT
		doc_id, robot_id, title, source, text, created_at
		FROM %s WHERE doc_id = ?;`, kbTable), docID)

	var doc KnowledgeDoc
	err := row.Scan(&doc.DocID, &doc.RobotID, &doc.Title, &doc.Source, &doc.Text, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return KnowledgeDoc{}, errors.New(errors.CodeNotFound, "knowledge document not found", nil).
			WithContext("doc_id", docID)
	}
	if err != nil {
		return KnowledgeDoc{}, fmt.Errorf("get kb row: %w", err)
	}
	return doc, nil
}

// List returns documents newest first, all of them when robotID is empty.
func (s *SQLiteDocStore) List(ctx context.Context, robotID string, limit int) ([]KnowledgeDoc, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT
		doc_id, robot_id, title, source, text, created_at
		FROM %s WHERE (? = '' OR robot_id = ?)
		ORDER BY doc_id DESC LIMIT ?;`, kbTable), robotID, robotID, limit)
	if err != nil {
		return nil, fmt.Errorf("query kb rows: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeDoc
	for rows.Next() {
		var doc KnowledgeDoc
		if err := rows.Scan(&doc.DocID, &doc.RobotID, &doc.Title, &doc.Source,
			&doc.Text, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan kb row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes one document row. Absent ids are not an error.
func (s *SQLiteDocStore) Delete(ctx context.Context, docID int64) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE doc_id = ?;`, kbTable), docID); err != nil {
		return fmt.Errorf("delete kb row: %w", err)
	}
	return nil
}
