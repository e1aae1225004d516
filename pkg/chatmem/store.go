// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package chatmem

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

const chatTable = "chat_history"

// SQLiteChatStore persists chat rows in a SQLite database. It is the
// structured side of chat memory; the vector side lives in the chat
// collection and both are keyed by the same chat id.
type SQLiteChatStore struct {
	db *sql.DB
}

// NewSQLiteChatStore creates a SQLite-backed chat store and ensures schema.
func NewSQLiteChatStore(db *sql.DB) (*SQLiteChatStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureChatSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteChatStore{db: db}, nil
}

func ensureChatSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chat_id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			robot_id TEXT NOT NULL,
			user_msg TEXT NOT NULL DEFAULT '',
			tool_msg TEXT NOT NULL DEFAULT '',
			ai_msg TEXT NOT NULL DEFAULT '',
			image_base64 TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`, chatTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_robot ON %s(user_id, robot_id);`, chatTable, chatTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, chatTable, chatTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure chat schema: %w", err)
		}
	}
	return nil
}

// Save upserts one chat row. Keyed by chat id so a retried write is
// idempotent rather than duplicated.
func (s *SQLiteChatStore) Save(ctx context.Context, rec ChatRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(chat_id, user_id, robot_id, user_msg, tool_msg, ai_msg, image_base64, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			user_id=excluded.user_id,
			robot_id=excluded.robot_id,
			user_msg=excluded.user_msg,
			tool_msg=excluded.tool_msg,
			ai_msg=excluded.ai_msg,
			image_base64=excluded.image_base64,
			text=excluded.text,
			created_at=excluded.created_at;`, chatTable),
		rec.ChatID, rec.UserID, rec.RobotID, rec.UserMsg, rec.ToolMsg, rec.AIMsg,
		rec.ImageBase64, rec.Text, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save chat row: %w", err)
	}
	return nil
}

// Get returns one chat row by id, NOT_FOUND when absent.
func (s *SQLiteChatStore) Get(ctx context.Context, chatID int64) (ChatRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT
		chat_id, user_id, robot_id, user_msg, tool_msg, ai_msg, image_base64, text, created_at
		FROM %s WHERE chat_id = ?;`, chatTable), chatID)

	var rec ChatRecord
	err := row.Scan(&rec.ChatID, &rec.UserID, &rec.RobotID, &rec.UserMsg, &rec.ToolMsg,
		&rec.AIMsg, &rec.ImageBase64, &rec.Text, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return ChatRecord{}, errors.New(errors.CodeNotFound, "chat record not found", nil).
			WithContext("chat_id", chatID)
	}
	if err != nil {
		return ChatRecord{}, fmt.Errorf("get chat row: %w", err)
	}
	return rec, nil
}

// History returns the newest rows for one user/robot pair, newest first.
func (s *SQLiteChatStore) History(ctx context.Context, userID, robotID string, limit int) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT
		chat_id, user_id, robot_id, user_msg, tool_msg, ai_msg, image_base64, text, created_at
		FROM %s WHERE user_id = ? AND robot_id = ?
		ORDER BY chat_id DESC LIMIT ?;`, chatTable), userID, robotID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(&rec.ChatID, &rec.UserID, &rec.RobotID, &rec.UserMsg, &rec.ToolMsg,
			&rec.AIMsg, &rec.ImageBase64, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ChatIDsSince returns the ids of all rows for one user/robot pair at or
// after sinceMillis. Chat ids are unix-millisecond timestamps, so this is
// an index range scan.
func (s *SQLiteChatStore) ChatIDsSince(ctx context.Context, userID, robotID string, sinceMillis int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT chat_id FROM %s
		WHERE user_id = ? AND robot_id = ? AND chat_id >= ?;`, chatTable),
		userID, robotID, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("query chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes one chat row. Absent ids are not an error.
func (s *SQLiteChatStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE chat_id = ?;`, chatTable), chatID); err != nil {
		return fmt.Errorf("delete chat row: %w", err)
	}
	return nil
}
