// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatmem stores conversation turns as vectors plus structured
// rows and serves semantic recall, plain history, activity stats and
// deletion over them.
package chatmem

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DeL1215/kirox-memory/pkg/embedding"
	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
)

// DefaultCollection is the chat vector collection name.
const DefaultCollection = "chat_memory"

// DefaultHistoryLimit caps GetHistory when the caller passes no limit.
const DefaultHistoryLimit = 20

// ChatRecord is one stored conversation turn. ChatID doubles as the vector
// point id and the unix-millisecond creation timestamp. CreatedAt is
// RFC 3339 UTC.
type ChatRecord struct {
	ChatID      int64  `json:"chat_id"`
	UserID      string `json:"user_id"`
	RobotID     string `json:"robot_id"`
	UserMsg     string `json:"user_msg,omitempty"`
	ToolMsg     string `json:"tool_msg,omitempty"`
	AIMsg       string `json:"ai_msg,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
}

// AddChatRequest carries the parts of one turn. At least one of the
// message fields must be non-empty.
type AddChatRequest struct {
	UserID      string
	RobotID     string
	UserMsg     string
	ToolMsg     string
	AIMsg       string
	ImageBase64 string
}

// ChatMatch is one semantic recall hit.
type ChatMatch struct {
	ChatRecord
	Distance float32 `json:"distance"`
}

// DayCount is one day of chat activity. Date is yyyy-mm-dd in the
// service's stats zone.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Service is the chat memory service.
type Service struct {
	scheduler  *embedding.Scheduler
	vectors    *vectorstore.Manager
	store      *SQLiteChatStore
	collection string
	zone       *time.Location
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCollection overrides the chat collection name.
func WithCollection(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithStatsZone sets the local zone used to bucket daily stats.
func WithStatsZone(zone *time.Location) ServiceOption {
	return func(s *Service) {
		if zone != nil {
			s.zone = zone
		}
	}
}

// WithServiceLogger sets the service's logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the chat memory service. The chat collection must be
// registered on vectors before serving traffic.
func NewService(scheduler *embedding.Scheduler, vectors *vectorstore.Manager, store *SQLiteChatStore, opts ...ServiceOption) *Service {
	s := &Service{
		scheduler:  scheduler,
		vectors:    vectors,
		store:      store,
		collection: DefaultCollection,
		zone:       time.UTC,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the chat vector collection name.
func (s *Service) Collection() string { return s.collection }

// AddChat embeds one turn and writes it to the vector collection and the
// structured store under a fresh chat id. The point is searchable after
// the next flush boundary.
func (s *Service) AddChat(ctx context.Context, req AddChatRequest) (*ChatRecord, error) {
	if req.RobotID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "robot_id is required", nil)
	}
	if req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "user_id is required", nil)
	}

	text := joinParts(req.UserMsg, req.ToolMsg, req.AIMsg)
	if text == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "chat turn has no message content", nil)
	}

	vector, err := s.scheduler.Submit(ctx, text)
	if err != nil {
		return nil, err
	}

	chatID := vectorstore.NewPointID()
	createdAt := time.UnixMilli(chatID).UTC()
	rec := ChatRecord{
		ChatID:      chatID,
		UserID:      req.UserID,
		RobotID:     req.RobotID,
		UserMsg:     req.UserMsg,
		ToolMsg:     req.ToolMsg,
		AIMsg:       req.AIMsg,
		ImageBase64: req.ImageBase64,
		Text:        text,
		CreatedAt:   createdAt.Format(time.RFC3339),
	}

	point := vectorstore.Point{
		ID:     chatID,
		Vector: vector,
		Payload: map[string]interface{}{
			"user_id":    rec.UserID,
			"robot_id":   rec.RobotID,
			"text":       rec.Text,
			"created_at": rec.CreatedAt,
		},
		CreatedAt: createdAt,
	}
	if err := s.vectors.Insert(ctx, s.collection, point); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Debug("chat turn stored",
		"chat_id", chatID, "user_id", rec.UserID, "robot_id", rec.RobotID)
	return &rec, nil
}

// SearchChat returns up to topK stored turns semantically closest to
// query, scoped to one user/robot pair, nearest first.
func (s *Service) SearchChat(ctx context.Context, query, userID, robotID string, topK int) ([]ChatMatch, error) {
	if robotID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "robot_id is required", nil)
	}
	if userID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "user_id is required", nil)
	}
	if topK <= 0 {
		return nil, errors.New(errors.CodeInvalidQuery, "top_k must be a positive integer", nil)
	}

	vector, err := s.scheduler.Submit(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := vectorstore.Filter{"user_id": userID, "robot_id": robotID}
	results, err := s.vectors.SearchScoped(ctx, s.collection, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]ChatMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, ChatMatch{
			ChatRecord: ChatRecord{
				ChatID:    r.Point.ID,
				UserID:    payloadString(r.Point.Payload, "user_id"),
				RobotID:   payloadString(r.Point.Payload, "robot_id"),
				Text:      payloadString(r.Point.Payload, "text"),
				CreatedAt: payloadString(r.Point.Payload, "created_at"),
			},
			Distance: r.Distance,
		})
	}
	return matches, nil
}

// GetHistory returns the newest turns for one user/robot pair, newest
// first, straight from the structured store. No embedding is involved.
func (s *Service) GetHistory(ctx context.Context, userID, robotID string, limit int) ([]ChatRecord, error) {
	if robotID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "robot_id is required", nil)
	}
	if userID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "user_id is required", nil)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.History(ctx, userID, robotID, limit)
}

// Stats7d counts chat turns per local day over the trailing seven days,
// zero-filled, oldest day first.
func (s *Service) Stats7d(ctx context.Context, userID, robotID string) ([]DayCount, error) {
	if robotID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "robot_id is required", nil)
	}
	if userID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "user_id is required", nil)
	}

	localNow := s.now().In(s.zone)
	startDay := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, s.zone).
		AddDate(0, 0, -6)

	ids, err := s.store.ChatIDsSince(ctx, userID, robotID, startDay.UnixMilli())
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, 7)
	for _, id := range ids {
		day := time.UnixMilli(id).In(s.zone).Format("2006-01-02")
		counts[day]++
	}

	out := make([]DayCount, 0, 7)
	for i := 0; i < 7; i++ {
		day := startDay.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, DayCount{Date: day, Count: counts[day]})
	}
	return out, nil
}

// DeleteChat removes one turn from the vector collection and the
// structured store. Idempotent: deleting an absent id succeeds.
func (s *Service) DeleteChat(ctx context.Context, chatID int64) error {
	if err := s.vectors.Delete(ctx, s.collection, chatID); err != nil {
		return err
	}
	return s.store.Delete(ctx, chatID)
}

func joinParts(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
