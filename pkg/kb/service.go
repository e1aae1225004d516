// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package kb is the knowledge base: long-lived reference documents stored
// per robot, searchable semantically and listable without embeddings.
package kb

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DeL1215/kirox-memory/pkg/embedding"
	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
)

// DefaultCollection is the knowledge vector collection name.
const DefaultCollection = "kb_memory"

// DefaultListLimit caps ListKnowledge when the caller passes no limit.
const DefaultListLimit = 50

// KnowledgeDoc is one stored document. DocID doubles as the vector point
// id and the unix-millisecond creation timestamp. CreatedAt is RFC 3339
// UTC.
type KnowledgeDoc struct {
	DocID     int64  `json:"doc_id"`
	RobotID   string `json:"robot_id"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// AddKnowledgeRequest carries one document to store.
type AddKnowledgeRequest struct {
	RobotID string
	Title   string
	Source  string
	Text    string
}

// KnowledgeMatch is one semantic search hit.
type KnowledgeMatch struct {
	KnowledgeDoc
	Distance float32 `json:"distance"`
}

// Service is the knowledge base service.
type Service struct {
	scheduler  *embedding.Scheduler
	vectors    *vectorstore.Manager
	store      *SQLiteDocStore
	collection string
	logger     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCollection overrides the knowledge collection name.
func WithCollection(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.collection = name
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

// NewService wires the knowledge base service. The knowledge collection
// must be registered on vectors before serving traffic.
func NewService(scheduler *embedding.Scheduler, vectors *vectorstore.Manager, store *SQLiteDocStore, opts ...ServiceOption) *Service {
	s := &Service{
		scheduler:  scheduler,
		vectors:    vectors,
		store:      store,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the knowledge vector collection name.
func (s *Service) Collection() string { return s.collection }

// AddKnowledge embeds one document and writes it to the vector collection
// and the structured store under a fresh doc id. The point is searchable
// after the next flush boundary.
func (s *Service) AddKnowledge(ctx context.Context, req AddKnowledgeRequest) (*KnowledgeDoc, error) {
	if req.RobotID == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "robot_id is required", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New(errors.CodeInvalidQuery, "document text is required", nil)
	}

	vector, err := s.scheduler.Submit(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	docID := vectorstore.NewPointID()
	createdAt := time.UnixMilli(docID).UTC()
	doc := KnowledgeDoc{
		DocID:     docID,
		RobotID:   req.RobotID,
		Title:     strings.TrimSpace(req.Title),
		Source:    strings.TrimSpace(req.Source),
		Text:      strings.TrimSpace(req.Text),
		CreatedAt: createdAt.Format(time.RFC3339),
	}

	point := vectorstore.Point{
		ID:     docID,
		Vector: vector,
		Payload: map[string]interface{}{
			"robot_id":   doc.RobotID,
			"title":      doc.Title,
			"source":     doc.Source,
			"text":       doc.Text,
			"created_at": doc.CreatedAt,
		},
		CreatedAt: createdAt,
	}
	if err := s.vectors.Insert(ctx, s.collection, point); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Debug("knowledge document stored", "doc_id", docID, "robot_id", doc.RobotID)
	return &doc, nil
}

// SearchKnowledge returns up to topK documents semantically closest to
// query, nearest first. A non-empty robotID restricts hits to that robot's
// documents; empty searches the whole base.
func (s *Service) SearchKnowledge(ctx context.Context, query, robotID string, topK int) ([]KnowledgeMatch, error) {
	if topK <= 0 {
		return nil, errors.New(errors.CodeInvalidQuery, "top_k must be a positive integer", nil)
	}

	vector, err := s.scheduler.Submit(ctx, query)
	if err != nil {
		return nil, err
	}

	var filter vectorstore.Filter
	if robotID != "" {
		filter = vectorstore.Filter{"robot_id": robotID}
	}
	results, err := s.vectors.SearchScoped(ctx, s.collection, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	matches := make([]KnowledgeMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, KnowledgeMatch{
			KnowledgeDoc: docFromPayload(r.Point.ID, r.Point.Payload),
			Distance:     r.Distance,
		})
	}
	return matches, nil
}

// GetKnowledge returns one document by id, NOT_FOUND when absent.
func (s *Service) GetKnowledge(ctx context.Context, docID int64) (KnowledgeDoc, error) {
	return s.store.Get(ctx, docID)
}

// ListKnowledge returns documents newest first without touching the
// embedding engine. A non-empty robotID lists only that robot's documents.
func (s *Service) ListKnowledge(ctx context.Context, robotID string, limit int) ([]KnowledgeDoc, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.List(ctx, robotID, limit)
}

// DeleteKnowledge removes one document from the vector collection and the
// structured store. Idempotent: deleting an absent id succeeds.
func (s *Service) DeleteKnowledge(ctx context.Context, docID int64) error {
	if err := s.vectors.Delete(ctx, s.collection, docID); err != nil {
		return err
	}
	return s.store.Delete(ctx, docID)
}

func docFromPayload(id int64, payload map[string]interface{}) KnowledgeDoc {
	str := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	return KnowledgeDoc{
		DocID:     id,
		RobotID:   str("robot_id"),
		Title:     str("title"),
		Source:    str("source"),
		Text:      str("text"),
		CreatedAt: str("created_at"),
	}
}
