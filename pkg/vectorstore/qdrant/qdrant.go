// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant implements the vectorstore.Backend contract against a
// Qdrant server over gRPC. Inserts accumulate in a client-side buffer and
// are upserted with wait=true on flush, which gives the same
// eventually-queryable visibility contract as the embedded backend.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
)

// Store is a Qdrant-backed vectorstore.Backend. The gRPC client is safe
// for concurrent use; the insert buffer is guarded locally.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient

	mu      sync.Mutex
	schemas map[string]vectorstore.Schema
	buffers map[string][]*pb.PointStruct
}

// New connects to a Qdrant server at addr (host:port, gRPC).
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		schemas:     make(map[string]vectorstore.Schema),
		buffers:     make(map[string][]*pb.PointStruct),
	}, nil
}

// Close releases the gRPC connection. Buffered points that were never
// flushed are dropped; call Flush first.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SupportsFilteredSearch reports native filter support.
func (s *Store) SupportsFilteredSearch() bool { return true }

// EnsureCollection creates the collection if absent. An existing
// collection whose dimension or metric differs is SCHEMA_MISMATCH; a
// matching one is success, so concurrent bring-up across processes cannot
// race into duplicate-creation errors.
func (s *Store) EnsureCollection(ctx context.Context, schema vectorstore.Schema) error {
	distance, err := toDistance(schema.Metric)
	if err != nil {
		return err
	}

	existing, err := s.collectionInfo(ctx, schema.Name)
	if err == nil {
		return s.compareSchema(schema, existing, distance)
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("qdrant get collection: %w", err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(schema.Dimension),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			// Lost a create race; verify the winner's schema matches.
			existing, gerr := s.collectionInfo(ctx, schema.Name)
			if gerr != nil {
				return fmt.Errorf("qdrant get collection after race: %w", gerr)
			}
			return s.compareSchema(schema, existing, distance)
		}
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	s.mu.Lock()
	s.schemas[schema.Name] = schema
	s.mu.Unlock()
	return nil
}

func (s *Store) collectionInfo(ctx context.Context, name string) (*pb.VectorParams, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return nil, err
	}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil, status.Error(codes.Internal, "collection has no vector params")
	}
	return params, nil
}

func (s *Store) compareSchema(schema vectorstore.Schema, existing *pb.VectorParams, distance pb.Distance) error {
	if existing.GetSize() != uint64(schema.Dimension) || existing.GetDistance() != distance {
		return errors.New(errors.CodeSchemaMismatch,
			fmt.Sprintf("collection %q exists with dimension %d distance %s, requested dimension %d distance %s",
				schema.Name, existing.GetSize(), existing.GetDistance(), schema.Dimension, distance), nil)
	}
	s.mu.Lock()
	s.schemas[schema.Name] = schema
	s.mu.Unlock()
	return nil
}

// Insert buffers one point for the next flush.
func (s *Store) Insert(_ context.Context, collection string, point vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[collection]
	if !ok {
		return errors.New(errors.CodeInvalidQuery, "collection does not exist", nil).
			WithContext("collection", collection)
	}
	if len(point.Vector) != schema.Dimension {
		return errors.New(errors.CodeSchemaMismatch,
			fmt.Sprintf("vector length %d does not match collection dimension %d", len(point.Vector), schema.Dimension), nil).
			WithContext("collection", collection)
	}

	s.buffers[collection] = append(s.buffers[collection], &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(point.ID)}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: point.Vector}},
		},
		Payload: toPayload(point.Payload),
	})
	return nil
}

// Flush upserts buffered points with wait=true so they are searchable when
// the call returns.
func (s *Store) Flush(ctx context.Context, collection string) error {
	s.mu.Lock()
	buffered := s.buffers[collection]
	s.buffers[collection] = nil
	s.mu.Unlock()

	if len(buffered) == 0 {
		return nil
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         buffered,
		Wait:           &wait,
	})
	if err != nil {
		// Put the batch back so the next flush retries it.
		s.mu.Lock()
		s.buffers[collection] = append(buffered, s.buffers[collection]...)
		s.mu.Unlock()
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search returns up to topK nearest points by the collection's metric.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		return nil, errors.New(errors.CodeInvalidQuery, "top_k must be a positive integer", nil)
	}

	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if len(filter) > 0 {
		req.Filter = toFilter(filter)
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]vectorstore.SearchResult, len(resp.GetResult()))
	for i, hit := range resp.GetResult() {
		results[i] = vectorstore.SearchResult{
			Point: vectorstore.Point{
				ID:      int64(hit.GetId().GetNum()),
				Payload: fromPayload(hit.GetPayload()),
			},
			Distance: hit.GetScore(),
		}
	}
	return results, nil
}

// Delete removes a point by id from the server and from the local buffer,
// so a pending insert cannot resurrect it at the next flush.
func (s *Store) Delete(ctx context.Context, collection string, id int64) error {
	s.mu.Lock()
	buffered := s.buffers[collection]
	for i, p := range buffered {
		if p.GetId().GetNum() == uint64(id) {
			s.buffers[collection] = append(buffered[:i], buffered[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func toDistance(metric vectorstore.Metric) (pb.Distance, error) {
	switch metric {
	case vectorstore.MetricL2, "":
		return pb.Distance_Euclid, nil
	case vectorstore.MetricCosine:
		return pb.Distance_Cosine, nil
	default:
		return pb.Distance_UnknownDistance, errors.New(errors.CodeInvalidQuery,
			fmt.Sprintf("unsupported metric %q", metric), nil)
	}
}

func toFilter(filter vectorstore.Filter) *pb.Filter {
	conditions := make([]*pb.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: key,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}

func toPayload(payload map[string]interface{}) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
		}
	}
	return out
}

func fromPayload(payload map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}
