// Package qdrant implements the memory.VectorStore contract over a qdrant
// server's gRPC API.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/memory"
)

// Store talks to one qdrant instance.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to a qdrant server at addr.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Newf(errors.CodeBackendFailure, "connect to qdrant at %s: %v", addr, err)
	}
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, backendErr("list collections", err)
	}
	names := make([]string, len(resp.Collections))
	for i, c := range resp.Collections {
		names[i] = c.Name
	}
	return names, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return backendErr(fmt.Sprintf("create collection %s", name), err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return backendErr(fmt.Sprintf("delete collection %s", name), err)
	}
	return nil
}

// CopyCollection scrolls every point out of src and upserts it into dst,
// which must already exist.
func (s *Store) CopyCollection(ctx context.Context, src, dst string) error {
	var offset *pb.PointId
	for {
		limit := uint32(256)
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: src,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    withPayload(),
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return backendErr(fmt.Sprintf("scroll collection %s", src), err)
		}
		if len(resp.Result) == 0 {
			return nil
		}

		batch := make([]*pb.PointStruct, len(resp.Result))
		for i, p := range resp.Result {
			batch[i] = &pb.PointStruct{Id: p.Id, Vectors: retrievedVectors(p), Payload: p.Payload}
		}
		if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: dst, Points: batch}); err != nil {
			return backendErr(fmt.Sprintf("copy into collection %s", dst), err)
		}
		if resp.NextPageOffset == nil {
			return nil
		}
		offset = resp.NextPageOffset
	}
}

func (s *Store) Insert(ctx context.Context, collection string, node *memory.Node, vector []float32) error {
	payload, err := encodePayload(node)
	if err != nil {
		return err
	}
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{{
			Id:      pointID(node.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return backendErr("upsert point", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection string, node *memory.Node, vector []float32) error {
	return s.Insert(ctx, collection, node, vector)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return backendErr("delete point", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*memory.Node, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, backendErr("get point", err)
	}
	if len(resp.Result) == 0 {
		return nil, errors.Newf(errors.CodeNotFound, "node %q not in collection %q", id, collection)
	}
	return decodePayload(resp.Result[0].Payload)
}

func (s *Store) List(ctx context.Context, collection string, filter *memory.Filter) ([]*memory.Node, error) {
	var nodes []*memory.Node
	var offset *pb.PointId
	for {
		limit := uint32(256)
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         encodeFilter(filter),
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, backendErr(fmt.Sprintf("scroll collection %s", collection), err)
		}
		for _, p := range resp.Result {
			node, err := decodePayload(p.Payload)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return nodes, nil
		}
		offset = resp.NextPageOffset
	}
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter *memory.Filter) ([]memory.ScoredNode, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         encodeFilter(filter),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, backendErr("search points", err)
	}

	hits := make([]memory.ScoredNode, 0, len(resp.Result))
	for _, r := range resp.Result {
		node, err := decodePayload(r.Payload)
		if err != nil {
			return nil, err
		}
		hits = append(hits, memory.ScoredNode{Node: node, Score: r.Score})
	}
	return hits, nil
}

func backendErr(action string, err error) error {
	return errors.Newf(errors.CodeBackendFailure, "qdrant: %s: %v", action, err)
}

// pointID derives qdrant's UUID point id deterministically from the node's
// content hash.
func pointID(nodeID string) *pb.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(nodeID))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func retrievedVectors(p *pb.RetrievedPoint) *pb.Vectors {
	v := p.GetVectors().GetVector()
	if v == nil {
		return nil
	}
	return &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: v.GetData()}}}
}

// encodePayload stores the full node as JSON plus flat copies of the
// filterable fields so server-side filters can address them.
func encodePayload(node *memory.Node) (map[string]*pb.Value, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, errors.Newf(errors.CodeInternal, "encode node %s: %v", node.ID, err)
	}
	payload := map[string]*pb.Value{
		"node":      {Kind: &pb.Value_StringValue{StringValue: string(raw)}},
		"type":      {Kind: &pb.Value_StringValue{StringValue: string(node.Type)}},
		"author":    {Kind: &pb.Value_StringValue{StringValue: node.Author}},
		"source_id": {Kind: &pb.Value_StringValue{StringValue: node.SourceID}},
		"score":     {Kind: &pb.Value_DoubleValue{DoubleValue: float64(node.Score)}},
	}
	for k, v := range node.Metadata {
		if pv := scalarValue(v); pv != nil {
			payload[k] = pv
		}
	}
	return payload, nil
}

func scalarValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	default:
		return nil
	}
}

func decodePayload(payload map[string]*pb.Value) (*memory.Node, error) {
	raw := payload["node"].GetStringValue()
	if raw == "" {
		return nil, errors.New(errors.CodeInternal, "qdrant point has no node payload", nil)
	}
	var node memory.Node
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return nil, errors.Newf(errors.CodeInternal, "decode node payload: %v", err)
	}
	return &node, nil
}

func encodeFilter(f *memory.Filter) *pb.Filter {
	if f == nil {
		return nil
	}
	out := &pb.Filter{}
	for _, c := range f.Must {
		if cond := encodeCondition(c); cond != nil {
			out.Must = append(out.Must, cond)
		}
	}
	for _, c := range f.Should {
		if cond := encodeCondition(c); cond != nil {
			out.Should = append(out.Should, cond)
		}
	}
	if len(out.Must) == 0 && len(out.Should) == 0 {
		return nil
	}
	return out
}

func encodeCondition(c memory.Condition) *pb.Condition {
	field := &pb.FieldCondition{Key: c.Field}
	switch {
	case c.Match != nil:
		m := matchValue(c.Match)
		if m == nil {
			return nil
		}
		field.Match = m
	case len(c.In) > 0:
		keywords := make([]string, 0, len(c.In))
		for _, v := range c.In {
			if s, ok := v.(string); ok {
				keywords = append(keywords, s)
			}
		}
		if len(keywords) == 0 {
			return nil
		}
		field.Match = &pb.Match{MatchValue: &pb.Match_Keywords{
			Keywords: &pb.RepeatedStrings{Strings: keywords},
		}}
	case c.Range != nil:
		field.Range = &pb.Range{
			Gt: c.Range.GT, Gte: c.Range.GTE, Lt: c.Range.LT, Lte: c.Range.LTE,
		}
	default:
		return nil
	}
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: field}}
}

func matchValue(v any) *pb.Match {
	switch val := v.(type) {
	case string:
		return &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: val}}
	case bool:
		return &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: val}}
	case int:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(val)}}
	case int64:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: val}}
	default:
		return nil
	}
}
