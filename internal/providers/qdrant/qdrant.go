// Package qdrant implements the vector DB adapter speaking the Qdrant gRPC
// API. Qdrant is vector-only: text search returns Unsupported.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

const (
	defaultCollection = "documents"
	dialTimeout       = 10 * time.Second
)

// Adapter is the Qdrant provider.
type Adapter struct {
	name        string
	collection  string
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	rt          *providers.Runtime
	log         *slog.Logger
}

// New dials the Qdrant gRPC endpoint. Endpoint "base" is host:port;
// endpoint "collection" overrides the default collection name.
func New(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (*Adapter, error) {
	addr := cfg.Endpoint("base")
	if addr == "" {
		return nil, providers.E(providers.KindValidation, cfg.Name, "base endpoint is required")
	}

	collection := cfg.Endpoints["collection"]
	if collection == "" {
		collection = defaultCollection
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, cfg.Name, err)
	}

	return &Adapter{
		name:        cfg.Name,
		collection:  collection,
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		rt:          providers.NewRuntime(cfg, log, met),
		log:         log,
	}, nil
}

func (a *Adapter) Name() string         { return a.name }
func (a *Adapter) Kind() providers.Kind { return providers.KindVectorDB }

// Search is not supported: Qdrant has no text index here.
func (a *Adapter) Search(ctx context.Context, query string, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	return nil, providers.E(providers.KindUnsupported, a.name, "text search is not supported")
}

func (a *Adapter) VectorSearch(ctx context.Context, vector []float32, q *providers.VectorQuery) ([]providers.SearchResult, error) {
	opts := q.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	collection := a.collection
	if q.Index != "" {
		collection = q.Index
	}

	var results []providers.SearchResult
	err := a.rt.Do(ctx, "vector_search", opts.Timeout(), func(ctx context.Context) error {
		resp, err := a.points.Search(ctx, &pb.SearchPoints{
			CollectionName: collection,
			Vector:         vector,
			Filter:         buildFilter(opts),
			Limit:          uint64(opts.Limit),
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return providers.WrapErr(providers.KindUpstream, a.name, err)
		}

		results = make([]providers.SearchResult, 0, len(resp.Result))
		for _, point := range resp.Result {
			r := providers.SearchResult{
				ID:       point.Id.GetUuid(),
				Score:    providers.Clamp01(float64(point.Score)),
				Provider: a.name,
			}
			if payload := point.Payload; payload != nil {
				if v, ok := payload["title"]; ok {
					r.Title = v.GetStringValue()
				}
				if v, ok := payload["content"]; ok {
					r.Content = v.GetStringValue()
				}
				if v, ok := payload["url"]; ok {
					r.URL = v.GetStringValue()
				}
				if opts.IncludeMetadata {
					meta := make(map[string]any, len(payload))
					for k, v := range payload {
						meta[k] = v.GetStringValue()
					}
					r.Metadata = meta
				}
			}
			results = append(results, r)
		}
		return nil
	})
	return results, err
}

// Index upserts points. Each document needs "vector"; "id" must be a UUID
// or is derived from it deterministically; remaining string fields travel
// as payload.
func (a *Adapter) Index(ctx context.Context, docs []providers.Document, opts *providers.SearchOptions) (*providers.IndexResult, error) {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	result := &providers.IndexResult{}
	points := make([]*pb.PointStruct, 0, len(docs))
	for i, doc := range docs {
		vec, ok := toFloat32Slice(doc["vector"])
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: vector is required", i))
			continue
		}

		id, _ := doc["id"].(string)
		if id == "" {
			id = uuid.New().String()
		} else if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
		}

		payload := make(map[string]*pb.Value)
		for k, v := range doc {
			if k == "id" || k == "vector" {
				continue
			}
			if s, ok := v.(string); ok {
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
			}
		}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: id},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vec},
				},
			},
			Payload: payload,
		})
	}

	if len(points) == 0 {
		return result, nil
	}

	err := a.rt.Do(ctx, "index", opts.Timeout(), func(ctx context.Context) error {
		wait := true
		_, err := a.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: a.collection,
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return providers.WrapErr(providers.KindUpstream, a.name, err)
		}
		result.IndexedCount = len(points)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HealthCheck lists collections; a missing target collection is degraded,
// an unreachable server is unhealthy.
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.ProviderHealth, error) {
	resp, err := a.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return &providers.ProviderHealth{
			Provider:     a.name,
			Status:       providers.HealthUnhealthy,
			ErrorMessage: err.Error(),
		}, nil
	}

	for _, col := range resp.Collections {
		if col.Name == a.collection {
			return &providers.ProviderHealth{Provider: a.name, Status: providers.HealthHealthy}, nil
		}
	}
	return &providers.ProviderHealth{
		Provider:     a.name,
		Status:       providers.HealthDegraded,
		ErrorMessage: "collection " + a.collection + " not found",
	}, nil
}

func (a *Adapter) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// buildFilter maps eq and contains filters onto Qdrant text match
// conditions; other operators have no gRPC equivalent here and are skipped.
func buildFilter(opts *providers.SearchOptions) *pb.Filter {
	if len(opts.Filters) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(opts.Filters))
	for field, f := range opts.Filters {
		if f.Op != providers.OpEq && f.Op != providers.OpContains {
			continue
		}
		text, ok := f.Value.(string)
		if !ok {
			continue
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: field,
					Match: &pb.Match{
						MatchValue: &pb.Match_Text{Text: text},
					},
				},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &pb.Filter{Must: conditions}
}

func toFloat32Slice(v any) ([]float32, bool) {
	switch vec := v.(type) {
	case []float32:
		return vec, true
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

var _ providers.Adapter = (*Adapter)(nil)
