package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"corpusd/internal/config"
	"corpusd/internal/model"
)

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrant connects to Qdrant's gRPC API (port 6334 by default) and ensures
// the configured collection exists with the configured dimension/metric.
// A dimension mismatch against an existing collection is a fatal startup
// error — re-ingestion, not auto-migration, is required (spec Open Question).
func NewQdrant(ctx context.Context, cfg config.QdrantConfig) (VectorStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host, portStr = cfg.Addr, "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port in %q: %w", cfg.Addr, err)
	}

	qcfg := &qdrant.Config{Host: host, Port: port}
	if cfg.APIKey != "" {
		qcfg.APIKey = cfg.APIKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &qdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		metric:     strings.ToLower(strings.TrimSpace(cfg.Metric)),
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("get collection info: %w", err)
		}
		if params := info.GetConfig().GetParams(); params != nil {
			if sz := params.GetVectorsConfig().GetParams().GetSize(); sz != 0 && int(sz) != q.dimension {
				return fmt.Errorf("qdrant collection %q has dimension %d, configured %d; re-ingest into a new collection instead of changing vector_dimension in place", q.collection, sz, q.dimension)
			}
		}
		return nil
	}

	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	if q.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func (q *qdrantStore) Upsert(ctx context.Context, point model.VectorPoint) error {
	metadata := make(map[string]any, len(point.Metadata)+5)
	for k, v := range point.Metadata {
		metadata[k] = v
	}
	metadata["tenant_id"] = point.TenantID
	metadata["document_id"] = point.DocumentID
	metadata["chunk_id"] = point.ChunkID
	metadata["filename"] = point.Filename
	metadata["chunk_index"] = int64(point.ChunkIndex)

	vec := make([]float32, len(point.Vector))
	copy(vec, point.Vector)

	points := []*qdrant.PointStruct{
		{
			Id:      qdrant.NewIDUUID(point.PointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(metadata),
		},
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	return err
}

func (q *qdrantStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
			qdrant.NewMatch("document_id", documentID),
		},
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	return err
}

func (q *qdrantStore) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("tenant_id", tenantID)},
	}
	lim := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		r := SearchResult{Score: float64(hit.Score), Metadata: map[string]string{}}
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case "tenant_id":
					r.TenantID = v.GetStringValue()
				case "document_id":
					r.DocumentID = v.GetStringValue()
				case "chunk_id":
					r.ChunkID = v.GetStringValue()
				case "filename":
					r.Filename = v.GetStringValue()
				case "chunk_index":
					r.ChunkIndex = int(v.GetIntegerValue())
				default:
					r.Metadata[k] = v.GetStringValue()
				}
			}
		}
		// Tenant isolation is a hard assertion, not a silent filter: any
		// mismatched result aborts the request rather than being dropped.
		if r.TenantID != tenantID {
			return nil, fmt.Errorf("%w: result tenant %q for query tenant %q", ErrTenantIsolationViolation, r.TenantID, tenantID)
		}
		results = append(results, r)
	}
	return results, nil
}

func (q *qdrantStore) Dimension() int { return q.dimension }

func (q *qdrantStore) Ping(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

func (q *qdrantStore) Close() error { return q.client.Close() }
