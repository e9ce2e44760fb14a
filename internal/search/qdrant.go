package search

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

// QdrantSearcher is the alternative retriever backend for self-hosted
// deployments. The query is embedded client-side through the provider and
// ranked by cosine similarity in qdrant; there is no semantic re-rank pass,
// the returned order is trusted the same way as azure's.
type QdrantSearcher struct {
	points     qdrant.PointsClient
	conn       *grpc.ClientConn
	collection string
	topK       int
	embedder   Embedder
	logger     *log.Logger
}

func NewQdrantSearcher(cfg config.SearchConfig, embedder Embedder) (*QdrantSearcher, error) {
	conn, err := grpc.NewClient(cfg.QdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connection failed (%s): %w", cfg.QdrantAddr, err)
	}
	return &QdrantSearcher{
		points:     qdrant.NewPointsClient(conn),
		conn:       conn,
		collection: cfg.QdrantCollection,
		topK:       cfg.TopK,
		embedder:   embedder,
		logger:     log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}, nil
}

func (s *QdrantSearcher) Close() error { return s.conn.Close() }

// Search embeds the query and runs a vector search over the collection.
// Failures wrap core.ErrRetrieval.
func (s *QdrantSearcher) Search(ctx context.Context, p Params) ([]core.SearchHit, error) {
	topK := p.TopK
	if topK <= 0 {
		topK = s.topK
	}
	vecs, err := s.embedder.CreateEmbedding(ctx, []string{p.Query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrRetrieval, err)
	}

	req := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vecs[0],
		Limit:          uint64(topK),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if f := stateConditions(p.Filter); f != nil {
		req.Filter = f
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRetrieval, err)
	}

	hits := make([]core.SearchHit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		payload := pt.GetPayload()
		page := int(payload["page_number"].GetIntegerValue())
		if page < 1 {
			page = 1
		}
		var urls []string
		for _, v := range payload["image_urls"].GetListValue().GetValues() {
			if u := v.GetStringValue(); u != "" {
				urls = append(urls, u)
			}
		}
		hits = append(hits, core.SearchHit{
			ChunkID:      payload["chunk_id"].GetStringValue(),
			Content:      payload["content"].GetStringValue(),
			Score:        float64(pt.GetScore()),
			DocumentID:   payload["document_id"].GetStringValue(),
			DocumentName: payload["document_name"].GetStringValue(),
			PageNumber:   page,
			ImageURLs:    urls,
		})
	}
	s.logger.Printf("query %q returned %d hits (collection=%s top=%d)", p.Query, len(hits), s.collection, topK)
	return hits, nil
}

var odataLiteral = regexp.MustCompile(`'([^']+)'`)

// stateConditions translates the OData state filter built by StateFilter
// into a qdrant should-match on the state payload field. Any quoted literal
// in the filter is treated as an acceptable state value.
func stateConditions(filter string) *qdrant.Filter {
	if filter == "" {
		return nil
	}
	var conds []*qdrant.Condition
	for _, m := range odataLiteral.FindAllStringSubmatch(filter, -1) {
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "state",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: m[1]}},
				},
			},
		})
	}
	if len(conds) == 0 {
		return nil
	}
	return &qdrant.Filter{Should: conds}
}
