package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/embedding"
)

// stubEmbedder 返回固定向量；err 非空时向量化直接失败。
type stubEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *stubEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := s.CreateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// esTransport 截获发往 ES 的请求并返回固定响应。
// 响应必须带 X-Elastic-Product 头，否则 v8 客户端会拒收。
type esTransport struct {
	status int
	body   string
	paths  []string
	bodies [][]byte
}

func (tr *esTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr.paths = append(tr.paths, req.URL.Path)
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		tr.bodies = append(tr.bodies, raw)
	}
	status := tr.status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(tr.body)),
	}, nil
}

type esHit struct {
	Score  float64            `json:"_score"`
	Source model.KnowledgeDoc `json:"_source"`
}

func fakeSearchResponse(t *testing.T, hits ...esHit) string {
	t.Helper()
	if hits == nil {
		hits = []esHit{}
	}
	raw, err := json.Marshal(map[string]interface{}{
		"took": 2,
		"hits": map[string]interface{}{"hits": hits},
	})
	require.NoError(t, err)
	return string(raw)
}

func newRetrievalFixture(t *testing.T, transport *esTransport) (RetrievalService, *stubEmbedder, *model.Client) {
	t.Helper()
	setTestConfig()
	config.Conf.Elasticsearch.IndexName = "spark_knowledge_test"

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Transport: transport})
	require.NoError(t, err)

	embedder := &stubEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	svc := NewRetrievalService(esClient, embedder)
	client := &model.Client{ID: 7, UUID: "client-7-uuid"}
	return svc, embedder, client
}

func TestRetrieveScopesQueryToClient(t *testing.T) {
	transport := &esTransport{body: fakeSearchResponse(t)}
	svc, embedder, client := newRetrievalFixture(t, transport)

	_, err := svc.Retrieve(context.Background(), client, "refund policy", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"refund policy"}, embedder.texts)
	require.Len(t, transport.bodies, 1)
	assert.Equal(t, "/spark_knowledge_test/_search", transport.paths[0])

	var sent struct {
		Knn struct {
			Field         string    `json:"field"`
			K             int       `json:"k"`
			NumCandidates int       `json:"num_candidates"`
			QueryVector   []float32 `json:"query_vector"`
			Filter        struct {
				Term map[string]string `json:"term"`
			} `json:"filter"`
		} `json:"knn"`
		Size   int      `json:"size"`
		Source []string `json:"_source"`
	}
	require.NoError(t, json.Unmarshal(transport.bodies[0], &sent))

	// 租户过滤写死在 kNN 查询体里，带的是租户 UUID
	assert.Equal(t, "client-7-uuid", sent.Knn.Filter.Term["client_id"])
	assert.Equal(t, "vector", sent.Knn.Field)
	assert.Equal(t, 3, sent.Knn.K)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, sent.Knn.QueryVector)
	assert.Equal(t, 3, sent.Size)
	assert.Contains(t, sent.Source, "doc_id")
	assert.Contains(t, sent.Source, "source_type")
}

func TestRetrieveNumCandidates(t *testing.T) {
	// 小 topK 兜底 50，大 topK 按十倍放大
	transport := &esTransport{body: fakeSearchResponse(t)}
	svc, _, client := newRetrievalFixture(t, transport)

	_, err := svc.Retrieve(context.Background(), client, "q", 3)
	require.NoError(t, err)
	_, err = svc.Retrieve(context.Background(), client, "q", 10)
	require.NoError(t, err)

	require.Len(t, transport.bodies, 2)
	var sent struct {
		Knn struct {
			NumCandidates int `json:"num_candidates"`
		} `json:"knn"`
	}
	require.NoError(t, json.Unmarshal(transport.bodies[0], &sent))
	assert.Equal(t, 50, sent.Knn.NumCandidates)
	require.NoError(t, json.Unmarshal(transport.bodies[1], &sent))
	assert.Equal(t, 100, sent.Knn.NumCandidates)
}

func TestRetrieveFiltersByThreshold(t *testing.T) {
	// ES 的 cosine kNN 得分是 (1+cos)/2，换算回余弦再跟配置阈值 0.3 比
	transport := &esTransport{body: fakeSearchResponse(t,
		esHit{Score: 0.9, Source: model.KnowledgeDoc{
			DocID: "d1", Title: "Pricing", Content: "Three plans.",
			Category: "product", Subcategory: "pricing", SourceType: model.ESSourceKnowledge,
		}},
		esHit{Score: 0.55, Source: model.KnowledgeDoc{DocID: "d2", Title: "Noise"}},
	)}
	svc, _, client := newRetrievalFixture(t, transport)

	chunks, err := svc.Retrieve(context.Background(), client, "plans", 5)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "d1", chunks[0].DocID)
	assert.Equal(t, "Pricing", chunks[0].Title)
	assert.Equal(t, "Three plans.", chunks[0].Content)
	assert.Equal(t, "product", chunks[0].Category)
	assert.Equal(t, model.ESSourceKnowledge, chunks[0].SourceType)
	assert.InDelta(t, 0.8, chunks[0].Similarity, 1e-9)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	transport := &esTransport{body: fakeSearchResponse(t)}
	svc, embedder, client := newRetrievalFixture(t, transport)
	embedder.err = errors.New("embedding offline")

	_, err := svc.Retrieve(context.Background(), client, "q", 3)
	assert.Error(t, err)
	// 向量化失败时不发检索请求
	assert.Empty(t, transport.bodies)
}

func TestRetrieveSearchErrorStatus(t *testing.T) {
	transport := &esTransport{
		status: http.StatusInternalServerError,
		body:   `{"error":{"type":"search_phase_execution_exception"}}`,
	}
	svc, _, client := newRetrievalFixture(t, transport)

	_, err := svc.Retrieve(context.Background(), client, "q", 3)
	assert.Error(t, err)
}

var _ embedding.Client = (*stubEmbedder)(nil)
var _ http.RoundTripper = (*esTransport)(nil)
