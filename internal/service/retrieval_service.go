// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/embedding"
	"kin-spark-go/pkg/log"
)

// RetrievalService 定义了知识检索的接口。
type RetrievalService interface {
	Retrieve(ctx context.Context, client *model.Client, query string, topK int) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	esClient        *elasticsearch.Client
	embeddingClient embedding.Client
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(esClient *elasticsearch.Client, embeddingClient embedding.Client) RetrievalService {
	return &retrievalService{
		esClient:        esClient,
		embeddingClient: embeddingClient,
	}
}

// Retrieve 对租户的知识库做向量检索。
// 查询体内固定携带 client_id 过滤，租户隔离在检索层面强制生效，
// 不依赖调用方传入正确的索引或参数。
func (s *retrievalService) Retrieve(ctx context.Context, client *model.Client, query string, topK int) ([]model.RetrievedChunk, error) {
	// 1. 向量化查询
	vector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	// 2. 构建 kNN 查询，term 过滤锁定租户
	numCandidates := topK * 10
	if numCandidates < 50 {
		numCandidates = 50
	}
	searchBody := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{
					"client_id": client.UUID,
				},
			},
		},
		"size":    topK,
		"_source": []string{"doc_id", "title", "content", "category", "subcategory", "source_type"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchBody); err != nil {
		return nil, fmt.Errorf("编码检索请求失败: %w", err)
	}

	// 3. 执行检索
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(config.Conf.Elasticsearch.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("检索请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("检索返回错误状态: %s", res.String())
	}

	// 4. 解析结果并按相似度阈值过滤
	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64            `json:"_score"`
				Source model.KnowledgeDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}

	threshold := config.Conf.Spark.DocMatchThreshold
	chunks := make([]model.RetrievedChunk, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		// ES 的 cosine kNN 得分为 (1+cos)/2，换算回余弦相似度再做阈值过滤
		similarity := 2*hit.Score - 1
		if similarity < threshold {
			continue
		}
		chunks = append(chunks, model.RetrievedChunk{
			DocID:       hit.Source.DocID,
			Title:       hit.Source.Title,
			Content:     hit.Source.Content,
			Category:    hit.Source.Category,
			Subcategory: hit.Source.Subcategory,
			SourceType:  hit.Source.SourceType,
			Similarity:  similarity,
		})
	}

	log.Infof("[RetrievalService] 租户 %s 检索到 %d 条命中（阈值 %.2f）", client.UUID, len(chunks), threshold)
	return chunks, nil
}
