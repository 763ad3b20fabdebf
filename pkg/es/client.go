// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/log"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保知识索引存在。
// vectorDims 来自 embedding 配置，必须与向量化模型的输出维度一致。
func InitES(esCfg config.ElasticsearchConfig, vectorDims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, vectorDims)
}

// createIndexIfNotExists 检查知识索引是否存在，不存在则按映射创建。
func createIndexIfNotExists(indexName string, vectorDims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// client_id 为 keyword：租户隔离过滤在查询体内按词项精确匹配。
	// 向量使用 cosine 相似度，检索服务将 _score 还原为余弦相似度后再做阈值过滤。
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"client_id": { "type": "keyword" },
				"title": { "type": "text" },
				"content": { "type": "text" },
				"category": { "type": "keyword" },
				"subcategory": { "type": "keyword" },
				"source_type": { "type": "keyword" },
				"priority": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, vectorDims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 将单条知识文档索引到 Elasticsearch。
func IndexDocument(ctx context.Context, indexName string, doc model.KnowledgeDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}
	return nil
}

// DeleteDocument 按文档 ID 删除单条知识文档，文档不存在时视为成功。
func DeleteDocument(ctx context.Context, indexName, docID string) error {
	req := esapi.DeleteRequest{
		Index:      indexName,
		DocumentID: docID,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("从 Elasticsearch 删除文档出错: %s", res.String())
		return errors.New("failed to delete document")
	}
	return nil
}

// DeleteBySource 删除某客户端下指定来源的全部文档切块，供重新摄取前的幂等清理。
func DeleteBySource(ctx context.Context, indexName, clientUUID, sourceID string) error {
	// 切块文档的 doc_id 为 "sourceID_chunkIndex"，按前缀匹配整批清理
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"client_id": clientUUID}},
					{"prefix": map[string]interface{}{"doc_id": sourceID}},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := ESClient.DeleteByQuery(
		[]string{indexName},
		&buf,
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按来源删除 Elasticsearch 文档出错: %s", res.String())
		return errors.New("failed to delete documents by source")
	}
	return nil
}
