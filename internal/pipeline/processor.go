// Package pipeline 定义了文档摄取与线索同步的后台处理流程。
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/embedding"
	"kin-spark-go/pkg/es"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/storage"
	"kin-spark-go/pkg/tasks"
	"kin-spark-go/pkg/tika"
)

// 切块参数与向量化批大小。相邻块保留重叠以保住跨界语义。
const (
	chunkSize      = 1000
	chunkOverlap   = 200
	embedBatchSize = 16
)

// IngestionProcessor 封装了文档摄取的所有依赖和逻辑。
// 同一来源的重复摄取是幂等的：每次处理前先清掉旧的分块和向量。
type IngestionProcessor struct {
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	esCfg           config.ElasticsearchConfig
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
	chunkRepo       repository.ChunkRepository
	fetcher         *pageFetcher
}

// NewIngestionProcessor 创建一个新的 IngestionProcessor 实例。
func NewIngestionProcessor(
	tikaClient *tika.Client,
	embeddingClient embedding.Client,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
	chunkRepo repository.ChunkRepository,
) *IngestionProcessor {
	return &IngestionProcessor{
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		esCfg:           esCfg,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
		chunkRepo:       chunkRepo,
		fetcher:         newPageFetcher(),
	}
}

// HandleMessage 实现 kafka.TaskHandler，解析摄取任务并执行处理。
func (p *IngestionProcessor) HandleMessage(ctx context.Context, value []byte) (string, error) {
	var task tasks.IngestionTask
	if err := json.Unmarshal(value, &task); err != nil {
		return "", fmt.Errorf("解析摄取任务失败: %w", err)
	}
	if task.SourceID == "" || task.ClientUUID == "" {
		return "", errors.New("摄取任务缺少 source_id 或 client_uuid")
	}
	key := task.TaskID
	if key == "" {
		key = task.SourceID
	}
	return key, p.Process(ctx, task)
}

// Process 是文档摄取的主函数。
func (p *IngestionProcessor) Process(ctx context.Context, task tasks.IngestionTask) error {
	log.Infof("[Ingestion] 开始处理文档, SourceID: %s, SourceType: %s, Title: %s", task.SourceID, task.SourceType, task.Title)

	// 1. 按来源类型取原始文本
	log.Infof("[Ingestion] 步骤1: 获取原始文本, SourceType: %s", task.SourceType)
	rawText, err := p.resolveContent(ctx, task)
	if err != nil {
		log.Errorf("[Ingestion] 获取原始文本失败, SourceID: %s, Error: %v", task.SourceID, err)
		return err
	}
	log.Infof("[Ingestion] 步骤1: 原始文本获取成功, 长度: %d 字符", utf8.RuneCountInString(rawText))

	// 2. 清洗文本
	log.Info("[Ingestion] 步骤2: 清洗文本")
	cleanText := normalizeText(rawText)
	if cleanText == "" {
		log.Warnf("[Ingestion] 清洗后文本为空, 处理中止, SourceID: %s", task.SourceID)
		return errors.New("清洗后的文本内容为空")
	}

	// 3. 文本切块
	log.Infof("[Ingestion] 步骤3: 进行文本分块, chunkSize: %d, chunkOverlap: %d", chunkSize, chunkOverlap)
	chunks := chunkText(cleanText, chunkSize, chunkOverlap)
	log.Infof("[Ingestion] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[Ingestion] 未生成任何分块, 处理中止, SourceID: %s", task.SourceID)
		return errors.New("文本分块结果为空")
	}

	// 4. 清理同一来源的旧数据，保证重复摄取幂等
	log.Infof("[Ingestion] 步骤4: 清理来源的旧分块, SourceID: %s", task.SourceID)
	if err := p.chunkRepo.DeleteBySourceID(task.ClientID, task.SourceID); err != nil {
		log.Errorf("[Ingestion] 清理旧分块记录失败, SourceID: %s, Error: %v", task.SourceID, err)
		return fmt.Errorf("清理旧分块记录失败: %w", err)
	}
	if err := es.DeleteBySource(ctx, p.esCfg.IndexName, task.ClientUUID, task.SourceID); err != nil {
		log.Errorf("[Ingestion] 清理旧向量失败, SourceID: %s, Error: %v", task.SourceID, err)
		return fmt.Errorf("清理 Elasticsearch 旧向量失败: %w", err)
	}

	// 5. 分块记录入库
	log.Info("[Ingestion] 步骤5: 分块记录写入数据库")
	rows := make([]model.DocumentChunk, 0, len(chunks))
	for i, chunk := range chunks {
		rows = append(rows, model.DocumentChunk{
			ClientID:    task.ClientID,
			SourceID:    task.SourceID,
			SourceTitle: task.Title,
			SourceType:  task.SourceType,
			ChunkIndex:  i,
			Content:     chunk,
		})
	}
	if err := p.chunkRepo.BatchCreate(rows); err != nil {
		log.Errorf("[Ingestion] 分块记录入库失败, SourceID: %s, Error: %v", task.SourceID, err)
		return fmt.Errorf("分块记录入库失败: %w", err)
	}

	// 6. 批量向量化并写入 Elasticsearch
	log.Infof("[Ingestion] 步骤6: 分块向量化并写入ES, 批大小: %d", embedBatchSize)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := p.embeddingClient.CreateEmbeddings(ctx, batch)
		if err != nil {
			log.Errorf("[Ingestion] 分块 %d-%d 向量化失败, Error: %v", start, end-1, err)
			return fmt.Errorf("分块向量化失败: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("向量化返回数量不匹配: 期望 %d, 实际 %d", len(batch), len(vectors))
		}

		for i, vector := range vectors {
			chunkIndex := start + i
			doc := model.KnowledgeDoc{
				DocID:        fmt.Sprintf("%s_%d", task.SourceID, chunkIndex),
				ClientID:     task.ClientUUID,
				Title:        task.Title,
				Content:      batch[i],
				Category:     "document",
				SourceType:   model.ESSourceDocument,
				Vector:       vector,
				ModelVersion: p.embeddingCfg.Model,
			}
			if err := es.IndexDocument(ctx, p.esCfg.IndexName, doc); err != nil {
				log.Errorf("[Ingestion] 分块 %d 写入ES失败, Error: %v", chunkIndex, err)
				return fmt.Errorf("分块写入 Elasticsearch 失败: %w", err)
			}
		}
		log.Infof("[Ingestion] 已完成分块 %d/%d", end, len(chunks))
	}

	log.Infof("[Ingestion] 文档处理完成, SourceID: %s, 共 %d 个分块", task.SourceID, len(chunks))
	return nil
}

// resolveContent 按来源类型取回原始文本。
func (p *IngestionProcessor) resolveContent(ctx context.Context, task tasks.IngestionTask) (string, error) {
	switch task.SourceType {
	case model.SourceTypeText:
		if task.Content == "" {
			return "", errors.New("文本来源缺少正文内容")
		}
		return task.Content, nil

	case model.SourceTypeURL:
		if task.URL == "" {
			return "", errors.New("网页来源缺少 URL")
		}
		return p.fetcher.FetchText(ctx, task.URL)

	case model.SourceTypeFile:
		return p.extractFile(ctx, task)

	default:
		return "", fmt.Errorf("未知的来源类型: %s", task.SourceType)
	}
}

// extractFile 从 MinIO 取回文件并用 Tika 提取正文。
func (p *IngestionProcessor) extractFile(ctx context.Context, task tasks.IngestionTask) (string, error) {
	if task.ObjectKey == "" {
		return "", errors.New("文件来源缺少对象键")
	}

	object, err := storage.FetchObject(ctx, p.minioCfg.BucketName, task.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return "", fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	log.Infof("[Ingestion] 文件下载成功, Object: %s, 大小: %d 字节", task.ObjectKey, size)
	if size == 0 {
		return "", errors.New("文件内容为空")
	}

	textContent, err := p.tikaClient.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if textContent == "" {
		return "", errors.New("提取的文本内容为空")
	}
	return textContent, nil
}
