package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/embedding"
	"kin-spark-go/pkg/es"
	"kin-spark-go/pkg/log"
)

// ErrDuplicateContent 同一租户下已存在相同正文的知识条目。
var ErrDuplicateContent = errors.New("相同内容的知识条目已存在")

// KnowledgeService 定义了人工知识条目管理的接口。
type KnowledgeService interface {
	Create(ctx context.Context, client *model.Client, item *model.KnowledgeItem) (*model.KnowledgeItem, error)
	Update(ctx context.Context, client *model.Client, uuid string, updates *model.KnowledgeItem) (*model.KnowledgeItem, error)
	Delete(ctx context.Context, client *model.Client, uuid string) error
	Get(clientID uint, uuid string) (*model.KnowledgeItem, error)
	List(clientID uint, category string, offset, limit int) ([]model.KnowledgeItem, int64, error)
	Stats(clientID uint) (*model.KnowledgeStats, error)
	Search(ctx context.Context, client *model.Client, query string, topK int) ([]model.RetrievedChunk, error)
}

type knowledgeService struct {
	knowledgeRepo   repository.KnowledgeRepository
	chunkRepo       repository.ChunkRepository
	embeddingClient embedding.Client
	retrieval       RetrievalService
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(
	knowledgeRepo repository.KnowledgeRepository,
	chunkRepo repository.ChunkRepository,
	embeddingClient embedding.Client,
	retrieval RetrievalService,
) KnowledgeService {
	return &knowledgeService{
		knowledgeRepo:   knowledgeRepo,
		chunkRepo:       chunkRepo,
		embeddingClient: embeddingClient,
		retrieval:       retrieval,
	}
}

// Create 新建知识条目并同步写入向量索引。
// 正文按 SHA-256 查重，同一租户重复内容直接拒绝。
func (s *knowledgeService) Create(ctx context.Context, client *model.Client, item *model.KnowledgeItem) (*model.KnowledgeItem, error) {
	if err := validateKnowledgeItem(item); err != nil {
		return nil, err
	}

	item.ContentHash = hashContent(item.Content)
	if _, err := s.knowledgeRepo.FindByContentHash(client.ID, item.ContentHash); err == nil {
		return nil, ErrDuplicateContent
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查重失败: %w", err)
	}

	item.UUID = uuid.NewString()
	item.ClientID = client.ID
	item.Active = true
	item.EmbeddingModel = config.Conf.Embedding.Model
	if err := s.knowledgeRepo.Create(item); err != nil {
		return nil, fmt.Errorf("保存知识条目失败: %w", err)
	}

	// 索引失败不回滚条目，重新保存一次即可重建索引
	if err := s.indexItem(ctx, client, item); err != nil {
		log.Errorf("知识条目 %s 写入索引失败: %v", item.UUID, err)
	}
	log.Infof("[Knowledge] 租户 %d 新建条目 %s（%s）", client.ID, item.UUID, item.Category)
	return item, nil
}

// Update 更新条目。正文变化时重算哈希、重新向量化；
// 停用条目会从索引中摘除，重新启用时再写回。
func (s *knowledgeService) Update(ctx context.Context, client *model.Client, uuid string, updates *model.KnowledgeItem) (*model.KnowledgeItem, error) {
	if err := validateKnowledgeItem(updates); err != nil {
		return nil, err
	}
	item, err := s.knowledgeRepo.FindByUUIDForClient(client.ID, uuid)
	if err != nil {
		return nil, err
	}

	newHash := hashContent(updates.Content)
	if newHash != item.ContentHash {
		if dup, err := s.knowledgeRepo.FindByContentHash(client.ID, newHash); err == nil && dup.ID != item.ID {
			return nil, ErrDuplicateContent
		}
	}

	item.Title = updates.Title
	item.Content = updates.Content
	item.Category = updates.Category
	item.Subcategory = updates.Subcategory
	item.Priority = updates.Priority
	item.Active = updates.Active
	item.ContentHash = newHash
	item.EmbeddingModel = config.Conf.Embedding.Model
	if err := s.knowledgeRepo.Update(item); err != nil {
		return nil, fmt.Errorf("更新知识条目失败: %w", err)
	}

	if item.Active {
		if err := s.indexItem(ctx, client, item); err != nil {
			log.Errorf("知识条目 %s 重建索引失败: %v", item.UUID, err)
		}
	} else {
		if err := es.DeleteDocument(ctx, config.Conf.Elasticsearch.IndexName, item.UUID); err != nil {
			log.Errorf("知识条目 %s 摘除索引失败: %v", item.UUID, err)
		}
	}
	return item, nil
}

// Delete 删除条目并摘除索引
func (s *knowledgeService) Delete(ctx context.Context, client *model.Client, uuid string) error {
	item, err := s.knowledgeRepo.FindByUUIDForClient(client.ID, uuid)
	if err != nil {
		return err
	}
	if err := s.knowledgeRepo.Delete(item.ID); err != nil {
		return fmt.Errorf("删除知识条目失败: %w", err)
	}
	if err := es.DeleteDocument(ctx, config.Conf.Elasticsearch.IndexName, item.UUID); err != nil {
		log.Errorf("知识条目 %s 摘除索引失败: %v", item.UUID, err)
	}
	return nil
}

func (s *knowledgeService) Get(clientID uint, uuid string) (*model.KnowledgeItem, error) {
	return s.knowledgeRepo.FindByUUIDForClient(clientID, uuid)
}

func (s *knowledgeService) List(clientID uint, category string, offset, limit int) ([]model.KnowledgeItem, int64, error) {
	return s.knowledgeRepo.ListByClient(clientID, category, offset, limit)
}

func (s *knowledgeService) Stats(clientID uint) (*model.KnowledgeStats, error) {
	stats, err := s.knowledgeRepo.Stats(clientID)
	if err != nil {
		return nil, err
	}
	chunkCount, err := s.chunkRepo.CountByClient(clientID)
	if err != nil {
		return nil, err
	}
	stats.DocumentChunks = chunkCount
	return stats, nil
}

// Search 后台试检索，与访客链路共用同一条检索管道
func (s *knowledgeService) Search(ctx context.Context, client *model.Client, query string, topK int) ([]model.RetrievedChunk, error) {
	if topK <= 0 {
		topK = config.Conf.Spark.MaxDocChunks
	}
	return s.retrieval.Retrieve(ctx, client, query, topK)
}

func (s *knowledgeService) indexItem(ctx context.Context, client *model.Client, item *model.KnowledgeItem) error {
	vector, err := s.embeddingClient.CreateEmbedding(ctx, item.Title+"\n"+item.Content)
	if err != nil {
		return fmt.Errorf("向量化失败: %w", err)
	}
	doc := model.KnowledgeDoc{
		DocID:        item.UUID,
		ClientID:     client.UUID,
		Title:        item.Title,
		Content:      item.Content,
		Category:     item.Category,
		Subcategory:  item.Subcategory,
		SourceType:   model.ESSourceKnowledge,
		Priority:     item.Priority,
		Vector:       vector,
		ModelVersion: config.Conf.Embedding.Model,
	}
	return es.IndexDocument(ctx, config.Conf.Elasticsearch.IndexName, doc)
}

func validateKnowledgeItem(item *model.KnowledgeItem) error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("标题不能为空")
	}
	content := strings.TrimSpace(item.Content)
	if content == "" {
		return fmt.Errorf("正文不能为空")
	}
	if len(content) > model.MaxKnowledgeContentLen {
		return fmt.Errorf("正文超过 %d 字符上限，请走文档摄取", model.MaxKnowledgeContentLen)
	}
	if !model.ValidCategory(item.Category) {
		return fmt.Errorf("无效的知识分类: %s", item.Category)
	}
	return nil
}

// hashContent 规整空白后计算正文 SHA-256
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
