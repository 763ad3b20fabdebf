package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/es"
	"kin-spark-go/pkg/kafka"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/storage"
	"kin-spark-go/pkg/tasks"
)

// maxUploadBytes 单个上传文档的大小上限
const maxUploadBytes = 10 << 20

// 允许摄取的文件扩展名，解析交给 Tika
var allowedFileExt = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".html": true,
}

// IngestService 定义了文档摄取入队的接口。
// 三种来源统一产出 Kafka 任务，切块、向量化与索引都在消费端完成。
type IngestService interface {
	IngestText(ctx context.Context, client *model.Client, title, content string) (string, error)
	IngestURL(ctx context.Context, client *model.Client, title, rawURL string) (string, error)
	IngestFile(ctx context.Context, client *model.Client, fileName string, size int64, reader io.Reader) (string, error)
	DeleteSource(ctx context.Context, client *model.Client, sourceID string) error
}

type ingestService struct {
	chunkRepo repository.ChunkRepository
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(chunkRepo repository.ChunkRepository) IngestService {
	return &ingestService{chunkRepo: chunkRepo}
}

// IngestText 纯文本摄取：内容随任务直接入队
func (s *ingestService) IngestText(ctx context.Context, client *model.Client, title, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("摄取内容不能为空")
	}
	if title == "" {
		title = "Pasted text"
	}

	sourceID := uuid.NewString()
	task := tasks.IngestionTask{
		TaskID:     uuid.NewString(),
		ClientID:   client.ID,
		ClientUUID: client.UUID,
		SourceID:   sourceID,
		SourceType: model.SourceTypeText,
		Title:      title,
		Content:    content,
	}
	if err := kafka.ProduceIngestionTask(ctx, task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[Ingest] 租户 %d 文本摄取入队 source=%s", client.ID, sourceID)
	return sourceID, nil
}

// IngestURL 网页摄取：消费端抓取正文
func (s *ingestService) IngestURL(ctx context.Context, client *model.Client, title, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("无效的 URL: %s", rawURL)
	}
	if title == "" {
		title = parsed.Host
	}

	sourceID := uuid.NewString()
	task := tasks.IngestionTask{
		TaskID:     uuid.NewString(),
		ClientID:   client.ID,
		ClientUUID: client.UUID,
		SourceID:   sourceID,
		SourceType: model.SourceTypeURL,
		Title:      title,
		URL:        parsed.String(),
	}
	if err := kafka.ProduceIngestionTask(ctx, task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[Ingest] 租户 %d URL 摄取入队 source=%s url=%s", client.ID, sourceID, parsed.String())
	return sourceID, nil
}

// IngestFile 文件摄取：原始文件先归档到对象存储，对象键随任务入队
func (s *ingestService) IngestFile(ctx context.Context, client *model.Client, fileName string, size int64, reader io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedFileExt[ext] {
		return "", fmt.Errorf("不支持的文件类型: %s", ext)
	}
	if size <= 0 || size > maxUploadBytes {
		return "", fmt.Errorf("文件大小需在 1 字节到 %d MB 之间", maxUploadBytes>>20)
	}

	sourceID := uuid.NewString()
	objectKey := fmt.Sprintf("%s/%s/%s", client.UUID, sourceID, fileName)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := storage.UploadObject(ctx, config.Conf.MinIO.BucketName, objectKey, reader, size, contentType); err != nil {
		return "", fmt.Errorf("归档源文件失败: %w", err)
	}

	task := tasks.IngestionTask{
		TaskID:     uuid.NewString(),
		ClientID:   client.ID,
		ClientUUID: client.UUID,
		SourceID:   sourceID,
		SourceType: model.SourceTypeFile,
		Title:      fileName,
		ObjectKey:  objectKey,
		FileName:   fileName,
	}
	if err := kafka.ProduceIngestionTask(ctx, task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[Ingest] 租户 %d 文件摄取入队 source=%s file=%s", client.ID, sourceID, fileName)
	return sourceID, nil
}

// DeleteSource 清理一个来源：分块记录、向量索引与归档对象一并删除
func (s *ingestService) DeleteSource(ctx context.Context, client *model.Client, sourceID string) error {
	if err := s.chunkRepo.DeleteBySourceID(client.ID, sourceID); err != nil {
		return fmt.Errorf("删除来源分块失败: %w", err)
	}
	if err := es.DeleteBySource(ctx, config.Conf.Elasticsearch.IndexName, client.UUID, sourceID); err != nil {
		log.Errorf("来源 %s 摘除索引失败: %v", sourceID, err)
	}
	prefix := fmt.Sprintf("%s/%s/", client.UUID, sourceID)
	if err := storage.RemovePrefix(ctx, config.Conf.MinIO.BucketName, prefix); err != nil {
		log.Errorf("来源 %s 清理归档对象失败: %v", sourceID, err)
	}
	log.Infof("[Ingest] 租户 %d 删除来源 %s", client.ID, sourceID)
	return nil
}
