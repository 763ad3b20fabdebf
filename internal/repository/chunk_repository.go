package repository

import (
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// ChunkRepository 文档分块数据访问接口
type ChunkRepository interface {
	BatchCreate(chunks []model.DocumentChunk) error
	FindBySourceID(clientID uint, sourceID string) ([]model.DocumentChunk, error)
	DeleteBySourceID(clientID uint, sourceID string) error
	CountByClient(clientID uint) (int64, error)
}

type chunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 分批插入分块记录，每批 100 条
func (r *chunkRepository) BatchCreate(chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error
}

func (r *chunkRepository) FindBySourceID(clientID uint, sourceID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("client_id = ? AND source_id = ?", clientID, sourceID).
		Order("chunk_index ASC").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteBySourceID 删除来源的全部分块，重新摄取前调用保证幂等
func (r *chunkRepository) DeleteBySourceID(clientID uint, sourceID string) error {
	return r.db.Where("client_id = ? AND source_id = ?", clientID, sourceID).
		Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) CountByClient(clientID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.DocumentChunk{}).Where("client_id = ?", clientID).
		Count(&count).Error
	return count, err
}
