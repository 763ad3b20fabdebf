package repository

import (
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// KnowledgeRepository 知识条目数据访问接口
type KnowledgeRepository interface {
	Create(item *model.KnowledgeItem) error
	FindByUUIDForClient(clientID uint, uuid string) (*model.KnowledgeItem, error)
	FindByContentHash(clientID uint, hash string) (*model.KnowledgeItem, error)
	ListByClient(clientID uint, category string, offset, limit int) ([]model.KnowledgeItem, int64, error)
	Update(item *model.KnowledgeItem) error
	Delete(id uint) error
	Stats(clientID uint) (*model.KnowledgeStats, error)
}

type knowledgeRepository struct {
	db *gorm.DB
}

func NewKnowledgeRepository(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

func (r *knowledgeRepository) Create(item *model.KnowledgeItem) error {
	return r.db.Create(item).Error
}

func (r *knowledgeRepository) FindByUUIDForClient(clientID uint, uuid string) (*model.KnowledgeItem, error) {
	var item model.KnowledgeItem
	err := r.db.Where("client_id = ? AND uuid = ?", clientID, uuid).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByContentHash 按内容哈希查重，同一租户下相同内容只允许一条
func (r *knowledgeRepository) FindByContentHash(clientID uint, hash string) (*model.KnowledgeItem, error) {
	var item model.KnowledgeItem
	err := r.db.Where("client_id = ? AND content_hash = ?", clientID, hash).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *knowledgeRepository) ListByClient(clientID uint, category string, offset, limit int) ([]model.KnowledgeItem, int64, error) {
	query := r.db.Model(&model.KnowledgeItem{}).Where("client_id = ?", clientID)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []model.KnowledgeItem
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *knowledgeRepository) Update(item *model.KnowledgeItem) error {
	return r.db.Save(item).Error
}

func (r *knowledgeRepository) Delete(id uint) error {
	return r.db.Delete(&model.KnowledgeItem{}, id).Error
}

// Stats 统计租户的知识库概况：总数、启用数、各分类数量
func (r *knowledgeRepository) Stats(clientID uint) (*model.KnowledgeStats, error) {
	stats := &model.KnowledgeStats{Categories: make(map[string]int64)}

	err := r.db.Model(&model.KnowledgeItem{}).Where("client_id = ?", clientID).
		Count(&stats.TotalItems).Error
	if err != nil {
		return nil, err
	}

	err = r.db.Model(&model.KnowledgeItem{}).
		Where("client_id = ? AND active = ?", clientID, true).
		Count(&stats.ActiveItems).Error
	if err != nil {
		return nil, err
	}

	type categoryCount struct {
		Category string
		Count    int64
	}
	var rows []categoryCount
	err = r.db.Model(&model.KnowledgeItem{}).
		Select("category, COUNT(*) AS count").
		Where("client_id = ?", clientID).
		Group("category").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.Categories[row.Category] = row.Count
	}
	return stats, nil
}
