package repository

import (
	"time"

	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// LeadRepository 线索数据访问接口
type LeadRepository interface {
	Create(lead *model.Lead) error
	Save(lead *model.Lead) error
	FindByUUID(uuid string) (*model.Lead, error)
	FindByUUIDForClient(clientID uint, uuid string) (*model.Lead, error)
	FindByConversationUUID(conversationUUID string) (*model.Lead, error)
	UpdateStatus(id uint, status, adminNotes string) error
	UpdateSyncStatus(id uint, syncStatus, crmContactID string) error
	ListByClient(clientID uint, status string, from, to *time.Time, offset, limit int) ([]model.Lead, int64, error)
	ListAllByClient(clientID uint, status string, from, to *time.Time) ([]model.Lead, error)
}

type leadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &leadRepository{db: db}
}

func (r *leadRepository) Create(lead *model.Lead) error {
	return r.db.Create(lead).Error
}

func (r *leadRepository) Save(lead *model.Lead) error {
	return r.db.Save(lead).Error
}

func (r *leadRepository) FindByUUID(uuid string) (*model.Lead, error) {
	var lead model.Lead
	err := r.db.Where("uuid = ?", uuid).First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *leadRepository) FindByUUIDForClient(clientID uint, uuid string) (*model.Lead, error) {
	var lead model.Lead
	err := r.db.Where("client_id = ? AND uuid = ?", clientID, uuid).First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *leadRepository) FindByConversationUUID(conversationUUID string) (*model.Lead, error) {
	var lead model.Lead
	err := r.db.Where("conversation_uuid = ?", conversationUUID).First(&lead).Error
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *leadRepository) UpdateStatus(id uint, status, adminNotes string) error {
	updates := map[string]interface{}{"status": status}
	if adminNotes != "" {
		updates["admin_notes"] = adminNotes
	}
	return r.db.Model(&model.Lead{}).Where("id = ?", id).Updates(updates).Error
}

func (r *leadRepository) UpdateSyncStatus(id uint, syncStatus, crmContactID string) error {
	updates := map[string]interface{}{"sync_status": syncStatus}
	if crmContactID != "" {
		updates["crm_contact_id"] = crmContactID
	}
	return r.db.Model(&model.Lead{}).Where("id = ?", id).Updates(updates).Error
}

func (r *leadRepository) listQuery(clientID uint, status string, from, to *time.Time) *gorm.DB {
	query := r.db.Model(&model.Lead{}).Where("client_id = ?", clientID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", *to)
	}
	return query
}

// ListByClient 按条件分页查询租户的线索列表，按创建时间倒序
func (r *leadRepository) ListByClient(clientID uint, status string, from, to *time.Time, offset, limit int) ([]model.Lead, int64, error) {
	query := r.listQuery(clientID, status, from, to)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var leads []model.Lead
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&leads).Error
	if err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// ListAllByClient 不分页查询全部线索，用于 CSV 导出
func (r *leadRepository) ListAllByClient(clientID uint, status string, from, to *time.Time) ([]model.Lead, error) {
	var leads []model.Lead
	err := r.listQuery(clientID, status, from, to).Order("created_at DESC").Find(&leads).Error
	if err != nil {
		return nil, err
	}
	return leads, nil
}
