package repository

import (
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// ClientRepository 租户数据访问接口
type ClientRepository interface {
	Create(client *model.Client) error
	FindByID(id uint) (*model.Client, error)
	FindByUUID(uuid string) (*model.Client, error)
	FindByAPIKeyHash(hash string) (*model.Client, error)
	UpdateSettling(id uint, settling model.SettlingConfig) error
	UpdateOrientation(id uint, orientation string) error
	UpdateOrientationOverride(id uint, override string) error
	UpdateLimits(id uint, updates map[string]interface{}) error
}

type clientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) Create(client *model.Client) error {
	return r.db.Create(client).Error
}

func (r *clientRepository) FindByID(id uint) (*model.Client, error) {
	var client model.Client
	err := r.db.Where("id = ?", id).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) FindByUUID(uuid string) (*model.Client, error) {
	var client model.Client
	err := r.db.Where("uuid = ?", uuid).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// FindByAPIKeyHash 通过 API Key 的 SHA-256 哈希查找租户。
// 不过滤 active：停用租户要返回 403 而不是和未知密钥一样的 401，由调用方判断。
func (r *clientRepository) FindByAPIKeyHash(hash string) (*model.Client, error) {
	var client model.Client
	err := r.db.Where("api_key_hash = ?", hash).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) UpdateSettling(id uint, settling model.SettlingConfig) error {
	return r.db.Model(&model.Client{}).Where("id = ?", id).
		Update("settling", settling).Error
}

func (r *clientRepository) UpdateOrientation(id uint, orientation string) error {
	return r.db.Model(&model.Client{}).Where("id = ?", id).
		Update("orientation", orientation).Error
}

func (r *clientRepository) UpdateOrientationOverride(id uint, override string) error {
	return r.db.Model(&model.Client{}).Where("id = ?", id).
		Update("orientation_override", override).Error
}

func (r *clientRepository) UpdateLimits(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&model.Client{}).Where("id = ?", id).Updates(updates).Error
}
