package repository

import (
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
)

// AdminUserRepository 后台账号数据访问接口
type AdminUserRepository interface {
	Create(user *model.AdminUser) error
	FindByID(id uint) (*model.AdminUser, error)
	FindByEmail(email string) (*model.AdminUser, error)
}

type adminUserRepository struct {
	db *gorm.DB
}

func NewAdminUserRepository(db *gorm.DB) AdminUserRepository {
	return &adminUserRepository{db: db}
}

func (r *adminUserRepository) Create(user *model.AdminUser) error {
	return r.db.Create(user).Error
}

func (r *adminUserRepository) FindByID(id uint) (*model.AdminUser, error) {
	var user model.AdminUser
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *adminUserRepository) FindByEmail(email string) (*model.AdminUser, error) {
	var user model.AdminUser
	err := r.db.Where("email = ? AND active = ?", email, true).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
