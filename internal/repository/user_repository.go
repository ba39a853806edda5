package repository

import (
	"time"

	"oa-im/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{orm: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.orm.Create(user).Error
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	var u model.User
	if err := r.orm.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByIDs 批量获取用户（会话列表/消息列表渲染显示名用）
func (r *UserRepository) GetByIDs(ids []uint) ([]*model.User, error) {
	var users []*model.User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.orm.Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *UserRepository) GetByUsernameOrEmail(identifier string) (*model.User, error) {
	var u model.User
	if err := r.orm.Where("username = ? OR email = ?", identifier, identifier).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateStatus 更新用户在线状态
func (r *UserRepository) UpdateStatus(id uint, status string) error {
	return r.orm.Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":    status,
			"last_seen": time.Now(),
		}).Error
}
