package repository

import (
	"oa-im/internal/model"

	"gorm.io/gorm"
)

// ReactionRepository 消息表情回应数据仓储
type ReactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository 创建ReactionRepository实例
func NewReactionRepository(db *gorm.DB) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Create 创建回应，三元组重复时返回 gorm.ErrDuplicatedKey 由服务层收敛
func (r *ReactionRepository) Create(reaction *model.MessageReaction) error {
	return r.db.Create(reaction).Error
}

// GetByTriple 按 (消息, 用户, 表情) 获取回应
func (r *ReactionRepository) GetByTriple(messageID, userID uint, emoji string) (*model.MessageReaction, error) {
	var reaction model.MessageReaction
	err := r.db.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&reaction).Error
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

// Delete 删除回应，不存在时不报错
func (r *ReactionRepository) Delete(messageID, userID uint, emoji string) error {
	return r.db.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&model.MessageReaction{}).Error
}

// ListByMessage 获取一条消息的全部回应
func (r *ReactionRepository) ListByMessage(messageID uint) ([]*model.MessageReaction, error) {
	var reactions []*model.MessageReaction
	err := r.db.Where("message_id = ?", messageID).
		Order("created_at ASC, id ASC").
		Find(&reactions).Error
	return reactions, err
}

// ListByMessageIDs 批量获取多条消息的回应（消息列表渲染用）
func (r *ReactionRepository) ListByMessageIDs(messageIDs []uint) ([]*model.MessageReaction, error) {
	var reactions []*model.MessageReaction
	if len(messageIDs) == 0 {
		return reactions, nil
	}
	err := r.db.Where("message_id IN ?", messageIDs).
		Order("created_at ASC, id ASC").
		Find(&reactions).Error
	return reactions, err
}
