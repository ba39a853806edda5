package repository

import (
	"time"

	"oa-im/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 消息数据仓储
// 消息行只追加：编辑与删除都是对现有行的字段更新，不存在物理删除
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建消息
func (r *MessageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// GetByID 根据ID获取消息（包含已软删除的行，读取侧负责墓碑处理）
func (r *MessageRepository) GetByID(id uint) (*model.Message, error) {
	var message model.Message
	if err := r.db.First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// ListPage 按键集游标取一页消息，内部按 (created_at, id) 倒序
// before 为空取最新一页；beforeID 仅在 created_at 相同时参与断言，
// 保证追加写期间翻页不重复、不跳过
func (r *MessageRepository) ListPage(conversationID uint, limit int, before *time.Time, beforeID uint) ([]*model.Message, error) {
	query := r.db.Where("conversation_id = ?", conversationID)

	if before != nil {
		if beforeID > 0 {
			query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", *before, *before, beforeID)
		} else {
			query = query.Where("created_at < ?", *before)
		}
	}

	var messages []*model.Message
	err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error

	return messages, err
}

// Latest 获取会话最后一条未删除消息（会话列表预览用）
func (r *MessageRepository) Latest(conversationID uint) (*model.Message, error) {
	var message model.Message
	err := r.db.Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// CountUnread 统计未读消息数
// 规则：created_at 严格晚于已读水位（等于水位的算已读），
// 不计自己发的消息，不计已软删除的消息；水位为空则全量计
func (r *MessageRepository) CountUnread(conversationID, userID uint, lastReadAt *time.Time) (int64, error) {
	query := r.db.Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", conversationID, userID, false)

	if lastReadAt != nil {
		query = query.Where("created_at > ?", *lastReadAt)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

// Edit 改写消息内容并记录编辑标记
func (r *MessageRepository) Edit(messageID uint, content string, now time.Time) error {
	return r.db.Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"content":   content,
			"is_edited": true,
			"edited_at": now,
		}).Error
}

// SoftDelete 软删除消息，行与内容保留在存储中
func (r *MessageRepository) SoftDelete(messageID uint, now time.Time) error {
	return r.db.Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": now,
		}).Error
}
