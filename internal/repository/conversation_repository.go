package repository

import (
	"time"

	"oa-im/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 会话数据仓储
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建ConversationRepository实例
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateWithMembers 创建会话并写入全部初始成员（同一事务）
func (r *ConversationRepository) CreateWithMembers(conv *model.Conversation, members []*model.ConversationMember) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, m := range members {
			m.ConversationID = conv.ID
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID 根据ID获取会话
func (r *ConversationRepository) GetByID(id uint) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetByDirectKey 根据单聊去重键查找已存在的单聊会话
func (r *ConversationRepository) GetByDirectKey(key string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.Where("direct_key = ?", key).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByUser 获取用户所有在会话中的会话，按最后消息时间倒序
func (r *ConversationRepository) ListByUser(userID uint) ([]*model.Conversation, error) {
	var conversations []*model.Conversation
	err := r.db.
		Joins("JOIN conversation_member cm ON cm.conversation_id = conversation.id").
		Where("cm.user_id = ? AND cm.is_active = ?", userID, true).
		Order("conversation.last_message_at IS NULL, conversation.last_message_at DESC, conversation.id DESC").
		Find(&conversations).Error
	return conversations, err
}

// AdvanceLastMessageAt 单调推进会话的最后消息时间
// 只有新时间严格晚于已存储值才会写入，与消息落库完成顺序无关
func (r *ConversationRepository) AdvanceLastMessageAt(conversationID uint, at time.Time) error {
	return r.db.Model(&model.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", conversationID, at).
		Update("last_message_at", at).Error
}

// SetArchived 设置会话归档状态
func (r *ConversationRepository) SetArchived(conversationID uint, archived bool) error {
	return r.db.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("is_archived", archived).Error
}
