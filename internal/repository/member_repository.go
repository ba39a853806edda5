package repository

import (
	"time"

	"oa-im/internal/model"

	"gorm.io/gorm"
)

// MemberRepository 会话成员数据仓储
type MemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository 创建MemberRepository实例
func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create 创建成员关系
func (r *MemberRepository) Create(member *model.ConversationMember) error {
	return r.db.Create(member).Error
}

// Get 获取成员关系（包含已退出的历史行）
func (r *MemberRepository) Get(conversationID, userID uint) (*model.ConversationMember, error) {
	var m model.ConversationMember
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetActive 获取在会话中的成员关系
func (r *MemberRepository) GetActive(conversationID, userID uint) (*model.ConversationMember, error) {
	var m model.ConversationMember
	err := r.db.Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListActive 获取会话的全部在会成员
func (r *MemberRepository) ListActive(conversationID uint) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := r.db.Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

// ListActiveUserIDs 获取会话在会成员的用户ID列表
func (r *MemberRepository) ListActiveUserIDs(conversationID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListActiveByUser 获取用户全部在会的成员关系
func (r *MemberRepository) ListActiveByUser(userID uint) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Find(&members).Error
	return members, err
}

// CountActive 统计会话在会成员数
func (r *MemberRepository) CountActive(conversationID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND is_active = ?", conversationID, true).
		Count(&count).Error
	return count, err
}

// Reactivate 重新激活历史成员行（退出后再次加入）
// 保留 LastReadAt：离开期间的消息按未读计
func (r *MemberRepository) Reactivate(memberID uint, role string, now time.Time) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("id = ?", memberID).
		Updates(map[string]interface{}{
			"is_active": true,
			"left_at":   nil,
			"joined_at": now,
			"role":      role,
		}).Error
}

// Deactivate 成员退出会话（软退出）
func (r *MemberRepository) Deactivate(conversationID, userID uint, now time.Time) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"left_at":   now,
		}).Error
}

// UpdateRole 更新成员角色
func (r *MemberRepository) UpdateRole(conversationID, userID uint, role string) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Update("role", role).Error
}

// UpdateMute 更新成员免打扰截止时间（nil为取消免打扰）
func (r *MemberRepository) UpdateMute(conversationID, userID uint, until *time.Time) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Update("mute_until", until).Error
}

// UpdateNotifications 更新成员通知开关
func (r *MemberRepository) UpdateNotifications(conversationID, userID uint, enabled bool) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Update("notifications_enabled", enabled).Error
}

// AdvanceLastReadAt 推进已读水位，只允许向前移动
func (r *MemberRepository) AdvanceLastReadAt(conversationID, userID uint, at time.Time) error {
	return r.db.Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		Update("last_read_at", at).Error
}
