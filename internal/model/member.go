package model

import (
	"time"
)

// 成员角色
const (
	MemberRoleAdmin     = "admin"     // 管理员
	MemberRoleModerator = "moderator" // 协管员
	MemberRoleMember    = "member"    // 普通成员
)

// ConversationMember 会话成员关系
// (ConversationID, UserID) 全表唯一：退出时置 IsActive=false 并记录 LeftAt，
// 重新加入时复用原行（保留 LastReadAt，离开期间的消息计入未读）
// LastReadAt 为已读水位，未读数 = CreatedAt 晚于该水位的消息数

type ConversationMember struct {
	ID                   uint       `gorm:"primaryKey"`
	ConversationID       uint       `gorm:"not null;uniqueIndex:idx_conv_user;index;comment:会话ID"`
	UserID               uint       `gorm:"not null;uniqueIndex:idx_conv_user;index;comment:用户ID"`
	Role                 string     `gorm:"type:varchar(32);not null;default:'member';comment:成员角色"`
	JoinedAt             time.Time  `gorm:"comment:加入时间"`
	LeftAt               *time.Time `gorm:"comment:退出时间"`
	IsActive             bool       `gorm:"default:true;index;comment:是否在会话中"`
	LastReadAt           *time.Time `gorm:"comment:已读水位"`
	NotificationsEnabled bool       `gorm:"default:true;comment:是否开启通知"`
	MuteUntil            *time.Time `gorm:"comment:免打扰截止时间"`
	CreatedAt            time.Time  `gorm:"comment:创建时间"`
	UpdatedAt            time.Time  `gorm:"comment:更新时间"`
}

func (ConversationMember) TableName() string { return "conversation_member" }

// CanModerate 是否具备消息管理权限（删除他人消息等）
func (m *ConversationMember) CanModerate() bool {
	return m.Role == MemberRoleAdmin || m.Role == MemberRoleModerator
}

// ValidMemberRole 校验角色取值
func ValidMemberRole(role string) bool {
	switch role {
	case MemberRoleAdmin, MemberRoleModerator, MemberRoleMember:
		return true
	}
	return false
}
