package model

import (
	"fmt"
	"time"
)

// 会话类型
const (
	ConversationKindDirect  = "direct"  // 单聊（固定两人，成员不可增减）
	ConversationKindGroup   = "group"   // 群聊
	ConversationKindChannel = "channel" // 频道
)

// Conversation 会话模型
// Kind: direct/group/channel
// LastMessageAt 为会话列表排序用的冗余字段，只允许单调向前推进
// DirectKey 仅 direct 会话填写，取值为 "min(userA,userB):max(userA,userB)"，
// 唯一索引保证同一对用户至多存在一个单聊会话

type Conversation struct {
	ID            uint                   `gorm:"primaryKey"`
	Name          string                 `gorm:"type:varchar(128);comment:会话名称"`
	Kind          string                 `gorm:"type:varchar(32);not null;default:'group';index;comment:会话类型"`
	Description   string                 `gorm:"type:varchar(512);comment:会话描述"`
	IsPrivate     bool                   `gorm:"default:false;comment:是否私有"`
	IsArchived    bool                   `gorm:"default:false;comment:是否归档"`
	OwnerID       uint                   `gorm:"not null;index;comment:创建者ID"`
	DirectKey     *string                `gorm:"type:varchar(64);uniqueIndex;comment:单聊去重键"`
	LastMessageAt *time.Time             `gorm:"index;comment:最后一条消息时间"`
	Settings      map[string]interface{} `gorm:"serializer:json;comment:会话设置"`
	CreatedAt     time.Time              `gorm:"comment:创建时间"`
	UpdatedAt     time.Time              `gorm:"comment:更新时间"`
}

func (Conversation) TableName() string { return "conversation" }

// IsDirect 是否为单聊会话
func (c *Conversation) IsDirect() bool { return c.Kind == ConversationKindDirect }

// DirectPairKey 计算一对用户的单聊去重键（与顺序无关）
func DirectPairKey(userA, userB uint) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// ValidConversationKind 校验会话类型取值
func ValidConversationKind(kind string) bool {
	switch kind {
	case ConversationKindDirect, ConversationKindGroup, ConversationKindChannel:
		return true
	}
	return false
}
