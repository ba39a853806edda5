package model

import (
	"time"
)

// MessageReaction 消息表情回应
// (MessageID, UserID, Emoji) 唯一：同一用户可对一条消息使用多个不同表情，
// 同一表情不可重复；并发重复插入依赖唯一索引收敛为一行

type MessageReaction struct {
	ID        uint      `gorm:"primaryKey"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_msg_user_emoji;index;comment:消息ID"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_msg_user_emoji;comment:用户ID"`
	Emoji     string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_msg_user_emoji;comment:表情"`
	CreatedAt time.Time `gorm:"comment:创建时间"`
}

func (MessageReaction) TableName() string { return "message_reaction" }
