package service

import (
	"errors"
	"fmt"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/pkg/redis"

	"gorm.io/gorm"
)

// ReadStateService 已读状态服务
// 已读水位（ConversationMember.LastReadAt）存数据库，是唯一事实来源；
// Redis 中的未读计数只是会话列表渲染的加速层，未命中按水位重算并回填
type ReadStateService struct {
	memberRepo *repository.MemberRepository
	msgRepo    *repository.MessageRepository
}

// NewReadStateService 创建ReadStateService实例
func NewReadStateService(memberRepo *repository.MemberRepository, msgRepo *repository.MessageRepository) *ReadStateService {
	return &ReadStateService{memberRepo: memberRepo, msgRepo: msgRepo}
}

// MarkRead 推进已读水位
// upto 为空表示"读到现在"；水位只向前移动，回拨请求是安全的空操作
func (s *ReadStateService) MarkRead(conversationID, userID uint, upto *time.Time) error {
	member, err := s.requireActiveMember(conversationID, userID)
	if err != nil {
		return err
	}

	at := time.Now()
	if upto != nil {
		at = *upto
	}

	if err := s.memberRepo.AdvanceLastReadAt(conversationID, userID, at); err != nil {
		return err
	}

	// 按新水位重算并回填未读计数缓存
	// （部分已读时计数不为0，不能简单清零）
	watermark := &at
	if member.LastReadAt != nil && member.LastReadAt.After(at) {
		watermark = member.LastReadAt
	}
	if count, err := s.msgRepo.CountUnread(conversationID, userID, watermark); err == nil {
		_ = redis.SetUnreadCount(userID, conversationID, count)
	}

	return nil
}

// GetUnreadCount 获取用户在某会话的未读数
// 未读 = 已读水位之后、非自己发送、未被删除的消息数；
// created_at 恰好等于水位的消息算已读
func (s *ReadStateService) GetUnreadCount(conversationID, userID uint) (int64, error) {
	member, err := s.requireActiveMember(conversationID, userID)
	if err != nil {
		return 0, err
	}

	// 优先读缓存
	if cached, err := redis.GetUnreadCount(userID, conversationID); err == nil && cached >= 0 {
		return cached, nil
	}

	// 缓存未命中：数据库按水位重算并回填
	count, err := s.msgRepo.CountUnread(conversationID, userID, member.LastReadAt)
	if err != nil {
		return 0, err
	}
	_ = redis.SetUnreadCount(userID, conversationID, count)

	return count, nil
}

// UnreadSummary 未读汇总项
type UnreadSummary struct {
	ConversationID uint
	UnreadCount    int64
}

// GetUnreadSummary 获取用户全部在会会话的未读汇总（会话列表角标用）
func (s *ReadStateService) GetUnreadSummary(userID uint) ([]UnreadSummary, error) {
	memberships, err := s.memberRepo.ListActiveByUser(userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]UnreadSummary, 0, len(memberships))
	for _, m := range memberships {
		entry := UnreadSummary{ConversationID: m.ConversationID}

		if cached, err := redis.GetUnreadCount(userID, m.ConversationID); err == nil && cached >= 0 {
			entry.UnreadCount = cached
		} else if count, err := s.msgRepo.CountUnread(m.ConversationID, userID, m.LastReadAt); err == nil {
			entry.UnreadCount = count
			_ = redis.SetUnreadCount(userID, m.ConversationID, count)
		}

		summaries = append(summaries, entry)
	}

	return summaries, nil
}

func (s *ReadStateService) requireActiveMember(conversationID, userID uint) (*model.ConversationMember, error) {
	member, err := s.memberRepo.GetActive(conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d is not an active member of conversation %d", ErrForbidden, userID, conversationID)
		}
		return nil, err
	}
	return member, nil
}
