package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"oa-im/internal/repository"
	"oa-im/pkg/redis"
	"oa-im/pkg/websocket"

	"gorm.io/gorm"
)

// TypingService 输入状态服务
// 信号只有两个状态：输入中 / 已过期，状态迁移纯粹由墙钟与 ExpiresAt 的比较决定，
// 不需要任何显式的过期事件；读取侧的惰性过滤在 pkg/redis 中实现
type TypingService struct {
	convRepo   *repository.ConversationRepository
	memberRepo *repository.MemberRepository
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// NewTypingService 创建TypingService实例
func NewTypingService(
	convRepo *repository.ConversationRepository,
	memberRepo *repository.MemberRepository,
	defaultTTL, maxTTL time.Duration,
) *TypingService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Second
	}
	if maxTTL <= 0 {
		maxTTL = 30 * time.Second
	}
	return &TypingService{
		convRepo:   convRepo,
		memberRepo: memberRepo,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
	}
}

// SetTyping 写入/刷新输入信号
// media 标记正在编辑的内容类型（text/voice），空值按text处理
func (s *TypingService) SetTyping(conversationID, userID uint, media string, ttl time.Duration) (*redis.TypingSignal, error) {
	if err := s.checkMembership(conversationID, userID); err != nil {
		return nil, err
	}

	if media == "" {
		media = "text"
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	signal, err := redis.SetTypingSignal(conversationID, userID, media, ttl)
	if err != nil {
		return nil, err
	}

	s.broadcastToConversation(conversationID, userID, map[string]interface{}{
		"type":            "typing",
		"conversation_id": conversationID,
		"user_id":         userID,
		"media":           media,
		"is_typing":       true,
	})

	return signal, nil
}

// ClearTyping 立即清除输入信号
func (s *TypingService) ClearTyping(conversationID, userID uint) error {
	if err := s.checkMembership(conversationID, userID); err != nil {
		return err
	}

	if err := redis.ClearTypingSignal(conversationID, userID); err != nil {
		return err
	}

	s.broadcastToConversation(conversationID, userID, map[string]interface{}{
		"type":            "typing",
		"conversation_id": conversationID,
		"user_id":         userID,
		"is_typing":       false,
	})

	return nil
}

// ListTyping 获取会话内正在输入的用户
// excludeUserID 通常传调用者自己；返回结果只含 ExpiresAt 未到的信号
func (s *TypingService) ListTyping(conversationID, requesterID, excludeUserID uint) ([]redis.TypingSignal, error) {
	if err := s.checkMembership(conversationID, requesterID); err != nil {
		return nil, err
	}

	signals, err := redis.GetTypingSignals(conversationID)
	if err != nil {
		return nil, err
	}

	if excludeUserID == 0 {
		return signals, nil
	}

	filtered := signals[:0]
	for _, sig := range signals {
		if sig.UserID != excludeUserID {
			filtered = append(filtered, sig)
		}
	}
	return filtered, nil
}

func (s *TypingService) checkMembership(conversationID, userID uint) error {
	if _, err := s.convRepo.GetByID(conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return err
	}

	if _, err := s.memberRepo.GetActive(conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d is not an active member of conversation %d", ErrForbidden, userID, conversationID)
		}
		return err
	}

	return nil
}

func (s *TypingService) broadcastToConversation(conversationID, excludeUserID uint, payload map[string]interface{}) {
	ids, err := s.memberRepo.ListActiveUserIDs(conversationID)
	if err != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		websocket.GetManager().SendToUser(id, data)
	}
}
