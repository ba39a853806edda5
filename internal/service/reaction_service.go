package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/pkg/websocket"

	"github.com/forPelevin/gomoji"
	"gorm.io/gorm"
)

// ReactionService 消息表情回应服务
// 同一 (消息, 用户, 表情) 三元组幂等：重复添加返回已有行，并发竞争由唯一索引收敛
type ReactionService struct {
	reactionRepo *repository.ReactionRepository
	msgRepo      *repository.MessageRepository
	memberRepo   *repository.MemberRepository
}

// NewReactionService 创建ReactionService实例
func NewReactionService(
	reactionRepo *repository.ReactionRepository,
	msgRepo *repository.MessageRepository,
	memberRepo *repository.MemberRepository,
) *ReactionService {
	return &ReactionService{
		reactionRepo: reactionRepo,
		msgRepo:      msgRepo,
		memberRepo:   memberRepo,
	}
}

// validateEmoji 回应必须是单个emoji字符
func validateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: emoji is required", ErrValidation)
	}
	if len(gomoji.RemoveEmojis(emoji)) > 0 {
		return fmt.Errorf("%w: reaction must not contain non-emoji characters", ErrValidation)
	}
	if len(gomoji.FindAll(emoji)) != 1 {
		return fmt.Errorf("%w: reaction must be a single emoji", ErrValidation)
	}
	return nil
}

// AddReaction 添加回应（幂等）
// 三元组已存在时直接返回已有行；并发插入撞唯一索引时取回赢家，不算错误
func (s *ReactionService) AddReaction(messageID, userID uint, emoji string) (*model.MessageReaction, error) {
	if err := validateEmoji(emoji); err != nil {
		return nil, err
	}

	message, err := s.getMessage(messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, fmt.Errorf("%w: message %d is deleted", ErrNotFound, messageID)
	}
	if _, err := s.requireActiveMember(message.ConversationID, userID); err != nil {
		return nil, err
	}

	// 先查再插，幂等返回已有行
	if existing, err := s.reactionRepo.GetByTriple(messageID, userID, emoji); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	reaction := &model.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}
	if err := s.reactionRepo.Create(reaction); err != nil {
		// 并发重复插入：取回唯一索引竞争的赢家
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.reactionRepo.GetByTriple(messageID, userID, emoji)
		}
		return nil, err
	}

	s.broadcastToConversation(message.ConversationID, map[string]interface{}{
		"type":       "reaction_added",
		"message_id": messageID,
		"user_id":    userID,
		"emoji":      emoji,
	})

	return reaction, nil
}

// RemoveReaction 移除回应，不存在时不算错误
func (s *ReactionService) RemoveReaction(messageID, userID uint, emoji string) error {
	message, err := s.getMessage(messageID)
	if err != nil {
		return err
	}
	if _, err := s.requireActiveMember(message.ConversationID, userID); err != nil {
		return err
	}

	if err := s.reactionRepo.Delete(messageID, userID, emoji); err != nil {
		return err
	}

	s.broadcastToConversation(message.ConversationID, map[string]interface{}{
		"type":       "reaction_removed",
		"message_id": messageID,
		"user_id":    userID,
		"emoji":      emoji,
	})

	return nil
}

// ListReactions 获取一条消息的全部回应（调用方按表情聚合渲染）
func (s *ReactionService) ListReactions(messageID, requesterID uint) ([]*model.MessageReaction, error) {
	message, err := s.getMessage(messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireActiveMember(message.ConversationID, requesterID); err != nil {
		return nil, err
	}

	return s.reactionRepo.ListByMessage(messageID)
}

func (s *ReactionService) getMessage(messageID uint) (*model.Message, error) {
	message, err := s.msgRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	return message, nil
}

func (s *ReactionService) requireActiveMember(conversationID, userID uint) (*model.ConversationMember, error) {
	member, err := s.memberRepo.GetActive(conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d is not an active member of conversation %d", ErrForbidden, userID, conversationID)
		}
		return nil, err
	}
	return member, nil
}

func (s *ReactionService) broadcastToConversation(conversationID uint, payload map[string]interface{}) {
	ids, err := s.memberRepo.ListActiveUserIDs(conversationID)
	if err != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, id := range ids {
		websocket.GetManager().SendToUser(id, data)
	}
}
