package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/pkg/redis"
	"oa-im/pkg/websocket"

	"gorm.io/gorm"
)

// MessageService 消息服务
// 写路径上的派生字段（会话 LastMessageAt）作为显式步骤推进，不依赖持久化钩子
type MessageService struct {
	msgRepo         *repository.MessageRepository
	convRepo        *repository.ConversationRepository
	memberRepo      *repository.MemberRepository
	reactionRepo    *repository.ReactionRepository
	defaultPageSize int
	maxPageSize     int
}

// NewMessageService 创建MessageService实例
func NewMessageService(
	msgRepo *repository.MessageRepository,
	convRepo *repository.ConversationRepository,
	memberRepo *repository.MemberRepository,
	reactionRepo *repository.ReactionRepository,
	defaultPageSize, maxPageSize int,
) *MessageService {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &MessageService{
		msgRepo:         msgRepo,
		convRepo:        convRepo,
		memberRepo:      memberRepo,
		reactionRepo:    reactionRepo,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// PostMessageInput 发送消息的入参
type PostMessageInput struct {
	Content     string
	Kind        string
	ReplyToID   *uint
	Attachments []model.Attachment
	Metadata    map[string]interface{}
}

// PostMessage 发送消息
// 校验：发送者在会；内容与附件至少其一；回复目标必须在同一会话内
// （回复已删除的消息是允许的，墓碑仍是合法的回复目标）
// 落库后显式单调推进会话 LastMessageAt，并清掉发送者自己的输入信号
func (s *MessageService) PostMessage(conversationID, senderID uint, in PostMessageInput) (*model.Message, error) {
	if _, err := s.getConversation(conversationID); err != nil {
		return nil, err
	}
	if _, err := s.requireActiveMember(conversationID, senderID); err != nil {
		return nil, err
	}

	kind := in.Kind
	if kind == "" {
		kind = model.MessageKindText
	}
	if !model.ValidMessageKind(kind) {
		return nil, fmt.Errorf("%w: unknown message kind %q", ErrValidation, kind)
	}

	if in.Content == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message requires content or attachments", ErrValidation)
	}

	if in.ReplyToID != nil {
		target, err := s.msgRepo.GetByID(*in.ReplyToID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: reply target %d does not exist", ErrValidation, *in.ReplyToID)
			}
			return nil, err
		}
		if target.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: reply target belongs to another conversation", ErrValidation)
		}
	}

	message := &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        in.Content,
		Kind:           kind,
		ReplyToID:      in.ReplyToID,
		Metadata:       in.Metadata,
		Attachments:    in.Attachments,
	}

	if err := s.msgRepo.Create(message); err != nil {
		return nil, err
	}

	// 显式推进会话排序用的冗余时间戳（单调规则在仓储层SQL中保证）
	if err := s.convRepo.AdvanceLastMessageAt(conversationID, message.CreatedAt); err != nil {
		return nil, err
	}

	// 发消息意味着不再输入
	_ = redis.ClearTypingSignal(conversationID, senderID)

	// 首屏缓存失效
	_ = redis.InvalidateLatestPage(conversationID)

	// 其他在会成员未读计数+1，并推送新消息事件
	// 注意：不替其他成员自动标记已读
	if memberIDs, err := s.memberRepo.ListActiveUserIDs(conversationID); err == nil {
		var others []uint
		for _, id := range memberIDs {
			if id != senderID {
				others = append(others, id)
			}
		}
		_ = redis.BatchIncrementUnreadCount(others, conversationID)

		s.broadcast(others, map[string]interface{}{
			"type":            "message_new",
			"conversation_id": conversationID,
			"message_id":      message.ID,
			"sender_id":       senderID,
			"kind":            kind,
			"content":         in.Content,
			"timestamp":       message.CreatedAt.UnixMilli(),
		})
	}

	return message, nil
}

// EditMessage 编辑消息（仅原发送者）
func (s *MessageService) EditMessage(messageID, editorID uint, newContent string) (*model.Message, error) {
	message, err := s.getMessage(messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, fmt.Errorf("%w: message %d is deleted", ErrNotFound, messageID)
	}
	if message.SenderID != editorID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", ErrForbidden)
	}
	if newContent == "" {
		return nil, fmt.Errorf("%w: edited content must not be empty", ErrValidation)
	}

	now := time.Now()
	if err := s.msgRepo.Edit(messageID, newContent, now); err != nil {
		return nil, err
	}

	message.Content = newContent
	message.IsEdited = true
	message.EditedAt = &now

	_ = redis.InvalidateLatestPage(message.ConversationID)

	s.broadcastToConversation(message.ConversationID, editorID, map[string]interface{}{
		"type":            "message_edited",
		"conversation_id": message.ConversationID,
		"message_id":      messageID,
	})

	return message, nil
}

// DeleteMessage 软删除消息（发送者或会话 admin/moderator）
// 行保留在存储中，内容在所有读取路径上以墓碑呈现；重复删除是空操作
func (s *MessageService) DeleteMessage(messageID, requesterID uint) error {
	message, err := s.getMessage(messageID)
	if err != nil {
		return err
	}
	if message.IsDeleted {
		return nil
	}

	if message.SenderID != requesterID {
		member, err := s.requireActiveMember(message.ConversationID, requesterID)
		if err != nil {
			return err
		}
		if !member.CanModerate() {
			return fmt.Errorf("%w: deleting another member's message requires moderator role", ErrForbidden)
		}
	}

	if err := s.msgRepo.SoftDelete(messageID, time.Now()); err != nil {
		return err
	}

	_ = redis.InvalidateLatestPage(message.ConversationID)

	// 被删消息不再计入未读，计数缓存作废，下次读取按水位重算
	if memberIDs, err := s.memberRepo.ListActiveUserIDs(message.ConversationID); err == nil {
		_ = redis.BatchResetUnreadCount(memberIDs, message.ConversationID)
	}

	s.broadcastToConversation(message.ConversationID, 0, map[string]interface{}{
		"type":            "message_deleted",
		"conversation_id": message.ConversationID,
		"message_id":      messageID,
	})

	return nil
}

// ListMessages 按键集游标取一页消息
// 内部按 (created_at, id) 倒序取，返回前反转为升序，客户端可直接追加渲染；
// 被删除的消息保留在结果中（墓碑），回复链接不因目标被删而丢失
func (s *MessageService) ListMessages(conversationID, requesterID uint, limit int, before *time.Time, beforeID uint) ([]*model.Message, error) {
	if _, err := s.getConversation(conversationID); err != nil {
		return nil, err
	}
	if _, err := s.requireActiveMember(conversationID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	// 无游标的首屏请求走缓存
	if before == nil {
		if cached, err := redis.GetCachedLatestPage(conversationID); err == nil && len(cached) >= limit {
			return cached[len(cached)-limit:], nil
		}
	}

	messages, err := s.msgRepo.ListPage(conversationID, limit, before, beforeID)
	if err != nil {
		return nil, err
	}

	// 倒序取出，反转为升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	// 返回前同步写缓存：若异步写，可能压过并发发消息触发的失效，
	// 把缺了新消息的首屏钉在缓存里一个TTL周期
	if before == nil {
		_ = redis.CacheLatestPage(conversationID, messages)
	}

	return messages, nil
}

// ReactionsForMessages 批量取消息的表情回应（消息列表渲染用）
func (s *MessageService) ReactionsForMessages(messages []*model.Message) (map[uint][]*model.MessageReaction, error) {
	ids := make([]uint, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}

	reactions, err := s.reactionRepo.ListByMessageIDs(ids)
	if err != nil {
		return nil, err
	}

	grouped := make(map[uint][]*model.MessageReaction, len(messages))
	for _, r := range reactions {
		grouped[r.MessageID] = append(grouped[r.MessageID], r)
	}
	return grouped, nil
}

func (s *MessageService) getConversation(conversationID uint) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return nil, err
	}
	return conv, nil
}

func (s *MessageService) getMessage(messageID uint) (*model.Message, error) {
	message, err := s.msgRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	return message, nil
}

func (s *MessageService) requireActiveMember(conversationID, userID uint) (*model.ConversationMember, error) {
	member, err := s.memberRepo.GetActive(conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d is not an active member of conversation %d", ErrForbidden, userID, conversationID)
		}
		return nil, err
	}
	return member, nil
}

// broadcastToConversation 向会话全部在会成员推送事件
func (s *MessageService) broadcastToConversation(conversationID, excludeUserID uint, payload map[string]interface{}) {
	ids, err := s.memberRepo.ListActiveUserIDs(conversationID)
	if err != nil {
		return
	}
	var targets []uint
	for _, id := range ids {
		if excludeUserID != 0 && id == excludeUserID {
			continue
		}
		targets = append(targets, id)
	}
	s.broadcast(targets, payload)
}

// broadcast 推送事件给指定用户，尽力而为
func (s *MessageService) broadcast(userIDs []uint, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, id := range userIDs {
		websocket.GetManager().SendToUser(id, data)
	}
}
