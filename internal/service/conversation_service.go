package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/pkg/websocket"

	"gorm.io/gorm"
)

// ConversationService 会话与成员关系服务
// 负责会话创建（含单聊幂等去重）与成员增删、角色、免打扰、通知设置
type ConversationService struct {
	convRepo   *repository.ConversationRepository
	memberRepo *repository.MemberRepository
	msgRepo    *repository.MessageRepository
	userRepo   *repository.UserRepository
	readState  *ReadStateService
}

// NewConversationService 创建ConversationService实例
func NewConversationService(
	convRepo *repository.ConversationRepository,
	memberRepo *repository.MemberRepository,
	msgRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	readState *ReadStateService,
) *ConversationService {
	return &ConversationService{
		convRepo:   convRepo,
		memberRepo: memberRepo,
		msgRepo:    msgRepo,
		userRepo:   userRepo,
		readState:  readState,
	}
}

// CreateConversationInput 创建会话的入参
type CreateConversationInput struct {
	Kind        string
	MemberIDs   []uint
	Name        string
	Description string
	IsPrivate   bool
}

// CreateConversation 创建会话
// 单聊：要求恰好一个对方成员；按无序用户对幂等去重（已存在则原样返回），
// 并发双方同时创建时依赖 DirectKey 唯一索引，唯一键冲突按"取回赢家"处理
// 群聊/频道：创建者自动入会并提升为 admin，其余成员为 member
func (s *ConversationService) CreateConversation(creatorID uint, in CreateConversationInput) (*model.Conversation, error) {
	if !model.ValidConversationKind(in.Kind) {
		return nil, fmt.Errorf("%w: unknown conversation kind %q", ErrValidation, in.Kind)
	}

	if in.Kind == model.ConversationKindDirect {
		return s.createDirect(creatorID, in)
	}
	return s.createGroup(creatorID, in)
}

func (s *ConversationService) createDirect(creatorID uint, in CreateConversationInput) (*model.Conversation, error) {
	// 单聊必须恰好指定一个对方成员，且不能与自己单聊
	others := dedupeIDs(in.MemberIDs, creatorID)
	if len(others) != 1 {
		return nil, fmt.Errorf("%w: direct conversation requires exactly one other member", ErrValidation)
	}
	otherID := others[0]

	if err := s.requireUsersExist(others); err != nil {
		return nil, err
	}

	key := model.DirectPairKey(creatorID, otherID)

	// 先查再插：已存在的单聊原样返回（幂等创建）
	if existing, err := s.convRepo.GetByDirectKey(key); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	conv := &model.Conversation{
		Kind:      model.ConversationKindDirect,
		IsPrivate: true,
		OwnerID:   creatorID,
		DirectKey: &key,
	}
	members := []*model.ConversationMember{
		{UserID: creatorID, Role: model.MemberRoleMember, JoinedAt: now, IsActive: true, NotificationsEnabled: true},
		{UserID: otherID, Role: model.MemberRoleMember, JoinedAt: now, IsActive: true, NotificationsEnabled: true},
	}

	if err := s.convRepo.CreateWithMembers(conv, members); err != nil {
		// 两端并发创建：输掉唯一索引竞争的一方取回赢家
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.convRepo.GetByDirectKey(key)
		}
		return nil, err
	}

	return conv, nil
}

func (s *ConversationService) createGroup(creatorID uint, in CreateConversationInput) (*model.Conversation, error) {
	others := dedupeIDs(in.MemberIDs, creatorID)
	if err := s.requireUsersExist(others); err != nil {
		return nil, err
	}

	now := time.Now()
	conv := &model.Conversation{
		Name:        in.Name,
		Kind:        in.Kind,
		Description: in.Description,
		IsPrivate:   in.IsPrivate,
		OwnerID:     creatorID,
	}

	members := []*model.ConversationMember{
		{UserID: creatorID, Role: model.MemberRoleAdmin, JoinedAt: now, IsActive: true, NotificationsEnabled: true},
	}
	for _, id := range others {
		members = append(members, &model.ConversationMember{
			UserID:               id,
			Role:                 model.MemberRoleMember,
			JoinedAt:             now,
			IsActive:             true,
			NotificationsEnabled: true,
		})
	}

	if err := s.convRepo.CreateWithMembers(conv, members); err != nil {
		return nil, err
	}

	return conv, nil
}

// GetConversation 获取会话详情（校验调用者在会）
func (s *ConversationService) GetConversation(conversationID, userID uint) (*model.Conversation, []*model.ConversationMember, error) {
	conv, err := s.getConversation(conversationID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.requireActiveMember(conversationID, userID); err != nil {
		return nil, nil, err
	}

	members, err := s.memberRepo.ListActive(conversationID)
	if err != nil {
		return nil, nil, err
	}

	return conv, members, nil
}

// ConversationListItem 会话列表项
type ConversationListItem struct {
	Conversation *model.Conversation
	UnreadCount  int64
	LastMessage  *model.Message
}

// ListConversations 获取用户的会话列表，按最后消息时间倒序，附带未读数与最后消息预览
func (s *ConversationService) ListConversations(userID uint) ([]ConversationListItem, error) {
	conversations, err := s.convRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	items := make([]ConversationListItem, 0, len(conversations))
	for _, conv := range conversations {
		item := ConversationListItem{Conversation: conv}

		if count, err := s.readState.GetUnreadCount(conv.ID, userID); err == nil {
			item.UnreadCount = count
		}

		if last, err := s.msgRepo.Latest(conv.ID); err == nil {
			item.LastMessage = last
		}

		items = append(items, item)
	}

	return items, nil
}

// AddMember 向群聊/频道添加成员
// 已在会 → ErrConflict；单聊 → ErrInvalidOperation；
// 历史成员重新加入复用原行（保留已读水位）
func (s *ConversationService) AddMember(conversationID, actorID, userID uint, role string) error {
	conv, err := s.getConversation(conversationID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return fmt.Errorf("%w: direct conversation membership is fixed", ErrInvalidOperation)
	}

	actor, err := s.requireActiveMember(conversationID, actorID)
	if err != nil {
		return err
	}

	if role == "" {
		role = model.MemberRoleMember
	}
	if !model.ValidMemberRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	// 指定非默认角色属于特权操作
	if role != model.MemberRoleMember && actor.Role != model.MemberRoleAdmin {
		return fmt.Errorf("%w: only admin can grant roles", ErrForbidden)
	}

	if err := s.requireUsersExist([]uint{userID}); err != nil {
		return err
	}

	existing, err := s.memberRepo.Get(conversationID, userID)
	switch {
	case err == nil && existing.IsActive:
		return fmt.Errorf("%w: user %d is already a member", ErrConflict, userID)
	case err == nil:
		// 历史行：重新激活
		return s.memberRepo.Reactivate(existing.ID, role, time.Now())
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	member := &model.ConversationMember{
		ConversationID:       conversationID,
		UserID:               userID,
		Role:                 role,
		JoinedAt:             time.Now(),
		IsActive:             true,
		NotificationsEnabled: true,
	}
	if err := s.memberRepo.Create(member); err != nil {
		// 并发加人撞上唯一索引：等价于已在会
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: user %d is already a member", ErrConflict, userID)
		}
		return err
	}

	s.notifyMembers(conversationID, 0, map[string]interface{}{
		"type":            "member_added",
		"conversation_id": conversationID,
		"user_id":         userID,
	})

	return nil
}

// RemoveMember 成员退出/被移出会话（软退出）
// 自己退出无需权限；移出他人需要 admin/moderator；单聊 → ErrInvalidOperation
func (s *ConversationService) RemoveMember(conversationID, actorID, userID uint) error {
	conv, err := s.getConversation(conversationID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return fmt.Errorf("%w: direct conversation membership is fixed", ErrInvalidOperation)
	}

	actor, err := s.requireActiveMember(conversationID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && !actor.CanModerate() {
		return fmt.Errorf("%w: removing another member requires moderator role", ErrForbidden)
	}

	if _, err := s.memberRepo.GetActive(conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d is not a member", ErrNotFound, userID)
		}
		return err
	}

	if err := s.memberRepo.Deactivate(conversationID, userID, time.Now()); err != nil {
		return err
	}

	s.notifyMembers(conversationID, 0, map[string]interface{}{
		"type":            "member_removed",
		"conversation_id": conversationID,
		"user_id":         userID,
	})

	return nil
}

// SetRole 修改成员角色（仅 admin）
func (s *ConversationService) SetRole(conversationID, actorID, userID uint, role string) error {
	if _, err := s.getConversation(conversationID); err != nil {
		return err
	}

	actor, err := s.requireActiveMember(conversationID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != model.MemberRoleAdmin {
		return fmt.Errorf("%w: only admin can change roles", ErrForbidden)
	}

	if !model.ValidMemberRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	if _, err := s.memberRepo.GetActive(conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d is not a member", ErrNotFound, userID)
		}
		return err
	}

	return s.memberRepo.UpdateRole(conversationID, userID, role)
}

// SetArchived 归档/取消归档会话（仅 admin）
// 归档只是列表展示上的标记，不影响发消息等操作
func (s *ConversationService) SetArchived(conversationID, actorID uint, archived bool) error {
	if _, err := s.getConversation(conversationID); err != nil {
		return err
	}

	actor, err := s.requireActiveMember(conversationID, actorID)
	if err != nil {
		return err
	}
	if actor.Role != model.MemberRoleAdmin {
		return fmt.Errorf("%w: only admin can archive a conversation", ErrForbidden)
	}

	return s.convRepo.SetArchived(conversationID, archived)
}

// SetMute 设置自己的免打扰截止时间（nil为取消）
func (s *ConversationService) SetMute(conversationID, userID uint, until *time.Time) error {
	if _, err := s.getConversation(conversationID); err != nil {
		return err
	}
	if _, err := s.requireActiveMember(conversationID, userID); err != nil {
		return err
	}
	return s.memberRepo.UpdateMute(conversationID, userID, until)
}

// SetNotifications 设置自己的通知开关
func (s *ConversationService) SetNotifications(conversationID, userID uint, enabled bool) error {
	if _, err := s.getConversation(conversationID); err != nil {
		return err
	}
	if _, err := s.requireActiveMember(conversationID, userID); err != nil {
		return err
	}
	return s.memberRepo.UpdateNotifications(conversationID, userID, enabled)
}

// getConversation 获取会话，不存在返回 ErrNotFound
func (s *ConversationService) getConversation(conversationID uint) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return nil, err
	}
	return conv, nil
}

// requireActiveMember 校验用户在会，否则返回 ErrForbidden
func (s *ConversationService) requireActiveMember(conversationID, userID uint) (*model.ConversationMember, error) {
	member, err := s.memberRepo.GetActive(conversationID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d is not an active member of conversation %d", ErrForbidden, userID, conversationID)
		}
		return nil, err
	}
	return member, nil
}

// notifyMembers 向会话在会成员推送事件（excludeUserID为0时不排除任何人）
// 推送尽力而为，失败不影响主流程
func (s *ConversationService) notifyMembers(conversationID, excludeUserID uint, payload map[string]interface{}) {
	ids, err := s.memberRepo.ListActiveUserIDs(conversationID)
	if err != nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, id := range ids {
		if excludeUserID != 0 && id == excludeUserID {
			continue
		}
		websocket.GetManager().SendToUser(id, data)
	}
}

// requireUsersExist 校验目标用户在用户目录中存在，未知ID返回ErrNotFound
func (s *ConversationService) requireUsersExist(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.userRepo.GetByIDs(ids)
	if err != nil {
		return err
	}
	found := make(map[uint]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
	}
	return nil
}

// dedupeIDs 去重并剔除指定ID
func dedupeIDs(ids []uint, exclude uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	var out []uint
	for _, id := range ids {
		if id == exclude || id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
