package handler

import (
	"strconv"
	"time"

	"oa-im/internal/service"
	"oa-im/pkg/jwt"
	"oa-im/pkg/response"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 会话处理器
// 覆盖会话列表/详情/创建、成员管理、已读标记、输入状态
type ConversationHandler struct {
	convService   *service.ConversationService
	readState     *service.ReadStateService
	typingService *service.TypingService
}

// NewConversationHandler 创建ConversationHandler实例
func NewConversationHandler(
	convService *service.ConversationService,
	readState *service.ReadStateService,
	typingService *service.TypingService,
) *ConversationHandler {
	return &ConversationHandler{
		convService:   convService,
		readState:     readState,
		typingService: typingService,
	}
}

// parseConversationID 解析路径中的会话ID
func parseConversationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("conversation_id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid conversation ID")
		return 0, false
	}
	return uint(id), true
}

// ListConversations 获取我的会话列表
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	items, err := h.convService.ListConversations(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]response.ConversationListItem, 0, len(items))
	for _, item := range items {
		entry := response.ConversationListItem{
			Conversation: response.FilterConversationInfo(item.Conversation),
			UnreadCount:  item.UnreadCount,
		}
		if item.LastMessage != nil {
			entry.LastMessage = response.FilterMessageInfo(item.LastMessage)
		}
		out = append(out, entry)
	}

	response.SuccessWithMessage(c, "获取会话列表成功", out)
}

// CreateConversation 创建会话
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	type req struct {
		Kind        string `json:"kind" binding:"required"`
		MemberIDs   []uint `json:"member_ids"`
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPrivate   bool   `json:"is_private"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conv, err := h.convService.CreateConversation(userID, service.CreateConversationInput{
		Kind:        r.Kind,
		MemberIDs:   r.MemberIDs,
		Name:        r.Name,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "会话创建成功", response.FilterConversationInfo(conv))
}

// GetConversation 获取会话详情（含在会成员）
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	conv, members, err := h.convService.GetConversation(conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	memberInfos := make([]*response.MemberInfo, 0, len(members))
	for _, m := range members {
		memberInfos = append(memberInfos, response.FilterMemberInfo(m))
	}

	response.Success(c, gin.H{
		"conversation": response.FilterConversationInfo(conv),
		"members":      memberInfos,
	})
}

// AddMember 添加成员
func (h *ConversationHandler) AddMember(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		UserID uint   `json:"user_id" binding:"required"`
		Role   string `json:"role"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.convService.AddMember(conversationID, userID, r.UserID, r.Role); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "成员添加成功", nil)
}

// RemoveMember 移除成员/退出会话
func (h *ConversationHandler) RemoveMember(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	targetID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil || targetID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	if err := h.convService.RemoveMember(conversationID, userID, uint(targetID)); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "成员已移除", nil)
}

// SetRole 修改成员角色
func (h *ConversationHandler) SetRole(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	targetID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil || targetID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	type req struct {
		Role string `json:"role" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.convService.SetRole(conversationID, userID, uint(targetID), r.Role); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "角色修改成功", nil)
}

// SetArchived 归档/取消归档会话
func (h *ConversationHandler) SetArchived(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		Archived *bool `json:"archived" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.convService.SetArchived(conversationID, userID, *r.Archived); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "归档状态已更新", nil)
}

// SetMute 设置免打扰
func (h *ConversationHandler) SetMute(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		MuteUntil string `json:"mute_until"` // RFC3339，空值取消免打扰
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var until *time.Time
	if r.MuteUntil != "" {
		t, err := time.Parse(time.RFC3339, r.MuteUntil)
		if err != nil {
			response.BadRequest(c, "mute_until must be RFC3339")
			return
		}
		until = &t
	}

	if err := h.convService.SetMute(conversationID, userID, until); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "免打扰设置成功", nil)
}

// SetNotifications 设置通知开关
func (h *ConversationHandler) SetNotifications(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.convService.SetNotifications(conversationID, userID, *r.Enabled); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "通知设置成功", nil)
}

// MarkRead 标记已读（推进已读水位）
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		Upto string `json:"upto"` // RFC3339Nano，空值表示读到现在
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}

	var upto *time.Time
	if r.Upto != "" {
		t, err := time.Parse(time.RFC3339Nano, r.Upto)
		if err != nil {
			response.BadRequest(c, "upto must be RFC3339")
			return
		}
		upto = &t
	}

	if err := h.readState.MarkRead(conversationID, userID, upto); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已标记为已读", nil)
}

// GetUnreadCount 获取单个会话未读数
func (h *ConversationHandler) GetUnreadCount(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	count, err := h.readState.GetUnreadCount(conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{"unread_count": count})
}

// GetUnreadSummary 获取全部会话未读汇总
func (h *ConversationHandler) GetUnreadSummary(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	summaries, err := h.readState.GetUnreadSummary(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]response.UnreadSummaryItem, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, response.UnreadSummaryItem{
			ConversationID: s.ConversationID,
			UnreadCount:    s.UnreadCount,
		})
	}

	response.Success(c, out)
}

// SetTyping 设置/清除输入状态
func (h *ConversationHandler) SetTyping(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		IsTyping   *bool  `json:"is_typing" binding:"required"`
		TTLSeconds int    `json:"ttl_seconds"`
		Media      string `json:"media"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !*r.IsTyping {
		if err := h.typingService.ClearTyping(conversationID, userID); err != nil {
			respondError(c, err)
			return
		}
		response.SuccessWithMessage(c, "输入状态已清除", nil)
		return
	}

	signal, err := h.typingService.SetTyping(conversationID, userID, r.Media, time.Duration(r.TTLSeconds)*time.Second)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "输入状态已更新", gin.H{
		"expires_at": signal.ExpiresAt.Format(time.RFC3339Nano),
	})
}

// ListTyping 获取会话内正在输入的用户
func (h *ConversationHandler) ListTyping(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	signals, err := h.typingService.ListTyping(conversationID, userID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]response.TypingInfo, 0, len(signals))
	for _, s := range signals {
		out = append(out, response.TypingInfo{
			UserID:    s.UserID,
			Media:     s.Media,
			ExpiresAt: s.ExpiresAt.Format(time.RFC3339Nano),
		})
	}

	response.Success(c, out)
}
