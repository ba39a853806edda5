package handler

import (
	"strconv"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/service"
	"oa-im/pkg/jwt"
	"oa-im/pkg/response"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息处理器
// 覆盖消息发送/分页拉取/编辑/软删除及表情回应
type MessageHandler struct {
	msgService      *service.MessageService
	reactionService *service.ReactionService
	userService     *service.UserService
}

// NewMessageHandler 创建MessageHandler实例
func NewMessageHandler(
	msgService *service.MessageService,
	reactionService *service.ReactionService,
	userService *service.UserService,
) *MessageHandler {
	return &MessageHandler{
		msgService:      msgService,
		reactionService: reactionService,
		userService:     userService,
	}
}

// parseMessageID 解析路径中的消息ID
func parseMessageID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("message_id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid message ID")
		return 0, false
	}
	return uint(id), true
}

// PostMessage 发送消息
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	type req struct {
		Content     string                 `json:"content"`
		Kind        string                 `json:"kind"`
		ReplyToID   *uint                  `json:"reply_to_id"`
		Attachments []model.Attachment     `json:"attachments"`
		Metadata    map[string]interface{} `json:"metadata"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	message, err := h.msgService.PostMessage(conversationID, userID, service.PostMessageInput{
		Content:     r.Content,
		Kind:        r.Kind,
		ReplyToID:   r.ReplyToID,
		Attachments: r.Attachments,
		Metadata:    r.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "消息发送成功", response.FilterMessageInfo(message))
}

// ListMessages 分页拉取会话消息（键集分页，before + before_id 向历史翻页）
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var before *time.Time
	var beforeID uint
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.BadRequest(c, "before must be RFC3339")
			return
		}
		before = &t
		if rawID := c.Query("before_id"); rawID != "" {
			id, err := strconv.ParseUint(rawID, 10, 32)
			if err != nil {
				response.BadRequest(c, "invalid before_id")
				return
			}
			beforeID = uint(id)
		}
	}

	messages, err := h.msgService.ListMessages(conversationID, userID, limit, before, beforeID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, h.buildMessageInfos(messages))
}

// buildMessageInfos 组装消息DTO：墓碑遮蔽、回应聚合、发送者昵称
func (h *MessageHandler) buildMessageInfos(messages []*model.Message) []*response.MessageInfo {
	reactionMap, _ := h.msgService.ReactionsForMessages(messages)

	senderIDs := make([]uint, 0, len(messages))
	for _, m := range messages {
		senderIDs = append(senderIDs, m.SenderID)
	}
	names, _ := h.userService.ResolveNames(senderIDs)

	infos := make([]*response.MessageInfo, 0, len(messages))
	for _, m := range messages {
		info := response.FilterMessageInfo(m)
		info.SenderName = names[m.SenderID]
		if reactions := reactionMap[m.ID]; len(reactions) > 0 {
			info.Reactions = response.GroupReactions(reactions)
		}
		infos = append(infos, info)
	}
	return infos
}

// EditMessage 编辑消息（仅发送者，已删除的不可编辑）
func (h *MessageHandler) EditMessage(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	type req struct {
		Content string `json:"content" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	message, err := h.msgService.EditMessage(messageID, userID, r.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "消息编辑成功", response.FilterMessageInfo(message))
}

// DeleteMessage 软删除消息（发送者或管理角色，重复删除为幂等空操作）
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	if err := h.msgService.DeleteMessage(messageID, userID); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "消息已删除", nil)
}

// AddReaction 添加表情回应（同三元组重复添加为幂等）
func (h *MessageHandler) AddReaction(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	type req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	reaction, err := h.reactionService.AddReaction(messageID, userID, r.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "回应成功", gin.H{
		"message_id": reaction.MessageID,
		"emoji":      reaction.Emoji,
	})
}

// RemoveReaction 移除表情回应（不存在时不报错）
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	emoji := c.Param("emoji")
	if emoji == "" {
		response.BadRequest(c, "emoji is required")
		return
	}

	if err := h.reactionService.RemoveReaction(messageID, userID, emoji); err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "回应已移除", nil)
}

// ListReactions 获取消息的回应（按表情聚合）
func (h *MessageHandler) ListReactions(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}

	reactions, err := h.reactionService.ListReactions(messageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, response.GroupReactions(reactions))
}
