package response

import (
	"net/http"
	"time"

	"oa-im/internal/model"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`            // 状态码：0表示成功，其他表示错误
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据
	Error   string      `json:"error,omitempty"` // 错误详情（仅在开发环境显示）
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 400错误（参数/校验错误）
func BadRequest(c *gin.Context, message string) {
	Error(c, 400, message)
}

// Unauthorized 401错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, 401, message)
}

// Forbidden 403错误
func Forbidden(c *gin.Context, message string) {
	Error(c, 403, message)
}

// NotFound 404错误
func NotFound(c *gin.Context, message string) {
	Error(c, 404, message)
}

// Conflict 409错误
func Conflict(c *gin.Context, message string) {
	Error(c, 409, message)
}

// InvalidOperation 422错误（操作与会话类型不兼容等）
func InvalidOperation(c *gin.Context, message string) {
	Error(c, 422, message)
}

// InternalError 500错误
func InternalError(c *gin.Context, message string) {
	Error(c, 500, message)
}

// 时间统一输出格式
const timeLayout = "2006-01-02 15:04:05.000"

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// UserInfo 用户信息（隐藏敏感字段）
type UserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

// FilterUserInfo 过滤用户信息，隐藏敏感字段
func FilterUserInfo(user *model.User) *UserInfo {
	if user == nil {
		return nil
	}

	return &UserInfo{
		ID:       user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Avatar:   user.Avatar,
		Status:   user.Status,
		LastSeen: formatTime(user.LastSeen),
	}
}

// LoginResponse 登录响应
type LoginResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// MemberInfo 会话成员信息
type MemberInfo struct {
	UserID               uint   `json:"user_id"`
	Role                 string `json:"role"`
	JoinedAt             string `json:"joined_at"`
	IsActive             bool   `json:"is_active"`
	LastReadAt           string `json:"last_read_at,omitempty"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	MuteUntil            string `json:"mute_until,omitempty"`
}

// FilterMemberInfo 过滤会话成员信息
func FilterMemberInfo(m *model.ConversationMember) *MemberInfo {
	if m == nil {
		return nil
	}
	return &MemberInfo{
		UserID:               m.UserID,
		Role:                 m.Role,
		JoinedAt:             formatTime(m.JoinedAt),
		IsActive:             m.IsActive,
		LastReadAt:           formatTimePtr(m.LastReadAt),
		NotificationsEnabled: m.NotificationsEnabled,
		MuteUntil:            formatTimePtr(m.MuteUntil),
	}
}

// ConversationInfo 会话信息
type ConversationInfo struct {
	ID            uint                   `json:"id"`
	Name          string                 `json:"name"`
	Kind          string                 `json:"kind"`
	Description   string                 `json:"description,omitempty"`
	IsPrivate     bool                   `json:"is_private"`
	IsArchived    bool                   `json:"is_archived"`
	OwnerID       uint                   `json:"owner_id"`
	LastMessageAt string                 `json:"last_message_at,omitempty"`
	Settings      map[string]interface{} `json:"settings,omitempty"`
	CreatedAt     string                 `json:"created_at"`
}

// FilterConversationInfo 过滤会话信息
func FilterConversationInfo(conv *model.Conversation) *ConversationInfo {
	if conv == nil {
		return nil
	}
	return &ConversationInfo{
		ID:            conv.ID,
		Name:          conv.Name,
		Kind:          conv.Kind,
		Description:   conv.Description,
		IsPrivate:     conv.IsPrivate,
		IsArchived:    conv.IsArchived,
		OwnerID:       conv.OwnerID,
		LastMessageAt: formatTimePtr(conv.LastMessageAt),
		Settings:      conv.Settings,
		CreatedAt:     formatTime(conv.CreatedAt),
	}
}

// ConversationListItem 会话列表项（带未读数与最后消息预览）
type ConversationListItem struct {
	Conversation *ConversationInfo `json:"conversation"`
	UnreadCount  int64             `json:"unread_count"`
	LastMessage  *MessageInfo      `json:"last_message,omitempty"`
}

// ReactionGroup 按表情聚合的回应
type ReactionGroup struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIDs []uint `json:"user_ids"`
}

// GroupReactions 把回应行按表情聚合（保持首次出现的表情顺序）
func GroupReactions(reactions []*model.MessageReaction) []ReactionGroup {
	var order []string
	byEmoji := make(map[string]*ReactionGroup)
	for _, r := range reactions {
		group, ok := byEmoji[r.Emoji]
		if !ok {
			order = append(order, r.Emoji)
			group = &ReactionGroup{Emoji: r.Emoji}
			byEmoji[r.Emoji] = group
		}
		group.Count++
		group.UserIDs = append(group.UserIDs, r.UserID)
	}

	groups := make([]ReactionGroup, 0, len(order))
	for _, emoji := range order {
		groups = append(groups, *byEmoji[emoji])
	}
	return groups
}

// MessageInfo 消息信息
// 被删除的消息在这里统一做墓碑遮蔽：内容清空、附件清空，仅保留骨架
type MessageInfo struct {
	ID             uint                   `json:"id"`
	ConversationID uint                   `json:"conversation_id"`
	SenderID       uint                   `json:"sender_id"`
	SenderName     string                 `json:"sender_name,omitempty"`
	Content        string                 `json:"content"`
	Kind           string                 `json:"kind"`
	ReplyToID      *uint                  `json:"reply_to_id,omitempty"`
	IsEdited       bool                   `json:"is_edited"`
	EditedAt       string                 `json:"edited_at,omitempty"`
	IsDeleted      bool                   `json:"is_deleted"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Attachments    []model.Attachment     `json:"attachments,omitempty"`
	Reactions      []ReactionGroup        `json:"reactions,omitempty"`
	CreatedAt      string                 `json:"created_at"`
}

// FilterMessageInfo 过滤消息信息（读取边界，软删除消息在此转为墓碑）
func FilterMessageInfo(message *model.Message) *MessageInfo {
	if message == nil {
		return nil
	}

	info := &MessageInfo{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		Kind:           message.Kind,
		ReplyToID:      message.ReplyToID,
		IsEdited:       message.IsEdited,
		EditedAt:       formatTimePtr(message.EditedAt),
		IsDeleted:      message.IsDeleted,
		Metadata:       message.Metadata,
		Attachments:    message.Attachments,
		CreatedAt:      formatTime(message.CreatedAt),
	}

	// 墓碑：保留行与回复链接，抹掉内容
	if message.IsDeleted {
		info.Content = ""
		info.Metadata = nil
		info.Attachments = nil
	}

	return info
}

// TypingInfo 正在输入的用户
type TypingInfo struct {
	UserID    uint   `json:"user_id"`
	Media     string `json:"media,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

// UnreadSummaryItem 未读汇总项
type UnreadSummaryItem struct {
	ConversationID uint  `json:"conversation_id"`
	UnreadCount    int64 `json:"unread_count"`
}
