package model

import (
	"time"
)

// 消息类型
const (
	MessageKindText   = "text"
	MessageKindImage  = "image"
	MessageKindFile   = "file"
	MessageKindSystem = "system"
	MessageKindEmoji  = "emoji"
	MessageKindGif    = "gif"
	MessageKindVoice  = "voice"
)

// Attachment 消息附件（按 Kind 取用对应字段的封闭变体，而非自由JSON）
// image/gif: URL/MimeType/Width/Height
// file: URL/Name/Size/MimeType
// voice: URL/DurationMS
type Attachment struct {
	Kind       string `json:"kind"`
	URL        string `json:"url"`
	Name       string `json:"name,omitempty"`
	Size       int64  `json:"size,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

// Message 消息模型
// 消息行只追加、永不物理删除：编辑改写 Content/EditedAt/IsEdited，
// 删除仅置 IsDeleted/DeletedAt，读取侧统一做墓碑遮蔽
// ReplyToID 指向同一会话内的另一条消息（写入时校验）
// 注意：DeletedAt 是业务字段而非 gorm 软删除，被删消息仍要出现在消息流里

type Message struct {
	ID             uint                   `gorm:"primaryKey"`
	ConversationID uint                   `gorm:"not null;index:idx_conv_created,priority:1;comment:会话ID"`
	SenderID       uint                   `gorm:"not null;index;comment:发送者ID"`
	Content        string                 `gorm:"type:text;comment:消息内容"`
	Kind           string                 `gorm:"type:varchar(32);not null;default:'text';comment:消息类型"`
	ReplyToID      *uint                  `gorm:"index;comment:被回复消息ID"`
	IsEdited       bool                   `gorm:"default:false;comment:是否被编辑过"`
	EditedAt       *time.Time             `gorm:"comment:编辑时间"`
	IsDeleted      bool                   `gorm:"default:false;comment:是否已删除"`
	DeletedAt      *time.Time             `gorm:"comment:删除时间"`
	Metadata       map[string]interface{} `gorm:"serializer:json;comment:扩展元数据"`
	Attachments    []Attachment           `gorm:"serializer:json;comment:附件列表"`
	CreatedAt      time.Time              `gorm:"index:idx_conv_created,priority:2;comment:创建时间"`
	UpdatedAt      time.Time              `gorm:"comment:更新时间"`
}

func (Message) TableName() string { return "message" }

// ValidMessageKind 校验消息类型取值
func ValidMessageKind(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindFile,
		MessageKindSystem, MessageKindEmoji, MessageKindGif, MessageKindVoice:
		return true
	}
	return false
}
