package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypingSignal 输入状态信号（短暂存在的数据）
// ExpiresAt 写入值本身：读取时按 ExpiresAt 与当前时间比较做惰性过滤，
// Redis 的 key TTL 只负责物理回收，不承担正确性
type TypingSignal struct {
	ConversationID uint      `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	Media          string    `json:"media,omitempty"` // text/voice
	ExpiresAt      time.Time `json:"expires_at"`
}

// 输入状态相关常量
const (
	TypingKeyPrefix   = "oaim:typing:"     // 单个输入信号key前缀
	TypingIndexPrefix = "oaim:typing:set:" // 会话内正在输入用户集合key前缀
	TypingIndexTTL    = 10 * time.Minute   // 集合索引兜底TTL
)

func typingKey(conversationID, userID uint) string {
	return fmt.Sprintf("%s%d:%d", TypingKeyPrefix, conversationID, userID)
}

func typingIndexKey(conversationID uint) string {
	return fmt.Sprintf("%s%d", TypingIndexPrefix, conversationID)
}

// SetTypingSignal 写入/刷新输入信号（upsert语义，重复输入只是延长有效期）
func SetTypingSignal(conversationID, userID uint, media string, ttl time.Duration) (*TypingSignal, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	signal := &TypingSignal{
		ConversationID: conversationID,
		UserID:         userID,
		Media:          media,
		ExpiresAt:      time.Now().Add(ttl),
	}

	data, err := json.Marshal(signal)
	if err != nil {
		return nil, fmt.Errorf("序列化输入信号失败: %w", err)
	}

	if err := Set(typingKey(conversationID, userID), data, ttl); err != nil {
		return nil, fmt.Errorf("写入输入信号失败: %w", err)
	}

	// 维护会话内正在输入的用户集合索引
	indexKey := typingIndexKey(conversationID)
	if err := client.SAdd(ctx, indexKey, userID).Err(); err != nil {
		return nil, fmt.Errorf("更新输入用户集合失败: %w", err)
	}
	_ = client.Expire(ctx, indexKey, TypingIndexTTL).Err()

	return signal, nil
}

// ClearTypingSignal 立即清除输入信号（发送消息或主动停止输入时调用）
func ClearTypingSignal(conversationID, userID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if err := Del(typingKey(conversationID, userID)); err != nil {
		return fmt.Errorf("删除输入信号失败: %w", err)
	}

	if err := client.SRem(ctx, typingIndexKey(conversationID), userID).Err(); err != nil {
		return fmt.Errorf("从输入用户集合移除失败: %w", err)
	}

	return nil
}

// GetTypingSignals 获取会话内仍然有效的输入信号
// 正确性由 ExpiresAt 判断保证：即使没有任何清理逻辑跑过，过期信号也不会返回
func GetTypingSignals(conversationID uint) ([]TypingSignal, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	indexKey := typingIndexKey(conversationID)
	members, err := client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取输入用户集合失败: %w", err)
	}

	now := time.Now()
	var signals []TypingSignal
	for _, member := range members {
		var userID uint
		if _, err := fmt.Sscanf(member, "%d", &userID); err != nil {
			continue
		}

		data, err := Get(typingKey(conversationID, userID))
		if err != nil {
			// key已被TTL回收，顺手清掉集合索引
			client.SRem(ctx, indexKey, member)
			continue
		}

		var signal TypingSignal
		if err := json.Unmarshal([]byte(data), &signal); err != nil {
			continue
		}

		// 惰性过滤：只返回未过期的信号
		if signal.ExpiresAt.After(now) {
			signals = append(signals, signal)
		} else {
			client.SRem(ctx, indexKey, member)
		}
	}

	return signals, nil
}

// CleanExpiredTypingSignals 清理集合中已失效的成员（定期任务，纯粹的存储收敛）
func CleanExpiredTypingSignals(conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	indexKey := typingIndexKey(conversationID)
	members, err := client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		var userID uint
		if _, err := fmt.Sscanf(member, "%d", &userID); err != nil {
			continue
		}
		exists, err := Exists(typingKey(conversationID, userID))
		if err != nil {
			continue
		}
		if exists == 0 {
			client.SRem(ctx, indexKey, member)
		}
	}

	return nil
}
