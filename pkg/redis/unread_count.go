package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 未读消息计数缓存
// 计数按 (用户, 会话) 维度存放，数据库中的已读水位是唯一事实来源，
// 这里只是加速会话列表渲染：未命中或不一致时由服务层按水位重算并回填
const (
	UnreadCountKeyPrefix = "oaim:unread:" // 未读计数key前缀，格式 oaim:unread:{userID}:{conversationID}
	UnreadCountTTL       = 24 * time.Hour // 计数TTL，避免僵尸key堆积
)

func unreadKey(userID, conversationID uint) string {
	return fmt.Sprintf("%s%d:%d", UnreadCountKeyPrefix, userID, conversationID)
}

// 只对已存在的key递增：key缺失（从未回填或已过TTL）时凭空INCR会从1开始计数，
// 与数据库真值脱节，所以缺失保持缺失，等读取方按水位重算回填
var incrUnreadIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	local v = redis.call("INCR", KEYS[1])
	redis.call("EXPIRE", KEYS[1], ARGV[1])
	return v
end
return -1
`)

// IncrementUnreadCount 增加某用户在某会话的未读计数（key不存在则不创建）
func IncrementUnreadCount(userID, conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := unreadKey(userID, conversationID)
	ttlSeconds := int64(UnreadCountTTL / time.Second)

	if err := incrUnreadIfExists.Run(ctx, client, []string{key}, ttlSeconds).Err(); err != nil {
		return fmt.Errorf("增加未读计数失败: %w", err)
	}

	return nil
}

// BatchIncrementUnreadCount 批量增加多个用户在同一会话的未读计数
func BatchIncrementUnreadCount(userIDs []uint, conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	ttlSeconds := int64(UnreadCountTTL / time.Second)
	for _, userID := range userIDs {
		key := unreadKey(userID, conversationID)
		if err := incrUnreadIfExists.Run(ctx, client, []string{key}, ttlSeconds).Err(); err != nil {
			return fmt.Errorf("批量增加未读计数失败: %w", err)
		}
	}

	return nil
}

// BatchResetUnreadCount 批量删除多个用户在同一会话的未读计数
// 消息被删除后计数真值变化，直接让缓存失效，下次读取按水位重算
func BatchResetUnreadCount(userIDs []uint, conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, unreadKey(userID, conversationID))
	}
	if len(keys) == 0 {
		return nil
	}

	if err := Del(keys...); err != nil {
		return fmt.Errorf("批量重置未读计数失败: %w", err)
	}

	return nil
}

// GetUnreadCount 获取缓存的未读计数，key不存在返回-1（需回源数据库）
func GetUnreadCount(userID, conversationID uint) (int64, error) {
	if client == nil {
		return 0, fmt.Errorf("redis客户端未初始化")
	}

	result, err := Get(unreadKey(userID, conversationID))
	if err != nil {
		if err.Error() == "redis: nil" {
			return -1, nil
		}
		return 0, fmt.Errorf("获取未读计数失败: %w", err)
	}

	count, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析未读计数失败: %w", err)
	}

	return count, nil
}

// SetUnreadCount 设置未读计数（数据库重算后回填）
func SetUnreadCount(userID, conversationID uint, count int64) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if err := Set(unreadKey(userID, conversationID), count, UnreadCountTTL); err != nil {
		return fmt.Errorf("设置未读计数失败: %w", err)
	}

	return nil
}

// ResetUnreadCount 清零未读计数（标记已读后调用）
func ResetUnreadCount(userID, conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if err := Del(unreadKey(userID, conversationID)); err != nil {
		return fmt.Errorf("重置未读计数失败: %w", err)
	}

	return nil
}
