package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// PresenceData 在线状态数据
type PresenceData struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"` // online/offline
	LastSeen  time.Time `json:"last_seen"`
	Connected bool      `json:"connected"` // 是否有活跃连接
}

// 在线状态相关常量
const (
	PresenceKeyPrefix = "oaim:presence:user:" // 用户在线状态key前缀
	OnlineUsersKey    = "oaim:online:users"   // 在线用户集合key
	PresenceTTL       = 2 * time.Minute       // 在线状态TTL（2倍心跳周期）
)

// SetUserPresence 设置用户在线状态
func SetUserPresence(userID uint, username string, status string) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)

	presence := PresenceData{
		UserID:    userID,
		Username:  username,
		Status:    status,
		LastSeen:  time.Now(),
		Connected: status == "online",
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("序列化在线状态失败: %w", err)
	}

	// 设置用户状态，带TTL
	if err := Set(key, data, PresenceTTL); err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}

	// 更新在线用户集合
	if status == "online" {
		err = client.SAdd(ctx, OnlineUsersKey, userID).Err()
	} else {
		err = client.SRem(ctx, OnlineUsersKey, userID).Err()
	}

	if err != nil {
		return fmt.Errorf("更新在线用户集合失败: %w", err)
	}

	return nil
}

// GetUserPresence 获取用户在线状态
func GetUserPresence(userID uint) (*PresenceData, error) {
	key := fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)

	data, err := Get(key)
	if err != nil {
		return nil, fmt.Errorf("获取用户在线状态失败: %w", err)
	}

	var presence PresenceData
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("反序列化在线状态失败: %w", err)
	}

	return &presence, nil
}

// IsUserOnline 检查用户是否在线
func IsUserOnline(userID uint) (bool, error) {
	key := fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)

	exists, err := Exists(key)
	if err != nil {
		return false, fmt.Errorf("检查用户在线状态失败: %w", err)
	}

	return exists > 0, nil
}

// RefreshUserPresence 刷新用户在线状态（延长TTL）
func RefreshUserPresence(userID uint) error {
	key := fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)

	exists, err := Exists(key)
	if err != nil {
		return fmt.Errorf("检查用户状态失败: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("用户不在线")
	}

	if err := Expire(key, PresenceTTL); err != nil {
		return fmt.Errorf("刷新用户在线状态失败: %w", err)
	}

	return nil
}

// RemoveUserPresence 移除用户在线状态
func RemoveUserPresence(userID uint) error {
	key := fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)

	if err := Del(key); err != nil {
		return fmt.Errorf("删除用户在线状态失败: %w", err)
	}

	if err := client.SRem(ctx, OnlineUsersKey, userID).Err(); err != nil {
		return fmt.Errorf("从在线用户集合移除失败: %w", err)
	}

	return nil
}
