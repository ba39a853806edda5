package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"oa-im/internal/model"
)

// 会话最新一页消息的缓存
// 只缓存无游标的首屏请求（打开会话的高频路径），带游标的翻页直接走数据库
// 写路径（发消息/编辑/删除）负责失效
const (
	PageCacheKeyPrefix = "oaim:page:" // 首屏消息缓存key前缀
)

// 缓存配置（从配置文件注入）
var (
	PageCacheTTL   = 1 * time.Hour // 首屏缓存TTL
	MaxCachedPage  = 100           // 首屏缓存最多容纳的消息数
)

// SetPageCacheConfig 设置缓存配置
func SetPageCacheConfig(ttl time.Duration, maxPage int) {
	if ttl > 0 {
		PageCacheTTL = ttl
	}
	if maxPage > 0 {
		MaxCachedPage = maxPage
	}
}

func pageCacheKey(conversationID uint) string {
	return fmt.Sprintf("%s%d", PageCacheKeyPrefix, conversationID)
}

// CacheLatestPage 缓存会话的最新一页消息（升序存放）
func CacheLatestPage(conversationID uint, messages []*model.Message) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	if len(messages) > MaxCachedPage {
		messages = messages[len(messages)-MaxCachedPage:]
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("序列化消息页失败: %w", err)
	}

	if err := Set(pageCacheKey(conversationID), data, PageCacheTTL); err != nil {
		return fmt.Errorf("缓存消息页失败: %w", err)
	}

	return nil
}

// GetCachedLatestPage 读取会话的最新一页消息缓存，未命中返回错误
func GetCachedLatestPage(conversationID uint) ([]*model.Message, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	data, err := Get(pageCacheKey(conversationID))
	if err != nil {
		return nil, err
	}

	var messages []*model.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("反序列化消息页失败: %w", err)
	}

	return messages, nil
}

// InvalidateLatestPage 使会话首屏缓存失效（发消息/编辑/删除后调用）
func InvalidateLatestPage(conversationID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return Del(pageCacheKey(conversationID))
}
