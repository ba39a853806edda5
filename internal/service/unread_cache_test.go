package service

import (
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"oa-im/config"
	"oa-im/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCacheRedis 用内存Redis替换全局客户端，结束后恢复降级状态
func setupCacheRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr := miniredis.RunT(t)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	require.NoError(t, redis.InitRedis(config.RedisConfig{Host: host, Port: port}))
	t.Cleanup(func() {
		_ = redis.Close()
	})

	return mr
}

func TestUnreadCountIncrementsThroughCache(t *testing.T) {
	setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 首次读取回源数据库并回填缓存
	count, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// 发消息走缓存热路径递增
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "hi"})
	require.NoError(t, err)

	count, err = env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// 缓存值与数据库真值一致
	cached, err := redis.GetUnreadCount(bob.ID, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cached)
}

func TestUnreadCountAfterMessageDeleted(t *testing.T) {
	setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 计数缓存就位
	_, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)

	message, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "oops"})
	require.NoError(t, err)

	count, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// 删除后被删消息不再计入未读
	require.NoError(t, env.msgSvc.DeleteMessage(message.ID, alice.ID))

	count, err = env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestUnreadCountRecomputedAfterCounterEviction(t *testing.T) {
	mr := setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 回填缓存后积累未读
	_, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	// 计数key过TTL被驱逐
	mr.FastForward(25 * time.Hour)

	// 驱逐后再来一条：不得把缺失的key凭空建成1，读取按水位重算
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "one more"})
	require.NoError(t, err)

	count, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 11, count)
}

func TestMarkReadBackfillsCounter(t *testing.T) {
	setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		env.seedMessageAt(t, conv.ID, alice.ID, fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second))
	}

	// 标记已读后缓存回填为0
	require.NoError(t, env.readState.MarkRead(conv.ID, bob.ID, nil))

	cached, err := redis.GetUnreadCount(bob.ID, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, cached)

	// 回填后的新消息继续在缓存上递增
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "fresh"})
	require.NoError(t, err)

	count, err := env.readState.GetUnreadCount(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestUnreadSummaryUsesBackfilledCache(t *testing.T) {
	setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	_, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "hello"})
	require.NoError(t, err)

	// 首次汇总回源并回填
	summaries, err := env.readState.GetUnreadSummary(bob.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 1, summaries[0].UnreadCount)

	cached, err := redis.GetUnreadCount(bob.ID, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cached)

	// 再次汇总命中缓存，值不漂移
	summaries, err = env.readState.GetUnreadSummary(bob.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 1, summaries[0].UnreadCount)
}

func TestListMessagesCachesFirstPageSynchronously(t *testing.T) {
	setupCacheRedis(t)
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	posted, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "hello"})
	require.NoError(t, err)

	messages, err := env.msgSvc.ListMessages(conv.ID, bob.ID, 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// 返回时缓存已就位，不存在异步写缓存压过并发失效的窗口
	cached, err := redis.GetCachedLatestPage(conv.ID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, posted.ID, cached[0].ID)
}
