package redis

import (
	"testing"
	"time"

	"oa-im/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageCacheRoundTrip(t *testing.T) {
	setupMiniredis(t)

	// 未命中
	_, err := GetCachedLatestPage(1)
	assert.Error(t, err)

	messages := []*model.Message{
		{ID: 1, ConversationID: 1, SenderID: 2, Content: "a", Kind: "text", CreatedAt: time.Now().Add(-time.Minute)},
		{ID: 2, ConversationID: 1, SenderID: 3, Content: "b", Kind: "text", CreatedAt: time.Now()},
	}
	require.NoError(t, CacheLatestPage(1, messages))

	cached, err := GetCachedLatestPage(1)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "a", cached[0].Content)
	assert.Equal(t, "b", cached[1].Content)

	// 失效后再次未命中
	require.NoError(t, InvalidateLatestPage(1))
	_, err = GetCachedLatestPage(1)
	assert.Error(t, err)
}

func TestPageCacheTrimsToMaxPage(t *testing.T) {
	setupMiniredis(t)

	old := MaxCachedPage
	MaxCachedPage = 3
	t.Cleanup(func() { MaxCachedPage = old })

	messages := make([]*model.Message, 0, 5)
	for i := 1; i <= 5; i++ {
		messages = append(messages, &model.Message{ID: uint(i), ConversationID: 1, Content: "m", Kind: "text"})
	}
	require.NoError(t, CacheLatestPage(1, messages))

	// 只保留最新的一段（升序尾部）
	cached, err := GetCachedLatestPage(1)
	require.NoError(t, err)
	require.Len(t, cached, 3)
	assert.EqualValues(t, 3, cached[0].ID)
	assert.EqualValues(t, 5, cached[2].ID)
}
