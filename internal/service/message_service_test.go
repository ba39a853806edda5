package service

import (
	"fmt"
	"testing"
	"time"

	"oa-im/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	message, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageKindText, message.Kind)
	assert.False(t, message.IsDeleted)

	// 会话排序时间戳被推进到消息时间
	got, err := env.convRepo.GetByID(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.WithinDuration(t, message.CreatedAt, *got.LastMessageAt, time.Millisecond)
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	eve := env.seedUser(t, "eve")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 内容与附件都为空
	_, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{})
	assert.ErrorIs(t, err, ErrValidation)

	// 只有附件没有内容是合法的
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Kind: model.MessageKindImage,
		Attachments: []model.Attachment{
			{Kind: "image", URL: "https://files.local/a.png", Name: "a.png"},
		},
	})
	require.NoError(t, err)

	// 未知消息类型
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Content: "x",
		Kind:    "hologram",
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 非成员发消息
	_, err = env.msgSvc.PostMessage(conv.ID, eve.ID, PostMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	// 会话不存在
	_, err = env.msgSvc.PostMessage(9999, alice.ID, PostMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostMessageReplyValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)
	other := env.seedGroup(t, "other", alice.ID, bob.ID)

	target, err := env.msgSvc.PostMessage(conv.ID, bob.ID, PostMessageInput{Content: "original"})
	require.NoError(t, err)

	// 正常回复
	reply, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Content:   "reply",
		ReplyToID: &target.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, target.ID, *reply.ReplyToID)

	// 跨会话回复
	_, err = env.msgSvc.PostMessage(other.ID, alice.ID, PostMessageInput{
		Content:   "reply",
		ReplyToID: &target.ID,
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 回复不存在的消息
	missing := uint(9999)
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Content:   "reply",
		ReplyToID: &missing,
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 回复已删除的消息是允许的（墓碑仍是合法回复目标）
	require.NoError(t, env.msgSvc.DeleteMessage(target.ID, bob.ID))
	_, err = env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{
		Content:   "reply to tombstone",
		ReplyToID: &target.ID,
	})
	require.NoError(t, err)
}

func TestEditMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	message, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "draft"})
	require.NoError(t, err)

	// 非发送者不能编辑
	_, err = env.msgSvc.EditMessage(message.ID, bob.ID, "hijacked")
	assert.ErrorIs(t, err, ErrForbidden)

	// 空内容
	_, err = env.msgSvc.EditMessage(message.ID, alice.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	edited, err := env.msgSvc.EditMessage(message.ID, alice.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)

	// 已删除的消息不可编辑
	require.NoError(t, env.msgSvc.DeleteMessage(message.ID, alice.ID))
	_, err = env.msgSvc.EditMessage(message.ID, alice.ID, "too late")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID, carol.ID)

	message, err := env.msgSvc.PostMessage(conv.ID, bob.ID, PostMessageInput{Content: "oops"})
	require.NoError(t, err)

	// 普通成员不能删别人的消息
	err = env.msgSvc.DeleteMessage(message.ID, carol.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// admin 可以
	require.NoError(t, env.msgSvc.DeleteMessage(message.ID, alice.ID))

	// 行保留，内容保留在存储中
	got, err := env.msgRepo.GetByID(message.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, "oops", got.Content)
	require.NotNil(t, got.DeletedAt)

	// 重复删除是幂等空操作
	require.NoError(t, env.msgSvc.DeleteMessage(message.ID, alice.ID))
}

func TestListMessagesPagination(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 1; i <= 50; i++ {
		env.seedMessageAt(t, conv.ID, bob.ID, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}

	// 首页：最新20条，升序返回
	page, err := env.msgSvc.ListMessages(conv.ID, alice.ID, 20, nil, 0)
	require.NoError(t, err)
	require.Len(t, page, 20)
	assert.Equal(t, "m31", page[0].Content)
	assert.Equal(t, "m50", page[19].Content)

	// 用首页最旧一条作为游标向历史翻页
	oldest := page[0]
	page2, err := env.msgSvc.ListMessages(conv.ID, alice.ID, 20, &oldest.CreatedAt, oldest.ID)
	require.NoError(t, err)
	require.Len(t, page2, 20)
	assert.Equal(t, "m11", page2[0].Content)
	assert.Equal(t, "m30", page2[19].Content)

	// 最后一页不足一整页
	oldest = page2[0]
	page3, err := env.msgSvc.ListMessages(conv.ID, alice.ID, 20, &oldest.CreatedAt, oldest.ID)
	require.NoError(t, err)
	require.Len(t, page3, 10)
	assert.Equal(t, "m1", page3[0].Content)
	assert.Equal(t, "m10", page3[9].Content)
}

func TestListMessagesLimitClamp(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	base := time.Now().Add(-time.Hour)
	for i := 1; i <= 30; i++ {
		env.seedMessageAt(t, conv.ID, bob.ID, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
	}

	// limit 0 → 默认页大小
	page, err := env.msgSvc.ListMessages(conv.ID, alice.ID, 0, nil, 0)
	require.NoError(t, err)
	assert.Len(t, page, 20)

	// 超出上限 → 截到最大页
	svc := NewMessageService(env.msgRepo, env.convRepo, env.memberRepo, env.reactlRepo, 20, 25)
	page, err = svc.ListMessages(conv.ID, alice.ID, 1000, nil, 0)
	require.NoError(t, err)
	assert.Len(t, page, 25)
}

func TestListMessagesKeepsTombstones(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	kept, err := env.msgSvc.PostMessage(conv.ID, bob.ID, PostMessageInput{Content: "kept"})
	require.NoError(t, err)
	deleted, err := env.msgSvc.PostMessage(conv.ID, bob.ID, PostMessageInput{Content: "secret"})
	require.NoError(t, err)
	require.NoError(t, env.msgSvc.DeleteMessage(deleted.ID, bob.ID))

	page, err := env.msgSvc.ListMessages(conv.ID, alice.ID, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, kept.ID, page[0].ID)
	assert.Equal(t, deleted.ID, page[1].ID)
	assert.True(t, page[1].IsDeleted)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	eve := env.seedUser(t, "eve")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	_, err := env.msgSvc.ListMessages(conv.ID, eve.ID, 10, nil, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}
