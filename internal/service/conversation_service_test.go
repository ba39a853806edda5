package service

import (
	"testing"
	"time"

	"oa-im/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDirectConversation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{bob.ID},
	})
	require.NoError(t, err)
	assert.True(t, conv.IsDirect())
	assert.True(t, conv.IsPrivate)
	require.NotNil(t, conv.DirectKey)
	assert.Equal(t, model.DirectPairKey(alice.ID, bob.ID), *conv.DirectKey)

	// 恰好两个在会成员
	count, err := env.memberRepo.CountActive(conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestCreateDirectConversationIdempotent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	first, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{bob.ID},
	})
	require.NoError(t, err)

	// 同一方重复创建
	again, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{bob.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// 对方反向创建也命中同一个会话
	reversed, err := env.convSvc.CreateConversation(bob.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{alice.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, reversed.ID)
}

func TestCreateDirectConversationValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	// 不指定对方
	_, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind: model.ConversationKindDirect,
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 与自己单聊
	_, err = env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{alice.ID},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 指定多个对方
	_, err = env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{bob.ID, carol.ID},
	})
	assert.ErrorIs(t, err, ErrValidation)

	// 未知会话类型
	_, err = env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      "broadcast",
		MemberIDs: []uint{bob.ID},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateGroupConversation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID, carol.ID)

	// 创建者自动成为 admin
	creator, err := env.memberRepo.GetActive(conv.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleAdmin, creator.Role)

	member, err := env.memberRepo.GetActive(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleMember, member.Role)

	count, err := env.memberRepo.CountActive(conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestMembershipRequiresExistingUser(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	// 单聊对象不存在
	_, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{9999},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// 群聊包含不存在的成员
	_, err = env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindGroup,
		Name:      "team",
		MemberIDs: []uint{bob.ID, 9999},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)
	err = env.convSvc.AddMember(conv.ID, alice.ID, 9999, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// 未知用户不留下任何成员行
	var count int64
	require.NoError(t, env.db.Model(&model.ConversationMember{}).
		Where("user_id = ?", 9999).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetConversationRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	eve := env.seedUser(t, "eve")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	_, members, err := env.convSvc.GetConversation(conv.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// 非成员
	_, _, err = env.convSvc.GetConversation(conv.ID, eve.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// 不存在的会话
	_, _, err = env.convSvc.GetConversation(9999, alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMember(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	require.NoError(t, env.convSvc.AddMember(conv.ID, alice.ID, carol.ID, ""))

	m, err := env.memberRepo.GetActive(conv.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleMember, m.Role)

	// 重复添加在会成员
	err = env.convSvc.AddMember(conv.ID, alice.ID, carol.ID, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAddMemberRoleGrantRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 普通成员不能授予非默认角色
	err := env.convSvc.AddMember(conv.ID, bob.ID, carol.ID, model.MemberRoleModerator)
	assert.ErrorIs(t, err, ErrForbidden)

	// admin 可以
	require.NoError(t, env.convSvc.AddMember(conv.ID, alice.ID, carol.ID, model.MemberRoleModerator))

	m, err := env.memberRepo.GetActive(conv.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleModerator, m.Role)
}

func TestDirectConversationMembershipFixed(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv, err := env.convSvc.CreateConversation(alice.ID, CreateConversationInput{
		Kind:      model.ConversationKindDirect,
		MemberIDs: []uint{bob.ID},
	})
	require.NoError(t, err)

	err = env.convSvc.AddMember(conv.ID, alice.ID, carol.ID, "")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	err = env.convSvc.RemoveMember(conv.ID, alice.ID, bob.ID)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRemoveMember(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID, carol.ID)

	// 普通成员不能移出别人
	err := env.convSvc.RemoveMember(conv.ID, bob.ID, carol.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// 自己退出不需要权限
	require.NoError(t, env.convSvc.RemoveMember(conv.ID, carol.ID, carol.ID))
	_, err = env.memberRepo.GetActive(conv.ID, carol.ID)
	assert.Error(t, err)

	// admin 可以移出他人
	require.NoError(t, env.convSvc.RemoveMember(conv.ID, alice.ID, bob.ID))

	count, err := env.memberRepo.CountActive(conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRejoinKeepsReadWatermark(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// bob 读到某个水位后退出
	watermark := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, env.readState.MarkRead(conv.ID, bob.ID, &watermark))
	require.NoError(t, env.convSvc.RemoveMember(conv.ID, bob.ID, bob.ID))

	// 重新加入复用原行，水位保留
	require.NoError(t, env.convSvc.AddMember(conv.ID, alice.ID, bob.ID, ""))

	m, err := env.memberRepo.GetActive(conv.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, m.LastReadAt)
	assert.WithinDuration(t, watermark, *m.LastReadAt, time.Millisecond)
}

func TestSetRole(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID, carol.ID)

	// 非 admin 不能改角色
	err := env.convSvc.SetRole(conv.ID, bob.ID, carol.ID, model.MemberRoleModerator)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.convSvc.SetRole(conv.ID, alice.ID, bob.ID, model.MemberRoleModerator))

	m, err := env.memberRepo.GetActive(conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRoleModerator, m.Role)

	// 非法角色
	err = env.convSvc.SetRole(conv.ID, alice.ID, bob.ID, "owner")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetArchived(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	// 非 admin 不能归档
	err := env.convSvc.SetArchived(conv.ID, bob.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.convSvc.SetArchived(conv.ID, alice.ID, true))

	got, err := env.convRepo.GetByID(conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	// 归档不阻止发消息
	_, err = env.msgSvc.PostMessage(conv.ID, bob.ID, PostMessageInput{Content: "still works"})
	require.NoError(t, err)

	require.NoError(t, env.convSvc.SetArchived(conv.ID, alice.ID, false))
	got, err = env.convRepo.GetByID(conv.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

func TestListConversationsOrder(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	first := env.seedGroup(t, "first", alice.ID, bob.ID)
	second := env.seedGroup(t, "second", alice.ID, bob.ID)

	// second 有更早的消息，first 有更新的消息
	base := time.Now().Add(-time.Hour)
	env.seedMessageAt(t, second.ID, bob.ID, "older", base)
	require.NoError(t, env.convRepo.AdvanceLastMessageAt(second.ID, base))
	env.seedMessageAt(t, first.ID, bob.ID, "newer", base.Add(time.Minute))
	require.NoError(t, env.convRepo.AdvanceLastMessageAt(first.ID, base.Add(time.Minute)))

	items, err := env.convSvc.ListConversations(alice.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].Conversation.ID)
	assert.Equal(t, second.ID, items[1].Conversation.ID)
	require.NotNil(t, items[0].LastMessage)
	assert.Equal(t, "newer", items[0].LastMessage.Content)
	assert.EqualValues(t, 1, items[0].UnreadCount)
}

func TestMonotonicLastMessageAt(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")

	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	later := time.Now().Truncate(time.Millisecond)
	earlier := later.Add(-time.Minute)

	require.NoError(t, env.convRepo.AdvanceLastMessageAt(conv.ID, later))
	// 乱序到达的更早时间戳不能把排序时间拉回去
	require.NoError(t, env.convRepo.AdvanceLastMessageAt(conv.ID, earlier))

	got, err := env.convRepo.GetByID(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.WithinDuration(t, later, *got.LastMessageAt, time.Millisecond)
}
