package service

import (
	"testing"

	"oa-im/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReactionTarget(t *testing.T, env *testEnv) (alice, bob *model.User, message *model.Message) {
	t.Helper()
	alice = env.seedUser(t, "alice")
	bob = env.seedUser(t, "bob")
	conv := env.seedGroup(t, "team", alice.ID, bob.ID)

	message, err := env.msgSvc.PostMessage(conv.ID, alice.ID, PostMessageInput{Content: "react to me"})
	require.NoError(t, err)
	return alice, bob, message
}

func TestAddReaction(t *testing.T) {
	env := newTestEnv(t)
	_, bob, message := seedReactionTarget(t, env)

	reaction, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", reaction.Emoji)

	reactions, err := env.reactionSvc.ListReactions(message.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
}

func TestAddReactionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, bob, message := seedReactionTarget(t, env)

	first, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "🎉")
	require.NoError(t, err)

	// 同一三元组重复添加返回已有行
	again, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "🎉")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	reactions, err := env.reactionSvc.ListReactions(message.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
}

func TestAddReactionDifferentEmojisCoexist(t *testing.T) {
	env := newTestEnv(t)
	alice, bob, message := seedReactionTarget(t, env)

	_, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "👍")
	require.NoError(t, err)
	_, err = env.reactionSvc.AddReaction(message.ID, bob.ID, "❤️")
	require.NoError(t, err)
	_, err = env.reactionSvc.AddReaction(message.ID, alice.ID, "👍")
	require.NoError(t, err)

	reactions, err := env.reactionSvc.ListReactions(message.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, reactions, 3)
}

func TestAddReactionValidation(t *testing.T) {
	env := newTestEnv(t)
	_, bob, message := seedReactionTarget(t, env)

	// 空字符串
	_, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	// 普通文本
	_, err = env.reactionSvc.AddReaction(message.ID, bob.ID, "nice")
	assert.ErrorIs(t, err, ErrValidation)

	// 多个emoji
	_, err = env.reactionSvc.AddReaction(message.ID, bob.ID, "👍👍")
	assert.ErrorIs(t, err, ErrValidation)

	// 文本混emoji
	_, err = env.reactionSvc.AddReaction(message.ID, bob.ID, "ok👍")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddReactionOnDeletedMessage(t *testing.T) {
	env := newTestEnv(t)
	alice, bob, message := seedReactionTarget(t, env)

	require.NoError(t, env.msgSvc.DeleteMessage(message.ID, alice.ID))

	_, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "👍")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddReactionRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	_, _, message := seedReactionTarget(t, env)
	eve := env.seedUser(t, "eve")

	_, err := env.reactionSvc.AddReaction(message.ID, eve.ID, "👍")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRemoveReaction(t *testing.T) {
	env := newTestEnv(t)
	_, bob, message := seedReactionTarget(t, env)

	_, err := env.reactionSvc.AddReaction(message.ID, bob.ID, "👍")
	require.NoError(t, err)

	require.NoError(t, env.reactionSvc.RemoveReaction(message.ID, bob.ID, "👍"))

	reactions, err := env.reactionSvc.ListReactions(message.ID, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, reactions)

	// 移除不存在的回应不算错误
	require.NoError(t, env.reactionSvc.RemoveReaction(message.ID, bob.ID, "👍"))
}
