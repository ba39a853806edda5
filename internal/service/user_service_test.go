package service

import (
	"testing"
	"time"

	"oa-im/config"
	"oa-im/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserServiceForTest(t *testing.T, env *testEnv) *UserService {
	t.Helper()
	jwtSvc := jwt.NewJWTService(config.JWTConfig{
		Secret:     "test-secret",
		ExpireTime: time.Hour,
		Issuer:     "oa-im-test",
	})
	return NewUserService(env.userRepo, jwtSvc)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	svc := newUserServiceForTest(t, env)

	user, token, err := svc.Register("alice", "alice@test.local", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	// 用户名登录
	_, token, err = svc.Login("alice", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// 邮箱登录
	_, _, err = svc.Login("alice@test.local", "s3cret-pass")
	require.NoError(t, err)

	// 密码错误
	_, _, err = svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrForbidden)

	// 用户不存在
	_, _, err = svc.Login("nobody", "whatever")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	svc := newUserServiceForTest(t, env)

	_, _, err := svc.Register("alice", "alice@test.local", "s3cret-pass")
	require.NoError(t, err)

	_, _, err = svc.Register("alice", "other@test.local", "s3cret-pass")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResolveNames(t *testing.T) {
	env := newTestEnv(t)
	svc := newUserServiceForTest(t, env)

	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	bob.Nickname = ""
	require.NoError(t, env.db.Save(bob).Error)

	names, err := svc.ResolveNames([]uint{alice.ID, bob.ID})
	require.NoError(t, err)
	assert.Equal(t, "alice", names[alice.ID])
	// 无昵称时回退到用户名
	assert.Equal(t, "bob", names[bob.ID])
}
