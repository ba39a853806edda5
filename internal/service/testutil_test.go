package service

import (
	"path/filepath"
	"testing"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 创建临时sqlite数据库并迁移全部表
// TranslateError 与生产配置保持一致：唯一索引冲突转为 gorm.ErrDuplicatedKey
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.ConversationMember{},
		&model.Message{},
		&model.MessageReaction{},
	))

	return db
}

// testEnv 服务测试用的依赖集合
type testEnv struct {
	db          *gorm.DB
	userRepo    *repository.UserRepository
	convRepo    *repository.ConversationRepository
	memberRepo  *repository.MemberRepository
	msgRepo     *repository.MessageRepository
	reactlRepo  *repository.ReactionRepository
	readState   *ReadStateService
	convSvc     *ConversationService
	msgSvc      *MessageService
	reactionSvc *ReactionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	readState := NewReadStateService(memberRepo, msgRepo)

	return &testEnv{
		db:          db,
		userRepo:    userRepo,
		convRepo:    convRepo,
		memberRepo:  memberRepo,
		msgRepo:     msgRepo,
		reactlRepo:  reactionRepo,
		readState:   readState,
		convSvc:     NewConversationService(convRepo, memberRepo, msgRepo, userRepo, readState),
		msgSvc:      NewMessageService(msgRepo, convRepo, memberRepo, reactionRepo, 20, 100),
		reactionSvc: NewReactionService(reactionRepo, msgRepo, memberRepo),
	}
}

// seedUser 插入测试用户
func (e *testEnv) seedUser(t *testing.T, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@test.local",
		PasswordHash: "x",
		Nickname:     username,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

// seedGroup 创建群聊，第一个用户为 admin
func (e *testEnv) seedGroup(t *testing.T, name string, creatorID uint, memberIDs ...uint) *model.Conversation {
	t.Helper()
	conv, err := e.convSvc.CreateConversation(creatorID, CreateConversationInput{
		Kind:      model.ConversationKindGroup,
		Name:      name,
		MemberIDs: memberIDs,
	})
	require.NoError(t, err)
	return conv
}

// seedMessageAt 绕过服务层直接按指定时间插一条消息
func (e *testEnv) seedMessageAt(t *testing.T, conversationID, senderID uint, content string, at time.Time) *model.Message {
	t.Helper()
	message := &model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           model.MessageKindText,
		CreatedAt:      at,
	}
	require.NoError(t, e.db.Create(message).Error)
	return message
}
