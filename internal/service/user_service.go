package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/pkg/jwt"
	"oa-im/pkg/password"

	"gorm.io/gorm"
)

// UserService 用户服务（身份边界）
// 消息核心只消费用户ID；这里提供注册/登录与按ID批量解析展示信息
type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
}

func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService) *UserService {
	return &UserService{repo: repo, jwtService: jwtService}
}

// Register 注册
func (s *UserService) Register(username, email, plainPassword string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || plainPassword == "" {
		return nil, "", fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	// 密码哈希
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, "", err
	}
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       "offline",
		LastSeen:     time.Now(),
	}
	if err := s.repo.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", fmt.Errorf("%w: username or email already taken", ErrConflict)
		}
		return nil, "", err
	}
	// 默认签发 token，用户ID作为 subject
	token, err := s.jwtService.GenerateToken(
		fmt.Sprintf("%d", user.ID),
		map[string]interface{}{"username": user.Username},
	)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login 登录
func (s *UserService) Login(identifier, plainPassword string) (*model.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plainPassword == "" {
		return nil, "", fmt.Errorf("%w: identifier and password are required", ErrValidation)
	}
	u, err := s.repo.GetByUsernameOrEmail(identifier)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid credentials", ErrForbidden)
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return nil, "", fmt.Errorf("%w: invalid credentials", ErrForbidden)
	}
	token, err := s.jwtService.GenerateToken(
		fmt.Sprintf("%d", u.ID),
		map[string]interface{}{"username": u.Username},
	)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// GetProfile 获取用户资料
func (s *UserService) GetProfile(userID uint) (*model.User, error) {
	u, err := s.repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	return u, nil
}

// ResolveNames 按ID批量解析显示名（昵称优先，回退用户名）
func (s *UserService) ResolveNames(userIDs []uint) (map[uint]string, error) {
	users, err := s.repo.GetByIDs(userIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		if u.Nickname != "" {
			names[u.ID] = u.Nickname
		} else {
			names[u.ID] = u.Username
		}
	}
	return names, nil
}
