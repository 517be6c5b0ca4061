package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/token"
)

var (
	// ErrUserAlreadyExists 表示用户名已被注册。
	ErrUserAlreadyExists = errors.New("用户名已存在")
	// ErrInvalidCredentials 表示用户名或密码错误。
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)

// TokenPair 是登录成功后返回的令牌对。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserService 接口定义了用户相关的业务逻辑。
type UserService interface {
	Register(username, password, email string) (*model.User, error)
	Login(username, password string) (*TokenPair, error)
	GetByID(userID uint) (*model.User, error)
}

type userService struct {
	users  repository.UserRepository
	jwt    *token.JWTManager
	emails EmailService
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(users repository.UserRepository, jwt *token.JWTManager, emails EmailService) UserService {
	return &userService{users: users, jwt: jwt, emails: emails}
}

// Register 注册一个新用户。密码使用 bcrypt 加密后存储，
// 注册成功后异步投递一封欢迎邮件（失败不影响注册）。
func (s *userService) Register(username, password, email string) (*model.User, error) {
	if _, err := s.users.FindByUsername(username); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &model.User{
		Username: username,
		Password: string(hashed),
		Email:    email,
		Role:     "user",
	}
	if err := s.users.Create(user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	if s.emails != nil && user.Email != "" {
		if err := s.emails.QueueEmail(user.Email, "欢迎加入", fmt.Sprintf("你好 %s，你的账户已创建成功。", user.Username)); err != nil {
			log.Warnf("欢迎邮件入队失败: userID=%d, error=%v", user.ID, err)
		}
	}
	return user, nil
}

// Login 校验用户凭证并签发令牌对。
func (s *userService) Login(username, password string) (*TokenPair, error) {
	user, err := s.users.FindByUsername(username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("生成 access token 失败: %w", err)
	}
	refreshToken, err := s.jwt.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("生成 refresh token 失败: %w", err)
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// GetByID 根据 ID 查询用户。
func (s *userService) GetByID(userID uint) (*model.User, error) {
	return s.users.FindByID(userID)
}
