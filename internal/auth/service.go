// Package auth 用户注册、密码校验和 JWT 签发
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/davcore/davcore/internal/models"
)

// DefaultTokenTTL 未配置时令牌的有效期
const DefaultTokenTTL = 24 * time.Hour

// JWTClaims JWT令牌声明
type JWTClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service 认证服务
type Service struct {
	userRepo models.UserRepository
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewService 创建认证服务
func NewService(userRepo models.UserRepository, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		userRepo: userRepo,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Register 创建用户
func (s *Service) Register(ctx context.Context, req *models.UserCreateRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateUser 验证用户凭据
func (s *Service) ValidateUser(ctx context.Context, username, password string) (*models.User, error) {
	// 获取用户
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != models.UserStatusActive {
		return nil, ErrUserDisabled
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login 校验凭据并签发令牌
func (s *Service) Login(ctx context.Context, username, password string) (*models.UserLoginResponse, error) {
	user, err := s.ValidateUser(ctx, username, password)
	if err != nil {
		return nil, err
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &models.UserLoginResponse{Token: token, User: user}, nil
}

// GenerateToken 生成JWT令牌
func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := JWTClaims{
		UserID:   user.ID.String(),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken 校验令牌签名和有效期
func (s *Service) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GetUserByID 根据ID获取用户
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// CheckPassword 供 Basic 认证使用，主体为用户名
func (s *Service) CheckPassword(ctx context.Context, username, password string) (string, error) {
	user, err := s.ValidateUser(ctx, username, password)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// CheckToken 供 Bearer 认证使用，主体为用户名
func (s *Service) CheckToken(_ context.Context, token string) (string, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Username, nil
}

// 错误定义
var (
	ErrInvalidCredentials = Error("invalid username or password")
	ErrUserNotFound       = Error("user not found")
	ErrUserExists         = Error("user already exists")
	ErrUserDisabled       = Error("user is disabled")
	ErrTokenExpired       = Error("token has expired")
	ErrInvalidToken       = Error("invalid token")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
