package auth

import (
	"fmt"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
)

// BasicBackend HTTP Basic 认证
type BasicBackend struct {
	realm   string
	checker PasswordChecker
}

// NewBasicBackend 创建 Basic 后端
func NewBasicBackend(realm string, checker PasswordChecker) *BasicBackend {
	return &BasicBackend{realm: realm, checker: checker}
}

// Check 实现 Backend
func (b *BasicBackend) Check(r *webdav.Request) (string, error) {
	username, password, ok := r.HTTP.BasicAuth()
	if !ok {
		return "", ErrNoCredentials
	}
	principal, err := b.checker.CheckPassword(r.Context(), username, password)
	if err != nil {
		return "", fmt.Errorf("username or password was incorrect: %w", err)
	}
	return principal, nil
}

// Challenge 实现 Backend
func (b *BasicBackend) Challenge() string {
	return fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, b.realm)
}

// BearerBackend Bearer 令牌认证
type BearerBackend struct {
	realm   string
	checker TokenChecker
}

// NewBearerBackend 创建 Bearer 后端
func NewBearerBackend(realm string, checker TokenChecker) *BearerBackend {
	return &BearerBackend{realm: realm, checker: checker}
}

// Check 实现 Backend
func (b *BearerBackend) Check(r *webdav.Request) (string, error) {
	header := r.Header("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrNoCredentials
	}
	principal, err := b.checker.CheckToken(r.Context(), strings.TrimSpace(token))
	if err != nil {
		return "", fmt.Errorf("bearer token was incorrect: %w", err)
	}
	return principal, nil
}

// Challenge 实现 Backend
func (b *BearerBackend) Challenge() string {
	return fmt.Sprintf(`Bearer realm=%q`, b.realm)
}
