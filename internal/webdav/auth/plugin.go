// Package auth 为 WebDAV 请求提供认证：依次尝试各个后端，第一个成功的后端决定当前主体
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// ErrNoCredentials 请求没有携带该后端能识别的凭据
var ErrNoCredentials = errors.New("no credentials")

// Backend 认证后端
type Backend interface {
	// Check 返回认证成功的主体；未携带凭据时返回 ErrNoCredentials
	Check(r *webdav.Request) (string, error)
	// Challenge 认证失败时写入的 WWW-Authenticate 值
	Challenge() string
}

// PasswordChecker 校验用户名和密码，返回主体
type PasswordChecker interface {
	CheckPassword(ctx context.Context, username, password string) (string, error)
}

// TokenChecker 校验 Bearer 令牌，返回主体
type TokenChecker interface {
	CheckToken(ctx context.Context, token string) (string, error)
}

// Plugin 认证插件
type Plugin struct {
	server          *webdav.Server
	backends        []Backend
	principalPrefix string
	requireLogin    bool
}

// Option 插件配置项
type Option func(*Plugin)

// WithPrincipalPrefix current-user-principal 的路径前缀，默认 principals
func WithPrincipalPrefix(prefix string) Option {
	return func(p *Plugin) {
		p.principalPrefix = strings.Trim(prefix, "/")
	}
}

// WithOptionalLogin 认证失败时不拒绝请求，只是不设置主体
func WithOptionalLogin() Option {
	return func(p *Plugin) {
		p.requireLogin = false
	}
}

// New 创建插件
func New(backends []Backend, opts ...Option) *Plugin {
	p := &Plugin{
		backends:        backends,
		principalPrefix: "principals",
		requireLogin:    true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "auth"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Generic authentication plugin",
	}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	if len(p.backends) == 0 {
		return errors.New("auth: at least one backend is required")
	}
	p.server = s
	s.OnBeforeMethod("*", 10, p.beforeMethod)
	s.OnPropFind(100, p.propFind)
	return nil
}

// PrincipalPath 主体对应的资源路径
func (p *Plugin) PrincipalPath(principal string) string {
	if p.principalPrefix == "" {
		return principal
	}
	return p.principalPrefix + "/" + principal
}

func (p *Plugin) beforeMethod(r *webdav.Request) (bool, error) {
	if r.Principal != "" {
		return true, nil
	}

	var reasons []string
	for _, b := range p.backends {
		principal, err := b.Check(r)
		if err == nil && principal != "" {
			r.Principal = principal
			return true, nil
		}
		if err != nil && !errors.Is(err, ErrNoCredentials) {
			p.server.Logger().WithError(err).WithField("path", r.Path).Debug("authentication failed")
			reasons = append(reasons, err.Error())
		}
	}

	if !p.requireLogin {
		return true, nil
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no authentication credentials were provided")
	}
	authErr := webdav.ErrNotAuthenticated(strings.Join(reasons, ", "))
	for _, b := range p.backends {
		authErr.WithHeader("WWW-Authenticate", b.Challenge())
	}
	return false, authErr
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, _ webdav.Node) (bool, error) {
	pf.Handle(davxml.DAV("current-user-principal"), func() any {
		if r.Principal == "" {
			return davxml.NewElement(davxml.DAV("unauthenticated"))
		}
		return davxml.NewHref(p.server.Href(p.PrincipalPath(r.Principal), true))
	})
	return true, nil
}
