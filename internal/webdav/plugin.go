package webdav

// Plugin 服务器插件，在 Initialize 中订阅事件
type Plugin interface {
	Name() string
	Initialize(s *Server) error
}

// FeatureProvider 向 DAV 响应头贡献兼容级别
type FeatureProvider interface {
	Features() []string
}

// MethodProvider 为某个路径贡献额外的 HTTP 方法
type MethodProvider interface {
	HTTPMethods(path string) []string
}

// ReportProvider 为某个节点贡献支持的 REPORT
type ReportProvider interface {
	SupportedReportSet(path string, node Node) []string
}

// InfoProvider 提供插件说明
type InfoProvider interface {
	PluginInfo() PluginInfo
}

// PluginInfo 插件说明
type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
}
