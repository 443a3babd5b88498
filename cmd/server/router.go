package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davcore/davcore/internal/middleware"
)

// davMethods 转发给 DAV 服务器的方法
var davMethods = []string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodPost,
	"PROPFIND", "PROPPATCH", "MKCOL", "MKCALENDAR", "COPY", "MOVE", "LOCK", "UNLOCK", "REPORT",
}

func newRouter(a *app) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(a.metrics.Middleware())
	if a.cfg.Server.CORS {
		router.Use(middleware.CORSMiddleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	router.GET("/metrics", middleware.Handler(a.registry))

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/register", handleRegister(a.auth))
		authGroup.POST("/login", handleLogin(a.auth))
		authGroup.GET("/me", middleware.AuthMiddleware(a.auth), handleGetMe(a.auth))

		api.GET("/plugins", handleListPlugins(a.dav))

		shareGroup := api.Group("/shares")
		shareGroup.Use(middleware.AuthMiddleware(a.auth))
		shareGroup.GET("", handleListShares(a.shares))
		shareGroup.POST("", handleCreateShare(a.shares))
		shareGroup.DELETE("/:id", handleDeleteShare(a.shares))
	}

	dav := gin.WrapH(a.dav)
	davPath := strings.TrimSuffix(a.cfg.DAV.BaseURI, "/") + "/*path"
	for _, method := range davMethods {
		router.Handle(method, davPath, dav)
	}

	return router
}
