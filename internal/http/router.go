package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/access-service/internal/config"
	"github.com/wenwu/saas-platform/access-service/internal/metrics"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
	metrics *metrics.Metrics
}

// 全局速率限制器: 每用户每分钟最多 30 次请求
var userRateLimiter = NewRateLimiter(30, time.Minute)

// 购买请求速率限制器: 每用户每小时最多 5 次提交 (业务规则本身限制 2 个待审批请求)
var submitRateLimiter = NewRateLimiter(5, time.Hour)

func NewServer(cfg *config.Config, handler *Handler, m *metrics.Metrics) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
		metrics: m,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "access-service",
		})
	})

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// Internal API - approver tooling and schedulers
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/requests/:id/approve", s.handler.ApproveRequest)
		internal.POST("/requests/:id/reject", s.handler.RejectRequest)

		internal.POST("/sweep/grants", s.handler.SweepGrants)
		internal.POST("/sweep/requests", s.handler.SweepRequests)

		internal.GET("/credentials/:id/logs", s.handler.GetCredentialLogs)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter)) // 用户 API 速率限制
	{
		user.GET("/servers", s.handler.GetServers)
		user.GET("/plans", s.handler.GetPlans)

		user.POST("/requests", RateLimitMiddleware(submitRateLimiter), s.handler.SubmitRequest)

		user.GET("/my/grants", s.handler.GetMyGrants)
		user.POST("/my/grants/:credential_id/resend", s.handler.ResendCredentials)
	}
}

// Handler exposes the engine for an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}
