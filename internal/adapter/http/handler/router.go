package handler

import (
	"time"

	"datamarket/internal/adapter/http/middleware"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	UserSvc        ports.UserService
	SettlementSvc  ports.SettlementService
	IntegritySvc   ports.IntegrityService
	RatingSvc      ports.RatingService
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	AuditSvc       ports.AuditService   // nil = audit logging disabled
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Recorder
	MetricsGather  prometheus.Gatherer // nil = no /metrics endpoint
	MetricsPath    string
	RequestTimeout time.Duration
	Mode           string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.Timeout(deps.RequestTimeout))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.MetricsGather != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(deps.MetricsGather, promhttp.HandlerOpts{})))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc, deps.UserSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/challenge", rl("auth_challenge"), authHandler.Challenge)
		auth.POST("/verify", rl("auth_verify"), authHandler.Verify)
		auth.POST("/signup", rl("auth_signup"), authHandler.Signup)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	userHandler := NewUserHandler(deps.UserSvc)
	users := v1.Group("/users/me", jwtAuth)
	{
		users.GET("", rl("read"), userHandler.Me)
		users.PUT("/identity", rl("read"), userHandler.AttachIdentity)
	}

	txHandler := NewTransactionHandler(deps.SettlementSvc, deps.IntegritySvc, deps.RatingSvc, deps.Logger)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("/purchase", rl("purchase"), txHandler.Purchase)
		transactions.GET("/status/:id", rl("status"), txHandler.Status)
		transactions.GET("/bought", rl("read"), txHandler.Bought)
		transactions.GET("/pending", rl("read"), txHandler.Pending)
		transactions.POST("/rate", rl("rate"), txHandler.Rate)
		transactions.GET("/verify-ratings/:id", rl("ledger_verify"), txHandler.VerifyRatings)
		transactions.GET("/verify-checksum/:id", rl("ledger_verify"), txHandler.VerifyChecksum)
		transactions.GET("/download/:datasetId", rl("read"), txHandler.Download)
	}

	return r
}
