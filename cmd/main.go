package main

import (
	"crm-auth-service/internal/handler"
	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/ratelimit"
	"crm-auth-service/internal/sanitize"
	"crm-auth-service/internal/tenancy"
	"crm-auth-service/internal/token"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting authentication service...", cfg.LogConfig()...)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Rate-limit counters live in Redis when configured so limits hold
	// across instances; otherwise counting is process-local.
	var counterStore ratelimit.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counterStore = ratelimit.NewRedisStore(client)
		log.Info("Rate limit counters backed by Redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		counterStore = ratelimit.NewMemoryStore()
		log.Info("Rate limit counters are in-process")
	}

	ipKey := ratelimit.IPKey(cfg.RateLimit.TrustForwarded)
	authLimiter := ratelimit.NewLimiter("auth", counterStore,
		cfg.RateLimit.AuthWindow, cfg.RateLimit.AuthMax, ipKey, cfg.RateLimit.StoreTimeout)
	apiLimiter := ratelimit.NewLimiter("api", counterStore,
		cfg.RateLimit.APIWindow, cfg.RateLimit.APIMax,
		ratelimit.KeyChain(ratelimit.UserKey, ipKey), cfg.RateLimit.StoreTimeout)
	strictLimiter := ratelimit.NewLimiter("strict", counterStore,
		cfg.RateLimit.StrictWindow, cfg.RateLimit.StrictMax, ipKey, cfg.RateLimit.StoreTimeout)

	// Wire services and handlers
	db := database.GetDB()
	tokenService := token.NewService(db, cfg.JWT.RefreshTokenTTL)
	resolver := tenancy.NewResolver(db, cfg.Workspace.Enabled)
	handler.Init(db, tokenService, resolver)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters: cheap request plumbing first,
	// then the sanitizer ahead of anything that binds a body
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())
	e.Use(sanitize.BodyMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Authentication routes - rate limited by client IP
	auth := e.Group("/auth", authLimiter.Middleware())
	auth.POST("/login", handler.Login)
	auth.POST("/register", handler.Register)
	auth.POST("/refresh", handler.Refresh)

	// API routes - all require authentication; the general limiter keys by
	// user when resolved, falling back to IP
	api := e.Group("/api")
	api.Use(middleware.Auth(tokenService, db))
	api.Use(apiLimiter.Middleware())

	// User management
	users := api.Group("/users")
	users.GET("/profile", handler.GetProfile)
	users.PATCH("/profile", handler.UpdateProfile)
	users.POST("/logout", handler.Logout)
	users.POST("/change-password", handler.ChangePassword, strictLimiter.Middleware())

	// Workspace selection and management
	tenants := api.Group("/tenants")
	tenants.GET("", handler.ListTenants)
	tenants.POST("", handler.CreateTenant)
	tenants.POST("/switch", handler.SwitchTenant)
	tenants.POST("/primary", handler.SetPrimaryTenant)

	// Role management - requires tenant context and the roles:manage action
	roles := api.Group("/roles")
	roles.Use(middleware.RequireTenantContext)
	roles.POST("", handler.CreateRole, middleware.Authorize("roles:manage"))
	roles.GET("/:id", handler.GetRole, middleware.Authorize("roles:read"))
	roles.PUT("/:id/permissions", handler.UpdateRolePermissions, middleware.Authorize("roles:manage"))

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
