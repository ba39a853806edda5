package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oa-im/config"
	"oa-im/internal/handler"
	"oa-im/internal/model"
	"oa-im/internal/repository"
	"oa-im/internal/service"
	dbPkg "oa-im/pkg/db"
	"oa-im/pkg/jwt"
	"oa-im/pkg/logger"
	redisPkg "oa-im/pkg/redis"
	"oa-im/pkg/response"
	"oa-im/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== OA-IM 消息服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Int("chat_default_page_size", cfg.Chat.DefaultPageSize),
		zap.Duration("typing_default_ttl", cfg.Chat.TypingDefaultTTL),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := dbPkg.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.ConversationMember{},
		&model.Message{},
		&model.MessageReaction{},
	); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 初始化Redis（输入状态/未读计数/分页缓存；失败时降级为纯DB路径）
	if err := redisPkg.InitRedis(cfg.Redis); err != nil {
		log.Warn("Redis连接失败，缓存与输入状态功能降级", zap.Error(err))
	} else {
		log.Info("Redis连接成功")
	}
	redisPkg.SetPageCacheConfig(cfg.Chat.PageCacheTTL, cfg.Chat.MaxPageSize)

	// 3.3 初始化业务服务
	db := dbPkg.GetDB()
	jwtSvc := jwt.NewJWTService(cfg.JWT)

	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	reactionRepo := repository.NewReactionRepository(db)

	userSvc := service.NewUserService(userRepo, jwtSvc)
	readStateSvc := service.NewReadStateService(memberRepo, msgRepo)
	convSvc := service.NewConversationService(convRepo, memberRepo, msgRepo, userRepo, readStateSvc)
	msgSvc := service.NewMessageService(msgRepo, convRepo, memberRepo, reactionRepo,
		cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize)
	reactionSvc := service.NewReactionService(reactionRepo, msgRepo, memberRepo)
	typingSvc := service.NewTypingService(convRepo, memberRepo,
		cfg.Chat.TypingDefaultTTL, cfg.Chat.TypingMaxTTL)

	userHandler := handler.NewUserHandler(userSvc)
	convHandler := handler.NewConversationHandler(convSvc, readStateSvc, typingSvc)
	msgHandler := handler.NewMessageHandler(msgSvc, reactionSvc, userSvc)

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()

	// 注入jwt_config/ws_config到Gin context，供WebSocket使用
	router.Use(func(c *gin.Context) {
		c.Set("jwt_config", cfg.JWT)
		c.Set("ws_config", cfg.WebSocket)
		c.Next()
	})

	// 使用中间件
	router.Use(logger.LoggerMiddleware())      // 自定义日志中间件
	router.Use(logger.ErrorLoggerMiddleware()) // 错误日志中间件

	// 6. 设置基础路由
	setupBasicRoutes(router)

	// 6.1 绑定业务路由
	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users")
		{
			// 公开接口（无需认证）
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的接口
			authUsers := users.Group("")
			authUsers.Use(jwtSvc.AuthMiddleware())
			{
				authUsers.GET("/profile", userHandler.GetProfile)
			}
		}

		// 会话路由（需要认证）
		conversations := v1.Group("/conversations")
		conversations.Use(jwtSvc.AuthMiddleware())
		{
			conversations.GET("", convHandler.ListConversations)
			conversations.POST("", convHandler.CreateConversation)
			conversations.GET("/unread", convHandler.GetUnreadSummary) // 全量未读汇总

			conversations.GET("/:conversation_id", convHandler.GetConversation)
			conversations.POST("/:conversation_id/members", convHandler.AddMember)
			conversations.DELETE("/:conversation_id/members/:user_id", convHandler.RemoveMember)
			conversations.PUT("/:conversation_id/members/:user_id/role", convHandler.SetRole)
			conversations.PUT("/:conversation_id/archive", convHandler.SetArchived)
			conversations.PUT("/:conversation_id/mute", convHandler.SetMute)
			conversations.PUT("/:conversation_id/notifications", convHandler.SetNotifications)

			conversations.POST("/:conversation_id/read", convHandler.MarkRead)       // 推进已读水位
			conversations.GET("/:conversation_id/unread", convHandler.GetUnreadCount)

			conversations.POST("/:conversation_id/typing", convHandler.SetTyping)
			conversations.GET("/:conversation_id/typing", convHandler.ListTyping)

			conversations.GET("/:conversation_id/messages", msgHandler.ListMessages)
			conversations.POST("/:conversation_id/messages", msgHandler.PostMessage)
		}

		// 消息路由（需要认证）
		messages := v1.Group("/messages")
		messages.Use(jwtSvc.AuthMiddleware())
		{
			messages.PATCH("/:message_id", msgHandler.EditMessage)
			messages.DELETE("/:message_id", msgHandler.DeleteMessage)
			messages.POST("/:message_id/reactions", msgHandler.AddReaction)
			messages.DELETE("/:message_id/reactions/:emoji", msgHandler.RemoveReaction)
			messages.GET("/:message_id/reactions", msgHandler.ListReactions)
		}
	}

	// WebSocket路由
	router.GET("/ws", websocket.WsHandler)

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine) {
	// 健康检查
	// 完整url为：http://localhost:8080/health
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "db-down"
		}
		redisStatus := "ok"
		if err := redisPkg.HealthCheck(); err != nil {
			redisStatus = "redis-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"redis":  redisStatus,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 根路径
	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "欢迎使用OA-IM消息服务",
			"version": "1.0.0",
		})
	})

	// 配置信息路由（系统状态监控）
	router.GET("/config", func(c *gin.Context) {
		cfg := config.LoadConfig()
		response.Success(c, gin.H{
			"server": gin.H{
				"port": cfg.Server.Port,
			},
			"database": gin.H{
				"host":     cfg.Database.Host,
				"port":     cfg.Database.Port,
				"database": cfg.Database.Database,
				"driver":   cfg.Database.Driver,
			},
			"chat": gin.H{
				"defaultPageSize":  cfg.Chat.DefaultPageSize,
				"maxPageSize":      cfg.Chat.MaxPageSize,
				"typingDefaultTTL": cfg.Chat.TypingDefaultTTL.String(),
				"typingMaxTTL":     cfg.Chat.TypingMaxTTL.String(),
			},
			"log": gin.H{
				"level":    cfg.Log.Level,
				"filename": cfg.Log.Filename,
			},
		})
	})
}
