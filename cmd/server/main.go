// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"micro-agent-go/internal/config"
	"micro-agent-go/internal/handler"
	"micro-agent-go/internal/middleware"
	"micro-agent-go/internal/repository"
	"micro-agent-go/internal/service"
	"micro-agent-go/pkg/database"
	"micro-agent-go/pkg/embedding"
	"micro-agent-go/pkg/kafka"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/memoryindex"
	"micro-agent-go/pkg/storage"
	"micro-agent-go/pkg/token"
	"micro-agent-go/pkg/workflow"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库与基础设施客户端
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	memoryIndex, err := memoryindex.NewClient(cfg.MemoryIndex, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("记忆索引初始化失败: %v", err)
	}
	embeddingClient := embedding.NewClient(cfg.Embedding)
	workflowClient := workflow.NewClient(cfg.Workflow)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	transcriptRepo := repository.NewTranscriptRepository(database.DB)
	bindingRepo := repository.NewBindingRepository(database.DB)
	agentRepo := repository.NewMicroAgentRepository(database.DB)
	emailRepo := repository.NewEmailRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	emailService := service.NewEmailService(emailRepo, service.NewSMTPSender(cfg.Email))
	userService := service.NewUserService(userRepo, jwtManager, emailService)
	memoryService := service.NewMemoryService(bindingRepo, memoryIndex, embeddingClient, database.RDB)
	transcriptService := service.NewTranscriptService(transcriptRepo, memoryService)
	threadStore := repository.NewThreadStore(transcriptService)
	threadService := service.NewThreadService(threadStore)
	chatService := service.NewChatService(threadStore, workflowClient, memoryService, cfg.Workflow)
	agentService := service.NewMicroAgentService(agentRepo, cfg.Stripe)
	attachmentService := service.NewAttachmentService(cfg.MinIO)

	// 6. 启动后台 Kafka 消费者处理邮件投递
	go kafka.StartConsumer(cfg.Kafka, emailService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
			}
		}

		// Thread 路由组，需要认证
		threads := apiV1.Group("/threads")
		threads.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			threadHandler := handler.NewThreadHandler(threadService)
			threads.POST("", threadHandler.Create)
			threads.GET("", threadHandler.List)
			threads.GET("/:threadId", threadHandler.Get)
			threads.PUT("/:threadId/metadata", threadHandler.UpdateMetadata)
			threads.DELETE("/:threadId", threadHandler.Delete)
			threads.GET("/:threadId/items", threadHandler.ListItems)
			threads.GET("/:threadId/items/:itemId", threadHandler.GetItem)
			threads.DELETE("/:threadId/items/:itemId", threadHandler.DeleteItem)
		}

		// Chat 路由组
		chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.POST("", chatHandler.Respond)
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}
		// WebSocket 入口，token 走路径参数
		r.GET("/chat/:token", chatHandler.Handle)

		// 托管会话路由组，需要认证
		sessions := apiV1.Group("/sessions")
		sessions.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			sessionHandler := handler.NewSessionHandler(chatService)
			sessions.POST("", sessionHandler.Create)
			sessions.POST("/refresh", sessionHandler.Refresh)
		}

		// 转录消息路由，需要认证
		transcripts := apiV1.Group("/transcripts")
		transcripts.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			transcripts.GET("", handler.NewTranscriptHandler(transcriptService).List)
		}

		// 智能体订阅路由组，需要认证
		agents := apiV1.Group("/microagents")
		agents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			agentHandler := handler.NewMicroAgentHandler(agentService)
			agents.POST("/subscribe", agentHandler.Subscribe)
			agents.GET("/me", agentHandler.List)
			agents.POST("/:agentId/cancel", agentHandler.Cancel)
		}

		// 附件路由组，需要认证
		attachments := apiV1.Group("/attachments")
		attachments.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			attachmentHandler := handler.NewAttachmentHandler(attachmentService)
			attachments.POST("", attachmentHandler.Upload)
			attachments.GET("/url", attachmentHandler.GetURL)
		}

		// 支付 webhook，签名校验代替认证
		apiV1.POST("/webhooks/stripe", handler.NewWebhookHandler(agentService, cfg.Stripe).HandleStripe)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者随进程退出自然结束，无需单独关闭。
	log.Info("服务已优雅关闭")
}
