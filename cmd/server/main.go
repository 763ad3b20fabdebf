// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kin-spark-go/internal/config"
	"kin-spark-go/internal/handler"
	"kin-spark-go/internal/middleware"
	"kin-spark-go/internal/model"
	"kin-spark-go/internal/pipeline"
	"kin-spark-go/internal/repository"
	"kin-spark-go/internal/service"
	"kin-spark-go/internal/settling"
	"kin-spark-go/pkg/database"
	"kin-spark-go/pkg/embedding"
	"kin-spark-go/pkg/es"
	"kin-spark-go/pkg/hash"
	"kin-spark-go/pkg/kafka"
	"kin-spark-go/pkg/llm"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/storage"
	"kin-spark-go/pkg/tika"
	"kin-spark-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kafka 消费者组，同组多实例水平分摊分区。
const (
	ingestionConsumerGroup = "spark-ingestion-workers"
	leadSyncConsumerGroup  = "spark-leadsync-workers"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与向量索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducers(cfg.Kafka)

	// 4. 初始化 Repository
	clientRepo := repository.NewClientRepository(database.DB)
	adminRepo := repository.NewAdminUserRepository(database.DB)
	convRepo := repository.NewConversationRepository(database.DB)
	msgRepo := repository.NewMessageRepository(database.DB)
	leadRepo := repository.NewLeadRepository(database.DB)
	knowledgeRepo := repository.NewKnowledgeRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	eventRepo := repository.NewEventRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	modelRouter := llm.NewRouter(cfg.LLM)

	retrievalService := service.NewRetrievalService(es.ESClient, embeddingClient)
	preflightService := service.NewPreflightService(modelRouter, retrievalService)
	sessionService := service.NewSessionService(convRepo, sessionRepo)
	analyticsService := service.NewAnalyticsService(eventRepo)
	chatService := service.NewChatService(
		sessionService,
		preflightService,
		settling.NewAssembler(),
		modelRouter,
		convRepo,
		msgRepo,
		analyticsService,
	)
	leadService := service.NewLeadService(leadRepo, convRepo, analyticsService)
	knowledgeService := service.NewKnowledgeService(knowledgeRepo, chunkRepo, embeddingClient, retrievalService)
	ingestService := service.NewIngestService(chunkRepo)
	adminService := service.NewAdminService(adminRepo, clientRepo, jwtManager)
	conversationService := service.NewConversationService(convRepo, msgRepo, leadRepo)

	// 6. 初始化后台处理器 (Processor)
	ingestionProcessor := pipeline.NewIngestionProcessor(
		tikaClient,
		embeddingClient,
		cfg.Elasticsearch,
		cfg.MinIO,
		cfg.Embedding,
		chunkRepo,
	)
	leadSyncProcessor := pipeline.NewLeadSyncProcessor(leadRepo, clientRepo)

	// 7. 启动后台 Kafka 消费者与会话清扫器
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	go kafka.StartConsumer(bgCtx, cfg.Kafka, cfg.Kafka.IngestionTopic, ingestionConsumerGroup, ingestionProcessor)
	go kafka.StartConsumer(bgCtx, cfg.Kafka, cfg.Kafka.LeadSyncTopic, leadSyncConsumerGroup, leadSyncProcessor)
	go sessionService.StartSweeper(bgCtx)

	// 7.1 调试模式下初始化演示租户，方便本地把挂件跑起来
	if cfg.Server.Mode == gin.DebugMode {
		seedDemoTenant(clientRepo, adminRepo)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok kin-spark")
	})

	chatHandler := handler.NewChatHandler(chatService)
	leadHandler := handler.NewLeadHandler(leadService)
	eventHandler := handler.NewEventHandler(analyticsService)
	ingestHandler := handler.NewIngestHandler(ingestService)
	authHandler := handler.NewAuthHandler(adminService)
	adminHandler := handler.NewAdminHandler(adminService, conversationService, leadService, analyticsService)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledgeService, adminService)

	apiV1 := r.Group("/api/v1/spark")
	{
		// 挂件路由组：租户密钥认证 + 按租户限流
		widget := apiV1.Group("")
		widget.Use(
			middleware.SparkAuthMiddleware(clientRepo),
			middleware.WidgetRateLimiter(database.RDB, cfg.Spark.RateLimitRPM),
		)
		{
			widget.POST("/chat", chatHandler.Stream)
			widget.GET("/chat/ws", chatHandler.HandleWS)
			widget.POST("/lead", leadHandler.Capture)
			widget.POST("/event", eventHandler.Record)

			ingest := widget.Group("/ingest")
			{
				ingest.POST("/text", ingestHandler.IngestText)
				ingest.POST("/url", ingestHandler.IngestURL)
				ingest.POST("/file", ingestHandler.IngestFile)
				ingest.DELETE("/:id", ingestHandler.DeleteSource)
			}
		}

		// 管理后台路由组：JWT 认证 + 管理接口限流
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminRateLimiter(database.RDB, cfg.Spark.AdminRateLimitRPM))
		{
			auth := admin.Group("/auth")
			{
				auth.POST("/login", authHandler.Login)
				auth.POST("/refresh", authHandler.RefreshToken)
			}

			authed := admin.Group("")
			authed.Use(middleware.AdminAuthMiddleware(jwtManager, adminRepo))
			{
				authed.GET("/me", authHandler.Me)
				authed.GET("/settings", adminHandler.GetSettings)
				authed.PATCH("/settings", middleware.RequireOwner(), adminHandler.UpdateSettings)

				authed.GET("/conversations", adminHandler.ListConversations)
				authed.GET("/conversations/:id", adminHandler.ConversationDetail)

				authed.GET("/leads", adminHandler.ListLeads)
				authed.GET("/leads/export", adminHandler.ExportLeads)
				authed.PATCH("/leads/:id", adminHandler.UpdateLead)

				knowledge := authed.Group("/knowledge")
				{
					knowledge.GET("", knowledgeHandler.List)
					knowledge.GET("/stats", knowledgeHandler.Stats)
					knowledge.POST("", knowledgeHandler.Create)
					knowledge.POST("/search", knowledgeHandler.Search)
					knowledge.PATCH("/:id", knowledgeHandler.Update)
					knowledge.DELETE("/:id", knowledgeHandler.Delete)
				}

				authed.GET("/events/summary", adminHandler.EventsSummary)
			}
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉消费者和清扫器，再关 HTTP 服务器
	cancelBg()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// seedDemoTenant 在库里还没有演示租户时创建一个，连同 owner 账号。
// 挂件密钥与初始密码只在创建时打印一次，之后无法再取回明文。
func seedDemoTenant(clientRepo repository.ClientRepository, adminRepo repository.AdminUserRepository) {
	const demoEmail = "owner@demo.local"

	if _, err := adminRepo.FindByEmail(demoEmail); err == nil {
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("seedDemoTenant: 查询演示账号失败: %v", err)
		return
	}

	apiKey := "sk-spark-" + uuid.NewString()
	client := &model.Client{
		UUID:       uuid.NewString(),
		Name:       "Demo Workspace",
		Slug:       "demo",
		APIKeyHash: hash.HashAPIKey(apiKey),
		Active:     true,
		Settling: model.SettlingConfig{
			CompanyName:     "Demo Workspace",
			Tone:            "friendly",
			GreetingMessage: "Hi! Ask me anything about our product.",
		},
	}
	if err := clientRepo.Create(client); err != nil {
		log.Warnf("seedDemoTenant: 创建演示租户失败: %v", err)
		return
	}

	password := uuid.NewString()
	passwordHash, err := hash.HashPassword(password)
	if err != nil {
		log.Warnf("seedDemoTenant: 生成密码哈希失败: %v", err)
		return
	}
	admin := &model.AdminUser{
		Email:        demoEmail,
		PasswordHash: passwordHash,
		DisplayName:  "Demo Owner",
		Role:         model.AdminRoleOwner,
		ClientID:     client.ID,
		Active:       true,
	}
	if err := adminRepo.Create(admin); err != nil {
		log.Warnf("seedDemoTenant: 创建演示账号失败: %v", err)
		return
	}

	log.Infof("seedDemoTenant: 演示租户已创建, email=%s password=%s api_key=%s", demoEmail, password, apiKey)
}
