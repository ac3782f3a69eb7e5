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

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/handler"
	"doc-chat-go/internal/middleware"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/pipeline"
	"doc-chat-go/internal/rag"
	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/service"
	"doc-chat-go/internal/tokenizer"
	"doc-chat-go/internal/vectorstore"
	chromemstore "doc-chat-go/internal/vectorstore/chromem"
	esstore "doc-chat-go/internal/vectorstore/es"
	"doc-chat-go/pkg/database"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/es"
	"doc-chat-go/pkg/kafka"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置校验失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、对象存储与消息队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Document{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化向量存储后端
	var store vectorstore.Store
	switch cfg.VectorStore.Provider {
	case "chromem":
		s, err := chromemstore.NewStore(cfg.VectorStore.ChromemPath)
		if err != nil {
			log.Fatal("chromem 初始化失败", err)
		}
		store = s
	default:
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			log.Fatal("es 初始化失败", err)
		}
		store = esstore.NewStore(es.ESClient, cfg.Elasticsearch.IndexName)
	}

	// 5. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	documentRepository := repository.NewDocumentRepository(database.DB)
	sessionRepository := repository.NewSessionRepository(database.RDB)
	progressRepository := repository.NewProgressRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	tok, err := tokenizer.NewTiktoken("")
	if err != nil {
		log.Fatal("tokenizer 初始化失败", err)
	}

	userService := service.NewUserService(userRepository, jwtManager)
	sessionService := service.NewSessionService(sessionRepository)
	documentService := service.NewDocumentService(documentRepository, progressRepository, sessionService, store)

	gate := rag.NewLLMGate(llmClient, cfg.RAG.GateTimeout)
	rewriter := rag.NewLLMRewriter(llmClient, tok, cfg.RAG.HistoryTokenBudget, cfg.RAG.RewriteTimeout)
	retriever := rag.NewRetriever(embeddingClient, store)
	assembler := rag.NewAssembler(tok)
	generator := rag.NewGenerator(llmClient, cfg.LLM.Model, cfg.RAG.HistoryLimit, cfg.RAG.GenerateTimeout)
	chatService := service.NewChatService(
		documentRepository, sessionService,
		gate, rewriter, retriever, assembler, generator,
		cfg.RAG,
	)

	// 7. 初始化索引器并启动后台 Kafka 消费者
	chunker := pipeline.NewChunker(tok, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	indexer := pipeline.NewIndexer(
		chunker,
		embeddingClient,
		store,
		documentRepository,
		minioTextSource{bucket: cfg.MinIO.BucketName},
		progressRepository,
	)
	go kafka.StartConsumer(cfg.Kafka, indexer)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	userHandler := handler.NewUserHandler(userService)
	documentHandler := handler.NewDocumentHandler(documentService)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.Profile)
			}
		}

		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/progress", documentHandler.Progress)
			documents.DELETE("/:id", documentHandler.Delete)

			documents.POST("/:id/chat", chatHandler.Send)
			documents.GET("/:id/chat/history", chatHandler.History)
			documents.DELETE("/:id/chat/history", chatHandler.ClearHistory)
		}
	}
	// Chat 路由 (WebSocket)，token 经路径参数传入
	r.GET("/chat/:token", chatHandler.HandleWebSocket)

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
	log.Info("服务已优雅关闭")
}

// minioTextSource 让索引器从对象存储读取文档文本。
type minioTextSource struct {
	bucket string
}

func (s minioTextSource) GetDocumentText(ctx context.Context, documentID string) (string, error) {
	return storage.GetDocumentText(ctx, s.bucket, documentID)
}
