// Package main 是应用程序的入口点。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studymate-go/internal/config"
	"studymate-go/internal/handler"
	"studymate-go/internal/index"
	"studymate-go/internal/middleware"
	"studymate-go/internal/pipeline"
	"studymate-go/internal/repository"
	"studymate-go/internal/service"
	"studymate-go/pkg/database"
	"studymate-go/pkg/embedding"
	"studymate-go/pkg/es"
	"studymate-go/pkg/kafka"
	"studymate-go/pkg/llm"
	"studymate-go/pkg/log"
	"studymate-go/pkg/storage"
	"studymate-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	store := storage.NewStore(cfg.MinIO)
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化向量索引后端
	idx := newIndex(cfg)

	// 5. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	stateRepo := repository.NewIngestStateRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	documentService := service.NewDocumentService(docRepo, chunkRepo, stateRepo, idx, store, producer)
	retrievalService := service.NewRetrievalService(embeddingClient, idx, chunkRepo, docRepo, cfg.Retrieval.TopK)
	askService := service.NewAskService(retrievalService, llmClient, cfg.LLM.Prompt)

	// 7. 初始化摄取管道并启动后台 Kafka 消费者
	splitter := pipeline.NewSplitter(cfg.Chunking.MaxChars, cfg.Chunking.Overlap)
	processor := pipeline.NewProcessor(
		store,
		tikaClient,
		embeddingClient,
		docRepo,
		chunkRepo,
		stateRepo,
		idx,
		splitter,
		cfg.Embedding,
	)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	documentHandler := handler.NewDocumentHandler(documentService)
	askHandler := handler.NewAskHandler(askService)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.OwnerMiddleware())
	{
		docs := apiV1.Group("/documents")
		{
			docs.POST("", documentHandler.UploadDocument)
			docs.GET("", documentHandler.ListDocuments)
			docs.GET("/:documentId", documentHandler.GetDocument)
			docs.DELETE("/:documentId", documentHandler.DeleteDocument)
		}
		apiV1.GET("/ask", askHandler.Ask)
	}

	// 10. 启动 HTTP 服务并等待退出信号
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Infof("HTTP 服务启动, 监听端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务关闭失败: %v", err)
	}
	log.Info("服务已退出")
}

// newIndex 根据配置选择向量索引后端。
// memory 适合单实例部署；多实例共享索引时使用 elasticsearch。
func newIndex(cfg config.Config) index.Index {
	switch cfg.Index.Backend {
	case "elasticsearch":
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatalf("初始化 Elasticsearch 客户端失败: %v", err)
		}
		idx, err := index.NewElastic(esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatalf("初始化 Elasticsearch 向量索引失败: %v", err)
		}
		return idx
	case "memory":
		return index.NewBruteForce(cfg.Embedding.Dimensions)
	default:
		log.Fatalf("未知的索引后端: %s", cfg.Index.Backend)
		return nil
	}
}
