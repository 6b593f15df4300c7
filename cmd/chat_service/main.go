package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/internal/chat/router"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/database"
	"realtime_chat_service/pkg/logger"
	testtool "realtime_chat_service/pkg/test_tool"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	if err != nil {
		logger.Log.Fatal("load config", zap.Error(err))
	}
	cfg.Defaults()
	if config.EnvConfig.ChatServicePort != "" {
		cfg.Port = config.EnvConfig.ChatServicePort
	}
	if cfg.JWTSecret != "" {
		token.SetSecret(cfg.JWTSecret)
	}
	logger.Log.SetDebugMode(!config.IsProduction())

	ctx := context.Background()

	// 1. 建立 stores, memory 或 mongo/redis/pg
	var (
		stores  app.Stores
		closers []func()
	)
	switch cfg.Backend {
	case "memory":
		stores = app.NewMemoryStores(cfg.Typing.Expiry)
		logger.Log.Info("running on in-memory backend")
	case "remote":
		stores, closers = remoteStores(ctx, cfg)
	default:
		logger.Log.Fatal("unknown backend", zap.String("backend", cfg.Backend))
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 2. 初始化 ChatService 與 event bus
	svc := app.NewChatService(cfg, stores)
	if err := svc.Start(ctx); err != nil {
		logger.Log.Fatal("start event bus", zap.Error(err))
	}
	defer svc.Close()

	testtool.StartPprof()

	// 3. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	// 注册路由
	router.RegisterRoutes(r, app.NewChatWebsocketHandler(svc))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("shutting down chat service")
		_ = r.ShutdownWithTimeout(10 * time.Second)
	}()

	// Listen
	port := ":" + cfg.Port
	logger.Log.Info("Chat Service listening", zap.String("port", port))
	if err := r.Listen(port); err != nil {
		logger.Log.Error("fiber listen", zap.Error(err))
	}
}

func retry(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// remoteStores connects mongo, redis, postgres, the blob store and
// optionally kafka. Any failure is fatal.
func remoteStores(ctx context.Context, cfg config.Chat) (app.Stores, []func()) {
	var closers []func()

	// mongo: conversations, messages, text search
	uri := fmt.Sprintf("mongodb://%s:%d", cfg.Mongo.Host, cfg.Mongo.Port)
	if cfg.Mongo.User != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.Mongo.User, cfg.Mongo.Password, cfg.Mongo.Host, cfg.Mongo.Port)
	}
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.Mongo.RetryCount,
			RetryInterval: retry(cfg.Mongo.RetryInterval),
		},
		cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.Mongo.Host, cfg.Mongo.Port)),
			zap.Error(err),
		)
	}
	closers = append(closers, func() { _ = mongo.Close(context.Background()) })
	if err := repository.EnsureIndexes(ctx, mongo.Database); err != nil {
		logger.Log.Fatal("ensure mongo indexes", zap.Error(err))
	}

	// redis: pub/sub transport, presence, typing
	redisConn := database.RedisConnection{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		MasterName:    cfg.Redis.MasterName,
		SentinelAddrs: cfg.Redis.SentinelAddrs,
		DB:            cfg.Redis.RedisDB,
	}
	if redisConn.Addr == "" && len(redisConn.SentinelAddrs) == 0 {
		redisConn.MasterName, redisConn.SentinelAddrs = config.GetRedisSetting()
	}
	redisClient, err := database.NewRedisClient(ctx, redisConn)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// postgres: member table for display names
	pgURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	pool, err := database.NewDatabaseConnection(ctx, database.Connection{
		ConnectStr:    pgURL,
		RetryCount:    cfg.Postgres.RetryCount,
		RetryInterval: retry(cfg.Postgres.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres after retries", zap.Error(err))
	}
	closers = append(closers, pool.Close)

	blobs := blobStore(ctx, cfg.Blob)

	var exporter repository.EventExporter
	if len(cfg.Kafka.Brokers) > 0 {
		w, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: retry(cfg.Kafka.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("connect kafka", zap.Error(err))
		}
		exporter = repository.NewKafkaEventExporter(w)
		closers = append(closers, func() { _ = exporter.Close() })
	}

	return app.Stores{
		Conversations: repository.NewMongoConversationRepository(mongo.Database),
		Messages:      repository.NewMongoMessageRepository(mongo.Database),
		Indexer:       repository.NewMongoSearchIndexer(mongo.Database),
		Blobs:         blobs,
		Directory:     repository.NewPGUserDirectory(pool),
		Presence:      repository.NewRedisPresenceRepository(redisClient, 10*cfg.Presence.Timeout),
		Typing:        repository.NewRedisTypingRepository(redisClient, cfg.Typing.Expiry),
		Transport:     repository.NewRedisPubSub(redisClient),
		Exporter:      exporter,
	}, closers
}

func blobStore(ctx context.Context, b config.BlobConfig) repository.BlobStore {
	conn := database.ObjectStoreConnection{
		Endpoint:      b.Endpoint,
		Region:        b.Region,
		User:          b.AccessKey,
		Password:      b.SecretKey,
		BucketName:    b.Bucket,
		UseSSL:        b.UseSSL,
		RetryCount:    b.RetryCount,
		RetryInterval: retry(b.RetryInterval),
	}
	switch b.Driver {
	case "s3":
		client, err := database.NewS3Client(ctx, conn)
		if err != nil {
			logger.Log.Fatal("connect s3", zap.Error(err))
		}
		return repository.NewS3BlobStore(client, b.PublicBaseURL)
	default:
		client, err := database.NewMinIOConnection(ctx, conn)
		if err != nil {
			logger.Log.Fatal("connect minio", zap.Error(err))
		}
		return repository.NewMinIOBlobStore(client, b.PublicBaseURL)
	}
}
