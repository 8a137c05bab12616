package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fekuna/omnipos-lot-service/config"
	"github.com/fekuna/omnipos-lot-service/internal/lot"
	lotH "github.com/fekuna/omnipos-lot-service/internal/lot/handler"
	lotListenerPkg "github.com/fekuna/omnipos-lot-service/internal/lot/listener"
	"github.com/fekuna/omnipos-lot-service/internal/lot/notifier"
	"github.com/fekuna/omnipos-lot-service/internal/lot/replenishment"
	lotRepoPkg "github.com/fekuna/omnipos-lot-service/internal/lot/repository"
	lotUCPkg "github.com/fekuna/omnipos-lot-service/internal/lot/usecase"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/broker"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/cache"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/middleware"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/postgres"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/search"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.ZapLoggerConfig{
		IsDevelopment:     false,
		Encoding:          "json",
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}

	if cfg.Server.AppEnv == "development" {
		logConfig.IsDevelopment = true
		logConfig.Encoding = cfg.Logger.Encoding
		logConfig.Level = "debug"
	}

	appLogger := logger.NewZapLogger(logConfig)
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Repository
	var lotRepo lot.Repository
	switch cfg.Server.StorageDriver {
	case "memory":
		memRepo := lotRepoPkg.NewMemoryRepository()
		for _, pair := range cfg.Server.SeedProducts {
			merchantID, productID, ok := strings.Cut(pair, ":")
			if !ok {
				appLogger.Warn("Ignoring malformed seed product", zap.String("value", pair))
				continue
			}
			memRepo.AddProduct(model.Product{ID: productID, MerchantID: merchantID, IsActive: true})
		}
		lotRepo = memRepo
		appLogger.Warn("Using in-memory lot store, data is lost on restart", zap.Int("seed_products", len(cfg.Server.SeedProducts)))
	default:
		db, err := postgres.NewPostgres(&postgres.Config{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			DBName:          cfg.Postgres.DBName,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			appLogger.Fatal("Could not connect to database", zap.Error(err))
		}
		defer db.Close()
		appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

		pgRepo := lotRepoPkg.NewPGRepository(db)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			appLogger.Fatal("Could not apply lot schema", zap.Error(err))
		}
		lotRepo = pgRepo
	}

	// 4. Initialize Redis
	redisClient, err := cache.NewRedisClient(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		// availability is read straight from the store without a cache
		appLogger.Warn("Could not connect to Redis, availability cache and scan lock disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 5. Initialize Elasticsearch
	esClient, err := search.NewClient(&search.Config{
		Addresses: cfg.Elastic.Addresses,
		Username:  cfg.Elastic.Username,
		Password:  cfg.Elastic.Password,
	})
	if err != nil {
		appLogger.Warn("Could not connect to Elasticsearch, ledger search disabled", zap.Error(err))
		esClient = nil
	} else {
		appLogger.Info("Connected to Elasticsearch", zap.Strings("addresses", cfg.Elastic.Addresses))
	}

	// 6. Initialize Kafka
	var lotNotifier lot.Notifier = notifier.NopNotifier{}
	var kafkaNotifier *notifier.KafkaNotifier
	var kafkaConsumer *broker.KafkaConsumer
	if cfg.Kafka.Enabled {
		kafkaProducer := broker.NewProducer(&broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.NotificationsTopic,
		})
		defer kafkaProducer.Close()
		kafkaNotifier = notifier.NewKafkaNotifier(kafkaProducer, cfg.Kafka.PublishTimeout, appLogger)
		lotNotifier = kafkaNotifier

		kafkaConsumer = broker.NewConsumer(&broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.OrdersTopic,
			GroupID: cfg.Kafka.GroupID,
		})
		defer kafkaConsumer.Close()
		appLogger.Info("Connected to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("orders_topic", cfg.Kafka.OrdersTopic),
			zap.String("notifications_topic", cfg.Kafka.NotificationsTopic))
	}

	// 7. Initialize UseCase
	lotUC := lotUCPkg.NewLotUseCase(lotRepo, redisClient, esClient, lotNotifier, lotUCPkg.Options{
		ExcludeExpired: cfg.Allocation.ExcludeExpired,
		CacheTTL:       cfg.Allocation.AvailabilityCacheTTL,
		LedgerIndex:    cfg.Elastic.LedgerIndex,
	}, appLogger)

	// 8. Start Background Workers
	if kafkaConsumer != nil {
		orderListener := lotListenerPkg.NewOrderListener(kafkaConsumer, lotUC, appLogger)
		go orderListener.Start(ctx)
	}

	var scanLocker replenishment.Locker
	if redisClient != nil {
		scanLocker = replenishment.RedisLocker{Client: redisClient.Locker()}
	}
	scanner := replenishment.NewScanner(lotUC, scanLocker, lotNotifier, replenishment.Config{
		Interval: cfg.Allocation.ReorderScanInterval,
		LockTTL:  cfg.Allocation.ReorderLockTTL,
	}, appLogger)
	go scanner.Run(ctx)

	// 9. Initialize Handler
	lotHandler := lotH.NewLotHandler(lotUC, appLogger)

	// 10. Start gRPC Server
	port := cfg.Server.GRPCPort
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	lis, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(middleware.ContextInterceptor()),
	)

	lotH.RegisterLotServiceServer(grpcServer, lotHandler)
	reflection.Register(grpcServer)

	appLogger.Info("Starting gRPC server", zap.String("port", port), zap.String("storage", cfg.Server.StorageDriver))

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Fatal("failed to serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	grpcServer.GracefulStop()
	cancel()
	if kafkaNotifier != nil {
		kafkaNotifier.Wait()
	}
	appLogger.Info("Server stopped")
}
