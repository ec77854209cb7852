package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"trading-service/config"
	"trading-service/internal/audit"
	"trading-service/internal/cache"
	"trading-service/internal/catalog"
	"trading-service/internal/cleanup"
	"trading-service/internal/repository"
	"trading-service/internal/service"
	gtransport "trading-service/internal/transport/grpc"
	"trading-service/pkg/database"
	"trading-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)

	db := database.ConnectDB(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	repos := repository.New(db)

	var items catalog.Catalog = catalog.NewRepoCatalog(repos.Items)
	var cachedItems *catalog.CachedCatalog
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("failed to create redis client", zap.Error(err))
		}
		defer redisClient.Close()
		cachedItems = catalog.NewCachedCatalog(items, redisClient, cfg.Redis.CacheTTL, log)
		items = cachedItems
		log.Info("Redis catalog cache enabled")
	} else {
		log.Info("Redis catalog cache disabled")
	}

	market, err := service.NewMarketService(repos, items, log, service.WithFeeRate(cfg.Market.FeeRate))
	if err != nil {
		log.Fatal("failed to create market service", zap.Error(err))
	}

	sinks := audit.MultiSink{audit.NewLogSink(log)}
	if cfg.Kafka.Enabled {
		kafkaSink := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("Kafka audit sink enabled", zap.String("topic", cfg.Kafka.AuditTopic))
	}
	svc := audit.NewAuditedService(market, sinks, log)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	var scheduler *cleanup.Scheduler
	if cfg.Cleanup.Enabled {
		cleanupSvc := cleanup.NewCleanupService(repos, svc, cfg.Cleanup.PurgeRetained, log)
		if cachedItems != nil {
			cleanupSvc.SetCache(cachedItems)
		}
		scheduler = cleanup.NewScheduler(cleanupSvc, cfg.Cleanup.RetireEvery, cfg.Cleanup.PurgeEvery, log)
		scheduler.Start(cleanupCtx)
	}

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}

	grpcServer, healthSrv := gtransport.NewServer(log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Starting gRPC server", zap.String("addr", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	<-quit
	log.Info("Shutting down gRPC server...")

	healthSrv.Shutdown()
	if scheduler != nil {
		scheduler.Stop()
	}
	cleanupCancel()

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped gracefully")
}
