package main

import (
	"context"
	"fmt"
	"os"

	"trading-service/config"
	"trading-service/internal/audit"
	"trading-service/internal/catalog"
	"trading-service/internal/cleanup"
	"trading-service/internal/repository"
	"trading-service/internal/service"
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
	market, err := service.NewMarketService(repos, catalog.NewRepoCatalog(repos.Items), log, service.WithFeeRate(cfg.Market.FeeRate))
	if err != nil {
		log.Fatal("failed to create market service", zap.Error(err))
	}
	svc := audit.NewAuditedService(market, audit.NewLogSink(log), log)

	cleanupSvc := cleanup.NewCleanupService(repos, svc, cfg.Cleanup.PurgeRetained, log)

	ctx := context.Background()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "retire":
			log.Info("running deleted items retirement")
			if err := cleanupSvc.RetireDeletedItems(ctx); err != nil {
				log.Fatal("failed to retire deleted items", zap.Error(err))
			}
		case "purge":
			log.Info("running closed records purge")
			if err := cleanupSvc.PurgeClosed(ctx); err != nil {
				log.Fatal("failed to purge closed records", zap.Error(err))
			}
		case "all":
			fallthrough
		default:
			log.Info("running full cleanup")
			if err := cleanupSvc.RunFullCleanup(ctx); err != nil {
				log.Fatal("failed to run full cleanup", zap.Error(err))
			}
		}
	} else {
		fmt.Println("Usage: go run cmd/cleanup/main.go [retire|purge|all]")
		fmt.Println("  retire - take catalog-deleted items off the market")
		fmt.Println("  purge  - delete closed listings, buy orders and trades past retention")
		fmt.Println("  all    - run full cleanup (default)")
		os.Exit(1)
	}

	log.Info("cleanup completed successfully")
}
