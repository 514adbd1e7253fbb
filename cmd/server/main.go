package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/analytics"
	"github.com/feedworks/crypto-reports/internal/config"
	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/document"
	"github.com/feedworks/crypto-reports/internal/notify"
	"github.com/feedworks/crypto-reports/internal/pipeline"
	"github.com/feedworks/crypto-reports/internal/query"
	"github.com/feedworks/crypto-reports/internal/rpcserver"
	"github.com/feedworks/crypto-reports/internal/server"
	"github.com/feedworks/crypto-reports/internal/socketserver"
	"github.com/feedworks/crypto-reports/internal/tabular"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProductionConfig().Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to the database", zap.Error(err))
	}
	defer dbpool.Close()

	dbManager := database.NewPostgresDBManager(ctx, dbpool, logger)
	if err := dbManager.InitSchema(); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}

	pipelineService := pipeline.NewService(
		dbManager,
		tabular.NewParser(logger),
		document.NewBuilder(logger),
		document.NewValidator(document.DefaultSchema(), logger),
		notify.NewWebhookNotifier(logger),
		pipeline.Config{JobQueueSize: cfg.JobQueueSize},
		logger,
	)
	pipelineService.Start(cfg.NumPipelineWorkers)
	defer pipelineService.Stop()

	queryService := query.NewService(dbManager, logger)
	analyticsService := analytics.NewService(dbManager, logger)

	socketListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.SocketPort))
	if err != nil {
		logger.Fatal("Failed to listen on socket port", zap.Error(err))
	}
	socketSrv := socketserver.NewServer(pipelineService, queryService, analyticsService, dbManager, logger)
	go func() {
		logger.Info("Socket server starting", zap.String("port", cfg.SocketPort))
		if err := socketSrv.Serve(ctx, socketListener); err != nil {
			logger.Fatal("Socket server failed", zap.Error(err))
		}
	}()

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	grpcSrv := rpcserver.NewGRPCServer(
		rpcserver.NewServer(pipelineService, queryService, analyticsService, dbManager, logger))
	go func() {
		logger.Info("gRPC server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcSrv.Serve(grpcListener); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	router := server.SetupRoutes(server.NewReportService(
		pipelineService, queryService, analyticsService, dbManager, logger))

	logger.Info("HTTP server starting", zap.String("port", cfg.APIPort))
	if err := http.ListenAndServe(fmt.Sprintf(":%s", cfg.APIPort), router); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}
}
