package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL        string
	APIPort            string
	SocketPort         string
	GRPCPort           string
	NumPipelineWorkers int
	JobQueueSize       int
}

func New() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	cfg := &Config{
		DatabaseURL:        databaseURL,
		APIPort:            getEnv("API_PORT", "8080"),
		SocketPort:         getEnv("SOCKET_PORT", "9000"),
		GRPCPort:           getEnv("GRPC_PORT", "50051"),
		NumPipelineWorkers: 4,
		JobQueueSize:       100,
	}

	var err error
	cfg.NumPipelineWorkers, err = getEnvAsInt("NUM_PIPELINE_WORKERS", cfg.NumPipelineWorkers)
	if err != nil {
		return nil, err
	}

	cfg.JobQueueSize, err = getEnvAsInt("JOB_QUEUE_SIZE", cfg.JobQueueSize)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}
