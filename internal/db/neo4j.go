package db

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jConfig holds the graph database connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string

	MaxConnectionPoolSize int
	MaxConnectionLifetime time.Duration
	ConnectionTimeout     time.Duration
}

// DefaultNeo4jConfig returns the settings used when nothing is configured.
func DefaultNeo4jConfig() Neo4jConfig {
	return Neo4jConfig{
		URI:                   "bolt://localhost:7687",
		Username:              "neo4j",
		Database:              "neo4j",
		MaxConnectionPoolSize: 50,
		MaxConnectionLifetime: 5 * time.Minute,
		ConnectionTimeout:     10 * time.Second,
	}
}

// NewNeo4jDriver opens a driver and checks that the server answers.
func NewNeo4jDriver(ctx context.Context, cfg Neo4jConfig, logger *zap.Logger) (neo4j.DriverWithContext, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionLifetime = cfg.MaxConnectionLifetime
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	logger.Info("neo4j driver initialized", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return driver, nil
}
