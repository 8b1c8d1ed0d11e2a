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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/auth"
	"github.com/deepfence/ThreatMapper-sub005/internal/config"
	"github.com/deepfence/ThreatMapper-sub005/internal/db"
	"github.com/deepfence/ThreatMapper-sub005/internal/handlers"
	"github.com/deepfence/ThreatMapper-sub005/internal/logging"
	"github.com/deepfence/ThreatMapper-sub005/internal/metrics"
	"github.com/deepfence/ThreatMapper-sub005/internal/models"
	"github.com/deepfence/ThreatMapper-sub005/internal/reporters"
	"github.com/deepfence/ThreatMapper-sub005/internal/topology"
)

var (
	cfgFile string
	demo    bool
)

func main() {
	root := &cobra.Command{
		Use:           "topology-console",
		Short:         "Topology console backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the topology API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	serve.Flags().BoolVar(&demo, "demo", false, "serve a built-in topology without any backing stores")
	root.AddCommand(serve)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}
	if demo && cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "demo-secret"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	topologyMetrics := metrics.NewTopology(registry)

	deps := handlers.Deps{
		Signer:          auth.NewSigner(cfg.JWT.Secret),
		RefreshInterval: cfg.Topology.RefreshInterval,
		Gatherer:        registry,
		Logger:          logger,
	}
	var (
		reporter    topology.Reporter
		serviceOpts = []topology.ServiceOption{topology.WithMetrics(topologyMetrics)}
	)

	if demo {
		logger.Info("starting in demo mode")
		users := db.NewMemoryUserStore()
		if err := seedDemoUser(ctx, users); err != nil {
			return err
		}
		deps.Users = users
		deps.Tokens = db.NewMemoryTokenStore()
		reporter = reporters.NewMemoryReporter(reporters.DemoTopology())
	} else {
		database, err := db.NewMongoDatabase(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return err
		}
		defer database.Client().Disconnect(context.Background())

		redisClient, err := db.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		neo4jCfg := db.DefaultNeo4jConfig()
		neo4jCfg.URI = cfg.Neo4j.URI
		neo4jCfg.Username = cfg.Neo4j.Username
		neo4jCfg.Password = cfg.Neo4j.Password
		neo4jCfg.Database = cfg.Neo4j.Database
		driver, err := db.NewNeo4jDriver(ctx, neo4jCfg, logger)
		if err != nil {
			return err
		}
		defer driver.Close(context.Background())

		deps.Users = db.NewUserStore(database)
		deps.Tokens = db.NewRedisTokenStore(redisClient)
		graphLogger := logger.With(zap.String("component", "reporter"))
		reporter = reporters.NewCachedReporter(
			reporters.NewNeo4jReporter(driver, cfg.Neo4j.Database, cfg.Neo4j.QueryTimeout, graphLogger),
			redisClient, cfg.Topology.CacheTTL, graphLogger)
		serviceOpts = append(serviceOpts,
			topology.WithFilterStore(db.NewRedisFilterStore(redisClient, cfg.Topology.SessionIdle)))
	}

	sessions := topology.NewRegistry(cfg.Topology.MaxNodes, logger.With(zap.String("component", "sessions")))
	defer sessions.Close()
	service := topology.NewService(sessions, reporter, logger.With(zap.String("component", "topology")), serviceOpts...)
	deps.Topology = service
	go service.RunJanitor(ctx, time.Minute, cfg.Topology.SessionIdle)

	r := gin.New()
	r.Use(logging.GinLogger(logger), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.HTTP.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "X-Requested-With", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	handlers.New(deps).Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func seedDemoUser(ctx context.Context, users *db.MemoryUserStore) error {
	user := models.User{Username: "demo", Email: "demo@localhost", Role: "admin"}
	if err := user.HashPassword("demo"); err != nil {
		return err
	}
	return users.Create(ctx, &user)
}
