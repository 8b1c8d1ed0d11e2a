package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig
	JWT      JWTConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Neo4j    Neo4jConfig
	Topology TopologyConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr         string
	AllowOrigins []string
}

type JWTConfig struct {
	Secret string
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr string
}

type Neo4jConfig struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

type TopologyConfig struct {
	MaxNodes        int
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	SessionIdle     time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("jwt.secret", "")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "console")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.query_timeout", "30s")
	v.SetDefault("topology.max_nodes", 200)
	v.SetDefault("topology.refresh_interval", "30s")
	v.SetDefault("topology.cache_ttl", "10s")
	v.SetDefault("topology.session_idle", "30m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration from defaults, the optional file at path and
// CONSOLE_ environment variables, in increasing order of precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			AllowOrigins: v.GetStringSlice("http.allow_origins"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("redis.addr"),
		},
		Neo4j: Neo4jConfig{
			URI:          v.GetString("neo4j.uri"),
			Username:     v.GetString("neo4j.username"),
			Password:     v.GetString("neo4j.password"),
			Database:     v.GetString("neo4j.database"),
			QueryTimeout: v.GetDuration("neo4j.query_timeout"),
		},
		Topology: TopologyConfig{
			MaxNodes:        v.GetInt("topology.max_nodes"),
			RefreshInterval: v.GetDuration("topology.refresh_interval"),
			CacheTTL:        v.GetDuration("topology.cache_ttl"),
			SessionIdle:     v.GetDuration("topology.session_idle"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Topology.MaxNodes < 0 {
		errs = append(errs, errors.New("topology.max_nodes must not be negative"))
	}
	if c.Topology.RefreshInterval <= 0 {
		errs = append(errs, errors.New("topology.refresh_interval must be positive"))
	}
	if c.Topology.CacheTTL <= 0 {
		errs = append(errs, errors.New("topology.cache_ttl must be positive"))
	}
	if c.Topology.SessionIdle <= 0 {
		errs = append(errs, errors.New("topology.session_idle must be positive"))
	}
	if c.Neo4j.QueryTimeout <= 0 {
		errs = append(errs, errors.New("neo4j.query_timeout must be positive"))
	}
	return errors.Join(errs...)
}
