package laraplate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds runtime configuration, read from LARAPLATE_* environment variables.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`

	// Empty disables the shared cache tier.
	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	RedisPrefix  string        `envconfig:"REDIS_PREFIX" default:"laraplate:acl:"`
	RedisRuleTTL time.Duration `envconfig:"REDIS_RULE_TTL" default:"30m"`

	RuleCacheSize int           `envconfig:"RULE_CACHE_SIZE" default:"1024"`
	RuleCacheTTL  time.Duration `envconfig:"RULE_CACHE_TTL" default:"5m"`

	LockHoldWindow time.Duration `envconfig:"LOCK_HOLD_WINDOW" default:"0s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("laraplate", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("laraplate: database url must be provided")
	}
	if c.RuleCacheSize < 0 {
		return fmt.Errorf("laraplate: rule cache size must not be negative, got %d", c.RuleCacheSize)
	}
	if c.RuleCacheTTL < 0 || c.RedisRuleTTL < 0 {
		return errors.New("laraplate: cache ttl must not be negative")
	}
	if c.LockHoldWindow < 0 {
		return errors.New("laraplate: lock hold window must not be negative")
	}
	return nil
}

// NewLogger builds a zap logger for the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	switch level {
	case "debug":
		return zap.NewDevelopment()
	case "none":
		return zap.NewNop(), nil
	default:
		return zap.NewProduction()
	}
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("laraplate: redis ping: %w", err)
	}

	return client, nil
}

// Core bundles the connections and services built from a Config.
type Core struct {
	DB      *dbkit.DBKit
	Redis   *redis.Client
	Rules   *CachedRuleStore
	Metrics *Metrics
	Service *Service
	Logger  *zap.Logger
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithOpenLogger sets the logger instead of building one from the configured level.
func WithOpenLogger(logger *zap.Logger) OpenOption {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithRegisterer registers the metrics on reg. Without it metrics are collected but
// not exported.
func WithRegisterer(reg prometheus.Registerer) OpenOption {
	return func(o *openOptions) {
		o.registerer = reg
	}
}

// Open connects to the database (and Redis when configured) and builds the Service
// with its rule cache chain: in-process LRU, then Redis, then the acls table.
//
// Example:
//
//	cfg, err := laraplate.LoadConfig()
//	core, err := laraplate.Open(ctx, cfg, registry, laraplate.WithRegisterer(prometheus.DefaultRegisterer))
//	defer core.Close()
//	q, err = core.Service.Acl().ApplyAclToQuery(ctx, q, (*Invoice)(nil), permissionID)
func Open(ctx context.Context, cfg *Config, registry *Registry, opts ...OpenOption) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logger, err := NewLogger(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("laraplate: logger: %w", err)
		}
		o.logger = logger
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("laraplate: metrics: %w", err)
	}

	db, err := dbkit.New(dbkit.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("laraplate: database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("laraplate: database ping: %w", err)
	}

	bunDB := db.Bun()
	bunDB.SetMaxOpenConns(cfg.MaxOpenConns)
	bunDB.SetMaxIdleConns(cfg.MaxIdleConns)
	bunDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	bunDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	core := &Core{DB: db, Metrics: metrics, Logger: o.logger}

	var store RuleStore = NewDBRuleStore(bunDB)
	if cfg.RedisAddr != "" {
		client, err := NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			db.Close()
			return nil, err
		}
		core.Redis = client
		store = NewRedisRuleStore(client, store,
			WithRedisTTL(cfg.RedisRuleTTL),
			WithRedisPrefix(cfg.RedisPrefix),
			WithRedisLogger(o.logger),
		)
	}
	core.Rules = NewCachedRuleStore(store, cfg.RuleCacheSize, cfg.RuleCacheTTL)

	core.Service = NewService(registry, bunDB,
		WithLogger(o.logger),
		WithMetrics(metrics),
		WithRuleStore(core.Rules),
		WithLockerOptions(WithHoldWindow(cfg.LockHoldWindow)),
	)

	o.logger.Info("laraplate core ready",
		zap.Strings("models", registry.GetModels()),
		zap.Bool("redis", core.Redis != nil),
		zap.Duration("lock_hold_window", cfg.LockHoldWindow),
	)

	return core, nil
}

// Health reports database and Redis reachability.
func (c *Core) Health(ctx context.Context) dbkit.HealthStatus {
	status := c.DB.Health(ctx)
	if c.Redis != nil && status.Healthy {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			status.Healthy = false
			status.Error = fmt.Sprintf("redis: %v", err)
		}
	}
	return status
}

// PoolStats returns connection pool statistics for monitoring.
func (c *Core) PoolStats() dbkit.PoolStats {
	return dbkit.PoolStatsFromSQL(c.DB.Stats())
}

// Close releases Redis and database connections.
func (c *Core) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("closing redis failed", zap.Error(err))
		}
	}
	c.DB.Close()
	_ = c.Logger.Sync()
}
