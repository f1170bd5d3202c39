package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/forecasting"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/graph"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/kafka"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/pipeline"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/redis"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing/exporters"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"abvtrends"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:"postgres"`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"abvtrends"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix for lock keys
	RedisLockPrefix string `env:"REDIS_LOCK_PREFIX" env-default:"abvtrends:lock:"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Enable publishing trend and run events
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Topic for trend score events
	KafkaTrendTopic string `env:"KAFKA_TREND_TOPIC" env-default:"abvtrends.trend-scores"`
	// Topic for scrape run events
	KafkaRunTopic     string        `env:"KAFKA_RUN_TOPIC" env-default:"abvtrends.scrape-runs"`
	KafkaBatchSize    int           `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"10ms"`

	// Graph projection settings
	GraphEnabled  bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphHost     string `env:"GRAPH_HOST" env-default:"localhost"`
	GraphPort     int    `env:"GRAPH_PORT" env-default:"7687"`
	GraphUsername string `env:"GRAPH_USERNAME" env-default:""`
	GraphPassword string `env:"GRAPH_PASSWORD" env-default:""`

	// Source registry file
	SourcesFile string `env:"SOURCES_FILE" env-default:"sources.yaml"`
	// Optional YAML file overriding scoring weights and half-lives
	ScoringPolicyFile string `env:"SCORING_POLICY_FILE" env-default:""`
	// Timeout for outbound source requests
	SourceHTTPTimeout time.Duration `env:"SOURCE_HTTP_TIMEOUT" env-default:"30s"`

	// Matching settings
	MatchThreshold  float64       `env:"MATCH_THRESHOLD" env-default:"0.85"`
	ReviewThreshold float64       `env:"REVIEW_THRESHOLD" env-default:"0.60"`
	MatchTieMargin  float64       `env:"MATCH_TIE_MARGIN" env-default:"0.02"`
	MatchLockTTL    time.Duration `env:"MATCH_LOCK_TTL" env-default:"30s"`
	MatchLockWait   time.Duration `env:"MATCH_LOCK_WAIT" env-default:"5s"`
	// How long a review item may stay pending
	ReviewTTL time.Duration `env:"REVIEW_TTL" env-default:"336h"`
	// What happens to expired review items: none, expire or new_product
	ReviewExpiryAction string `env:"REVIEW_EXPIRY_ACTION" env-default:"expire"`

	// Scoring settings
	ScoringLockTTL     time.Duration `env:"SCORING_LOCK_TTL" env-default:"30s"`
	ScoringLockWait    time.Duration `env:"SCORING_LOCK_WAIT" env-default:"5s"`
	ScoringParallelism int           `env:"SCORING_PARALLELISM" env-default:"8"`

	// Forecast settings
	ForecastMinPoints     int           `env:"FORECAST_MIN_POINTS" env-default:"14"`
	ForecastHistoryWindow time.Duration `env:"FORECAST_HISTORY_WINDOW" env-default:"2160h"`
	ForecastHorizonDays   int           `env:"FORECAST_HORIZON_DAYS" env-default:"7"`
	ForecastMaxHorizon    int           `env:"FORECAST_MAX_HORIZON_DAYS" env-default:"90"`
	// Forecasts older than this are regenerated even when the score barely moved
	ForecastMaxAge time.Duration `env:"FORECAST_MAX_AGE" env-default:"24h"`
	// Score movement that triggers a new forecast
	ForecastDelta float64 `env:"FORECAST_DELTA" env-default:"2"`

	// Pipeline settings
	SourceTimeout       time.Duration `env:"SOURCE_TIMEOUT" env-default:"5m"`
	CycleMaxWait        time.Duration `env:"CYCLE_MAX_WAIT" env-default:"15m"`
	MatchParallelism    int           `env:"MATCH_PARALLELISM" env-default:"4"`
	ForecastParallelism int           `env:"FORECAST_PARALLELISM" env-default:"4"`
	ReviewExpiryBatch   int           `env:"REVIEW_EXPIRY_BATCH" env-default:"500"`
	Tier1SLA            time.Duration `env:"TIER1_SLA" env-default:"1h"`
	Tier2SLA            time.Duration `env:"TIER2_SLA" env-default:"4h"`

	// Scheduler settings
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Scheduler poll interval
	SchedulerPollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"1m"`
	SchedulerTier1Interval time.Duration `env:"SCHEDULER_TIER1_INTERVAL" env-default:"1h"`
	SchedulerTier2Interval time.Duration `env:"SCHEDULER_TIER2_INTERVAL" env-default:"4h"`
	SchedulerLockTTL       time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"20m"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load env file %s", f)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	return &cfg, nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() database.MigrationConfig {
	version := uint(0)
	if c.DatabaseMigrationVersion > 0 {
		version = uint(c.DatabaseMigrationVersion)
	}
	return database.MigrationConfig{
		FolderPath:   c.DatabaseMigrationFolderPath,
		Version:      version,
		Force:        c.DatabaseMigrationForce,
		AutoRollback: c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      kafka.ParseBrokers(c.KafkaBrokers),
		TrendTopic:   c.KafkaTrendTopic,
		RunTopic:     c.KafkaRunTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: c.KafkaBatchTimeout,
	}
}

func (c *Config) Graph() graph.Config {
	return graph.Config{
		Host:     c.GraphHost,
		Port:     c.GraphPort,
		Username: c.GraphUsername,
		Password: c.GraphPassword,
	}
}

func (c *Config) OTLP() exporters.OTLPConfig {
	return exporters.OTLPConfig{
		Endpoint: c.OTLPEndpoint,
		Protocol: c.OTLPProtocol,
		Insecure: c.OTLPInsecure,
	}
}

func (c *Config) Matching() (matching.Config, error) {
	action, err := matching.ParseExpiryAction(c.ReviewExpiryAction)
	if err != nil {
		return matching.Config{}, err
	}
	if c.ReviewThreshold > c.MatchThreshold {
		return matching.Config{}, errors.Errorf("REVIEW_THRESHOLD %.2f must not exceed MATCH_THRESHOLD %.2f", c.ReviewThreshold, c.MatchThreshold)
	}
	return matching.Config{
		MatchThreshold:  c.MatchThreshold,
		ReviewThreshold: c.ReviewThreshold,
		TieMargin:       c.MatchTieMargin,
		LockTTL:         c.MatchLockTTL,
		LockWait:        c.MatchLockWait,
		ReviewTTL:       c.ReviewTTL,
		ExpiryAction:    action,
	}, nil
}

// ScoringPolicy is the YAML shape of SCORING_POLICY_FILE. Omitted fields keep
// their defaults.
type ScoringPolicy struct {
	Weights          *scoring.Weights `yaml:"weights"`
	SignalWindow     time.Duration    `yaml:"signal_window"`
	PriceWindow      time.Duration    `yaml:"price_window"`
	MediaHalfLife    time.Duration    `yaml:"media_half_life"`
	SocialHalfLife   time.Duration    `yaml:"social_half_life"`
	RetailerHalfLife time.Duration    `yaml:"retailer_half_life"`
	SearchHalfLife   time.Duration    `yaml:"search_half_life"`
}

// Scoring builds the scorer config, overlaying SCORING_POLICY_FILE when set.
func (c *Config) Scoring() (scoring.Config, error) {
	sc := scoring.DefaultConfig()
	sc.LockTTL = c.ScoringLockTTL
	sc.LockWait = c.ScoringLockWait
	sc.Parallelism = c.ScoringParallelism

	if c.ScoringPolicyFile == "" {
		return sc, nil
	}
	data, err := os.ReadFile(c.ScoringPolicyFile)
	if err != nil {
		return sc, errors.Wrapf(err, "failed to read scoring policy %s", c.ScoringPolicyFile)
	}
	var policy ScoringPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return sc, errors.Wrapf(err, "failed to parse scoring policy %s", c.ScoringPolicyFile)
	}
	return policy.apply(sc)
}

func (p ScoringPolicy) apply(sc scoring.Config) (scoring.Config, error) {
	if p.Weights != nil {
		if err := p.Weights.Validate(); err != nil {
			return sc, errors.Wrap(err, "invalid scoring weights")
		}
		sc.Weights = *p.Weights
	}
	overrides := []struct {
		v   time.Duration
		dst *time.Duration
	}{
		{p.SignalWindow, &sc.SignalWindow},
		{p.PriceWindow, &sc.PriceWindow},
		{p.MediaHalfLife, &sc.MediaHalfLife},
		{p.SocialHalfLife, &sc.SocialHalfLife},
		{p.RetailerHalfLife, &sc.RetailerHalfLife},
		{p.SearchHalfLife, &sc.SearchHalfLife},
	}
	for _, o := range overrides {
		if o.v > 0 {
			*o.dst = o.v
		}
	}
	return sc, nil
}

func (c *Config) Forecasting() forecasting.Config {
	return forecasting.Config{
		MinPoints:      c.ForecastMinPoints,
		HistoryWindow:  c.ForecastHistoryWindow,
		DefaultHorizon: c.ForecastHorizonDays,
		MaxHorizon:     c.ForecastMaxHorizon,
		MinSigma:       forecasting.DefaultConfig().MinSigma,
	}
}

func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		SourceTimeout:       c.SourceTimeout,
		CycleMaxWait:        c.CycleMaxWait,
		ForecastMaxAge:      c.ForecastMaxAge,
		ForecastDelta:       c.ForecastDelta,
		ForecastHorizon:     c.ForecastHorizonDays,
		MatchParallelism:    c.MatchParallelism,
		ForecastParallelism: c.ForecastParallelism,
		ReviewExpiryBatch:   c.ReviewExpiryBatch,
		Tier1SLA:            c.Tier1SLA,
		Tier2SLA:            c.Tier2SLA,
	}
}

func (c *Config) Scheduler() pipeline.SchedulerConfig {
	return pipeline.SchedulerConfig{
		PollInterval:  c.SchedulerPollInterval,
		Tier1Interval: c.SchedulerTier1Interval,
		Tier2Interval: c.SchedulerTier2Interval,
		LockTTL:       c.SchedulerLockTTL,
	}
}
