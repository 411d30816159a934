package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"AutoTrader/pkg/logger"
)

type Config struct {
	Environment string             `yaml:"environment" default:"development" validate:"required"`
	DataDir     string             `yaml:"data_dir" default:"data" validate:"required"`
	Log         logger.Config      `yaml:"log"`
	Server      ServerConfig       `yaml:"server"`
	Market      MarketConfig       `yaml:"market"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Trading     TradingConfig      `yaml:"trading"`
	Ensemble    EnsembleConfig     `yaml:"ensemble"`
	Specialists []SpecialistConfig `yaml:"specialists" validate:"dive"`
	Training    TrainingConfig     `yaml:"training"`
	Journal     JournalConfig      `yaml:"journal"`
	Alpaca      AlpacaConfig       `yaml:"alpaca"`
	Kafka       KafkaConfig        `yaml:"kafka"`
	ClickHouse  ClickHouseConfig   `yaml:"clickhouse"`
	Redis       RedisConfig        `yaml:"redis"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	JobRate         float64       `yaml:"job_rate" default:"0.05"` // run-now requests per second, per job
	JobBurst        int           `yaml:"job_burst" default:"2"`
}

// MarketConfig is the fixed weekly session calendar.
type MarketConfig struct {
	Timezone  string `yaml:"timezone" default:"America/New_York" validate:"required"`
	OpenTime  string `yaml:"open_time" default:"09:30" validate:"required,clock"`
	CloseTime string `yaml:"close_time" default:"16:00" validate:"required,clock"`
}

type SchedulerConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval" default:"5s" validate:"gt=0"`
	StopTimeout        time.Duration `yaml:"stop_timeout" default:"10s" validate:"gt=0"`
	TrainTime          string        `yaml:"train_time" default:"20:00" validate:"required,clock"`
	RebalanceTime      string        `yaml:"rebalance_time" default:"04:00" validate:"required,clock"`
	TradeCheckInterval time.Duration `yaml:"trade_check_interval" default:"1m" validate:"gt=0"`
}

type TradingConfig struct {
	DryRun           bool          `yaml:"dry_run"` // decide and log, never submit orders
	AllowUntrained   bool          `yaml:"allow_untrained"`
	Strategy         string        `yaml:"strategy" default:"ml_ensemble"`
	StopLossPct      float64       `yaml:"stop_loss_pct" default:"0.02" validate:"gt=0,lt=1"`
	TakeProfitPct    float64       `yaml:"take_profit_pct" default:"0.04" validate:"gt=0,lt=1"`
	PositionSizePct  float64       `yaml:"position_size_pct" default:"10" validate:"gt=0,lte=100"`
	MaxOpenPositions int           `yaml:"max_open_positions" default:"5" validate:"gte=1"`
	MaxPositionSize  float64       `yaml:"max_position_size" default:"100" validate:"gte=0"`
	LookbackBars     int           `yaml:"lookback_bars" default:"120" validate:"gte=2"`
	LockTTL          time.Duration `yaml:"lock_ttl" default:"2m" validate:"gt=0"`
	TradeHistory     int           `yaml:"trade_history" default:"1000" validate:"gte=1"`
	SignalHistory    int           `yaml:"signal_history" default:"5000" validate:"gte=1"`
}

type EnsembleConfig struct {
	MinConfidence     float64       `yaml:"min_confidence" default:"0.6" validate:"gte=0,lte=1"`
	ThresholdMode     string        `yaml:"threshold_mode" default:"weight_fraction" validate:"oneof=weight_fraction vote_count"`
	BuyThreshold      float64       `yaml:"buy_threshold" default:"0.25" validate:"gte=0,lte=1"`
	SpecialistTimeout time.Duration `yaml:"specialist_timeout" default:"10s" validate:"gt=0"`
}

type SpecialistConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	DisplayName string   `yaml:"display_name"`
	Kind        string   `yaml:"kind" validate:"required,oneof=ml news sentiment"`
	ModelType   string   `yaml:"model_type" default:"logistic" validate:"oneof=logistic onnx"`
	Features    []string `yaml:"features"`
	Headlines   int      `yaml:"headlines" default:"10"`
	Posts       int      `yaml:"posts" default:"50"`
}

type TrainingConfig struct {
	Symbols       []string `yaml:"symbols"`
	Bars          int      `yaml:"bars" default:"2000" validate:"gte=50"`
	TestFraction  float64  `yaml:"test_fraction" default:"0.2" validate:"gt=0,lt=1"`
	LookaheadBars int      `yaml:"lookahead_bars" default:"5" validate:"gte=1"`
	ProfitTarget  float64  `yaml:"profit_target" default:"0.001"`
	Epochs        int      `yaml:"epochs" default:"300" validate:"gte=1"`
	LearningRate  float64  `yaml:"learning_rate" default:"0.1" validate:"gt=0"`
	RetainModels  int      `yaml:"retain_models" default:"3" validate:"gte=1"`
	KnowledgeCap  int      `yaml:"knowledge_cap" default:"1000" validate:"gte=1"`
	ORTLibrary    string   `yaml:"ort_library"`
}

type JournalConfig struct {
	Dir         string `yaml:"dir" default:"data/trade_logs" validate:"required"`
	StrategyDir string `yaml:"strategy_dir" default:"data/trade_logs/strategies" validate:"required"`
}

type AlpacaConfig struct {
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	TradingURL     string        `yaml:"trading_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	DataURL        string        `yaml:"data_url" default:"https://data.alpaca.markets" validate:"url"`
	StreamURL      string        `yaml:"stream_url" default:"wss://paper-api.alpaca.markets/stream"`
	StreamEnabled  bool          `yaml:"stream_enabled"`
	Timeout        time.Duration `yaml:"timeout" default:"10s"`
	MaxRetries     uint64        `yaml:"max_retries" default:"3"`
	RateLimit      float64       `yaml:"rate_limit" default:"3"` // requests per second
	RateBurst      int           `yaml:"rate_burst" default:"5"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	ScreenerTop    int           `yaml:"screener_top" default:"20"`
	ScreenerTTL    time.Duration `yaml:"screener_ttl" default:"5m"`
	NewsTTL        time.Duration `yaml:"news_ttl" default:"5m"`
}

type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	TradesTopic    string        `yaml:"trades_topic" default:"autotrader.trades"`
	SignalsTopic   string        `yaml:"signals_topic" default:"autotrader.recommendations"`
	SentimentTopic string        `yaml:"sentiment_topic" default:"autotrader.social-posts"`
	SentimentPosts int           `yaml:"sentiment_posts" default:"200"` // buffered posts per symbol
	SentimentAge   time.Duration `yaml:"sentiment_max_age" default:"24h"`
	LogsTopic      string        `yaml:"logs_topic" default:"autotrader.logs"`
	RequiredAcks   int           `yaml:"required_acks" default:"-1"`
	Compression    string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Producer       struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"100ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"autotrader"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"` // empty leaves failed posts uncommitted
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"9000"`
	Database     string        `yaml:"database" default:"autotrader"`
	User         string        `yaml:"user" default:"default"`
	Password     string        `yaml:"password"`
	UseHTTP      bool          `yaml:"use_http"`
	AsyncInsert  bool          `yaml:"async_insert" default:"true"`
	WaitForAsync bool          `yaml:"wait_for_async_insert"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr" default:"localhost:6379"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix" default:"autotrader"`
	QueueWorkers int    `yaml:"queue_workers" default:"1"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// HH:MM wall-clock time
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, _, err := ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.Specialists = DefaultSpecialists()
	return c
}

// DefaultSpecialists is the specialist roster used when the YAML has none.
func DefaultSpecialists() []SpecialistConfig {
	return []SpecialistConfig{
		{Name: "momentum", DisplayName: "Momentum Specialist", Kind: "ml", ModelType: "logistic",
			Features: []string{"MACD", "MACD_Signal", "MACD_Hist", "Return_1", "Return_5"}},
		{Name: "vwap_reversion", DisplayName: "VWAP Specialist", Kind: "ml", ModelType: "logistic",
			Features: []string{"VWAP_Deviation", "Return_1", "Volatility_20", "Volume_Ratio"}},
		{Name: "news_catalyst", DisplayName: "News Catalyst", Kind: "news", Headlines: 10},
		{Name: "social_sentiment", DisplayName: "Social Sentiment", Kind: "sentiment", Posts: 50},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults to raw YAML and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	if len(c.Specialists) == 0 {
		c.Specialists = DefaultSpecialists()
	}
	for i := range c.Specialists {
		if err := defaults.Set(&c.Specialists[i]); err != nil {
			return fmt.Errorf("specialist defaults: %w", err)
		}
		if c.Specialists[i].DisplayName == "" {
			c.Specialists[i].DisplayName = c.Specialists[i].Name
		}
	}
	return nil
}

// LoadWithEnv loads an optional .env file, the YAML config, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		c.Alpaca.APISecret = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Trading.DryRun = b
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	openH, openM, _ := ParseClock(c.Market.OpenTime)
	closeH, closeM, _ := ParseClock(c.Market.CloseTime)
	if openH*60+openM >= closeH*60+closeM {
		return fmt.Errorf("market.open_time %s must be before close_time %s", c.Market.OpenTime, c.Market.CloseTime)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}

	seen := make(map[string]struct{}, len(c.Specialists))
	for _, s := range c.Specialists {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate specialist %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Kind == "ml" && len(s.Features) == 0 {
			return fmt.Errorf("specialist %q: ml specialists need features", s.Name)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
