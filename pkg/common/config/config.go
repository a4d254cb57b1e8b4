package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/synaptica-ai/ehrdata/pkg/records"
)

type Config struct {
	// Server
	ServerPort   string        `mapstructure:"SERVER_PORT"`
	ServerHost   string        `mapstructure:"SERVER_HOST"`
	ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`

	// Database
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     string `mapstructure:"POSTGRES_PORT"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	PostgresMaxOpenConns    int           `mapstructure:"POSTGRES_MAX_OPEN_CONNS"`
	PostgresMaxIdleConns    int           `mapstructure:"POSTGRES_MAX_IDLE_CONNS"`
	PostgresConnMaxLifetime time.Duration `mapstructure:"POSTGRES_CONN_MAX_LIFETIME"`

	// Redis
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// RedisPoolSize of 0 sizes the pool from PreprocessWorkers.
	RedisPoolSize int           `mapstructure:"REDIS_POOL_SIZE"`
	RedisTimeout  time.Duration `mapstructure:"REDIS_TIMEOUT"`

	// Kafka
	KafkaBrokers           []string `mapstructure:"-"`
	KafkaGroupID           string   `mapstructure:"KAFKA_GROUP_ID"`
	PreprocessRequestTopic string   `mapstructure:"PREPROCESS_REQUEST_TOPIC"`
	PreprocessEventTopic   string   `mapstructure:"PREPROCESS_EVENT_TOPIC"`

	// Dataset
	DataPath          string   `mapstructure:"DATA_PATH"`
	VocabPath         string   `mapstructure:"VOCAB_PATH"`
	AgeStart          int      `mapstructure:"AGE_START"`
	AgeStop           int      `mapstructure:"AGE_STOP"`
	AgeInMonths       bool     `mapstructure:"AGE_IN_MONTHS"`
	PreprocessWorkers int      `mapstructure:"PREPROCESS_WORKERS"`
	LoaderWorkers     int      `mapstructure:"LOADER_WORKERS"`
	BatchSize         int      `mapstructure:"BATCH_SIZE"`
	LazyLoadDevice    bool     `mapstructure:"LAZY_LOAD_DEVICE"`
	Device            string   `mapstructure:"DEVICE"`
	Labels            []string `mapstructure:"-"`
	MRIShape          []int    `mapstructure:"-"`
	DNAShape          []int    `mapstructure:"-"`
	ECGShape          []int    `mapstructure:"-"`

	// Feature Store
	FeatureStoreCacheTTL time.Duration `mapstructure:"FEATURE_STORE_CACHE_TTL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8090")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("READ_TIMEOUT", 30*time.Second)
	v.SetDefault("WRITE_TIMEOUT", 30*time.Second)

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "synaptica")
	v.SetDefault("POSTGRES_PASSWORD", "synaptica123")
	v.SetDefault("POSTGRES_DB", "synaptica")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_OPEN_CONNS", 4)
	v.SetDefault("POSTGRES_MAX_IDLE_CONNS", 2)
	v.SetDefault("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 0)
	v.SetDefault("REDIS_TIMEOUT", 3*time.Second)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "ehrdata")
	v.SetDefault("PREPROCESS_REQUEST_TOPIC", "ehr.preprocess.requests")
	v.SetDefault("PREPROCESS_EVENT_TOPIC", "ehr.preprocess.events")

	v.SetDefault("DATA_PATH", "./data")
	v.SetDefault("VOCAB_PATH", "")
	v.SetDefault("AGE_START", 0)
	v.SetDefault("AGE_STOP", 20)
	v.SetDefault("AGE_IN_MONTHS", false)
	v.SetDefault("PREPROCESS_WORKERS", runtime.NumCPU())
	v.SetDefault("LOADER_WORKERS", runtime.NumCPU())
	v.SetDefault("BATCH_SIZE", 64)
	v.SetDefault("LAZY_LOAD_DEVICE", true)
	v.SetDefault("DEVICE", "cpu")
	v.SetDefault("LABELS", "diabetes,stroke,alzheimers,coronary_heart,lung_cancer,breast_cancer,epilepsy")
	v.SetDefault("MRI_SHAPE", "4,4")
	v.SetDefault("DNA_SHAPE", "3,2")
	v.SetDefault("ECG_SHAPE", "5")

	v.SetDefault("FEATURE_STORE_CACHE_TTL", 5*time.Minute)

	for _, key := range v.AllKeys() {
		_ = v.BindEnv(strings.ToUpper(key))
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Labels = splitList(v.GetString("LABELS"))

	var err error
	if cfg.MRIShape, err = parseShape(v.GetString("MRI_SHAPE")); err != nil {
		return nil, fmt.Errorf("MRI_SHAPE: %w", err)
	}
	if cfg.DNAShape, err = parseShape(v.GetString("DNA_SHAPE")); err != nil {
		return nil, fmt.Errorf("DNA_SHAPE: %w", err)
	}
	if cfg.ECGShape, err = parseShape(v.GetString("ECG_SHAPE")); err != nil {
		return nil, fmt.Errorf("ECG_SHAPE: %w", err)
	}

	return cfg, nil
}

// Window returns the configured age window.
func (c *Config) Window() records.AgeWindow {
	unit := records.Years
	if c.AgeInMonths {
		unit = records.Months
	}
	return records.AgeWindow{Start: c.AgeStart, Stop: c.AgeStop, Unit: unit}
}

func (c *Config) Validate() error {
	if err := c.Window().Validate(); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.DataPath == "" {
		return fmt.Errorf("DATA_PATH is required")
	}
	if len(c.Labels) == 0 {
		return fmt.Errorf("LABELS must name at least one condition")
	}
	return nil
}

// EffectiveVocabPath falls back to the data path like the cleaning step does.
func (c *Config) EffectiveVocabPath() string {
	if c.VocabPath != "" {
		return c.VocabPath
	}
	return c.DataPath
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseShape(value string) ([]int, error) {
	parts := splitList(value)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		dim, err := strconv.Atoi(p)
		if err != nil || dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %q", p)
		}
		shape = append(shape, dim)
	}
	return shape, nil
}
