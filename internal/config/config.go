// Package config loads service settings. Environment variables override the
// config file, which overrides defaults. A .env file only seeds variables
// that are not already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/awsclient"
	"github.com/kdimtricp/modcheck/internal/cache"
	"github.com/kdimtricp/modcheck/internal/database"
	"github.com/kdimtricp/modcheck/internal/dynamo"
	"github.com/kdimtricp/modcheck/internal/logging"
	"github.com/kdimtricp/modcheck/internal/moderation"
)

const EnvPrefix = "MODCHECK"

const (
	StoreSQL      = "sql"
	StoreDynamoDB = "dynamodb"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"

	ObjectsNone  = "none"
	ObjectsS3    = "s3"
	ObjectsLocal = "local"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Objects    ObjectsConfig    `mapstructure:"objects"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"corsorigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type StoreConfig struct {
	// Backend is "sql" or "dynamodb".
	Backend string `mapstructure:"backend"`
	// DynamoTable is only used by the dynamodb backend.
	DynamoTable string `mapstructure:"dynamotable"`
}

type DatabaseConfig struct {
	Type       string `mapstructure:"type"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SQLitePath string `mapstructure:"sqlitepath"`
	LogQueries bool   `mapstructure:"logqueries"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accesskeyid"`
	SecretAccessKey string `mapstructure:"secretaccesskey"`
	SessionToken    string `mapstructure:"sessiontoken"`
}

type AnalyzerConfig struct {
	Bucket        string  `mapstructure:"bucket"`
	MinConfidence float64 `mapstructure:"minconfidence"`
}

type ModerationConfig struct {
	PollInterval time.Duration `mapstructure:"pollinterval"`
	PollBudget   time.Duration `mapstructure:"pollbudget"`
}

type ObjectsConfig struct {
	// Check is "none", "s3" or "local".
	Check    string `mapstructure:"check"`
	LocalDir string `mapstructure:"localdir"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redisaddr"`
	RedisPassword string        `mapstructure:"redispassword"`
	RedisDB       int           `mapstructure:"redisdb"`
	TerminalTTL   time.Duration `mapstructure:"terminalttl"`
	InProgressTTL time.Duration `mapstructure:"inprogressttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.corsorigins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdowntimeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("store.backend", StoreSQL)
	v.SetDefault("store.dynamotable", dynamo.DefaultTable)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "modcheck")
	v.SetDefault("database.password", "modcheck_dev")
	v.SetDefault("database.name", "modcheck")
	v.SetDefault("database.sqlitepath", "./modcheck.db")
	v.SetDefault("database.logqueries", false)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.accesskeyid", "")
	v.SetDefault("aws.secretaccesskey", "")
	v.SetDefault("aws.sessiontoken", "")

	analyzerDefaults := analyzer.NewConfig()
	v.SetDefault("analyzer.bucket", analyzerDefaults.Bucket)
	v.SetDefault("analyzer.minconfidence", analyzerDefaults.MinConfidence)

	moderationDefaults := moderation.DefaultConfig()
	v.SetDefault("moderation.pollinterval", moderationDefaults.PollInterval)
	v.SetDefault("moderation.pollbudget", moderationDefaults.PollBudget)

	v.SetDefault("objects.check", ObjectsNone)
	v.SetDefault("objects.localdir", "./uploads")

	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.backend", CacheNone)
	v.SetDefault("cache.redisaddr", cache.DefaultRedisOptions().Address)
	v.SetDefault("cache.redispassword", "")
	v.SetDefault("cache.redisdb", 0)
	v.SetDefault("cache.terminalttl", cacheDefaults.TerminalTTL)
	v.SetDefault("cache.inprogressttl", cacheDefaults.InProgressTTL)
}

// legacyEnv maps keys to the unprefixed variable names used by existing
// deployments. The MODCHECK_ name always wins.
var legacyEnv = map[string][]string{
	"server.port":           {"PORT"},
	"database.type":         {"DB_TYPE"},
	"database.host":         {"DB_HOST"},
	"database.port":         {"DB_PORT"},
	"database.user":         {"DB_USER"},
	"database.password":     {"DB_PASSWORD"},
	"database.name":         {"DB_NAME"},
	"database.sqlitepath":   {"DB_PATH"},
	"aws.region":            {"AWS_REGION", "AWS_DEFAULT_REGION"},
	"aws.endpoint":          {"AWS_ENDPOINT_URL"},
	"analyzer.bucket":       {"BUCKET_NAME"},
	"store.dynamotable":     {"TABLE_NAME"},
	"server.corsorigins":    {"ALLOWED_ORIGINS"},
	"moderation.pollbudget": {"POLL_BUDGET"},
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads settings. configFile may be empty; envFile is loaded only if
// it exists and never overrides variables already set.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Backend {
	case StoreSQL:
		switch c.Database.Type {
		case "sqlite":
			if c.Database.SQLitePath == "" {
				errs = append(errs, errors.New("database sqlite path is required"))
			}
		case "postgres":
			if c.Database.Host == "" || c.Database.Name == "" {
				errs = append(errs, errors.New("database host and name are required for postgres"))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported database type %q", c.Database.Type))
		}
	case StoreDynamoDB:
		if c.Store.DynamoTable == "" {
			errs = append(errs, errors.New("dynamodb table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend %q", c.Store.Backend))
	}

	if c.Moderation.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Moderation.PollBudget < c.Moderation.PollInterval {
		errs = append(errs, errors.New("poll budget must be at least one poll interval"))
	}
	if c.Analyzer.Bucket == "" {
		errs = append(errs, errors.New("analyzer bucket is required"))
	}
	if c.Analyzer.MinConfidence < 0 || c.Analyzer.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("analyzer min confidence %g must be between 0 and 100", c.Analyzer.MinConfidence))
	}

	switch c.Objects.Check {
	case ObjectsNone, ObjectsS3:
	case ObjectsLocal:
		if c.Objects.LocalDir == "" {
			errs = append(errs, errors.New("objects local dir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported object check %q", c.Objects.Check))
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache backend %q", c.Cache.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Type:       c.Database.Type,
		Host:       c.Database.Host,
		Port:       c.Database.Port,
		User:       c.Database.User,
		Password:   c.Database.Password,
		Name:       c.Database.Name,
		SQLitePath: c.Database.SQLitePath,
		LogQueries: c.Database.LogQueries,
	}
}

func (c *Config) AWSClientConfig() awsclient.Config {
	return awsclient.Config{
		Region:          c.AWS.Region,
		Endpoint:        c.AWS.Endpoint,
		AccessKeyID:     c.AWS.AccessKeyID,
		SecretAccessKey: c.AWS.SecretAccessKey,
		SessionToken:    c.AWS.SessionToken,
	}
}

func (c *Config) AnalyzerConfig() *analyzer.Config {
	cfg := analyzer.NewConfig()
	cfg.Bucket = c.Analyzer.Bucket
	cfg.MinConfidence = c.Analyzer.MinConfidence
	return cfg
}

func (c *Config) DynamoConfig() dynamo.Config {
	return dynamo.Config{Table: c.Store.DynamoTable}
}

func (c *Config) ModerationConfig() moderation.Config {
	return moderation.Config{
		PollInterval: c.Moderation.PollInterval,
		PollBudget:   c.Moderation.PollBudget,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.File = c.Log.File
	return cfg
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		TerminalTTL:   c.Cache.TerminalTTL,
		InProgressTTL: c.Cache.InProgressTTL,
	}
}

func (c *Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{
		Address:  c.Cache.RedisAddr,
		Password: c.Cache.RedisPassword,
		DB:       c.Cache.RedisDB,
	}
}

