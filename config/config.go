package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mlsync/models"
)

type Config struct {
	DatabaseURL string
	DBPath      string // local command store
	LogLevel    string
	Scheduler   SchedulerConfig
	Media       MediaConfig
	S3          S3Config
}

type SchedulerConfig struct {
	Cron        string
	Tick        time.Duration
	StaleRunAge time.Duration // a running status older than this is treated as a crashed run
	CommandPoll time.Duration
}

type MediaConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	MaxBytes    int64
	Quality     int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional: DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // optional CDN prefix
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "mlsync.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Scheduler: SchedulerConfig{
			Cron:        os.Getenv("SYNC_CRON"),
			Tick:        getEnvDuration("SYNC_TICK", time.Minute),
			StaleRunAge: getEnvDuration("SYNC_STALE_RUN_AGE", 2*time.Hour),
			CommandPoll: getEnvDuration("COMMAND_POLL", 2*time.Second),
		},
		Media: MediaConfig{
			Interval:    getEnvDuration("MEDIA_INTERVAL", 2*time.Minute),
			BatchSize:   getEnvInt("MEDIA_BATCH_SIZE", 20),
			Concurrency: getEnvInt("MEDIA_CONCURRENCY", 4),
			MaxBytes:    int64(getEnvInt("MEDIA_MAX_BYTES", 25*1024*1024)),
			Quality:     getEnvInt("MEDIA_JPEG_QUALITY", 80),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// LoadProviderSeeds reads per-provider YAML files from dir. These are seed
// definitions only; the running engine reads provider configs from the
// database where operators maintain them.
func LoadProviderSeeds(dir string) ([]*models.ProviderConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var providers []*models.ProviderConfig
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var seed providerSeed
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &seed); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		p, err := seed.toConfig()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}

// providerSeed is the YAML shape; intervals are duration strings.
type providerSeed struct {
	ID               string               `yaml:"id"`
	Name             string               `yaml:"name"`
	Protocol         string               `yaml:"protocol"`
	BaseURL          string               `yaml:"base_url"`
	Username         string               `yaml:"username"`
	Password         string               `yaml:"password"`
	APIKey           string               `yaml:"api_key"`
	Enabled          bool                 `yaml:"enabled"`
	SyncInterval     string               `yaml:"sync_interval"`
	FullSyncInterval string               `yaml:"full_sync_interval"`
	BatchSize        int                  `yaml:"batch_size"`
	Mapping          []models.MappingRule `yaml:"mapping"`
}

func (s *providerSeed) toConfig() (*models.ProviderConfig, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	p := &models.ProviderConfig{
		ID:        s.ID,
		Name:      s.Name,
		Protocol:  s.Protocol,
		BaseURL:   s.BaseURL,
		Username:  s.Username,
		Password:  s.Password,
		APIKey:    s.APIKey,
		Enabled:   s.Enabled,
		BatchSize: s.BatchSize,
		Mapping:   s.Mapping,
	}

	var err error
	if p.SyncInterval, err = parseDuration(s.SyncInterval, time.Hour); err != nil {
		return nil, fmt.Errorf("sync_interval: %w", err)
	}
	if p.FullSyncInterval, err = parseDuration(s.FullSyncInterval, 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("full_sync_interval: %w", err)
	}

	return p, nil
}

func parseDuration(s string, defaultVal time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(s)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
