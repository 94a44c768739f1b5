package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Worker    WorkerConfig
	Location  LocationConfig
	Proximity ProximityConfig
	Tracking  TrackingConfig
	Heatmap   HeatmapConfig
	Bus       BusConfig
	DB        DatabaseConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type LocationConfig struct {
	Platform            string // "native" inside the packaged mobile shell, "web" otherwise
	FallbackLat         float64
	FallbackLng         float64
	CacheValidity       time.Duration
	TrackingMaxAge      time.Duration
	HighAccuracyTimeout time.Duration
	LowAccuracyTimeout  time.Duration
	LowAccuracyMaxAge   time.Duration
	HighAccuracyMeters  float64
}

type ProximityConfig struct {
	RescuerRadiusMeters  float64
	NeighborRadiusMeters float64
	UserID               string
}

type TrackingConfig struct {
	PublishInterval time.Duration
}

type HeatmapConfig struct {
	MaxAgeHours   float64
	Floor         float64
	Decay         string // "linear" or "exponential"
	HalfLifeHours float64
}

type BusConfig struct {
	Driver        string // "memory" or "kafka"
	KafkaBroker   string
	KafkaGroupID  string
	AlertTopic    string
	TrackingTopic string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", EnvProduction),
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 64),
		},
		Location: LocationConfig{
			Platform:            getEnv("LOCATION_PLATFORM", "web"),
			FallbackLat:         getEnvFloat("FALLBACK_LAT", 38.7223),
			FallbackLng:         getEnvFloat("FALLBACK_LNG", -9.1393),
			CacheValidity:       getEnvDuration("CACHE_VALIDITY", 30*time.Second),
			TrackingMaxAge:      getEnvDuration("TRACKING_MAX_AGE", 5*time.Second),
			HighAccuracyTimeout: getEnvDuration("HIGH_ACCURACY_TIMEOUT", 10*time.Second),
			LowAccuracyTimeout:  getEnvDuration("LOW_ACCURACY_TIMEOUT", 5*time.Second),
			LowAccuracyMaxAge:   getEnvDuration("LOW_ACCURACY_MAX_AGE", time.Minute),
			HighAccuracyMeters:  getEnvFloat("HIGH_ACCURACY_METERS", 50),
		},
		Proximity: ProximityConfig{
			RescuerRadiusMeters:  getEnvFloat("RESCUER_RADIUS_M", 500),
			NeighborRadiusMeters: getEnvFloat("NEIGHBOR_RADIUS_M", 1000),
			UserID:               getEnv("DEVICE_USER_ID", ""),
		},
		Tracking: TrackingConfig{
			PublishInterval: getEnvDuration("PUBLISH_INTERVAL", 5*time.Second),
		},
		Heatmap: HeatmapConfig{
			MaxAgeHours:   getEnvFloat("HEATMAP_MAX_AGE_HOURS", 48),
			Floor:         getEnvFloat("HEATMAP_FLOOR", 0.05),
			Decay:         getEnv("HEATMAP_DECAY", "linear"),
			HalfLifeHours: getEnvFloat("HEATMAP_HALF_LIFE_HOURS", 12),
		},
		Bus: BusConfig{
			Driver:        getEnv("BUS_DRIVER", "memory"),
			KafkaBroker:   getEnv("KAFKA_BROKER", "localhost:9092"),
			KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "safety-agent"),
			AlertTopic:    getEnv("ALERT_TOPIC", "emergency-alerts"),
			TrackingTopic: getEnv("TRACKING_TOPIC", "emergency-tracking"),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/safety-agent.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Development reports whether sensor failures may fall back to a fixed position.
func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

func (c *Config) validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return errors.Errorf("invalid APP_ENV: %s", c.Env)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return errors.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Worker.Count < 1 {
		return errors.New("worker count must be at least 1")
	}

	if c.Location.Platform != "native" && c.Location.Platform != "web" {
		return errors.Errorf("invalid location platform: %s", c.Location.Platform)
	}
	if c.Location.CacheValidity <= 0 {
		return errors.New("cache validity must be positive")
	}
	if c.Location.HighAccuracyTimeout <= 0 || c.Location.LowAccuracyTimeout <= 0 {
		return errors.New("location timeouts must be positive")
	}

	if c.Proximity.RescuerRadiusMeters <= 0 || c.Proximity.NeighborRadiusMeters <= 0 {
		return errors.New("proximity radii must be positive")
	}

	if c.Tracking.PublishInterval < 100*time.Millisecond {
		return errors.New("publish interval must be at least 100ms")
	}

	if c.Heatmap.MaxAgeHours <= 0 {
		return errors.New("heatmap max age must be positive")
	}
	if c.Heatmap.Floor < 0 || c.Heatmap.Floor >= 1 {
		return errors.Errorf("heatmap floor must be in [0,1): %v", c.Heatmap.Floor)
	}
	switch c.Heatmap.Decay {
	case "linear":
	case "exponential":
		if c.Heatmap.HalfLifeHours <= 0 {
			return errors.New("heatmap half-life must be positive")
		}
	default:
		return errors.Errorf("invalid heatmap decay: %s", c.Heatmap.Decay)
	}

	if c.Bus.Driver != "memory" && c.Bus.Driver != "kafka" {
		return errors.Errorf("invalid bus driver: %s", c.Bus.Driver)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
