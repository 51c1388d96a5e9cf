package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Audio     AudioConfig
	Analysis  AnalysisConfig
	Cache     CacheConfig
	Storage   StorageConfig
	Worker    WorkerConfig

	v *viper.Viper
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string // OIDC issuer used for JWKS discovery
	Audience  string
}

type RateLimitConfig struct {
	AnalysisPerMin int
	JobsPerHour    int
}

type AudioConfig struct {
	SampleRate int
	FFmpegPath string
	TempDir    string
}

type AnalysisConfig struct {
	TrimSeconds      float64
	CorrectionFactor float64
	RoundTempo       bool
	StartBPM         float64
	ChromaMaxFreq    float64
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	LocalDir        string
}

type WorkerConfig struct {
	Enabled     bool
	Concurrency int
}

// BodyLimit returns the maximum request body size in bytes.
func (c *Config) BodyLimit() int {
	return c.Server.BodyLimitMB * 1024 * 1024
}

// S3Configured reports whether remote object storage credentials are present.
func (c *StorageConfig) S3Configured() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// OnLogLevelChange calls fn with the new log level whenever the config file
// changes on disk. It is a no-op when no config file was loaded.
func (c *Config) OnLogLevelChange(fn func(level string)) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := c.v.GetString("server.log_level")
		c.Server.LogLevel = level
		fn(level)
	})
	c.v.WatchConfig()
	return true
}

func Load() (*Config, error) {
	// Values from .env never override the real environment
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	}

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.issuer", "AUTH_ISSUER")
	_ = v.BindEnv("auth.audience", "AUTH_AUDIENCE")
	_ = v.BindEnv("ratelimit.analysis_per_min", "RATELIMIT_ANALYSIS_PER_MIN")
	_ = v.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = v.BindEnv("audio.sample_rate", "AUDIO_SAMPLE_RATE")
	_ = v.BindEnv("audio.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("audio.temp_dir", "AUDIO_TEMP_DIR")
	_ = v.BindEnv("analysis.trim_seconds", "ANALYSIS_TRIM_SECONDS")
	_ = v.BindEnv("analysis.correction_factor", "ANALYSIS_CORRECTION_FACTOR")
	_ = v.BindEnv("analysis.round_tempo", "ANALYSIS_ROUND_TEMPO")
	_ = v.BindEnv("analysis.start_bpm", "ANALYSIS_START_BPM")
	_ = v.BindEnv("analysis.chroma_max_freq", "ANALYSIS_CHROMA_MAX_FREQ")
	_ = v.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = v.BindEnv("cache.ttl", "CACHE_TTL")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = v.BindEnv("storage.local_dir", "STORAGE_LOCAL_DIR")
	_ = v.BindEnv("worker.enabled", "WORKER_ENABLED")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "6000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("ratelimit.analysis_per_min", 60)
	v.SetDefault("ratelimit.jobs_per_hour", 100)

	// Decoding defaults match librosa.load
	v.SetDefault("audio.sample_rate", 22050)
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.temp_dir", os.TempDir())

	v.SetDefault("analysis.trim_seconds", 15.0)
	v.SetDefault("analysis.correction_factor", 1.006)
	v.SetDefault("analysis.round_tempo", true)
	v.SetDefault("analysis.start_bpm", 120.0)
	v.SetDefault("analysis.chroma_max_freq", 4200.0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.local_dir", "./data/uploads")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 4)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			Audience:  v.GetString("auth.audience"),
		},
		RateLimit: RateLimitConfig{
			AnalysisPerMin: v.GetInt("ratelimit.analysis_per_min"),
			JobsPerHour:    v.GetInt("ratelimit.jobs_per_hour"),
		},
		Audio: AudioConfig{
			SampleRate: v.GetInt("audio.sample_rate"),
			FFmpegPath: v.GetString("audio.ffmpeg_path"),
			TempDir:    v.GetString("audio.temp_dir"),
		},
		Analysis: AnalysisConfig{
			TrimSeconds:      v.GetFloat64("analysis.trim_seconds"),
			CorrectionFactor: v.GetFloat64("analysis.correction_factor"),
			RoundTempo:       v.GetBool("analysis.round_tempo"),
			StartBPM:         v.GetFloat64("analysis.start_bpm"),
			ChromaMaxFreq:    v.GetFloat64("analysis.chroma_max_freq"),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("cache.enabled"),
			TTL:     v.GetDuration("cache.ttl"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			LocalDir:        v.GetString("storage.local_dir"),
		},
		Worker: WorkerConfig{
			Enabled:     v.GetBool("worker.enabled"),
			Concurrency: v.GetInt("worker.concurrency"),
		},
		v: v,
	}

	return cfg, nil
}

// Defaults returns the configuration used when nothing is set in the
// environment. Intended for tests and embedded use.
func Defaults() *Config {
	return &Config{
		Server:    ServerConfig{Port: "6000", Env: "test", LogLevel: "info", BodyLimitMB: 50},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		RateLimit: RateLimitConfig{AnalysisPerMin: 60, JobsPerHour: 100},
		Audio:     AudioConfig{SampleRate: 22050, FFmpegPath: "ffmpeg", TempDir: os.TempDir()},
		Analysis: AnalysisConfig{
			TrimSeconds:      15,
			CorrectionFactor: 1.006,
			RoundTempo:       true,
			StartBPM:         120,
			ChromaMaxFreq:    4200,
		},
		Cache:   CacheConfig{Enabled: true, TTL: 24 * time.Hour},
		Storage: StorageConfig{Region: "auto", LocalDir: "./data/uploads"},
		Worker:  WorkerConfig{Enabled: true, Concurrency: 4},
	}
}
