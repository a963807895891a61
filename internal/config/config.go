package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port              int               `yaml:"port"`
		ReadTimeout       time.Duration     `yaml:"readTimeout"`
		WriteTimeout      time.Duration     `yaml:"writeTimeout"`
		IdleTimeout       time.Duration     `yaml:"idleTimeout"`
		ShutdownTimeout   time.Duration     `yaml:"shutdownTimeout"`
		AllowedOrigins    []string          `yaml:"allowedOrigins"`
		APIKeys           map[string]string `yaml:"apiKeys"`           // client name -> key; empty disables auth
		TrustProxyHeaders bool              `yaml:"trustProxyHeaders"` // only behind a proxy that overwrites X-Forwarded-For
		RateLimit         struct {
			RequestsPerMinute int `yaml:"requestsPerMinute"`
			Burst             int `yaml:"burst"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
	} `yaml:"log"`

	Download struct {
		Binary        string        `yaml:"binary"`
		Format        string        `yaml:"format"`
		MaxFileSizeMB int64         `yaml:"maxFileSizeMB"`
		SocketTimeout time.Duration `yaml:"socketTimeout"`
		Timeout       time.Duration `yaml:"timeout"`
		TempDir       string        `yaml:"tempDir"`
		PlayerClients []string      `yaml:"playerClients"`
		GeoBypass     bool          `yaml:"geoBypass"`
		NoCheckCert   bool          `yaml:"noCheckCertificate"`
		SourceAddress string        `yaml:"sourceAddress"`
	} `yaml:"download"`

	Gemini struct {
		APIKey       string        `yaml:"apiKey"`
		Models       []string      `yaml:"models"`
		Prompt       string        `yaml:"prompt"`
		PollInterval time.Duration `yaml:"pollInterval"`
		PollAttempts int           `yaml:"pollAttempts"`
	} `yaml:"gemini"`

	Database struct {
		Driver   string `yaml:"driver"` // "" (disabled) | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Redis struct {
		Addr     string        `yaml:"addr"` // empty disables the result cache
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.RateLimit.RequestsPerMinute = 30
	cfg.Server.RateLimit.Burst = 5

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Download.Binary = "yt-dlp"
	cfg.Download.Format = "worst"
	cfg.Download.MaxFileSizeMB = 50
	cfg.Download.SocketTimeout = 10 * time.Second
	cfg.Download.Timeout = 2 * time.Minute
	cfg.Download.TempDir = "./temp"
	cfg.Download.PlayerClients = []string{"android", "web"}
	cfg.Download.GeoBypass = true
	cfg.Download.NoCheckCert = true
	cfg.Download.SourceAddress = "0.0.0.0"

	cfg.Gemini.Models = []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"}
	cfg.Gemini.PollInterval = 2 * time.Second
	cfg.Gemini.PollAttempts = 10

	cfg.Redis.TTL = 6 * time.Hour
	return &cfg
}

// Load baca file config.yaml di atas default, lalu override dari env.
// File yang tidak ada bukan error: service bisa jalan cuma dengan env.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	} else if v := os.Getenv("GOOGLE_API_KEY"); v != "" && c.Gemini.APIKey == "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("YTDLP_PATH"); v != "" {
		c.Download.Binary = v
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Download.MaxFileSizeMB <= 0 {
		return fmt.Errorf("download.maxFileSizeMB must be positive")
	}
	if len(c.Gemini.Models) == 0 {
		return fmt.Errorf("gemini.models must list at least one model")
	}
	if c.Gemini.PollAttempts <= 0 {
		return fmt.Errorf("gemini.pollAttempts must be positive")
	}
	switch c.Database.Driver {
	case "", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// MaxFileSizeBytes is the download and upload cap.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Download.MaxFileSizeMB * 1024 * 1024
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		sslMode,
	)
}
