package config

import (
	"time"

	"github.com/fieldops/opsimport/internal/db"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Server holds HTTP and pipeline tunables.
type Server struct {
	Addr           string
	AllowedOrigin  string
	StagingTTL     time.Duration
	MaxUploadBytes int64
	MigrationsPath string
}

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Server   Server
}

// DefaultServer returns sensible local defaults.
func DefaultServer() Server {
	return Server{
		Addr:           ":8080",
		AllowedOrigin:  "http://localhost:3000",
		StagingTTL:     24 * time.Hour,
		MaxUploadBytes: 32 << 20,
		MigrationsPath: "migrations",
	}
}

// Load reads config.yaml from the given path when present and applies
// environment overrides (prefix OPSIMPORT, e.g. OPSIMPORT_DATABASE_HOST).
func Load(configPath string, log *logrus.Logger) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Server:   DefaultServer(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("OPSIMPORT")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.allowed_origin")
	v.BindEnv("server.staging_ttl")
	v.BindEnv("server.max_upload_bytes")
	v.BindEnv("server.migrations_path")

	if err := v.ReadInConfig(); err != nil {
		log.Info("no config.yaml found, using defaults and env vars")
	} else {
		log.WithField("file", v.ConfigFileUsed()).Info("loaded configuration")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origin") {
		cfg.Server.AllowedOrigin = v.GetString("server.allowed_origin")
	}
	if v.IsSet("server.staging_ttl") {
		cfg.Server.StagingTTL = v.GetDuration("server.staging_ttl")
	}
	if v.IsSet("server.max_upload_bytes") {
		cfg.Server.MaxUploadBytes = v.GetInt64("server.max_upload_bytes")
	}
	if v.IsSet("server.migrations_path") {
		cfg.Server.MigrationsPath = v.GetString("server.migrations_path")
	}

	return cfg, nil
}
