package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Address             string
		Host                string
		DisableReqLogs      bool
		ShutdownTimeout     time.Duration
		JWTLifetime         time.Duration
		JWTRefreshThreshold time.Duration
		JWTRefreshWindow    time.Duration
		RefreshLedgerSize   int
	}

	dbConfig struct {
		Engine        string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
	}

	cacheConfig struct {
		MaxEntries    int
		ClassesTTL    time.Duration
		ClassNamesTTL time.Duration
		UsersTTL      time.Duration
		AssignmentTTL time.Duration
		SubmittedTTL  time.Duration
	}

	s3Config struct {
		Endpoint       string
		Region         string
		Bucket         string
		AccessKey      string
		SecretKey      string
		DisableTLS     bool
		ForcePathStyle bool
	}

	filesConfig struct {
		Backend string // local | s3
		Root    string
		MaxSize int64
		Workers int64
		S3      s3Config
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		SecretKey        string
		Debug            bool
		TestMode         bool
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridApiKey   string

		Server   serverConfig
		Database dbConfig
		Cache    cacheConfig
		Files    filesConfig
	}
)

func (c dbConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig loads the configuration from the environment, optionally read from `config/.env.<env>`.
func NewConfig() *Config {
	conf := viper.New()

	env := strings.ToLower(os.Getenv("APP_ENV")) // dev (default), test, qa, prod
	if env == "" {
		env = "dev"
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+env)
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	conf.SetEnvPrefix("darasa")
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.AutomaticEnv()
	setDefaults(conf, env)

	return &Config{
		AppName:          conf.GetString("app_name"),
		Env:              env,
		Build:            conf.GetString("build"),
		SecretKey:        conf.GetString("secret_key"),
		Debug:            conf.GetBool("debug"),
		TestMode:         env == "test",
		FrontendBaseURL:  conf.GetString("frontend_base_url"),
		DefaultFromEmail: mail.Address{Name: conf.GetString("app_name"), Address: conf.GetString("default_from_email")},
		RollbarToken:     conf.GetString("rollbar_token"),
		SendgridApiKey:   conf.GetString("sendgrid_api_key"),
		Server: serverConfig{
			Address:             conf.GetString("server.address"),
			Host:                conf.GetString("server.host"),
			DisableReqLogs:      conf.GetBool("server.disable_req_logs"),
			ShutdownTimeout:     conf.GetDuration("server.shutdown_timeout"),
			JWTLifetime:         conf.GetDuration("server.jwt_lifetime"),
			JWTRefreshThreshold: conf.GetDuration("server.jwt_refresh_threshold"),
			JWTRefreshWindow:    conf.GetDuration("server.jwt_refresh_window"),
			RefreshLedgerSize:   conf.GetInt("server.refresh_ledger_size"),
		},
		Database: dbConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.admin_user"),
			AdminPassword: conf.GetString("database.admin_password"),
			Name:          conf.GetString("database.name"),
			DisableTLS:    conf.GetBool("database.disable_tls"),
		},
		Cache: cacheConfig{
			MaxEntries:    conf.GetInt("cache.max_entries"),
			ClassesTTL:    conf.GetDuration("cache.classes_ttl"),
			ClassNamesTTL: conf.GetDuration("cache.class_names_ttl"),
			UsersTTL:      conf.GetDuration("cache.users_ttl"),
			AssignmentTTL: conf.GetDuration("cache.assignments_ttl"),
			SubmittedTTL:  conf.GetDuration("cache.submitted_ttl"),
		},
		Files: filesConfig{
			Backend: conf.GetString("files.backend"),
			Root:    conf.GetString("files.root"),
			MaxSize: conf.GetInt64("files.max_size"),
			Workers: conf.GetInt64("files.workers"),
			S3: s3Config{
				Endpoint:       conf.GetString("s3.endpoint"),
				Region:         conf.GetString("s3.region"),
				Bucket:         conf.GetString("s3.bucket"),
				AccessKey:      conf.GetString("s3.access_key"),
				SecretKey:      conf.GetString("s3.secret_key"),
				DisableTLS:     conf.GetBool("s3.disable_tls"),
				ForcePathStyle: conf.GetBool("s3.force_path_style"),
			},
		},
	}
}

func setDefaults(conf *viper.Viper, env string) {
	conf.SetDefault("app_name", "Darasa")
	conf.SetDefault("debug", env == "dev" || env == "test")
	conf.SetDefault("secret_key", "k2x!b0(7ak=vz3#f_e@u1-h9$qwnpl^r6c8)m+yt4gs5jd*o")
	conf.SetDefault("frontend_base_url", "http://localhost:3000")
	conf.SetDefault("default_from_email", "noreply@localhost")

	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.shutdown_timeout", 5*time.Second)
	conf.SetDefault("server.jwt_lifetime", 30*time.Minute)
	conf.SetDefault("server.jwt_refresh_threshold", 5*time.Minute)
	conf.SetDefault("server.jwt_refresh_window", 2*time.Minute)
	conf.SetDefault("server.refresh_ledger_size", 100_000)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.user", "darasa")
	conf.SetDefault("database.password", "darasa")
	conf.SetDefault("database.name", fmt.Sprintf("darasa_%s", env))
	conf.SetDefault("database.disable_tls", env == "dev" || env == "test")

	conf.SetDefault("cache.max_entries", 2000)
	conf.SetDefault("cache.classes_ttl", 60*time.Minute)
	conf.SetDefault("cache.class_names_ttl", 60*time.Minute)
	conf.SetDefault("cache.users_ttl", 30*time.Minute)
	conf.SetDefault("cache.assignments_ttl", 15*time.Minute)
	conf.SetDefault("cache.submitted_ttl", 10*time.Minute)

	conf.SetDefault("files.backend", "local")
	conf.SetDefault("files.root", "uploads")
	conf.SetDefault("files.max_size", 10<<20) // 10MB
	conf.SetDefault("files.workers", 4)

	conf.SetDefault("s3.region", "us-east-1")
	conf.SetDefault("s3.force_path_style", true)
}
