package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		DSN string
	}
	API struct {
		Port     string
		BasePath string
	}
	Auth struct {
		CronSecret string
		JWTSecret  string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Push struct {
		GatewayURL    string
		AccessToken   string
		RatePerSecond int
		Timeout       time.Duration
	}
	Ledger struct {
		Backend string
	}
	Redis struct {
		Addr     string
		Password string
	}
	Kafka struct {
		Broker     string
		LapseTopic string
		GroupID    string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
	}
	Telegram struct {
		BotToken string
	}
	Conservation struct {
		GracePeriod  time.Duration
		AutoArm      bool
		TickInterval time.Duration
	}
	Scheduler struct {
		AnniversaryWindowDays int
		Concurrency           int
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.DB.DSN = os.Getenv("DB_DSN")

	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Auth.CronSecret = os.Getenv("CRON_SECRET")
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Push gateway
	cfg.Push.GatewayURL = os.Getenv("PUSH_GATEWAY_URL")
	cfg.Push.AccessToken = os.Getenv("PUSH_ACCESS_TOKEN")
	cfg.Push.RatePerSecond = intEnv("PUSH_RATE_PER_SECOND")
	cfg.Push.Timeout = durationEnv("PUSH_TIMEOUT")

	cfg.Ledger.Backend = os.Getenv("LEDGER_BACKEND")
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.LapseTopic = os.Getenv("KAFKA_LAPSE_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = intEnv("EMAIL_SMTP_PORT")
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	// Conservation workflow
	cfg.Conservation.GracePeriod = durationEnv("CONSERVATION_GRACE_PERIOD")
	cfg.Conservation.AutoArm = true
	if v := os.Getenv("CONSERVATION_AUTO_ARM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Conservation.AutoArm = b
		}
	}
	tick, tickSet := os.LookupEnv("CONSERVATION_TICK_INTERVAL")
	cfg.Conservation.TickInterval = durationEnv("CONSERVATION_TICK_INTERVAL")

	cfg.Scheduler.AnniversaryWindowDays = intEnv("ANNIVERSARY_WINDOW_DAYS")
	cfg.Scheduler.Concurrency = intEnv("SCHEDULER_CONCURRENCY")

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Auth.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}
	if cfg.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.Ledger.Backend == "redis" && cfg.Redis.Addr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	cfg.applyDefaults()
	if !tickSet || tick == "" {
		cfg.Conservation.TickInterval = 5 * time.Minute
	}

	return cfg, nil
}

// applyDefaults fills zero values. An explicit zero tick interval is kept and
// disables the in-process conservation ticker.
func (cfg *Config) applyDefaults() {
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Push.GatewayURL == "" {
		cfg.Push.GatewayURL = "https://exp.host/--/api/v2/push/send"
	}
	if cfg.Push.RatePerSecond == 0 {
		cfg.Push.RatePerSecond = 50
	}
	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = 10 * time.Second
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "postgres"
	}
	if cfg.Kafka.LapseTopic == "" {
		cfg.Kafka.LapseTopic = "policy_lapse"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "touchpoint-service"
	}
	if cfg.Conservation.GracePeriod == 0 {
		cfg.Conservation.GracePeriod = 24 * time.Hour
	}
	if cfg.Scheduler.AnniversaryWindowDays == 0 {
		cfg.Scheduler.AnniversaryWindowDays = 30
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 4
	}
}

func intEnv(key string) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return 0
}

func durationEnv(key string) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return 0
}
