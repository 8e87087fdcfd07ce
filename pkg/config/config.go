package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Auth         AuthConfig
	Dashboard    DashboardConfig
	Provisioning ProvisioningConfig
	Reminders    RemindersConfig
	Mail         MailConfig
	Exports      ExportsConfig
	Jobs         JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig tunes the login lockout.
type AuthConfig struct {
	MaxLoginAttempts int
	LockoutWindow    time.Duration
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// ProvisioningConfig controls account creation and temporary credentials.
type ProvisioningConfig struct {
	DefaultRateMin      float64
	DefaultRateMax      float64
	PasswordLength      int
	CredentialTTL       time.Duration
	CompensationRetries int
	CompensationDelay   time.Duration
}

// RemindersConfig drives the reminder scheduler.
type RemindersConfig struct {
	Enabled            bool
	Interval           time.Duration
	EndOfMonthDay      int
	BankDetailsWeekday time.Weekday
	OverdueAfter       time.Duration
	Location           string
}

// MailConfig selects the access-email transport.
type MailConfig struct {
	Provider       string
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	FrontendURL    string
}

// ExportsConfig controls where generated files are stored and how long links live.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	PublicURL       string
}

// JobsConfig sizes the background worker pool.
type JobsConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Auth = AuthConfig{
		MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
		LockoutWindow:    parseDuration(v.GetString("AUTH_LOCKOUT_WINDOW"), 15*time.Minute),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD_CACHE"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Provisioning = ProvisioningConfig{
		DefaultRateMin:      v.GetFloat64("TEACHER_DEFAULT_RATE_MIN"),
		DefaultRateMax:      v.GetFloat64("TEACHER_DEFAULT_RATE_MAX"),
		PasswordLength:      v.GetInt("TEMP_PASSWORD_LENGTH"),
		CredentialTTL:       parseDuration(v.GetString("TEMP_CREDENTIAL_TTL"), 7*24*time.Hour),
		CompensationRetries: v.GetInt("PROVISIONING_COMPENSATION_RETRIES"),
		CompensationDelay:   parseDuration(v.GetString("PROVISIONING_COMPENSATION_DELAY"), 5*time.Second),
	}

	cfg.Reminders = RemindersConfig{
		Enabled:            v.GetBool("ENABLE_REMINDERS"),
		Interval:           parseDuration(v.GetString("REMINDERS_INTERVAL"), time.Hour),
		EndOfMonthDay:      v.GetInt("REMINDERS_END_OF_MONTH_DAY"),
		BankDetailsWeekday: parseWeekday(v.GetString("REMINDERS_BANK_DETAILS_WEEKDAY"), time.Monday),
		OverdueAfter:       parseDuration(v.GetString("REMINDERS_OVERDUE_AFTER"), 7*24*time.Hour),
		Location:           v.GetString("REMINDERS_TIMEZONE"),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		FromEmail:      v.GetString("MAIL_FROM_EMAIL"),
		FrontendURL:    v.GetString("FRONTEND_URL"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 30*time.Minute),
		PublicURL:       v.GetString("EXPORTS_PUBLIC_URL"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		Retries:    v.GetInt("JOBS_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_invoicing")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "campus-invoicing")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTH_MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("AUTH_LOCKOUT_WINDOW", "15m")

	v.SetDefault("ENABLE_DASHBOARD_CACHE", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("TEACHER_DEFAULT_RATE_MIN", 25)
	v.SetDefault("TEACHER_DEFAULT_RATE_MAX", 60)
	v.SetDefault("TEMP_PASSWORD_LENGTH", 12)
	v.SetDefault("TEMP_CREDENTIAL_TTL", "168h")
	v.SetDefault("PROVISIONING_COMPENSATION_RETRIES", 3)
	v.SetDefault("PROVISIONING_COMPENSATION_DELAY", "5s")

	v.SetDefault("ENABLE_REMINDERS", true)
	v.SetDefault("REMINDERS_INTERVAL", "1h")
	v.SetDefault("REMINDERS_END_OF_MONTH_DAY", 25)
	v.SetDefault("REMINDERS_BANK_DETAILS_WEEKDAY", "monday")
	v.SetDefault("REMINDERS_OVERDUE_AFTER", "168h")
	v.SetDefault("REMINDERS_TIMEZONE", "Europe/Paris")

	v.SetDefault("MAIL_PROVIDER", "log")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "Administration")
	v.SetDefault("MAIL_FROM_EMAIL", "no-reply@example.com")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "30m")
	v.SetDefault("EXPORTS_PUBLIC_URL", "http://localhost:8080/api/v1")

	v.SetDefault("JOBS_WORKERS", 2)
	v.SetDefault("JOBS_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseWeekday(raw string, fallback time.Weekday) time.Weekday {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sunday", "dimanche":
		return time.Sunday
	case "monday", "lundi":
		return time.Monday
	case "tuesday", "mardi":
		return time.Tuesday
	case "wednesday", "mercredi":
		return time.Wednesday
	case "thursday", "jeudi":
		return time.Thursday
	case "friday", "vendredi":
		return time.Friday
	case "saturday", "samedi":
		return time.Saturday
	default:
		return fallback
	}
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
