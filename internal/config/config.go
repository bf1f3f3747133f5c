package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	Port                 string
	Origin               string
	Environment          string
	LogLevel             string
	JWTSecret            string
	JWTExpirationMinutes int
	Database             DatabaseConfig
	Redis                RedisConfig
	Feed                 FeedConfig
	Booking              BookingConfig
	SOS                  SOSConfig
	Alerts               AlertConfig
	Admin                AdminConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Name         string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the redis connection used by the change feed and the
// device fix store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FeedConfig selects the change feed transport.
type FeedConfig struct {
	Driver        string // "memory" or "redis"
	ChannelPrefix string
}

// BookingConfig controls the appointment state machine.
type BookingConfig struct {
	Consistency string // "lww" or "cas"
	TokenPrefix string
}

// SOSConfig controls the emergency dispatch pipeline.
type SOSConfig struct {
	HighAccuracyTimeout time.Duration
	FallbackTimeout     time.Duration
	MaxCacheAge         time.Duration
	FallbackPhone       string
	MapURL              string
	FixTTL              time.Duration
}

// AlertConfig holds outbound alert channel settings.
type AlertConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string
	Channel          string // "whatsapp" or "sms"
	Workers          int
	QueueSize        int
	SendTimeout      time.Duration
}

// AdminConfig seeds the first admin account at startup. Seeding is skipped
// when Email is empty.
type AdminConfig struct {
	Email    string
	Password string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "care"),
	}

	// Build DSN (Data Source Name) for MySQL connection
	dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)

	var err error
	if dbConfig.MaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", 20); err != nil {
		return nil, err
	}
	if dbConfig.MaxIdleConns, err = getEnvInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisConfig := RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	}

	feedConfig := FeedConfig{
		Driver:        strings.ToLower(getEnv("FEED_DRIVER", "redis")),
		ChannelPrefix: getEnv("FEED_CHANNEL_PREFIX", "changefeed:"),
	}
	if feedConfig.Driver != "memory" && feedConfig.Driver != "redis" {
		return nil, fmt.Errorf("invalid FEED_DRIVER: %q", feedConfig.Driver)
	}

	bookingConfig := BookingConfig{
		Consistency: strings.ToLower(getEnv("BOOKING_CONSISTENCY", "lww")),
		TokenPrefix: getEnv("MEETING_TOKEN_PREFIX", "consult"),
	}
	if bookingConfig.Consistency != "lww" && bookingConfig.Consistency != "cas" {
		return nil, fmt.Errorf("invalid BOOKING_CONSISTENCY: %q", bookingConfig.Consistency)
	}
	// The appointment id is read from a fixed segment of the token.
	if bookingConfig.TokenPrefix == "" || strings.Contains(bookingConfig.TokenPrefix, "-") {
		return nil, fmt.Errorf("invalid MEETING_TOKEN_PREFIX: %q must be non-empty and contain no '-'", bookingConfig.TokenPrefix)
	}

	sosConfig := SOSConfig{
		FallbackPhone: getEnv("SOS_FALLBACK_PHONE", "919999999999"),
		MapURL:        getEnv("SOS_MAP_URL", "https://www.google.com/maps"),
	}
	if sosConfig.HighAccuracyTimeout, err = getEnvDuration("SOS_HIGH_ACCURACY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if sosConfig.FallbackTimeout, err = getEnvDuration("SOS_FALLBACK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if sosConfig.MaxCacheAge, err = getEnvDuration("SOS_MAX_CACHE_AGE", 10*time.Second); err != nil {
		return nil, err
	}
	if sosConfig.FixTTL, err = getEnvDuration("SOS_FIX_TTL", time.Hour); err != nil {
		return nil, err
	}

	alertConfig := AlertConfig{
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       getEnv("TWILIO_FROM", ""),
		TwilioBaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		Channel:          strings.ToLower(getEnv("ALERT_CHANNEL", "whatsapp")),
	}
	if alertConfig.Workers, err = getEnvInt("ALERT_WORKERS", 2); err != nil {
		return nil, err
	}
	if alertConfig.QueueSize, err = getEnvInt("ALERT_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if alertConfig.SendTimeout, err = getEnvDuration("ALERT_SEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	adminConfig := AdminConfig{
		Email:    strings.ToLower(strings.TrimSpace(getEnv("ADMIN_EMAIL", ""))),
		Password: getEnv("ADMIN_PASSWORD", ""),
	}
	if adminConfig.Email != "" && len(adminConfig.Password) < 8 {
		return nil, fmt.Errorf("invalid ADMIN_PASSWORD: must be at least 8 characters when ADMIN_EMAIL is set")
	}

	jwtExpMinutes, err := getEnvInt("JWT_EXPIRATION_MINUTES", 60)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:                 getEnv("PORT", "3001"),
		Origin:               getEnv("ORIGIN", "http://localhost:5173"),
		Environment:          getEnv("APP_ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		JWTSecret:            getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTExpirationMinutes: jwtExpMinutes,
		Database:             dbConfig,
		Redis:                redisConfig,
		Feed:                 feedConfig,
		Booking:              bookingConfig,
		SOS:                  sosConfig,
		Alerts:               alertConfig,
		Admin:                adminConfig,
	}, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("5s") or bare milliseconds ("5000").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
