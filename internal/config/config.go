// Package config loads the service configuration from the environment, an optional
// .env file and an optional YAML file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// MinSecretLength is the shortest accepted JWT_SECRET, 256 bits for HS256.
const MinSecretLength = 32

// Config holds all settings of the service.
type Config struct {
	Port       string
	Store      string // "mysql" or "memory"
	DBHost     string
	DBUser     string
	DBPwd      string
	DBName     string
	GinLogging bool
	LogLevel   string
	LogFormat  string // "console" or "json"
	JWTSecret  string

	Shake          ShakeConfig
	SMS            SMSConfig
	FlowTimeout    time.Duration
	LocationMaxAge time.Duration
	AllowedOrigins []string
}

// ShakeConfig tunes the shake detector.
type ShakeConfig struct {
	ThresholdGravity float64
	SlopTime         time.Duration
}

// SMSConfig configures the text message gateway. Without a URL messages are only logged.
type SMSConfig struct {
	GatewayURL string
	Username   string
	Password   string
	From       string
	Timeout    time.Duration
}

// fileConfig is the YAML layout. Durations are in milliseconds.
type fileConfig struct {
	Store string `yaml:"store"`
	Shake struct {
		ThresholdGravity float64 `yaml:"threshold_gravity"`
		SlopTimeMs       int64   `yaml:"slop_time_ms"`
	} `yaml:"shake"`
	SMS struct {
		GatewayURL string `yaml:"gateway_url"`
		Username   string `yaml:"username"`
		Password   string `yaml:"password"`
		From       string `yaml:"from"`
		TimeoutMs  int64  `yaml:"timeout_ms"`
	} `yaml:"sms"`
	FlowTimeoutMs    int64    `yaml:"flow_timeout_ms"`
	LocationMaxAgeMs int64    `yaml:"location_max_age_ms"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:       "8080",
		Store:      "mysql",
		DBHost:     "localhost:3306",
		DBName:     "test",
		GinLogging: true,
		LogLevel:   "info",
		LogFormat:  "console",
		Shake: ShakeConfig{
			ThresholdGravity: 2.7,
			SlopTime:         500 * time.Millisecond,
		},
		SMS:            SMSConfig{Timeout: 10 * time.Second},
		FlowTimeout:    30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set) and finally
// the environment, each overriding the previous.
func Load(log zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found")
	}
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	if f.Store != "" {
		c.Store = f.Store
	}
	if f.Shake.ThresholdGravity != 0 {
		c.Shake.ThresholdGravity = f.Shake.ThresholdGravity
	}
	if f.Shake.SlopTimeMs != 0 {
		c.Shake.SlopTime = millis(f.Shake.SlopTimeMs)
	}
	if f.SMS.GatewayURL != "" {
		c.SMS.GatewayURL = f.SMS.GatewayURL
	}
	if f.SMS.Username != "" {
		c.SMS.Username = f.SMS.Username
	}
	if f.SMS.Password != "" {
		c.SMS.Password = f.SMS.Password
	}
	if f.SMS.From != "" {
		c.SMS.From = f.SMS.From
	}
	if f.SMS.TimeoutMs != 0 {
		c.SMS.Timeout = millis(f.SMS.TimeoutMs)
	}
	if f.FlowTimeoutMs != 0 {
		c.FlowTimeout = millis(f.FlowTimeoutMs)
	}
	if f.LocationMaxAgeMs != 0 {
		c.LocationMaxAge = millis(f.LocationMaxAgeMs)
	}
	if len(f.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.AllowedOrigins
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Store, "STORE")
	setString(&c.DBHost, "DBHOST")
	setString(&c.DBUser, "DBUSER")
	setString(&c.DBPwd, "DBPWD")
	setString(&c.DBName, "DBNAME")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.SMS.GatewayURL, "SMS_GATEWAY_URL")
	setString(&c.SMS.Username, "SMS_USERNAME")
	setString(&c.SMS.Password, "SMS_PASSWORD")
	setString(&c.SMS.From, "SMS_FROM")
	if strings.EqualFold(os.Getenv("GIN_LOGGING"), "off") {
		c.GinLogging = false
	}
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("SHAKE_THRESHOLD"); ok {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(ErrInvalidConfig, "could not parse SHAKE_THRESHOLD")
		}
		c.Shake.ThresholdGravity = g
	}
	for key, target := range map[string]*time.Duration{
		"SHAKE_SLOP_TIME":  &c.Shake.SlopTime,
		"SMS_TIMEOUT":      &c.SMS.Timeout,
		"FLOW_TIMEOUT":     &c.FlowTimeout,
		"LOCATION_MAX_AGE": &c.LocationMaxAge,
	} {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.Wrapf(ErrInvalidConfig, "could not parse %s", key)
			}
			*target = d
		}
	}
	return nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.Wrap(ErrInvalidConfig, "could not parse PORT")
	}
	if c.Store != "mysql" && c.Store != "memory" {
		return errors.Wrapf(ErrInvalidConfig, "unknown store %q", c.Store)
	}
	if c.Shake.ThresholdGravity <= 0 {
		return errors.Wrap(ErrInvalidConfig, "shake threshold must be positive")
	}
	if c.Shake.SlopTime < 0 || c.FlowTimeout < 0 || c.LocationMaxAge < 0 {
		return errors.Wrap(ErrInvalidConfig, "durations must not be negative")
	}
	if c.JWTSecret == "" {
		return errors.Wrap(ErrInvalidConfig, "JWT_SECRET must be set")
	}
	if len(c.JWTSecret) < MinSecretLength {
		return errors.Wrapf(ErrInvalidConfig, "JWT_SECRET must have at least %d characters", MinSecretLength)
	}
	return nil
}

// DSN returns the MySQL data source name.
func (c *Config) DSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.DBUser
	dsn.Passwd = c.DBPwd
	dsn.Net = "tcp"
	dsn.Addr = c.DBHost
	dsn.DBName = c.DBName
	dsn.ParseTime = true
	return dsn.FormatDSN()
}

func setString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
