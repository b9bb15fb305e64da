package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/3B132016/tws/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	} `yaml:"log"`
	Data struct {
		Dir         string   `yaml:"dir" default:"db" validate:"required"`
		Format      string   `yaml:"format" default:"csv" validate:"oneof=csv html"`
		HTMLExt     string   `yaml:"html_ext" default:".html"`
		DateColumn  string   `yaml:"date_column" default:"時間" validate:"required"`
		CloseColumn string   `yaml:"close_column" default:"收盤價" validate:"required"`
		FlowColumn  int      `yaml:"flow_column" default:"16" validate:"gte=0"`
		FlowName    string   `yaml:"flow_name"`
		DateLayouts []string `yaml:"date_layouts"`
		Securities  []string `yaml:"securities"`
	} `yaml:"data"`
	Detection model.DetectionParams `yaml:"detection"`
	Horizons  []int                 `yaml:"horizons" default:"[1,5,10]" validate:"min=1,dive,gte=1"`
	CurveDays int                   `yaml:"curve_days" default:"10" validate:"gte=1"`
	Grid      model.Grid            `yaml:"grid"`
	Scorer    struct {
		Kind     string        `yaml:"kind" default:"winrate" validate:"oneof=winrate meanreturn model"`
		Horizons []int         `yaml:"horizons" default:"[1,5,10]" validate:"min=1,dive,gte=1"`
		ModelURL string        `yaml:"model_url" validate:"omitempty,url"`
		Timeout  time.Duration `yaml:"timeout" default:"5m"`
		Breaker  struct {
			Failures uint32        `yaml:"failures" default:"5" validate:"gte=1"`
			OpenFor  time.Duration `yaml:"open_for" default:"1m"`
		} `yaml:"breaker"`
	} `yaml:"scorer"`
	Workers  int `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" default:"data/tws.db"`
	} `yaml:"database"`
	Cache struct {
		RedisAddr string        `yaml:"redis_addr"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		TTL       time.Duration `yaml:"ttl" default:"24h"`
	} `yaml:"cache"`
	ETF struct {
		BaseURL   string  `yaml:"base_url" default:"https://findbillion-strategy.herokuapp.com" validate:"url"`
		APIKey    string  `yaml:"api_key"`
		RateLimit float64 `yaml:"rate_limit" default:"2" validate:"gt=0"`
	} `yaml:"etf"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		ScanCron  string `yaml:"scan_cron" default:"0 30 18 * * 1-5"`
		StateFile string `yaml:"state_file" default:"data/scan_state.json"`
	} `yaml:"schedule"`
	Server struct {
		Addr string `yaml:"addr" default:"127.0.0.1:8080"`
	} `yaml:"server"`
	Export struct {
		Dir string `yaml:"dir" default:"results"`
	} `yaml:"export"`
	Proxy string `yaml:"proxy"`
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validator.New()

// Default returns a config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Detection = model.DefaultDetectionParams()
	cfg.Grid = model.DefaultGrid()
	return cfg
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error. A .env file in the working directory is
// loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if len(cfg.Data.DateLayouts) == 0 {
		cfg.Data.DateLayouts = []string{"2006/01/02", "2006-01-02", "20060102"}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Data.Dir = getEnv("TWS_DATA_DIR", cfg.Data.Dir)
	cfg.Database.SQLitePath = getEnv("TWS_SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Cache.RedisAddr = getEnv("TWS_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.Password = getEnv("TWS_REDIS_PASSWORD", cfg.Cache.Password)
	cfg.Scorer.ModelURL = getEnv("MODEL_SCORER_URL", cfg.Scorer.ModelURL)
	cfg.ETF.APIKey = getEnv("ETF_API_KEY", cfg.ETF.APIKey)
	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Schedule.ScanCron = getEnv("CRON_SCAN", cfg.Schedule.ScanCron)
	cfg.Proxy = getEnv("HTTPS_PROXY", cfg.Proxy)
	cfg.Workers = getEnvAsInt("TWS_WORKERS", cfg.Workers)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{Field: fieldPath(fe), Message: message(fe)})
		}
	}
	if c.Scorer.Kind == "model" && c.Scorer.ModelURL == "" {
		errs = append(errs, ValidationError{Field: "scorer.modelurl", Message: "is required when kind is model"})
	}
	if c.Grid.Size() == 0 {
		errs = append(errs, ValidationError{Field: "grid", Message: "windows, multipliers and thresholds must be non-empty"})
	}
	return errors.Join(errs...)
}

// TelegramEnabled reports whether reports can be delivered.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "url":
		return "must be a valid URL"
	default:
		return "failed validation: " + fe.Tag()
	}
}
