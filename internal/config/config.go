package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the single process-wide configuration object. It is built once
// at startup and passed explicitly to every component that needs it.
type Config struct {
	Env      string
	LogLevel string

	DatabaseURL string
	HTTPAddr    string

	// OData (ERP) endpoint.
	ODataURL      string
	ODataUser     string
	ODataPassword string

	// CHAT (Chatwoot-style) endpoint.
	ChatURL           string
	ChatAccountID     int
	ChatToken         string
	ChatWebhookSecret string

	APIJWTSecret string

	// ETL tuning.
	PageSize          int
	InitialFromDate   time.Time
	BufferDays        int
	MaxKeysPerRequest int
	ETLMode           string
	MaxErrorLogs      int

	SendQueueWaitTimeMessage bool

	// Scheduler intervals per entity.
	Schedule ScheduleConfig
}

// ScheduleConfig holds per-entity run intervals for the scheduler.
type ScheduleConfig struct {
	Consultations time.Duration
	Bulk          time.Duration
	Calls         time.Duration
	Redates       time.Duration
	Ratings       time.Duration
	Closings      time.Duration
	Users         time.Duration
	OpenUpdate    time.Duration
}

const initialFromLayout = "2006-01-02"

// Load reads configuration from the environment. Every key has a default
// except the endpoint credentials, which are validated by the commands
// that need them.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PAGE_SIZE", 1000)
	v.SetDefault("INITIAL_FROM_DATE", "2025-01-01")
	v.SetDefault("INCREMENTAL_BUFFER_DAYS", 7)
	v.SetDefault("MAX_KEYS_PER_REQUEST", 40)
	v.SetDefault("ETL_MODE", "incremental")
	v.SetDefault("MAX_ERROR_LOGS", 10)
	v.SetDefault("SEND_QUEUE_WAIT_TIME_MESSAGE", true)
	v.SetDefault("CHAT_ACCOUNT_ID", 1)
	v.SetDefault("SCHEDULE_CONSULTATIONS", "2m")
	v.SetDefault("SCHEDULE_BULK", "10m")
	v.SetDefault("SCHEDULE_CALLS", "5m")
	v.SetDefault("SCHEDULE_REDATES", "5m")
	v.SetDefault("SCHEDULE_RATINGS", "5m")
	v.SetDefault("SCHEDULE_CLOSINGS", "5m")
	v.SetDefault("SCHEDULE_USERS", "30m")
	v.SetDefault("SCHEDULE_OPEN_UPDATE", "15m")

	from, err := time.Parse(initialFromLayout, v.GetString("INITIAL_FROM_DATE"))
	if err != nil {
		return nil, fmt.Errorf("parse INITIAL_FROM_DATE: %w", err)
	}

	sched, err := loadSchedule(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:      v.GetString("ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DatabaseURL: v.GetString("DATABASE_URL"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),

		ODataURL:      v.GetString("ODATA_URL"),
		ODataUser:     v.GetString("ODATA_USER"),
		ODataPassword: v.GetString("ODATA_PASSWORD"),

		ChatURL:           v.GetString("CHAT_URL"),
		ChatAccountID:     v.GetInt("CHAT_ACCOUNT_ID"),
		ChatToken:         v.GetString("CHAT_TOKEN"),
		ChatWebhookSecret: v.GetString("CHAT_WEBHOOK_SECRET"),

		APIJWTSecret: v.GetString("API_JWT_SECRET"),

		PageSize:          v.GetInt("PAGE_SIZE"),
		InitialFromDate:   from,
		BufferDays:        v.GetInt("INCREMENTAL_BUFFER_DAYS"),
		MaxKeysPerRequest: v.GetInt("MAX_KEYS_PER_REQUEST"),
		ETLMode:           v.GetString("ETL_MODE"),
		MaxErrorLogs:      v.GetInt("MAX_ERROR_LOGS"),

		SendQueueWaitTimeMessage: v.GetBool("SEND_QUEUE_WAIT_TIME_MESSAGE"),

		Schedule: sched,
	}

	if cfg.ETLMode != "incremental" && cfg.ETLMode != "open_update" {
		return nil, fmt.Errorf("invalid ETL_MODE %q (want incremental or open_update)", cfg.ETLMode)
	}

	return cfg, nil
}

func loadSchedule(v *viper.Viper) (ScheduleConfig, error) {
	var s ScheduleConfig
	for _, e := range []struct {
		key string
		dst *time.Duration
	}{
		{"SCHEDULE_CONSULTATIONS", &s.Consultations},
		{"SCHEDULE_BULK", &s.Bulk},
		{"SCHEDULE_CALLS", &s.Calls},
		{"SCHEDULE_REDATES", &s.Redates},
		{"SCHEDULE_RATINGS", &s.Ratings},
		{"SCHEDULE_CLOSINGS", &s.Closings},
		{"SCHEDULE_USERS", &s.Users},
		{"SCHEDULE_OPEN_UPDATE", &s.OpenUpdate},
	} {
		d, err := time.ParseDuration(v.GetString(e.key))
		if err != nil {
			return s, fmt.Errorf("parse %s: %w", e.key, err)
		}
		*e.dst = d
	}
	return s, nil
}

// Dev reports whether the process runs in development mode. Webhook
// signature enforcement is relaxed only in this mode.
func (c *Config) Dev() bool {
	return c.Env == "dev"
}

// ConsultationBuffer is the incremental safety window for the consultation
// and bulk-consultation pullers.
func (c *Config) ConsultationBuffer() time.Duration {
	return time.Duration(c.BufferDays) * 24 * time.Hour
}

// ClosingBuffer is the incremental safety window for queue closings.
func (c *Config) ClosingBuffer() time.Duration { return 24 * time.Hour }

// RedateBuffer is the incremental safety window for reschedules.
func (c *Config) RedateBuffer() time.Duration { return 6 * time.Hour }
