package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// SchedulerConfig contains the background job scheduler settings.
//
// The polling interval drives the local queue-drain cadence; the DB poll
// interval is deliberately coarser so the durable store is not hit on every
// local tick.
type SchedulerConfig struct {
	ConcurrencyLimit       int  `mapstructure:"concurrency_limit"         validate:"required,gt=0"`
	PollingIntervalMs      int  `mapstructure:"polling_interval_ms"       validate:"required,gt=0"`
	DBPollIntervalMs       int  `mapstructure:"db_poll_interval_ms"       validate:"required,gt=0"`
	JobTimeoutMs           int  `mapstructure:"job_timeout_ms"            validate:"required,gt=0"`
	StaleJobTimeoutSeconds int  `mapstructure:"stale_job_timeout_seconds" validate:"required,gt=0"`
	DebugMode              bool `mapstructure:"debug_mode"`
}

// LLMConfig contains all model-integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}
