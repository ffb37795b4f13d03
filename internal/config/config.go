package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bot.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Chat         ChatConfig         `yaml:"chat"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Sheets       SheetsConfig       `yaml:"sheets"`
	Blob         BlobConfig         `yaml:"blob"`
	Storage      StorageConfig      `yaml:"storage"`
	Tracking     TrackingConfig     `yaml:"tracking"`
	Manual       ManualConfig       `yaml:"manual"`
	Surveillance SurveillanceConfig `yaml:"surveillance"`
	Timer        TimerConfig        `yaml:"timer"`
	Permissions  PermissionsConfig  `yaml:"permissions"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// ChatConfig holds chat-platform connection settings. AppID and PublicKey
// belong to the platform application: AppID addresses follow-up webhooks,
// PublicKey verifies inbound interaction signatures.
type ChatConfig struct {
	Token         string `yaml:"token"`
	AppID         string `yaml:"app_id"`
	PublicKey     string `yaml:"public_key"`
	GuildID       string `yaml:"guild_id"`
	CommandPrefix string `yaml:"command_prefix"`
}

// ChannelsConfig maps each intake flow and operational surface to its
// chat channel. Flow commands refuse to run outside their channel.
type ChannelsConfig struct {
	CategoryID string `yaml:"category_id"`

	InvoiceA         string `yaml:"invoice_a"`
	InvoiceB         string `yaml:"invoice_b"`
	CreditNote       string `yaml:"credit_note"`
	ChangeReturn     string `yaml:"change_return"`
	ShippingRequest  string `yaml:"shipping_request"`
	Refund           string `yaml:"refund"`
	Cancellation     string `yaml:"cancellation"`
	MarketplaceClaim string `yaml:"marketplace_claim"`
	MissingPart      string `yaml:"missing_part"`
	BankForm         string `yaml:"bank_form"`

	Logs          string `yaml:"logs"`
	Tasks         string `yaml:"tasks"`
	TasksRegistry string `yaml:"tasks_registry"`
	Guide         string `yaml:"guide"`
}

// SheetsConfig holds tabular-store access settings. Ranges are keyed by
// case kind name plus the two timer sheets.
type SheetsConfig struct {
	CredentialsPath   string            `yaml:"credentials_path"`
	CaseSpreadsheetID string            `yaml:"case_spreadsheet_id"`
	TaskSpreadsheetID string            `yaml:"task_spreadsheet_id"`
	Ranges            map[string]string `yaml:"ranges"`
	ActiveTasksRange  string            `yaml:"active_tasks_range"`
	HistoryRange      string            `yaml:"history_range"`
	TimeoutSeconds    int               `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SheetsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BlobConfig holds attachment storage settings. Backend is "drive" or "s3".
type BlobConfig struct {
	Backend        string `yaml:"backend"`
	ParentFolderID string `yaml:"parent_folder_id"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	AWSProfile     string `yaml:"aws_profile"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c BlobConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetAWSProfile returns the AWS profile, with environment variable override.
func (c BlobConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// StorageConfig holds local-state storage settings for the conversation
// store and the active-task snapshot. Type is "local" or "redis".
type StorageConfig struct {
	Type                   string `yaml:"type"`
	LocalPath              string `yaml:"local_path"`
	RedisAddr              string `yaml:"redis_addr"`
	RedisDB                int    `yaml:"redis_db"`
	ConversationTTLMinutes int    `yaml:"conversation_ttl_minutes"`
}

// ConversationTTL returns the conversation TTL as a duration.
func (c StorageConfig) ConversationTTL() time.Duration {
	return time.Duration(c.ConversationTTLMinutes) * time.Minute
}

// TrackingConfig holds the parcel-tracking upstream configuration.
type TrackingConfig struct {
	BaseURL        string `yaml:"base_url"`
	AuthHeader     string `yaml:"auth_header"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c TrackingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ManualConfig holds the manual-question AI configuration.
type ManualConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	ManualFileID   string `yaml:"manual_file_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c ManualConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SurveillanceWatch pairs a sheet range with the channel its alerts go to.
type SurveillanceWatch struct {
	Range     string `yaml:"range"`
	ChannelID string `yaml:"channel_id"`
}

// SurveillanceConfig holds the error-surveillance loop configuration.
type SurveillanceConfig struct {
	IntervalMinutes int                 `yaml:"interval_minutes"`
	Watches         []SurveillanceWatch `yaml:"watches"`
}

// Interval returns the sweep interval as a duration.
func (c SurveillanceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// TimerConfig holds task-timer settings.
type TimerConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// PermissionsConfig holds back-office authorization settings.
type PermissionsConfig struct {
	BackOfficeRoleID string   `yaml:"backoffice_role_id"`
	SetupUserIDs     []string `yaml:"setup_user_ids"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Chat.CommandPrefix == "" {
		cfg.Chat.CommandPrefix = "!"
	}
	if cfg.Sheets.TimeoutSeconds == 0 {
		cfg.Sheets.TimeoutSeconds = 30
	}
	if cfg.Sheets.ActiveTasksRange == "" {
		cfg.Sheets.ActiveTasksRange = "ActiveTasks!A:L"
	}
	if cfg.Sheets.HistoryRange == "" {
		cfg.Sheets.HistoryRange = "History!A:L"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "drive"
	}
	if cfg.Blob.TimeoutSeconds == 0 {
		cfg.Blob.TimeoutSeconds = 60
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.ConversationTTLMinutes == 0 {
		cfg.Storage.ConversationTTLMinutes = 10
	}
	if cfg.Tracking.TimeoutSeconds == 0 {
		cfg.Tracking.TimeoutSeconds = 15
	}
	if cfg.Manual.Model == "" {
		cfg.Manual.Model = "gpt-4o-mini"
	}
	if cfg.Manual.TimeoutSeconds == 0 {
		cfg.Manual.TimeoutSeconds = 30
	}
	if cfg.Surveillance.IntervalMinutes == 0 {
		cfg.Surveillance.IntervalMinutes = 240
	}
	if cfg.Timer.SnapshotPath == "" {
		cfg.Timer.SnapshotPath = "./data/active_tasks.json"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file first (if present), so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CHAT_TOKEN"); v != "" {
		cfg.Chat.Token = v
	}
	if v := os.Getenv("CHAT_APP_ID"); v != "" {
		cfg.Chat.AppID = v
	}
	if v := os.Getenv("CHAT_PUBLIC_KEY"); v != "" {
		cfg.Chat.PublicKey = v
	}
	if v := os.Getenv("CHAT_GUILD_ID"); v != "" {
		cfg.Chat.GuildID = v
	}
	if v := os.Getenv("SHEETS_CREDENTIALS_PATH"); v != "" {
		cfg.Sheets.CredentialsPath = v
	}
	if v := os.Getenv("CASE_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.CaseSpreadsheetID = v
	}
	if v := os.Getenv("TASK_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.TaskSpreadsheetID = v
	}
	if v := os.Getenv("TRACKING_AUTH_HEADER"); v != "" {
		cfg.Tracking.AuthHeader = v
	}
	if v := os.Getenv("MANUAL_API_KEY"); v != "" {
		cfg.Manual.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
		cfg.Storage.Type = "redis"
	}
	if v := os.Getenv("BLOB_PARENT_FOLDER_ID"); v != "" {
		cfg.Blob.ParentFolderID = v
	}
	if v := os.Getenv("BLOB_S3_ACCESS_KEY"); v != "" {
		cfg.Blob.S3AccessKey = v
	}
	if v := os.Getenv("BLOB_S3_SECRET_KEY"); v != "" {
		cfg.Blob.S3SecretKey = v
	}

	return cfg, nil
}

// Validate checks the settings the process cannot run without. Called at
// startup; failure here is fatal before any traffic is accepted.
func (c *Config) Validate() error {
	if c.Chat.Token == "" {
		return fmt.Errorf("chat.token is required")
	}
	if c.Sheets.CredentialsPath == "" {
		return fmt.Errorf("sheets.credentials_path is required")
	}
	if c.Sheets.CaseSpreadsheetID == "" {
		return fmt.Errorf("sheets.case_spreadsheet_id is required")
	}
	if _, err := os.Stat(c.Sheets.CredentialsPath); err != nil {
		return fmt.Errorf("sheets credentials file: %w", err)
	}
	return nil
}
