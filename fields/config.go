package fields

import "strings"

// Config is the process-wide configuration. It is built exactly once at
// startup (yaml config merged with optional secrets) and passed to every
// service; nothing else in the codebase reads the environment.
type Config struct {
	Port           string `json:"port" yaml:"port"`
	IsDebug        bool   `json:"is_debug" yaml:"is_debug"`
	PublicBaseURL  string `json:"public_base_url" yaml:"public_base_url"`
	Cors           string `json:"cors" yaml:"cors"`
	DatabasePath   string `json:"database_path" yaml:"database_path"`
	DatabaseURL    string `json:"database_url" yaml:"database_url"`
	DatabaseDriver string `json:"database_driver" yaml:"database_driver"`
	RedisAddress   string `json:"redis_address" yaml:"redis_address"`
	RedisPassword  string `json:"redis_password" yaml:"redis_password"`
	RedisDB        int    `json:"redis_db" yaml:"redis_db"`

	// Auth. Access and refresh tokens are signed with separate secrets.
	AccessSecret     string `json:"access_secret" yaml:"access_secret"`
	RefreshSecret    string `json:"refresh_secret" yaml:"refresh_secret"`
	AccessTTLMinutes int    `json:"access_ttl_minutes" yaml:"access_ttl_minutes"`
	RefreshTTLHours  int    `json:"refresh_ttl_hours" yaml:"refresh_ttl_hours"`
	JWTIssuer        string `json:"jwt_issuer" yaml:"jwt_issuer"`
	OTPPeriodSeconds int    `json:"otp_period_seconds" yaml:"otp_period_seconds"`

	// Ops credentials for the dashboard. When any is set the dashboard is
	// guarded by X-Admin-Key or basic auth instead of user tokens.
	AdminKey      string `json:"admin_key" yaml:"admin_key"`
	AdminUser     string `json:"admin_user" yaml:"admin_user"`
	AdminPassword string `json:"admin_password" yaml:"admin_password"`

	// Media storage for generated assets, served under /media.
	MediaDir string `json:"media_dir" yaml:"media_dir"`

	// Vendors.
	GenaiKey        string `json:"genai_key" yaml:"genai_key"`
	GenaiBaseURL    string `json:"genai_base_url" yaml:"genai_base_url"`
	GenaiImageModel string `json:"genai_image_model" yaml:"genai_image_model"`
	VeoModel        string `json:"veo_model" yaml:"veo_model"`
	HeyGenKey       string `json:"heygen_key" yaml:"heygen_key"`
	HeyGenBaseURL   string `json:"heygen_base_url" yaml:"heygen_base_url"`
	HeyGenUploadURL string `json:"heygen_upload_url" yaml:"heygen_upload_url"`
	OpenAIKey       string `json:"openai_key" yaml:"openai_key"`
	OpenAIBaseURL   string `json:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel     string `json:"openai_model" yaml:"openai_model"`

	// Google OAuth and the Gmail/Drive automation.
	GoogleClientID     string   `json:"google_client_id" yaml:"google_client_id"`
	GoogleClientSecret string   `json:"google_client_secret" yaml:"google_client_secret"`
	GoogleRedirectURL  string   `json:"google_redirect_url" yaml:"google_redirect_url"`
	PubSubTopic        string   `json:"pubsub_topic" yaml:"pubsub_topic"`
	DriveRootFolder    string   `json:"drive_root_folder" yaml:"drive_root_folder"`
	ArchiveProcessed   bool     `json:"archive_processed" yaml:"archive_processed"`
	InvoiceKeywords    []string `json:"invoice_keywords" yaml:"invoice_keywords"`
	InvoiceDomains     []string `json:"invoice_domains" yaml:"invoice_domains"`

	// Polling knobs for the job runner.
	PollIntervalSeconds   int `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	PollMaxAttemptsImage  int `json:"poll_max_attempts_image" yaml:"poll_max_attempts_image"`
	PollMaxAttemptsVideo  int `json:"poll_max_attempts_video" yaml:"poll_max_attempts_video"`
	PollMaxAttemptsAvatar int `json:"poll_max_attempts_avatar" yaml:"poll_max_attempts_avatar"`
	BatchMaxRows          int `json:"batch_max_rows" yaml:"batch_max_rows"`

	// Transactional mail gateway used for OTP and verification mails.
	MailGateway string `json:"mail_gateway" yaml:"mail_gateway"`
	MailAPIKey  string `json:"mail_api_key" yaml:"mail_api_key"`
	MailSender  string `json:"mail_sender" yaml:"mail_sender"`

	LogSamplingTickMs  int `json:"log_sampling_tick_ms" yaml:"log_sampling_tick_ms"`
	LogSamplingAfterMs int `json:"log_sampling_after_ms" yaml:"log_sampling_after_ms"`

	OtelEnabled        bool    `json:"otel_enabled" yaml:"otel_enabled"`
	OtelEndpoint       string  `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelInsecure       bool    `json:"otel_insecure" yaml:"otel_insecure"`
	OtelServiceName    string  `json:"otel_service_name" yaml:"otel_service_name"`
	OtelServiceVersion string  `json:"otel_service_version" yaml:"otel_service_version"`
	OtelSampleRate     float64 `json:"otel_sample_rate" yaml:"otel_sample_rate"`
}

// Defaults fills every zero value with a sane default. Secrets are left
// empty on purpose; auth refuses to initialize without them.
func (c *Config) Defaults() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.HasPrefix(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://localhost" + c.Port
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "mediadesk.db"
	}
	if c.RedisAddress == "" {
		c.RedisAddress = "localhost:6379"
	}
	if c.AccessTTLMinutes <= 0 {
		c.AccessTTLMinutes = 60
	}
	if c.RefreshTTLHours <= 0 {
		c.RefreshTTLHours = 24 * 7
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "mediadesk"
	}
	if c.OTPPeriodSeconds <= 0 {
		c.OTPPeriodSeconds = 600
	}
	if c.MediaDir == "" {
		c.MediaDir = "./media"
	}
	if c.GenaiBaseURL == "" {
		c.GenaiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.GenaiImageModel == "" {
		c.GenaiImageModel = "gemini-2.5-flash-image-preview"
	}
	if c.VeoModel == "" {
		c.VeoModel = "veo-3.0-generate-001"
	}
	if c.HeyGenBaseURL == "" {
		c.HeyGenBaseURL = "https://api.heygen.com"
	}
	if c.HeyGenUploadURL == "" {
		c.HeyGenUploadURL = "https://upload.heygen.com"
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = "gpt-4o-mini"
	}
	if c.DriveRootFolder == "" {
		c.DriveRootFolder = "Invoices"
	}
	if len(c.InvoiceKeywords) == 0 {
		c.InvoiceKeywords = []string{"invoice", "receipt", "payment due", "amount due", "billing statement"}
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	if c.PollMaxAttemptsImage <= 0 {
		c.PollMaxAttemptsImage = 60
	}
	if c.PollMaxAttemptsVideo <= 0 {
		c.PollMaxAttemptsVideo = 360
	}
	if c.PollMaxAttemptsAvatar <= 0 {
		c.PollMaxAttemptsAvatar = 180
	}
	if c.BatchMaxRows <= 0 {
		c.BatchMaxRows = 100
	}
	if c.OtelServiceName == "" {
		c.OtelServiceName = "mediadesk"
	}
	if c.OtelSampleRate <= 0 {
		c.OtelSampleRate = 0.1
	}
}
