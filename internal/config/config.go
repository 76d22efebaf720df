package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath        string `mapstructure:"database_path" yaml:"database_path"`
	ArchiveDatabasePath string `mapstructure:"archive_database_path" yaml:"archive_database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// AdminToken guards the archive admin endpoints. They are disabled when empty.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`

	// EncryptionSecret is the secret the message codec derives its key from.
	// Outside dev mode the server refuses to start without one.
	EncryptionSecret string   `mapstructure:"encryption_secret" yaml:"encryption_secret"`
	LegacyKeys       []string `mapstructure:"legacy_keys" yaml:"legacy_keys"`
	DevMode          bool     `mapstructure:"dev_mode" yaml:"dev_mode"`

	RateLimit  int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window" yaml:"rate_window"`

	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`
	CodecTimeout time.Duration `mapstructure:"codec_timeout" yaml:"codec_timeout"`

	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// SMTPConfig configures the outbound notification mailer.
// Notifications are disabled when Host or Addresses is empty.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	From     string `mapstructure:"from" yaml:"from"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// Addresses maps user ids to email addresses. The marketplace user
	// directory owns this mapping in production; deployments without an
	// integration configure it statically here.
	Addresses map[string]string `mapstructure:"addresses" yaml:"addresses"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		DatabasePath:        "marketchat.db",
		ArchiveDatabasePath: "marketchat_archive.db",
		JWTIssuer:           "marketchat",
		JWTAudience:         "marketchat-clients",
		RateLimit:           30,
		RateWindow:          60 * time.Second,
		StoreTimeout:        5 * time.Second,
		CodecTimeout:        5 * time.Second,
		SMTP: SMTPConfig{
			Port: "587",
		},
	}
}
