package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/solatis/formkeeper/internal/form"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.grpc_port", def.Server.GRPCPort)
	v.SetDefault("server.http_port", def.Server.HTTPPort)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout.String())
	v.SetDefault("server.max_body_bytes", def.Server.MaxBodyBytes)
	v.SetDefault("server.data_dir", def.Server.DataDir)
	v.SetDefault("server.schema_dir", def.Server.SchemaDir)
	v.SetDefault("server.watch_schemas", def.Server.WatchSchemas)
	v.SetDefault("form.template_open", def.Form.TemplateOpen)
	v.SetDefault("form.template_close", def.Form.TemplateClose)
	v.SetDefault("form.triggers", def.Form.Triggers)
	v.SetDefault("form.validate_all_on_submit", def.Form.ValidateAllOnSubmit)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	// FK_SERVER_GRPC_PORT overrides server.grpc_port
	v.SetEnvPrefix("FK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			GRPCPort:       v.GetInt("server.grpc_port"),
			HTTPPort:       v.GetInt("server.http_port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MaxBodyBytes:   v.GetInt64("server.max_body_bytes"),
			DataDir:        v.GetString("server.data_dir"),
			SchemaDir:      v.GetString("server.schema_dir"),
			WatchSchemas:   v.GetBool("server.watch_schemas"),
		},
		Form: FormConfig{
			TemplateOpen:        v.GetString("form.template_open"),
			TemplateClose:       v.GetString("form.template_close"),
			Triggers:            v.GetString("form.triggers"),
			ValidateAllOnSubmit: v.GetBool("form.validate_all_on_submit"),
			Values:              v.GetStringMap("form.values"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port ranges, positive limits and form settings.
func validateConfig(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 1 and 65535, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 0 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Form.TemplateOpen == "" || cfg.Form.TemplateClose == "" {
		return fmt.Errorf("template_open and template_close must not be empty")
	}
	if _, err := form.ParseTriggers(cfg.Form.Triggers); err != nil {
		return fmt.Errorf("triggers: %w", err)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use FK_HMAC_SECRET environment variable)")
	}
	return nil
}

// ParsedTriggers returns the configured validation triggers, falling back
// to form.DefaultTriggers.
func (c FormConfig) ParsedTriggers() form.Trigger {
	t, err := form.ParseTriggers(c.Triggers)
	if err != nil || t == 0 {
		return form.DefaultTriggers
	}
	return t
}
