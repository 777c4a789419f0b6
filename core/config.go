package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	APIConfig struct {
		BaseURL       string        `validate:"required,url"`
		Timeout       time.Duration `validate:"gt=0"`
		RetryAttempts int           `validate:"gte=0"`
		RetryDelay    time.Duration `validate:"gte=0"`
	}

	ConsoleConfig struct {
		Address         string `validate:"required"`
		ShutdownTimeout time.Duration
		// LoadingWait bounds how long a protected request waits for a pending profile fetch.
		LoadingWait time.Duration
		// RefreshSkew is how close to expiry an access token gets refreshed proactively.
		RefreshSkew time.Duration
		// ProfileRetry is how long a failed profile check is trusted before it is tried again.
		ProfileRetry time.Duration
		RoutesFile   string
	}

	RealtimeConfig struct {
		URL            string `validate:"omitempty,url"`
		ReconnectDelay time.Duration
	}

	SnapshotConfig struct {
		Driver    string `validate:"oneof=file redis postgres sqlite memory"`
		Key       string `validate:"required"`
		Path      string
		Secret    string
		RedisAddr string
		DSN       string
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		RollbarToken string

		API      APIConfig
		Console  ConsoleConfig
		Realtime RealtimeConfig
		Snapshot SnapshotConfig
	}
)

// NewConfig reads the console configuration from defaults, `config/.env.<env>`,
// an optional config file (CONSOLE_CONFIG) and the environment, in that order of precedence.
func NewConfig() (*Config, error) {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "develop")
	conf.SetDefault("rollbar_token", "")

	conf.SetDefault("base_url", "http://localhost:8000/api")
	conf.SetDefault("timeout", 30*time.Second)
	conf.SetDefault("retry_attempts", 3)
	conf.SetDefault("retry_delay", time.Second)

	conf.SetDefault("console.address", "127.0.0.1:8080")
	conf.SetDefault("console.shutdown_timeout", 5*time.Second)
	conf.SetDefault("console.loading_wait", 2*time.Second)
	conf.SetDefault("console.refresh_skew", 30*time.Second)
	conf.SetDefault("console.profile_retry", 30*time.Second)
	conf.SetDefault("console.routes_file", "")

	conf.SetDefault("realtime.url", "")
	conf.SetDefault("realtime.reconnect_delay", 3*time.Second)

	conf.SetDefault("snapshot.driver", "file")
	conf.SetDefault("snapshot.key", "masomo-auth")
	conf.SetDefault("snapshot.path", filepath.Join(userConfigDir(), "masomo", "session.json"))
	conf.SetDefault("snapshot.secret", "")
	conf.SetDefault("snapshot.redis_addr", "localhost:6379")
	conf.SetDefault("snapshot.dsn", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("snapshot.driver", "memory")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	if path := os.Getenv("CONSOLE_CONFIG"); path != "" {
		conf.SetConfigFile(path)
		if err := conf.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.AutomaticEnv()

	c := &Config{
		Env:          env,
		Build:        conf.GetString("build"),
		Debug:        conf.GetBool("debug"),
		RollbarToken: conf.GetString("rollbar_token"),
		API: APIConfig{
			BaseURL:       strings.TrimRight(conf.GetString("base_url"), "/"),
			Timeout:       conf.GetDuration("timeout"),
			RetryAttempts: conf.GetInt("retry_attempts"),
			RetryDelay:    conf.GetDuration("retry_delay"),
		},
		Console: ConsoleConfig{
			Address:         conf.GetString("console.address"),
			ShutdownTimeout: conf.GetDuration("console.shutdown_timeout"),
			LoadingWait:     conf.GetDuration("console.loading_wait"),
			RefreshSkew:     conf.GetDuration("console.refresh_skew"),
			ProfileRetry:    conf.GetDuration("console.profile_retry"),
			RoutesFile:      conf.GetString("console.routes_file"),
		},
		Realtime: RealtimeConfig{
			URL:            conf.GetString("realtime.url"),
			ReconnectDelay: conf.GetDuration("realtime.reconnect_delay"),
		},
		Snapshot: SnapshotConfig{
			Driver:    strings.ToLower(conf.GetString("snapshot.driver")),
			Key:       conf.GetString("snapshot.key"),
			Path:      conf.GetString("snapshot.path"),
			Secret:    conf.GetString("snapshot.secret"),
			RedisAddr: conf.GetString("snapshot.redis_addr"),
			DSN:       conf.GetString("snapshot.dsn"),
		},
	}
	if err := c.Validate(validator.New()); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration struct tags and reports offending fields.
func (c *Config) Validate(validate *validator.Validate) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "validating config")
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Namespace(), Error: vErr.Tag()})
	}
	return NewValidationError(errors.New("invalid configuration"), flds...)
}

// RealtimeURL derives the websocket URL from the API base URL when none is configured.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u := c.API.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
