package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	SourceStatic = "static"
	SourceConsul = "consul"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreS3       = "s3"
)

const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
	ChannelSMS   = "sms"
)

const (
	DefaultPollInterval      = time.Hour
	DefaultProbationInterval = 500 * time.Second
	DefaultProbeTimeout      = 30 * time.Second
	DefaultStatusPath        = "SurveyAjax?what=status"
)

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type PollConfig struct {
	Interval          string `mapstructure:"interval"`
	ProbationInterval string `mapstructure:"probation_interval"`
	ProbeTimeout      string `mapstructure:"probe_timeout"`
	PrivilegedPing    bool   `mapstructure:"privileged_ping"`
}

// IntervalDuration returns the regular poll cadence.
func (p PollConfig) IntervalDuration() time.Duration {
	return parseOr(p.Interval, DefaultPollInterval)
}

// ProbationDuration returns the delay before a probation recheck.
func (p PollConfig) ProbationDuration() time.Duration {
	return parseOr(p.ProbationInterval, DefaultProbationInterval)
}

// ProbeTimeoutDuration bounds every individual probe.
func (p PollConfig) ProbeTimeoutDuration() time.Duration {
	return parseOr(p.ProbeTimeout, DefaultProbeTimeout)
}

type EndpointConfig struct {
	ID        string `mapstructure:"id"`
	URL       string `mapstructure:"url"`
	StatusURL string `mapstructure:"status_url"`
}

type HostConfig struct {
	ID      string           `mapstructure:"id"`
	Stealth bool             `mapstructure:"stealth"`
	Servers []EndpointConfig `mapstructure:"servers"`
}

type InventoryConfig struct {
	Source     string `mapstructure:"source"`
	ConsulAddr string `mapstructure:"consul_addr"`
	ConsulTag  string `mapstructure:"consul_tag"`
	StatusPath string `mapstructure:"status_path"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type StoreConfig struct {
	Driver      string   `mapstructure:"driver"`
	DatabaseURL string   `mapstructure:"database_url"`
	S3          S3Config `mapstructure:"s3"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type ChatConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type SMSConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type ChannelConfig struct {
	Name       string     `mapstructure:"name"`
	Kind       string     `mapstructure:"kind"`
	Enabled    bool       `mapstructure:"enabled"`
	Events     []string   `mapstructure:"events"`
	Servers    []string   `mapstructure:"servers"`
	Recipients []string   `mapstructure:"recipients"`
	Subject    string     `mapstructure:"subject"`
	Template   string     `mapstructure:"template"`
	SMTP       SMTPConfig `mapstructure:"smtp"`
	Chat       ChatConfig `mapstructure:"chat"`
	SMS        SMSConfig  `mapstructure:"sms"`
}

type NotifyConfig struct {
	Footer   string          `mapstructure:"footer"`
	Channels []ChannelConfig `mapstructure:"channels"`
}

type TelemetryConfig struct {
	Exporter string `mapstructure:"exporter"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Poll      PollConfig      `mapstructure:"poll"`
	Hosts     []HostConfig    `mapstructure:"hosts"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Store     StoreConfig     `mapstructure:"store"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// Load reads configuration from path, or from config.yaml in ./config or the
// working directory when path is empty. Environment variables override file
// values (poll.interval -> POLL_INTERVAL).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("poll.interval", DefaultPollInterval.String())
	v.SetDefault("poll.probation_interval", DefaultProbationInterval.String())
	v.SetDefault("poll.probe_timeout", DefaultProbeTimeout.String())
	v.SetDefault("poll.privileged_ping", false)
	v.SetDefault("inventory.source", SourceStatic)
	v.SetDefault("inventory.consul_addr", "127.0.0.1:8500")
	v.SetDefault("inventory.consul_tag", "fleet-watch")
	v.SetDefault("inventory.status_path", DefaultStatusPath)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.s3.prefix", "samples")
	v.SetDefault("telemetry.exporter", "prometheus")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(ValidateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Poll,
			validation.By(func(value interface{}) error {
				pc, ok := value.(PollConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a PollConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.ProbationInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&pc.ProbeTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Inventory,
			validation.By(func(value interface{}) error {
				ic, ok := value.(InventoryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an InventoryConfig")
				}
				return validation.ValidateStruct(&ic,
					validation.Field(&ic.Source, validation.Required, validation.In(SourceStatic, SourceConsul)),
					validation.Field(&ic.ConsulAddr, validation.When(ic.Source == SourceConsul, validation.Required)),
					validation.Field(&ic.ConsulTag, validation.When(ic.Source == SourceConsul, validation.Required)),
				)
			}),
		),
		validation.Field(&c.Hosts,
			validation.When(c.Inventory.Source != SourceConsul, validation.Required, validation.Length(1, 0)),
			validation.Each(validation.By(validateHostConfig)),
		),
		validation.Field(&c.Store,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StoreConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StoreConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Driver, validation.Required, validation.In(StoreMemory, StorePostgres, StoreS3)),
					validation.Field(&sc.DatabaseURL, validation.When(sc.Driver == StorePostgres, validation.Required)),
					validation.Field(&sc.S3, validation.When(sc.Driver == StoreS3, validation.By(validateS3Config))),
				)
			}),
		),
		validation.Field(&c.Notify,
			validation.By(func(value interface{}) error {
				nc, ok := value.(NotifyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a NotifyConfig")
				}
				return validation.ValidateStruct(&nc,
					validation.Field(&nc.Channels, validation.Each(validation.By(validateChannelConfig))),
				)
			}),
		),
		validation.Field(&c.Telemetry,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TelemetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TelemetryConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Exporter, validation.In("none", "prometheus")),
				)
			}),
		),
	)
}

// ValidateHostPort checks a listen address of the form host:port or :port.
func ValidateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 500s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return nil
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateHostConfig(value interface{}) error {
	host, ok := value.(HostConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a HostConfig")
	}

	return validation.ValidateStruct(&host,
		validation.Field(&host.ID, validation.Required),
		validation.Field(&host.Servers, validation.Each(validation.By(validateEndpointConfig))),
	)
}

func validateEndpointConfig(value interface{}) error {
	ep, ok := value.(EndpointConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an EndpointConfig")
	}

	if ep.URL == "" && ep.StatusURL == "" {
		return validation.NewError("validation_missing_url", "server needs url or status_url")
	}

	return validation.ValidateStruct(&ep,
		validation.Field(&ep.ID, validation.Required),
		validation.Field(&ep.URL, validation.By(validateServerURL)),
		validation.Field(&ep.StatusURL, validation.By(validateServerURL)),
	)
}

func validateS3Config(value interface{}) error {
	s3, ok := value.(S3Config)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an S3Config")
	}

	return validation.ValidateStruct(&s3,
		validation.Field(&s3.Endpoint, validation.Required),
		validation.Field(&s3.Bucket, validation.Required),
	)
}

func validateChannelConfig(value interface{}) error {
	ch, ok := value.(ChannelConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ChannelConfig")
	}

	return validation.ValidateStruct(&ch,
		validation.Field(&ch.Name, validation.Required),
		validation.Field(&ch.Kind, validation.Required, validation.In(ChannelEmail, ChannelChat, ChannelSMS)),
		validation.Field(&ch.Events, validation.Each(validation.In("boot", "up", "down"))),
		validation.Field(&ch.Recipients,
			validation.When(ch.Enabled && ch.Kind != ChannelChat, validation.Required),
		),
		validation.Field(&ch.SMTP, validation.When(ch.Enabled && ch.Kind == ChannelEmail, validation.By(func(value interface{}) error {
			sc, _ := value.(SMTPConfig)
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Host, validation.Required),
				validation.Field(&sc.From, validation.Required, is.EmailFormat),
			)
		}))),
		validation.Field(&ch.Chat, validation.When(ch.Enabled && ch.Kind == ChannelChat, validation.By(func(value interface{}) error {
			cc, _ := value.(ChatConfig)
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.URL, validation.Required, is.URL),
			)
		}))),
		validation.Field(&ch.SMS, validation.When(ch.Enabled && ch.Kind == ChannelSMS, validation.By(func(value interface{}) error {
			sc, _ := value.(SMSConfig)
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.BaseURL, validation.Required, is.URL),
				validation.Field(&sc.AccountSID, validation.Required),
				validation.Field(&sc.From, validation.Required),
			)
		}))),
	)
}

func parseOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
