package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL"                    default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR"` // Empty disables the metrics listener
	Session     SessionConfig
	Inbound     InboundConfig
	Outbound    OutboundConfig
	Health      HealthConfig
	Router      RouterConfig
	API         APIConfig
}

// SessionConfig holds the carrier connection settings for one backend.
type SessionConfig struct {
	BackendName         string        `envconfig:"SMPP_BACKEND_NAME"`
	Host                string        `envconfig:"SMPPLIB_HOST"`
	Port                int           `envconfig:"SMPPLIB_PORT"                     default:"2775"`
	SystemID            string        `envconfig:"SMPPLIB_SYSTEM_ID"`
	Password            string        `envconfig:"SMPPLIB_PASSWORD"`
	SystemType          string        `envconfig:"SMPPLIB_SYSTEM_TYPE"`
	InterfaceVersion    string        `envconfig:"SMPPLIB_INTERFACE_VERSION"` // e.g. "52" or "0x34"
	SubmitSMParams      string        `envconfig:"SMPPLIB_SUBMIT_SM_PARAMS"         default:"{}"`
	MTMessagesPerSecond int           `envconfig:"SMPPLIB_MT_MESSAGES_PER_SECOND"   default:"20"`
	NotifyMOChannel     string        `envconfig:"SMPP_NOTIFY_MO_CHANNEL"           default:"new_mo_msg"`
	SetPriorityFlag     bool          `envconfig:"SMPP_SET_PRIORITY_FLAG"           default:"false"`
	TransactionalOnly   bool          `envconfig:"SMPP_LISTEN_TRANSACTIONAL_ONLY"   default:"false"`
	SocketTimeout       time.Duration `envconfig:"SMPP_SOCKET_TIMEOUT"              default:"5s"`
	ConnectTimeout      time.Duration `envconfig:"SMPP_CONNECT_TIMEOUT"             default:"10s"`
	SendBulkSMS         int           `envconfig:"SMPP_SEND_BULKSMS"                default:"0"`
}

// InboundConfig holds settings for the MO dispatch worker.
type InboundConfig struct {
	Channel       string        `envconfig:"MO_LISTEN_CHANNEL"  default:"new_mo_msg"`
	BatchSize     int           `envconfig:"MO_BATCH_SIZE"      default:"100"`
	SweepInterval time.Duration `envconfig:"MO_SWEEP_INTERVAL"  default:"30s"`
}

// OutboundConfig holds settings for the submission backend.
type OutboundConfig struct {
	SendGroupSize   int  `envconfig:"OUTBOUND_SEND_GROUP_SIZE"   default:"100"`
	NotifyThreshold int  `envconfig:"OUTBOUND_NOTIFY_THRESHOLD"  default:"0"`
	DefaultPriority *int `envconfig:"OUTBOUND_DEFAULT_PRIORITY"`
}

// HealthConfig holds healthchecks.io identifiers.
type HealthConfig struct {
	CheckUUID string        `envconfig:"HEALTHCHECKS_IO_CHECK_UUID"`
	PingKey   string        `envconfig:"HEALTHCHECKS_IO_PING_KEY"`
	CheckSlug string        `envconfig:"HEALTHCHECKS_IO_CHECK_SLUG"`
	BaseURL   string        `envconfig:"HEALTHCHECKS_IO_BASE_URL"   default:"https://hc-ping.com"`
	Timeout   time.Duration `envconfig:"HEALTHCHECKS_IO_TIMEOUT"    default:"10s"`
}

// RouterConfig selects where decoded MO messages are forwarded.
type RouterConfig struct {
	Kind         string        `envconfig:"ROUTER_KIND"          default:"log"` // log, http, kafka
	WebhookURL   string        `envconfig:"ROUTER_WEBHOOK_URL"`
	WebhookToken string        `envconfig:"ROUTER_WEBHOOK_TOKEN"`
	Timeout      time.Duration `envconfig:"ROUTER_TIMEOUT"       default:"15s"`
	KafkaBrokers []string      `envconfig:"ROUTER_KAFKA_BROKERS"`
	KafkaTopic   string        `envconfig:"ROUTER_KAFKA_TOPIC"   default:"smpp.mo"`
}

// APIConfig holds the submission API HTTP server settings.
type APIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8081"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr returns host:port of the carrier.
func (c SessionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParsedInterfaceVersion converts InterfaceVersion ("52", "0x34", "") to a byte.
// An empty value selects SMPP 3.4.
func (c SessionConfig) ParsedInterfaceVersion() (byte, error) {
	if c.InterfaceVersion == "" {
		return 0x34, nil
	}
	v, err := strconv.ParseUint(c.InterfaceVersion, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid interface version %q: %w", c.InterfaceVersion, err)
	}
	return byte(v), nil
}

// Validate checks the fields a session cannot start without.
func (c SessionConfig) Validate() error {
	var errs []error
	if c.BackendName == "" {
		errs = append(errs, errors.New("backend name is required"))
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.SystemID == "" {
		errs = append(errs, errors.New("system id is required"))
	}
	if c.MTMessagesPerSecond <= 0 {
		errs = append(errs, errors.New("mt messages per second must be positive"))
	}
	if _, err := c.ParsedInterfaceVersion(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks healthchecks.io identifiers. UUID wins over key+slug.
func (c HealthConfig) Validate() error {
	if c.CheckUUID != "" {
		return nil
	}
	if (c.PingKey == "") != (c.CheckSlug == "") {
		return errors.New("healthchecks.io ping key and check slug must be set together")
	}
	return nil
}

// Enabled reports whether any healthchecks.io identifier is configured.
func (c HealthConfig) Enabled() bool {
	return c.CheckUUID != "" || (c.PingKey != "" && c.CheckSlug != "")
}
