// Package config provides node configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds rpcnode configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"rpcnode"`

	// Reconnect behaviour (COMMS_MAX_RECONNECTS < 0 = retry forever)
	COMMSReconnectWait time.Duration `envconfig:"COMMS_RECONNECT_WAIT" default:"2s"`
	COMMSMaxReconnects int           `envconfig:"COMMS_MAX_RECONNECTS" default:"60"`

	// Subjects are <SubjectPrefix>.<service>.<method>.
	SubjectPrefix string `envconfig:"SUBJECT_PREFIX" default:"rpc"`

	// Frame versioning
	ProtocolVersion    string `envconfig:"PROTOCOL_VERSION" default:"1.0.0"`
	ProtocolConstraint string `envconfig:"PROTOCOL_CONSTRAINT" default:"^1.0.0"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Completion pump
	PumpWorkers   int `envconfig:"PUMP_WORKERS" default:"4"`
	QueueCapacity int `envconfig:"QUEUE_CAPACITY" default:"1024"`

	// Backlog monitoring (STATS_SUBJECT empty = derive from SUBJECT_PREFIX and SERVICE_NAME)
	BacklogThreshold int64         `envconfig:"BACKLOG_THRESHOLD" default:"512"`
	StatsInterval    time.Duration `envconfig:"STATS_INTERVAL" default:"10s"`
	StatsSubject     string        `envconfig:"STATS_SUBJECT"`

	// Database for sample history (empty = no persistence)
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// HTTP health endpoint
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the node.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForCall(); err != nil {
		return err
	}
	if c.PumpWorkers <= 0 {
		return fmt.Errorf("%s - PUMP_WORKERS must be positive", logPrefix)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%s - QUEUE_CAPACITY must not be negative", logPrefix)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("%s - STATS_INTERVAL must be positive", logPrefix)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("%s - HTTP_PORT must be positive", logPrefix)
	}
	return nil
}

// ValidateForCall checks required config when issuing calls.
func (c *Config) ValidateForCall() error {
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required", logPrefix)
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("%s - SUBJECT_PREFIX is required", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.COMMSReconnectWait <= 0 {
		return fmt.Errorf("%s - COMMS_RECONNECT_WAIT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
