package voldemort

import (
	"time"

	"github.com/BurntSushi/toml"
)

// ClusterOptions configures a Cluster. Only Host/Port are required; every
// other field carries a sensible default (health tick, request timeout,
// bootstrap retry interval, protocol tag), kept overridable so operators can
// tune them without a code change, loadable from TOML via LoadOptions.
type ClusterOptions struct {
	Host string
	Port int

	// Logger receives all diagnostic output. Defaults to a zap-backed
	// stdout logger at LogLevelInfo if left nil.
	Logger Logger

	// ProtocolTag is the 3 ASCII bytes sent on connect.
	ProtocolTag string

	// HealthTick is how often a Connection checks for a dead socket to
	// redial or a stalled in-flight request to kill. Defaults to 5s.
	HealthTick time.Duration

	// RequestTimeout is how long an in-flight request may go unanswered
	// before the connection is closed. Defaults to 5s.
	RequestTimeout time.Duration

	// BootstrapRetryInterval is how often a failed bootstrap is retried.
	// Defaults to 10s.
	BootstrapRetryInterval time.Duration
}

const (
	defaultProtocolTag             = "pb0"
	defaultHealthTick              = 5 * time.Second
	defaultRequestTimeout           = 5 * time.Second
	defaultBootstrapRetryInterval  = 10 * time.Second
)

// withDefaults fills in every zero-valued tunable with its default,
// constructing a logger if none was supplied.
func (o ClusterOptions) withDefaults() (ClusterOptions, error) {
	if o.ProtocolTag == "" {
		o.ProtocolTag = defaultProtocolTag
	}
	if len(o.ProtocolTag) != 3 {
		return o, NewClientError("protocol tag must be exactly 3 bytes")
	}
	if o.HealthTick == 0 {
		o.HealthTick = defaultHealthTick
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.BootstrapRetryInterval == 0 {
		o.BootstrapRetryInterval = defaultBootstrapRetryInterval
	}
	if o.Logger == nil {
		logger, err := NewLogger(LogLevelInfo)
		if err != nil {
			return o, err
		}
		o.Logger = logger
	}
	return o, nil
}

// tomlOverrides is the on-disk shape accepted by LoadOptions; only the
// tunables are overridable this way, Host/Port/Logger are always supplied
// by the caller in code.
type tomlOverrides struct {
	ProtocolTag             string `toml:"protocol_tag"`
	HealthTickSeconds       int    `toml:"health_tick_seconds"`
	RequestTimeoutSeconds   int    `toml:"request_timeout_seconds"`
	BootstrapRetrySeconds   int    `toml:"bootstrap_retry_seconds"`
}

// LoadOptions reads tunable overrides from a TOML file and layers them onto
// base, returning the merged ClusterOptions. Missing keys keep base's
// value.
func LoadOptions(path string, base ClusterOptions) (ClusterOptions, error) {
	var overrides tomlOverrides
	if _, err := toml.DecodeFile(path, &overrides); err != nil {
		return base, WrapServerError(err, "decoding cluster options toml")
	}
	if overrides.ProtocolTag != "" {
		base.ProtocolTag = overrides.ProtocolTag
	}
	if overrides.HealthTickSeconds > 0 {
		base.HealthTick = time.Duration(overrides.HealthTickSeconds) * time.Second
	}
	if overrides.RequestTimeoutSeconds > 0 {
		base.RequestTimeout = time.Duration(overrides.RequestTimeoutSeconds) * time.Second
	}
	if overrides.BootstrapRetrySeconds > 0 {
		base.BootstrapRetryInterval = time.Duration(overrides.BootstrapRetrySeconds) * time.Second
	}
	return base, nil
}
