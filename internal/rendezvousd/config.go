// Package rendezvousd bootstraps the rendezvous broker: environment-driven
// configuration and the HTTP/websocket server lifecycle.
package rendezvousd

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// Config contains the configuration for the rendezvous broker. The env
// struct tag contains the environment variable name and the default value
// if missing, or empty (if not "?=").
type Config struct {
	// The address to listen on.
	Addr string `env:"RENDEZVOUS_ADDR?=:8080"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"RENDEZVOUS_LOG_LEVEL=debug"`

	// Whether to use pretty (console-writer) logs instead of JSON.
	LogStdoutPretty bool `env:"RENDEZVOUS_LOG_STDOUT_PRETTY=true"`

	// The liveness ping/pong interval.
	LivenessInterval time.Duration `env:"RENDEZVOUS_LIVENESS_INTERVAL=30s"`

	// If set, /metrics responds 404 unless ?secret=<value> matches.
	MetricsSecret string `env:"RENDEZVOUS_METRICS_SECRET"`

	// The maximum number of concurrent websocket connections the listener
	// will accept, enforced with a net/netutil limit listener. 0 means
	// unbounded.
	MaxConns int `env:"RENDEZVOUS_MAX_CONNS=0"`

	// If set, must be a valid semver (e.g. "v1.2.0"); an invalid value is
	// rejected here. The value is logged at startup; client versions are not
	// checked against it.
	MinProtocolVersion string `env:"RENDEZVOUS_MIN_PROTOCOL_VERSION"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment variables into
// c, setting default values for anything missing.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "RENDEZVOUS_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.Atoi(val); err == nil {
				cvf.SetInt(int64(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}

	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}

	if c.MinProtocolVersion != "" && !semver.IsValid(c.MinProtocolVersion) {
		return fmt.Errorf("RENDEZVOUS_MIN_PROTOCOL_VERSION: %q is not a valid semver", c.MinProtocolVersion)
	}
	return nil
}
