package qlink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultSecret is only meant for local demos; deployments set link.secret.
const DefaultSecret = "hello-friend"

/*
Config is the full station configuration. NewConfig holds the defaults;
LoadConfig layers .env, environment and flags on top of them.
*/
type Config struct {
	Link    LinkConfig
	Machine MachineConfig
	Backend BackendConfig
	Log     LogConfig
}

/*
LinkConfig controls the duplex link. Enabled=false runs the station with
no server at all; Teleport=false keeps the heartbeat-only floor server.
*/
type LinkConfig struct {
	Enabled       bool
	Teleport      bool
	Listen        string
	Secret        string
	Heartbeat     time.Duration
	AcceptTimeout time.Duration
	WriteTimeout  time.Duration
	ReadBuffer    int
	FrameIdle     time.Duration // quiet period before an unterminated frame is handled
	MaxFrame      int           // largest accepted frame in bytes
}

// MachineConfig selects the variant and how fast the machine ticks.
type MachineConfig struct {
	Variant   string
	TickRate  int // ticks per second
	AutoCycle bool
}

// BackendConfig picks the simulation backend and the regulators guarding it.
type BackendConfig struct {
	Name            string // "statevector" or "offline"
	Noise           float64
	BreakerFailures int
	BreakerReset    time.Duration
	BreakerHalfOpen int
	RateBurst       int // 0 disables the payload rate limiter
	RateRefill      time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

// NewConfig returns the defaults of a local demo station.
func NewConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Enabled:       true,
			Teleport:      true,
			Listen:        "127.0.0.1:65432",
			Secret:        DefaultSecret,
			Heartbeat:     200 * time.Millisecond,
			AcceptTimeout: time.Second,
			WriteTimeout:  5 * time.Second,
			ReadBuffer:    1024,
			FrameIdle:     50 * time.Millisecond,
			MaxFrame:      64 * 1024,
		},
		Machine: MachineConfig{
			Variant:  GroundingVariant.Name,
			TickRate: 60,
		},
		Backend: BackendConfig{
			Name:            "statevector",
			BreakerFailures: 3,
			BreakerReset:    10 * time.Second,
			BreakerHalfOpen: 1,
			RateBurst:       32,
			RateRefill:      50 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"listen":      "link.listen",
	"secret":      "link.secret",
	"no-link":     "link.disabled",
	"no-teleport": "link.no_teleport",
	"variant":     "machine.variant",
	"auto-cycle":  "machine.auto_cycle",
	"backend":     "backend.name",
	"noise":       "backend.noise",
	"log-level":   "log.level",
	"log-file":    "log.file",
}

// RegisterFlags defines the qlink flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := NewConfig()
	fs.String("listen", d.Link.Listen, "address the duplex link listens on")
	fs.String("secret", d.Link.Secret, "pre-shared HMAC secret")
	fs.Bool("no-link", false, "run without the duplex link")
	fs.Bool("no-teleport", false, "heartbeat-only link, no authenticated teleportation")
	fs.String("variant", d.Machine.Variant, "station variant: grounding or horizon")
	fs.Bool("auto-cycle", false, "start a scan immediately")
	fs.String("backend", d.Backend.Name, "simulation backend: statevector or offline")
	fs.Float64("noise", 0, "readout flip probability for the simulation backend")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-file", "", "also write logs to this rotated file")
}

/*
LoadConfig reads an optional .env file, then QLINK_* environment variables,
then flags from fs (which may be nil). Later sources win.
*/
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("QLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := NewConfig()
	v.SetDefault("link.disabled", !d.Link.Enabled)
	v.SetDefault("link.no_teleport", !d.Link.Teleport)
	v.SetDefault("link.listen", d.Link.Listen)
	v.SetDefault("link.secret", d.Link.Secret)
	v.SetDefault("link.heartbeat", d.Link.Heartbeat)
	v.SetDefault("link.accept_timeout", d.Link.AcceptTimeout)
	v.SetDefault("link.write_timeout", d.Link.WriteTimeout)
	v.SetDefault("link.read_buffer", d.Link.ReadBuffer)
	v.SetDefault("link.frame_idle", d.Link.FrameIdle)
	v.SetDefault("link.max_frame", d.Link.MaxFrame)
	v.SetDefault("machine.variant", d.Machine.Variant)
	v.SetDefault("machine.tick_rate", d.Machine.TickRate)
	v.SetDefault("machine.auto_cycle", d.Machine.AutoCycle)
	v.SetDefault("backend.name", d.Backend.Name)
	v.SetDefault("backend.noise", d.Backend.Noise)
	v.SetDefault("backend.breaker_failures", d.Backend.BreakerFailures)
	v.SetDefault("backend.breaker_reset", d.Backend.BreakerReset)
	v.SetDefault("backend.breaker_half_open", d.Backend.BreakerHalfOpen)
	v.SetDefault("backend.rate_burst", d.Backend.RateBurst)
	v.SetDefault("backend.rate_refill", d.Backend.RateRefill)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Link: LinkConfig{
			Enabled:       !v.GetBool("link.disabled"),
			Teleport:      !v.GetBool("link.no_teleport"),
			Listen:        v.GetString("link.listen"),
			Secret:        v.GetString("link.secret"),
			Heartbeat:     v.GetDuration("link.heartbeat"),
			AcceptTimeout: v.GetDuration("link.accept_timeout"),
			WriteTimeout:  v.GetDuration("link.write_timeout"),
			ReadBuffer:    v.GetInt("link.read_buffer"),
			FrameIdle:     v.GetDuration("link.frame_idle"),
			MaxFrame:      v.GetInt("link.max_frame"),
		},
		Machine: MachineConfig{
			Variant:   v.GetString("machine.variant"),
			TickRate:  v.GetInt("machine.tick_rate"),
			AutoCycle: v.GetBool("machine.auto_cycle"),
		},
		Backend: BackendConfig{
			Name:            v.GetString("backend.name"),
			Noise:           v.GetFloat64("backend.noise"),
			BreakerFailures: v.GetInt("backend.breaker_failures"),
			BreakerReset:    v.GetDuration("backend.breaker_reset"),
			BreakerHalfOpen: v.GetInt("backend.breaker_half_open"),
			RateBurst:       v.GetInt("backend.rate_burst"),
			RateRefill:      v.GetDuration("backend.rate_refill"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks the values a running station depends on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := VariantByName(c.Machine.Variant); err != nil {
		errs = append(errs, err)
	}
	if c.Machine.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("machine.tick_rate must be positive, got %d", c.Machine.TickRate))
	}
	if c.Link.Enabled {
		if c.Link.Heartbeat <= 0 {
			errs = append(errs, errors.New("link.heartbeat must be positive"))
		}
		if c.Link.AcceptTimeout <= 0 {
			errs = append(errs, errors.New("link.accept_timeout must be positive"))
		}
		if c.Link.ReadBuffer <= 0 {
			errs = append(errs, errors.New("link.read_buffer must be positive"))
		}
		if c.Link.FrameIdle <= 0 {
			errs = append(errs, errors.New("link.frame_idle must be positive"))
		}
		if c.Link.MaxFrame <= 0 {
			errs = append(errs, errors.New("link.max_frame must be positive"))
		}
		if c.Link.Teleport && c.Link.Secret == "" {
			errs = append(errs, errors.New("link.secret is required for teleportation"))
		}
	}
	if c.Backend.Noise < 0 || c.Backend.Noise > 1 {
		errs = append(errs, fmt.Errorf("backend.noise must be in [0,1], got %g", c.Backend.Noise))
	}
	if c.Backend.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("backend.rate_burst must not be negative, got %d", c.Backend.RateBurst))
	}
	if c.Backend.RateBurst > 0 && c.Backend.RateRefill <= 0 {
		errs = append(errs, errors.New("backend.rate_refill must be positive when rate limiting"))
	}
	switch c.Backend.Name {
	case "statevector", "offline":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend.Name))
	}

	return errors.Join(errs...)
}
