// Package config assembles runtime settings from an optional .env file,
// the process environment and a named scan profile, in that order of
// increasing precedence for explicit env overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Profile bundles sweep tuning defaults. Profiles mirror common scan
// postures; the stealth profile is the only one that rate-limits by
// default.
type Profile struct {
	Name        string
	Concurrency int
	Timeout     time.Duration
	Rate        float64 // probes per second, 0 = unlimited
	Burst       float64
}

var profiles = map[string]Profile{
	"quick":    {Name: "quick", Concurrency: 256, Timeout: 500 * time.Millisecond},
	"normal":   {Name: "normal", Concurrency: 128, Timeout: time.Second},
	"thorough": {Name: "thorough", Concurrency: 64, Timeout: 2 * time.Second},
	"stealth":  {Name: "stealth", Concurrency: 10, Timeout: 3 * time.Second, Rate: 50, Burst: 100},
}

// GetProfile looks up a named profile, falling back to normal.
func GetProfile(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["normal"]
}

// Profiles lists the available profile names.
func Profiles() []string {
	return []string{"quick", "normal", "thorough", "stealth"}
}

// Config is the fully resolved runtime configuration.
type Config struct {
	LogLevel   string
	ListenAddr string
	APIKey     string
	RedisAddr  string

	Profile         Profile
	HostConcurrency int
	PortConcurrency int
	PingTimeout     time.Duration
	ConnectTimeout  time.Duration
	PortRangeStart  int
	PortRangeEnd    int
	CacheTTL        time.Duration
	Rate            float64
	Burst           float64
}

// Load reads .env (when present) and the environment. Missing values
// fall back to the selected profile and the built-in defaults.
func Load() Config {
	_ = godotenv.Load() // a missing .env file is not an error

	profile := GetProfile(getenv("NETSWEEP_PROFILE", "normal"))

	cfg := Config{
		LogLevel:   getenv("NETSWEEP_LOG_LEVEL", "info"),
		ListenAddr: getenv("NETSWEEP_LISTEN_ADDR", ":8080"),
		APIKey:     os.Getenv("NETSWEEP_API_KEY"),
		RedisAddr:  os.Getenv("NETSWEEP_REDIS_ADDR"),

		Profile:         profile,
		HostConcurrency: getint("NETSWEEP_HOST_CONCURRENCY", profile.Concurrency),
		PortConcurrency: getint("NETSWEEP_PORT_CONCURRENCY", 256),
		PingTimeout:     getduration("NETSWEEP_PING_TIMEOUT", profile.Timeout),
		ConnectTimeout:  getduration("NETSWEEP_CONNECT_TIMEOUT", 500*time.Millisecond),
		PortRangeStart:  getint("NETSWEEP_PORT_RANGE_START", 1),
		PortRangeEnd:    getint("NETSWEEP_PORT_RANGE_END", 10000),
		CacheTTL:        getduration("NETSWEEP_CACHE_TTL", time.Hour),
		Rate:            getfloat("NETSWEEP_RATE", profile.Rate),
		Burst:           getfloat("NETSWEEP_BURST", profile.Burst),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
