package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Addr              string
	DBPath            string
	TempDir           string
	Compiler          string
	CompileTimeout    time.Duration
	MaxConcurrentJobs int
	AllowedOrigins    []string
	LogLevel          slog.Level
	RetentionInterval time.Duration
	RetentionKeep     int
	ShutdownTimeout   time.Duration
}

func Default() Config {
	return Config{
		Addr:              ":3000",
		DBPath:            ":memory:",
		TempDir:           filepath.Join(os.TempDir(), "codearena"),
		Compiler:          "g++",
		CompileTimeout:    5 * time.Second,
		MaxConcurrentJobs: 4,
		AllowedOrigins:    []string{"*"},
		LogLevel:          slog.LevelInfo,
		RetentionInterval: 10 * time.Minute,
		RetentionKeep:     10000,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if strings.TrimSpace(c.Compiler) == "" {
		errs = append(errs, errors.New("compiler must not be empty"))
	}
	if strings.TrimSpace(c.TempDir) == "" {
		errs = append(errs, errors.New("temp dir must not be empty"))
	}
	if c.CompileTimeout <= 0 {
		errs = append(errs, fmt.Errorf("compile timeout must be positive, got %s", c.CompileTimeout))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs))
	}
	if c.RetentionInterval <= 0 {
		errs = append(errs, fmt.Errorf("retention interval must be positive, got %s", c.RetentionInterval))
	}
	if c.RetentionKeep <= 0 {
		errs = append(errs, fmt.Errorf("retention keep must be positive, got %d", c.RetentionKeep))
	}
	return errors.Join(errs...)
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NormalizeAddr turns a bare port such as "3000" into ":3000".
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// SplitOrigins parses a comma-separated origin list.
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
