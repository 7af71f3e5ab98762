package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

/*
Log attribute keys. Only keys shared by multiple modules are defined here, module specific
keys should be defined in the module.
*/
const (
	NodeIDKey = "node_id"
	ModuleKey = "module"
	PeerKey   = "peer"
	IndexKey  = "index"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	defaultConsoleTimeFormat = "15:04:05.000000"
)

type Config struct {
	Level      string `yaml:"defaultLevel"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"outputPath"`
	ShowCaller bool   `yaml:"showCaller"`
	TimeFormat string `yaml:"timeFormat"`

	// Writer overrides OutputPath, used by tests.
	Writer io.Writer `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatConsole,
	}
}

// LoadConfig reads logger configuration from a YAML file. Keys missing from the file keep
// their default values.
func LoadConfig(fileName string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(fileName))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read logger config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal logger config: %w", err)
	}
	return cfg, nil
}

// ParseLevel accepts zerolog level names as well as the upper case names (WARNING, NONE)
// used in older configuration files.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "none":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// New builds the root logger of the process. Components should derive their loggers from it
// with Module rather than use the zerolog global logger.
func New(cfg Config) (zerolog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := cfg.Writer
	if out == nil {
		out = os.Stderr
		if cfg.OutputPath != "" {
			f, err := os.OpenFile(filepath.Clean(cfg.OutputPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // -rw-------
			if err != nil {
				return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
			}
			out = f
		}
	}

	switch cfg.Format {
	case "", FormatConsole:
		tf := cfg.TimeFormat
		if tf == "" {
			tf = defaultConsoleTimeFormat
		}
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf, NoColor: cfg.OutputPath != ""}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	ctx := zerolog.New(out).Level(lvl).With().Timestamp()
	if cfg.ShowCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// Module returns a sub-logger which tags every event with the module name.
func Module(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(ModuleKey, name).Logger()
}

// NodeID returns a sub-logger for the node. It should be created once and passed on rather
// than adding the ID to individual logging calls.
func NodeID(l zerolog.Logger, id string) zerolog.Logger {
	return l.With().Str(NodeIDKey, id).Logger()
}
