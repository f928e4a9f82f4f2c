package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/hupe1980/chatagent/config"
	"github.com/hupe1980/chatagent/logging"
)

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// logFormat resolves "auto" to text on a terminal and JSON otherwise.
func logFormat(format string, w io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "text"
	}
	return "json"
}

// newLogger builds the configured logger. The returned func flushes it.
func newLogger(cfg config.LoggingConfig, w io.Writer) (logging.Logger, func(), error) {
	level := logging.ParseLevel(cfg.Level)
	format := logFormat(cfg.Format, w)

	if cfg.Backend == "zap" {
		z, err := logging.NewZapLogger(level, format)
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return z, func() { _ = z.Sync() }, nil
	}

	l := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    format,
		Output:    w,
		Component: "chatagent",
	})
	return l, func() {}, nil
}
