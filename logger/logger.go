// Package logger builds the zerolog.Logger every node process uses,
// following the same console-plus-rotating-file construction the teacher
// repo uses for its own CLI logging, trimmed of the CLI-flag and
// management-log plumbing that belongs to the out-of-scope front end.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	colorable "github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeFormat = time.RFC3339

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// RollingFile configures the optional rotating log file sink.
type RollingFile struct {
	Dirname    string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config controls what New builds.
type Config struct {
	// MinLevel is one of zerolog's level names: debug, info, warn, error.
	MinLevel string
	// Console disables the human-readable stderr writer when false.
	Console bool
	// Rolling, if non-nil, adds a size-rotated file sink via lumberjack.
	Rolling *RollingFile
}

// DefaultConfig logs at info level to the console only.
func DefaultConfig() Config {
	return Config{MinLevel: "info", Console: true}
}

// New builds a logger per cfg. A malformed MinLevel falls back to info
// rather than failing startup.
func New(cfg Config) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        colorable.NewColorable(os.Stderr),
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
			TimeFormat: consoleTimeFormat,
		})
	}

	if cfg.Rolling != nil {
		if err := os.MkdirAll(cfg.Rolling.Dirname, 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Rolling.Dirname, cfg.Rolling.Filename),
				MaxSize:    cfg.Rolling.MaxSizeMB,
				MaxBackups: cfg.Rolling.MaxBackups,
				MaxAge:     cfg.Rolling.MaxAgeDays,
			})
		}
	}

	level, err := zerolog.ParseLevel(cfg.MinLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
