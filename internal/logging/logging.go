// Package logging builds the zerolog logger shared by the commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	JSON       bool   `mapstructure:"json" yaml:"json"`
	NoColor    bool   `mapstructure:"no_color" yaml:"no_color"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// New returns a logger writing to the console (stderr), to a rotating
// file, or to both. The closer releases the file.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	return NewWithConsole(cfg, os.Stderr)
}

func NewWithConsole(cfg Config, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if cfg.Console {
		if cfg.JSON {
			writers = append(writers, console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        console,
				TimeFormat: time.RFC3339,
				NoColor:    cfg.NoColor,
			})
		}
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("log dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		return zerolog.Nop(), closer, nil
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), closer, nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
