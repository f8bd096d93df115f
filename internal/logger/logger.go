// Package logger provides the process-wide zerolog root logger
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger
type Options struct {
	Level  string
	Format string
	// File, when set, receives JSON lines in addition to Writer.
	File      string
	Writer    io.Writer
	Component string
}

var (
	once   sync.Once
	root   atomic.Pointer[zerolog.Logger]
	inited atomic.Bool
	file   *os.File
)

// Logger is the project-wide logging type
type Logger = zerolog.Logger

// Get returns the process-wide root logger
func Get() *Logger {
	if !inited.Load() {
		Init(Options{Level: "info", Format: "console", Writer: os.Stderr})
	}
	return root.Load()
}

// Init builds the root logger, safe to call once. Later calls are no-ops.
func Init(opt Options) error {
	var initErr error
	once.Do(func() {
		log, f, err := build(opt)
		if err != nil {
			initErr = err
		}
		file = f
		root.Store(&log)
		inited.Store(true)
	})
	return initErr
}

// New builds a standalone logger from opt without touching the root
func New(opt Options) zerolog.Logger {
	log, _, _ := build(Options{Level: opt.Level, Format: opt.Format, Writer: opt.Writer, Component: opt.Component})
	return log
}

// Close flushes and closes the log file, if one was opened
func Close() error {
	if file == nil {
		return nil
	}
	return file.Close()
}

func build(opt Options) (zerolog.Logger, *os.File, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if strings.ToLower(opt.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	var (
		f    *os.File
		ferr error
	)
	if opt.File != "" {
		f, ferr = os.OpenFile(opt.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if ferr == nil {
			w = zerolog.MultiLevelWriter(w, f)
		} else {
			ferr = fmt.Errorf("logger: opening %s: %w", opt.File, ferr)
		}
	}

	ctx := zerolog.New(w).Level(parseLevel(opt.Level)).With().Timestamp()
	if opt.Component != "" {
		ctx = ctx.Str("component", opt.Component)
	}
	return ctx.Logger(), f, ferr
}

// parseLevel supports string-only levels
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Named returns a child logger with a component field
func Named(component string) zerolog.Logger {
	if component == "" {
		return *Get()
	}
	return Get().With().Str("component", component).Logger()
}
