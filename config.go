package ssr

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	inet "github.com/guseggert/ssr/internal/net"
	"github.com/guseggert/ssr/worker"
	"go.uber.org/zap"
)

// LogLevel is the verbosity of the renderer process's own logging.
type LogLevel int

const (
	LogQuiet LogLevel = iota
	LogVerbose
)

// String returns the name passed to the renderer in the LOG variable.
func (l LogLevel) String() string {
	switch l {
	case LogQuiet:
		return "minimal"
	case LogVerbose:
		return "verbose"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel accepts "quiet" or "minimal" for LogQuiet and "verbose" for LogVerbose, in any case.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "quiet", "minimal":
		return LogQuiet, nil
	case "verbose":
		return LogVerbose, nil
	}
	return LogQuiet, fmt.Errorf("unknown renderer log level %q", s)
}

// Config configures the renderer process.
type Config struct {
	// Port is the port the renderer listens on, on 127.0.0.1. Zero picks a free port.
	Port int
	// WorkerPath is the renderer entry module. It must exist.
	WorkerPath string
	LogLevel   LogLevel
	// GlobalRenderer is the module used for requests that target Global.
	// Optional, but if set it must exist.
	GlobalRenderer string
}

// resolve validates c and returns a copy with absolute paths and a concrete port.
func (c Config) resolve() (Config, error) {
	if c.Port < 0 || c.Port > 65535 {
		return Config{}, &InitError{Kind: KindInvalidAddr, Cause: fmt.Errorf("port %d out of range", c.Port)}
	}
	if c.Port == 0 {
		port, err := inet.GetEphemeralTCPPort()
		if err != nil {
			return Config{}, &InitError{Kind: KindInvalidAddr, Cause: err}
		}
		c.Port = port
	}

	workerPath, err := resolvePath(c.WorkerPath)
	if err != nil {
		return Config{}, &InitError{Kind: KindInvalidWorkerPath, Path: c.WorkerPath, Cause: err}
	}
	c.WorkerPath = workerPath

	if c.GlobalRenderer != "" {
		globalRenderer, err := resolvePath(c.GlobalRenderer)
		if err != nil {
			return Config{}, &InitError{Kind: KindInvalidGlobalRendererPath, Path: c.GlobalRenderer, Cause: err}
		}
		c.GlobalRenderer = globalRenderer
	}
	return c, nil
}

// resolvePath returns the absolute path of p with symlinks resolved. It fails if p does not exist.
func resolvePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

type options struct {
	log           *zap.SugaredLogger
	renderTimeout time.Duration
	workerOpts    []worker.Option
}

type Option func(o *options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l.Sugar().Named(loggerName)
	}
}

// WithRenderTimeout bounds every Render call, including connect retries. Zero means no bound.
func WithRenderTimeout(d time.Duration) Option {
	return func(o *options) {
		o.renderTimeout = d
	}
}

// WithWorkerOptions passes options through to worker.Start.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(o *options) {
		o.workerOpts = append(o.workerOpts, opts...)
	}
}
