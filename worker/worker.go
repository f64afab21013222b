package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	loggerName = "worker"

	maxConnectAttempts = 5
	retryDelayFactor   = 3
	defaultRetryUnit   = time.Millisecond
	defaultRuntime     = "node"
)

// ErrClosed is returned by Connect after the worker has been closed.
var ErrClosed = errors.New("worker is closed")

// Config describes the renderer process to start.
// Paths are expected to be absolute already.
type Config struct {
	Port           int
	Entry          string
	LogLevel       string
	GlobalRenderer string
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Worker is a handle on a running renderer process and the local address it listens on.
// A Worker is safe for concurrent use. Each Connect call returns a new connection.
type Worker struct {
	log  *zap.SugaredLogger
	addr string
	port int
	pid  int

	shell     string
	runtime   string
	stdout    io.Writer
	stderr    io.Writer
	retryUnit time.Duration

	dial  dialFunc
	sleep func(ctx context.Context, d time.Duration) error

	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type Option func(w *Worker)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Worker) {
		w.log = l.Named(loggerName)
	}
}

// WithRuntime sets the program used to run the entry module. Defaults to "node".
func WithRuntime(runtime string) Option {
	return func(w *Worker) {
		w.runtime = runtime
	}
}

// WithOutput replaces the inherited stdout and stderr of the renderer process.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(w *Worker) {
		w.stdout = stdout
		w.stderr = stderr
	}
}

// WithRetryUnit sets the time unit of the reconnect delay. Defaults to one millisecond.
func WithRetryUnit(d time.Duration) Option {
	return func(w *Worker) {
		w.retryUnit = d
	}
}

func newWorker(port int, opts ...Option) *Worker {
	dialer := &net.Dialer{}
	w := &Worker{
		log:       zap.NewNop().Sugar(),
		addr:      net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		port:      port,
		shell:     shell,
		runtime:   defaultRuntime,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		retryUnit: defaultRetryUnit,
		dial:      dialer.DialContext,
		sleep:     sleepContext,
		exited:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start spawns the renderer process. The process is not restarted if it exits.
func Start(cfg Config, opts ...Option) (*Worker, error) {
	w := newWorker(cfg.Port, opts...)

	cmd := w.command(cfg)
	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("spawning renderer process: %w", err)
	}
	w.cmd = cmd
	w.pid = cmd.Process.Pid

	go w.watch()

	w.Logger().Debugw("renderer process started", "entry", cfg.Entry, "runtime", w.runtime)
	return w, nil
}

// watch waits on the process so it gets reaped, and records how it exited.
func (w *Worker) watch() {
	err := w.cmd.Wait()
	w.exitErr = err
	close(w.exited)

	if w.closed.Load() {
		w.Logger().Debug("renderer process stopped")
		return
	}
	w.Logger().Warnw("renderer process exited", "exitCode", w.cmd.ProcessState.ExitCode(), "error", err)
}

// Exited is closed once the renderer process has exited.
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// ExitErr returns the error from waiting on the process. Only meaningful after Exited is closed.
func (w *Worker) ExitErr() error {
	select {
	case <-w.exited:
		return w.exitErr
	default:
		return nil
	}
}

func (w *Worker) Addr() string { return w.addr }
func (w *Worker) Port() int    { return w.port }
func (w *Worker) PID() int     { return w.pid }

func (w *Worker) String() string {
	return fmt.Sprintf("worker[pid=%d port=%d]", w.pid, w.port)
}

func (w *Worker) StringWithRequest(id uuid.UUID) string {
	return fmt.Sprintf("worker[pid=%d port=%d request=%s]", w.pid, w.port, id)
}

// Logger returns a logger annotated with the worker identity.
func (w *Worker) Logger() *zap.SugaredLogger {
	return w.log.With("pid", w.pid, "port", w.port)
}

// RequestLogger returns a logger annotated with the worker identity and a request ID.
func (w *Worker) RequestLogger(id uuid.UUID) *zap.SugaredLogger {
	return w.Logger().With("request", id.String())
}

// Connect dials the renderer.
// Connection refusals are retried, since the renderer may not be listening yet right after it was spawned.
// The delay before attempt n is n*3 retry units. Other errors are returned immediately.
func (w *Worker) Connect(ctx context.Context) (net.Conn, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	log := w.Logger()
	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			log.Debug("connecting to renderer")
		} else {
			delay := w.retryDelay(attempt)
			log.Debugw("reconnecting to renderer", "attempt", attempt, "delay", delay)
			err := w.sleep(ctx, delay)
			if err != nil {
				return nil, err
			}
		}

		conn, err := w.dial(ctx, "tcp", w.addr)
		if err == nil {
			log.Debug("connected to renderer")
			return conn, nil
		}
		if !isConnRefused(err) {
			log.Debugw("unexpected error connecting to renderer", "error", err)
			return nil, err
		}
		if attempt == maxConnectAttempts {
			log.Debugw("giving up connecting to renderer", "attempts", attempt)
			return nil, err
		}
		log.Debug("renderer refused connection, retrying")
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	return time.Duration(attempt*retryDelayFactor) * w.retryUnit
}

// Closed reports whether Close has been called.
func (w *Worker) Closed() bool {
	return w.closed.Load()
}

// Close kills the renderer process group and waits for the process to exit.
// Connect fails with ErrClosed afterwards.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.cmd == nil {
			return
		}
		// the shell may have exited while processes it started are still in the group
		err := kill(w.cmd)
		if err != nil {
			w.closeErr = fmt.Errorf("killing renderer process %d: %w", w.pid, err)
			return
		}
		<-w.exited
	})
	return w.closeErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
