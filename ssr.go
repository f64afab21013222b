package ssr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/ssr/protocol"
	"github.com/guseggert/ssr/worker"
	"go.uber.org/zap"
)

const loggerName = "ssr"

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named(loggerName)
}

// Target selects the renderer module for one Render call.
type Target struct {
	perRequest bool
	path       string
}

// Global uses the renderer configured with Config.GlobalRenderer.
var Global = Target{}

// PerRequest uses the renderer module at path for this call only, even if a global renderer is configured.
// The path is handed to the renderer process as is.
func PerRequest(path string) Target {
	return Target{perRequest: true, path: path}
}

func (t Target) String() string {
	if t.perRequest {
		return fmt.Sprintf("per-request renderer %q", t.path)
	}
	return "global renderer"
}

// Renderer renders requests by delegating to a renderer process.
// A Renderer is safe for concurrent use. Every Render call uses its own connection.
type Renderer struct {
	cfg           Config
	log           *zap.SugaredLogger
	worker        *worker.Worker
	renderTimeout time.Duration
}

// New validates cfg and spawns the renderer process.
// Call Close to stop the process; otherwise it runs until the host exits.
func New(cfg Config, opts ...Option) (*Renderer, error) {
	o := &options{log: defaultLogger}
	for _, opt := range opts {
		opt(o)
	}

	resolved, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	workerOpts := append([]worker.Option{worker.WithLogger(o.log)}, o.workerOpts...)
	w, err := worker.Start(worker.Config{
		Port:           resolved.Port,
		Entry:          resolved.WorkerPath,
		LogLevel:       resolved.LogLevel.String(),
		GlobalRenderer: resolved.GlobalRenderer,
	}, workerOpts...)
	if err != nil {
		return nil, &InitError{Kind: KindSpawn, Path: resolved.WorkerPath, Cause: err}
	}

	o.log.Infow("renderer started", "pid", w.PID(), "port", w.Port(), "globalRenderer", resolved.GlobalRenderer)

	return &Renderer{
		cfg:           resolved,
		log:           o.log,
		worker:        w,
		renderTimeout: o.renderTimeout,
	}, nil
}

// Config returns the resolved configuration.
func (r *Renderer) Config() Config {
	return r.cfg
}

func (r *Renderer) Worker() *worker.Worker {
	return r.worker
}

func (r *Renderer) String() string {
	return r.worker.String()
}

// Close stops the renderer process. Later Render calls fail with ErrWorkerUnavailable.
func (r *Renderer) Close() error {
	return r.worker.Close()
}

// RenderURI is like Render, but parses the request target from a string first.
func (r *Renderer) RenderURI(ctx context.Context, uri string, data any, target Target) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", &RenderError{Kind: KindInvalidURI, RequestID: uuid.New(), Cause: err}
	}
	return r.Render(ctx, u, data, target)
}

// Render renders the request target uri with data as the payload.
// The URL must have a path. Its path and query are forwarded to the renderer.
//
// If ctx is done before the response is read, the connection is closed and the error wraps ctx.Err().
func (r *Renderer) Render(ctx context.Context, uri *url.URL, data any, target Target) (html string, err error) {
	id := uuid.New()
	log := r.worker.RequestLogger(id)

	log.Debugw("starting render", "target", target.String())

	if r.renderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.renderTimeout)
		defer cancel()
	}

	frame, err := r.frame(id, uri, data, target)
	if err != nil {
		log.Debugw("invalid render request", "error", err)
		return "", err
	}

	conn, err := r.worker.Connect(ctx)
	if err != nil {
		if errors.Is(err, worker.ErrClosed) {
			return "", &RenderError{Kind: KindWorkerUnavailable, RequestID: id, Cause: err}
		}
		log.Errorw("failed to connect to renderer", "error", err)
		return "", &RenderError{Kind: KindConnection, RequestID: id, Cause: err}
	}
	defer func() {
		if err != nil {
			r.shutdown(log, conn)
			return
		}
		// the renderer already closed its end after responding
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	log.Debug("writing frame to socket")
	_, err = frame.WriteTo(conn)
	if err != nil {
		return "", &RenderError{Kind: KindRenderRequest, RequestID: id, Cause: withContext(ctx, err)}
	}
	log.Debug("frame written to socket")

	res, err := protocol.ReadResponse(conn)
	if err != nil {
		return "", &RenderError{Kind: KindRenderResponse, RequestID: id, Cause: withContext(ctx, err)}
	}
	log.Debug("response read from socket")

	html, err = protocol.ParseResponse(res)
	var exc *protocol.ExceptionError
	if errors.As(err, &exc) {
		log.Debug("response is an error")
		return "", &RenderError{Kind: KindJSException, RequestID: id, Message: exc.Message, Cause: err}
	}
	if err != nil {
		return "", &RenderError{Kind: KindRenderResponse, RequestID: id, Cause: err}
	}

	log.Debug("response is ok")
	return html, nil
}

// frame validates the request and builds the frame to send. No I/O happens here.
func (r *Renderer) frame(id uuid.UUID, uri *url.URL, data any, target Target) (protocol.Frame, error) {
	path, query, ok := pathAndQuery(uri)
	if !ok {
		return protocol.Frame{}, &RenderError{Kind: KindInvalidURI, RequestID: id}
	}

	renderer, err := r.rendererFor(target)
	if err != nil {
		return protocol.Frame{}, &RenderError{Kind: KindGlobalRendererNotProvided, RequestID: id}
	}

	meta, err := protocol.EncodeMeta(protocol.NewEnvelope(id, renderer, path, query))
	if err != nil {
		return protocol.Frame{}, &RenderError{Kind: KindMetadataSerialization, RequestID: id, Cause: err}
	}
	payload, err := protocol.EncodeData(data)
	if err != nil {
		return protocol.Frame{}, &RenderError{Kind: KindDataSerialization, RequestID: id, Cause: err}
	}
	return protocol.Frame{Meta: meta, Data: payload}, nil
}

// rendererFor returns the module to put in the envelope; nil means the renderer's global module.
func (r *Renderer) rendererFor(target Target) (*string, error) {
	if target.perRequest {
		path := target.path
		return &path, nil
	}
	if r.cfg.GlobalRenderer == "" {
		return nil, ErrGlobalRendererNotProvided
	}
	return nil, nil
}

// pathAndQuery extracts the origin-form parts of uri.
// The query is nil unless uri has a '?', so "/a?" and "/a" stay distinguishable.
func pathAndQuery(uri *url.URL) (string, *string, bool) {
	if uri == nil {
		return "", nil, false
	}
	path := uri.EscapedPath()
	if path == "" {
		return "", nil, false
	}
	if uri.RawQuery == "" && !uri.ForceQuery {
		return path, nil, true
	}
	query := uri.RawQuery
	return path, &query, true
}

// shutdown closes a connection on a failed render. The render error is what the caller needs, so close errors are only logged.
func (r *Renderer) shutdown(log *zap.SugaredLogger, conn net.Conn) {
	err := conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warnw("failed to shut down connection to the renderer", "error", err)
	}
}

func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
