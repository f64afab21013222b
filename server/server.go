// Package server is an HTTP host for a Renderer: every GET renders the request URL, and a WebSocket endpoint renders arbitrary URLs and payloads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/guseggert/ssr"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Renderer is what the server needs from *ssr.Renderer.
type Renderer interface {
	Render(ctx context.Context, uri *url.URL, data any, target ssr.Target) (string, error)
	RenderURI(ctx context.Context, uri string, data any, target ssr.Target) (string, error)
}

var _ Renderer = (*ssr.Renderer)(nil)

// Server is an HTTP host that renders every GET request through a Renderer.
//
// Routes:
//
//	GET /_ssr/health  liveness of the host
//	GET /_ssr/ws      WebSocket render endpoint, one RenderMessage in, one ResultMessage out
//	GET /*            renders the request URL
type Server struct {
	logger   *zap.SugaredLogger
	renderer Renderer

	listenAddr string
	data       json.RawMessage
	target     ssr.Target

	mut        sync.Mutex
	httpServer *http.Server
	stopped    bool
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Sugar().Named("server")
	}
}

// WithData sets a static payload for every page render. Without it the payload is the request's query parameters.
func WithData(data json.RawMessage) Option {
	return func(s *Server) {
		s.data = data
	}
}

// WithTarget sets the renderer used for page renders. Defaults to ssr.Global.
func WithTarget(t ssr.Target) Option {
	return func(s *Server) {
		s.target = t
	}
}

func New(r Renderer, opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		renderer:   r,
		listenAddr: "127.0.0.1:3000",
		target:     ssr.Global,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/_ssr/health", s.health)
	router.GET("/_ssr/ws", s.renderWS)
	// httprouter rejects a root catch-all next to these routes, so pages render from the fallback
	router.NotFound = http.HandlerFunc(s.render)
	return router
}

// Run listens on the configured address and serves until Stop is called.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	httpServer := &http.Server{Handler: s.Handler()}
	s.mut.Lock()
	if s.stopped {
		s.mut.Unlock()
		return l.Close()
	}
	s.httpServer = httpServer
	s.mut.Unlock()
	s.logger.Infow("serving", "addr", l.Addr().String())

	err := httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.stopped = true
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := struct {
		Status   string `json:"status"`
		Renderer string `json:"renderer,omitempty"`
	}{Status: "ok"}
	if st, ok := s.renderer.(fmt.Stringer); ok {
		resp.Renderer = st.String()
	}
	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	html, err := s.renderer.Render(r.Context(), r.URL, s.payload(r), s.target)
	if err != nil {
		s.logger.Errorw("render failed", "url", r.URL.String(), "error", err)
		code := StatusCode(err)
		http.Error(w, http.StatusText(code), code)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = w.Write([]byte(html))
	if err != nil {
		s.logger.Debugf("error writing render response: %s", err)
	}
}

func (s *Server) payload(r *http.Request) any {
	if s.data != nil {
		return s.data
	}
	return r.URL.Query()
}

// StatusCode maps a render error to the HTTP status the server responds with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ssr.ErrInvalidURI):
		return http.StatusBadRequest
	case errors.Is(err, ssr.ErrWorkerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ssr.ErrConnection):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// RenderMessage is a render request sent over the WebSocket endpoint.
type RenderMessage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	// Data is the payload. Absent means null.
	Data json.RawMessage `json:"data,omitempty"`
	// Renderer selects a per-request renderer module. Empty means the global renderer.
	Renderer string `json:"renderer,omitempty"`
}

// ResultMessage answers a RenderMessage with the same ID.
type ResultMessage struct {
	ID    string `json:"id"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) renderWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	s.logger.Debug("accepted WebSocket conn")

	ctx := r.Context()
	for {
		var msg RenderMessage
		err := wsjson.Read(ctx, conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.logger.Debug("got normal closure from client")
			return
		}
		if err != nil {
			s.logger.Debugf("error reading render message: %s", err)
			conn.Close(websocket.StatusUnsupportedData, "invalid render message")
			return
		}

		err = wsjson.Write(ctx, conn, s.renderMessage(ctx, msg))
		if err != nil {
			s.logger.Debugf("error writing render result: %s", err)
			conn.Close(websocket.StatusInternalError, "writing render result")
			return
		}
	}
}

func (s *Server) renderMessage(ctx context.Context, msg RenderMessage) ResultMessage {
	res := ResultMessage{ID: msg.ID}

	target := ssr.Global
	if msg.Renderer != "" {
		target = ssr.PerRequest(msg.Renderer)
	}
	var data any
	if len(msg.Data) > 0 {
		data = msg.Data
	}

	html, err := s.renderer.RenderURI(ctx, msg.URL, data, target)
	if err != nil {
		s.logger.Errorw("render failed", "id", msg.ID, "url", msg.URL, "error", err)
		res.Error = err.Error()
		var renderErr *ssr.RenderError
		if errors.As(err, &renderErr) {
			res.Kind = string(renderErr.Kind)
		}
		return res
	}
	res.HTML = html
	return res
}
