// Package rendertest provides an in-process renderer that speaks the renderer protocol, for testing hosts without a JavaScript runtime.
package rendertest

import (
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/guseggert/ssr/protocol"
)

// Request is a decoded render request as the renderer sees it.
type Request struct {
	Envelope protocol.Envelope
	// HydrationData is the data section exactly as received, still string-encoded.
	HydrationData string
	// Data is the payload JSON.
	Data json.RawMessage
}

// Handler renders a request. A returned error is sent back as a renderer exception with err.Error() as the message.
// The returned string is written verbatim, so handlers may also produce raw "ERROR:" responses.
type Handler func(req *Request) (string, error)

// Respond returns a Handler that always renders body.
func Respond(body string) Handler {
	return func(*Request) (string, error) { return body, nil }
}

// Server accepts renderer connections on 127.0.0.1.
// Like the real renderer it reads one frame per connection, writes the response and closes the connection.
type Server struct {
	Listener net.Listener

	handler Handler

	mut         sync.Mutex
	requests    []Request
	connections int
	frameErrs   []error

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewServer starts a Server on a free port. Call Close when done.
func NewServer(h Handler) (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		Listener: l,
		handler:  h,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Server) Port() int {
	return s.Listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return s.Listener.Addr().String()
}

// Requests returns the requests decoded so far.
func (s *Server) Requests() []Request {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]Request(nil), s.requests...)
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.connections
}

// FrameErrors returns the errors hit while reading or decoding frames.
func (s *Server) FrameErrors() []error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]error(nil), s.frameErrs...)
}

// Close stops accepting and waits for in-flight connections to finish. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.Listener.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.mut.Lock()
		s.connections++
		s.mut.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	req, err := s.readRequest(conn)
	if err != nil {
		s.mut.Lock()
		s.frameErrs = append(s.frameErrs, err)
		s.mut.Unlock()
		conn.Write(protocol.FormatException(err.Error()))
		return
	}

	s.mut.Lock()
	s.requests = append(s.requests, *req)
	s.mut.Unlock()

	out, err := s.handler(req)
	if err != nil {
		conn.Write(protocol.FormatException(err.Error()))
		return
	}
	conn.Write([]byte(out))
}

func (s *Server) readRequest(conn net.Conn) (*Request, error) {
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	env, err := protocol.DecodeMeta(frame.Meta)
	if err != nil {
		return nil, err
	}
	data, err := protocol.DecodeDataJSON(frame.Data)
	if err != nil {
		return nil, err
	}
	return &Request{
		Envelope:      env,
		HydrationData: string(frame.Data),
		Data:          data,
	}, nil
}
