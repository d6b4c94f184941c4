package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

const (
	// DefaultReadTimeout bounds how long a connection may sit between requests
	// or inside one.
	DefaultReadTimeout = 60 * time.Second
	// DefaultWriteTimeout bounds each response write.
	DefaultWriteTimeout = 30 * time.Second
)

// Handler serves one decoded request. It must always return a response.
type Handler interface {
	Handle(req protocol.Request) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req protocol.Request) protocol.Response

// Handle calls f(req).
func (f HandlerFunc) Handle(req protocol.Request) protocol.Response {
	return f(req)
}

// ServerOptions controls the listener and its per-connection workers.
type ServerOptions struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxPayloadSize uint32

	// ConnectionRateLimitPerIP caps new connections from one remote IP within
	// ConnectionRateLimitWindow. Zero disables the limit.
	ConnectionRateLimitPerIP     int
	ConnectionRateLimitWindow    time.Duration
	OnInboundConnectionRateLimit func(remoteIP string)
	// OnProtocolViolation is called for every connection closed because of
	// a malformed header, an unsupported version or code, or an oversized
	// payload.
	OnProtocolViolation func(remoteIP string, err error)

	Logger logrus.FieldLogger
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if o.ConnectionRateLimitPerIP > 0 && o.ConnectionRateLimitWindow <= 0 {
		o.ConnectionRateLimitWindow = time.Minute
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Server accepts TCP connections and serves each one on its own goroutine,
// strictly one request and one response at a time.
type Server struct {
	listener net.Listener
	handler  Handler
	options  ServerOptions
	log      logrus.FieldLogger
	limiter  *connectionLimiter

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and its accept loop.
func Listen(address string, handler Handler, options ServerOptions) (*Server, error) {
	if handler == nil {
		return nil, errors.New("network: nil handler")
	}
	opts := options.withDefaults()

	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		handler:  handler,
		options:  opts,
		log:      opts.Logger.WithField("component", "server"),
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}
	if opts.ConnectionRateLimitPerIP > 0 {
		server.limiter = newConnectionLimiter(opts.ConnectionRateLimitPerIP, opts.ConnectionRateLimitWindow)
	}

	server.wg.Add(1)
	go server.acceptLoop()
	server.log.WithField("addr", listener.Addr().String()).Info("listening")
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting, closes every open connection and waits for the
// workers to exit.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()

		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.log.WithField("error", err.Error()).Warn("accept connection failed")
			continue
		}

		if s.limiter != nil {
			remoteIP := remoteIPOf(conn)
			if !s.limiter.allow(remoteIP, time.Now()) {
				s.log.WithField("remote_ip", remoteIP).Warn("inbound connection rate limited")
				if s.options.OnInboundConnectionRateLimit != nil {
					s.options.OnInboundConnectionRateLimit(remoteIP)
				}
				_ = conn.Close()
				continue
			}
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer func() {
		_ = conn.Close()
	}()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("connection opened")

	for {
		req, err := protocol.ReadRequestWithTimeout(conn, s.options.ReadTimeout, s.options.MaxPayloadSize)
		if err != nil {
			s.readFailed(log, conn, err)
			return
		}

		resp := s.handler.Handle(req)
		if err := s.writeResponse(conn, resp); err != nil {
			log.WithFields(logrus.Fields{
				"code":  req.Header.Code,
				"error": err.Error(),
			}).Warn("write response failed")
			return
		}
	}
}

// readFailed decides how a connection ends after a failed read. Framing
// errors get a best-effort general failure; the stream cannot be resynced
// after them, so the connection is closed either way.
func (s *Server) readFailed(log logrus.FieldLogger, conn net.Conn, err error) {
	switch {
	case errors.Is(err, io.EOF):
		log.Debug("connection closed by client")
	case errors.Is(err, net.ErrClosed):
	case isTimeout(err):
		log.Info("connection idle past read timeout")
	case errors.Is(err, protocol.ErrMalformedHeader),
		errors.Is(err, protocol.ErrUnsupportedVersion),
		errors.Is(err, protocol.ErrUnknownCode),
		errors.Is(err, protocol.ErrPayloadTooLarge):
		log.WithField("error", err.Error()).Warn("rejecting malformed request")
		_ = s.writeResponse(conn, protocol.NewResponse(protocol.ResponseGeneralFailure, nil))
		if s.options.OnProtocolViolation != nil {
			s.options.OnProtocolViolation(remoteIPOf(conn), err)
		}
	default:
		log.WithField("error", err.Error()).Warn("read request failed")
	}
}

func (s *Server) writeResponse(conn net.Conn, resp protocol.Response) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return protocol.WriteResponse(conn, resp)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func remoteIPOf(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
