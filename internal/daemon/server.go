package daemon

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/ospd/internal/config"
	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/osp"
)

const (
	readChunkSize = 4096
	acceptBackoff = 100 * time.Millisecond
)

// Server accepts mutual-TLS connections and answers exactly one OSP request
// on each of them.
type Server struct {
	service   *Service
	tlsConfig *tls.Config
	address   string

	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxRequestSize int64

	logger  *logging.Logger
	metrics metrics.Recorder

	mu       sync.Mutex
	listener net.Listener
	closing  atomic.Bool
	conns    sync.WaitGroup
}

// NewServer creates a server for svc using the listener settings in cfg.
func NewServer(svc *Service, cfg *config.ServerConfig, tlsConfig *tls.Config) *Server {
	return &Server{
		service:        svc,
		tlsConfig:      tlsConfig,
		address:        net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		maxRequestSize: cfg.MaxRequestSize,
		logger:         svc.logger,
		metrics:        svc.metrics,
	}
}

// LoadTLSConfig builds the server TLS configuration. Clients must present a
// certificate signed by the CA in caFile.
func LoadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, ospderrors.WrapConfigError(ospderrors.CodeConfiguration,
			"failed to load server certificate", err)
	}

	caPEM, err := os.ReadFile(caFile) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, ospderrors.WrapConfigError(ospderrors.CodeConfiguration,
			"failed to read CA file", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, ospderrors.NewConfigFieldError(ospderrors.CodeConfiguration,
			"no certificates found in CA file", "Config.Server.TLS.CAFile", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen binds the listening socket. It is separate from Serve so the
// process can drop privileges in between.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.InfoDaemon("OSP listener bound", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		s.closing.Store(true)
		_ = ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.ErrorDaemon("Accept failed", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}

		s.conns.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// ListenAndServe binds and serves in one call.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown stops accepting connections and waits for in-flight ones to be
// answered, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer s.conns.Done()
	defer raw.Close()

	remote := raw.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorConnection("Connection handler panicked", remote, fmt.Errorf("%v", r))
		}
	}()

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	conn := tls.Server(raw, s.tlsConfig)
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))
	if err := conn.HandshakeContext(ctx); err != nil {
		s.metrics.IncrementConnections(metrics.ConnHandshakeErr)
		cerr := connError(ospderrors.CodeHandshake, "tls handshake", remote, err)
		s.logger.ErrorConnection("TLS handshake failed", remote, cerr, "code", cerr.Code)
		return
	}
	s.metrics.IncrementConnections(metrics.ConnAccepted)

	data, err := s.readRequest(conn)
	if err != nil {
		s.metrics.IncrementConnections(metrics.ConnReadErr)
		cerr := connError(ospderrors.CodeConnection, "read request", remote, err)
		s.logger.ErrorConnection("Failed to read request", remote, cerr, "code", cerr.Code)
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.metrics.IncrementConnections(metrics.ConnEmpty)
		s.logger.Debug("Empty request dropped", "remote", remote)
		return
	}

	response := s.service.HandleCommand(data)

	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := conn.Write(response); err != nil {
		cerr := connError(ospderrors.CodeConnection, "write response", remote, err)
		s.logger.ErrorConnection("Failed to write response", remote, cerr, "code", cerr.Code)
		return
	}
	// close_notify before the socket goes away
	_ = conn.Close()
}

// connError classifies a transport failure. Deadline expiries are reported
// as timeouts whatever the operation.
func connError(code ospderrors.ErrorCode, op, remote string, err error) *ospderrors.ConnectionError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		code = ospderrors.CodeTimeout
	}
	return ospderrors.WrapConnectionError(code, op, remote, err)
}

// readRequest collects chunks until a complete root element arrived, the
// peer closed its side or the inactivity deadline expired.
func (s *Server) readRequest(conn net.Conn) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	framer := osp.NewFramer()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > s.maxRequestSize {
				return nil, fmt.Errorf("request exceeds %d bytes", s.maxRequestSize)
			}
			_, _ = framer.Write(chunk[:n])
			if framer.Done() {
				return buf.Bytes(), nil
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.Is(err, io.EOF) || (errors.As(err, &netErr) && netErr.Timeout()) {
				return buf.Bytes(), nil
			}
			return nil, err
		}
	}
}
