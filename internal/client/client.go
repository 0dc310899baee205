// Package client implements an OSP client: it sends one command per
// mutual-TLS connection and decodes the response envelope.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/ospd/internal/osp"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response is buffered.
	maxResponseSize = 64 << 20
)

// StatusError is returned for responses whose status is not 200.
type StatusError struct {
	Command    string
	Status     int
	StatusText string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (status %d): %s", e.Command, e.Status, e.StatusText)
}

// Response is a decoded response envelope.
type Response struct {
	Command    string
	Status     int
	StatusText string
	Body       *osp.Element
}

// Client talks to one OSP daemon.
type Client struct {
	address   string
	tlsConfig *tls.Config
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds dial, request and response of each command.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the daemon at address.
func New(address string, tlsConfig *tls.Config, opts ...Option) *Client {
	c := &Client{
		address:   address,
		tlsConfig: tlsConfig,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadTLSConfig builds a client TLS configuration presenting the given
// certificate and trusting the daemon certificates signed by caFile.
// serverName overrides the name checked against the daemon certificate.
func LoadTLSConfig(certFile, keyFile, caFile, serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(caFile) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Send writes a raw request and returns the decoded envelope, whatever its
// status.
func (c *Client) Send(ctx context.Context, request []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    c.tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return decodeResponse(data)
}

func decodeResponse(data []byte) (*Response, error) {
	root, err := osp.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}

	command, found := strings.CutSuffix(root.Name, "_response")
	if !found {
		return nil, fmt.Errorf("invalid response: unexpected root element <%s>", root.Name)
	}
	statusAttr, _ := root.Attr("status")
	status, err := strconv.Atoi(statusAttr)
	if err != nil {
		return nil, fmt.Errorf("invalid response status %q: %w", statusAttr, err)
	}
	statusText, _ := root.Attr("status_text")

	return &Response{
		Command:    command,
		Status:     status,
		StatusText: statusText,
		Body:       root,
	}, nil
}

// Do sends command with the given attributes and child elements. Non-200
// responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, command string, attrs []osp.Attr, children osp.Tree) (*Response, error) {
	var value osp.Value
	if len(children) > 0 {
		value = children
	}
	request := osp.RenderTree(osp.Tree{{Name: command, Attrs: attrs, Value: value}})

	resp, err := c.Send(ctx, request)
	if err != nil {
		return nil, err
	}
	if resp.Status != 200 {
		return resp, &StatusError{Command: resp.Command, Status: resp.Status, StatusText: resp.StatusText}
	}
	return resp, nil
}
