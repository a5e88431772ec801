// Package network speaks the endpoint wire protocol over QUIC: one
// bidirectional stream per query, length-prefixed JSON frames in both
// directions.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"campledger/internal/query"
	"campledger/internal/record"
)

const (
	// maxIdleTimeout closes connections with no activity.
	maxIdleTimeout = 30 * time.Second

	// keepAlivePeriod keeps long-lived endpoint connections open between
	// sync rounds.
	keepAlivePeriod = 10 * time.Second

	// defaultQueryTimeout bounds a query when the context has no deadline.
	defaultQueryTimeout = 10 * time.Second
)

// Endpoint is a QUIC client for one remote relay. It implements
// query.Endpoint. Connections are dialed lazily and re-dialed after
// failures; a dead relay costs one dial attempt per query.
type Endpoint struct {
	name       string
	addr       string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mu   sync.Mutex
	conn *quic.Conn
}

// NewEndpoint creates an endpoint client for the given address. Each
// client carries its own throwaway ed25519 identity for the TLS handshake.
func NewEndpoint(name, addr string) (*Endpoint, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate endpoint key: %w", err)
	}

	tlsConfig, err := newTLSConfig(priv)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		name:      name,
		addr:      addr,
		tlsConfig: tlsConfig,
		quicConfig: &quic.Config{
			MaxIdleTimeout:  maxIdleTimeout,
			KeepAlivePeriod: keepAlivePeriod,
		},
	}, nil
}

// Name identifies the endpoint for logging.
func (e *Endpoint) Name() string {
	return e.name
}

// Addr returns the remote address.
func (e *Endpoint) Addr() string {
	return e.addr
}

// QueryOnce sends the filter and reads the response batch over one
// bidirectional stream, bounded by the context deadline.
func (e *Endpoint) QueryOnce(ctx context.Context, f query.Filter) ([]record.RawRecord, error) {
	conn, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		e.dropConn(conn)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultQueryTimeout)
	}
	stream.SetDeadline(deadline)

	request, err := encodeFilter(f)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	if err := writeFrame(stream, request); err != nil {
		e.dropConn(conn)
		return nil, fmt.Errorf("write request: %w", err)
	}

	response, err := readFrame(stream)
	if err != nil {
		e.dropConn(conn)
		return nil, fmt.Errorf("read response: %w", err)
	}

	return decodeRecords(response)
}

// Close tears down the connection if one is open.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}

	err := e.conn.CloseWithError(0, "closed")
	e.conn = nil

	return err
}

// connect returns the cached connection or dials a new one.
func (e *Endpoint) connect(ctx context.Context) (*quic.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn, nil
	}

	conn, err := quic.DialAddr(ctx, e.addr, e.tlsConfig, e.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.addr, err)
	}

	e.conn = conn

	return conn, nil
}

// dropConn discards a connection after a stream failure so the next query
// re-dials instead of reusing a broken connection.
func (e *Endpoint) dropConn(conn *quic.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == conn {
		e.conn.CloseWithError(1, "stream failure")
		e.conn = nil
	}
}
