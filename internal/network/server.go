package network

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/quic-go/quic-go"

	"campledger/internal/logger"
	"campledger/internal/query"
	"campledger/internal/record"
)

// Handler answers one decoded filter with a record batch.
type Handler func(f query.Filter) []record.RawRecord

// Server is the serving side of the endpoint protocol: it accepts QUIC
// connections, reads a filter frame per stream, and answers from the
// handler. Used by the daemon's relay mode and by tests.
type Server struct {
	listener *quic.Listener
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Serve starts a server on the given address with the given identity key.
func Serve(addr string, privateKey ed25519.PrivateKey, handler Handler) (*Server, error) {
	tlsConfig, err := newTLSConfig(privateKey)
	if err != nil {
		return nil, err
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		listener: listener,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the listener's address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the server and waits for in-flight handlers.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()

	return err
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves query streams on one connection.
func (s *Server) handleConn(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return // Connection closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(stream)
		}()
	}
}

// handleStream reads one filter frame and writes one response frame.
func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()

	request, err := readFrame(stream)
	if err != nil {
		logger.Debug("endpoint server read failed", "error", err)
		return
	}

	f, err := decodeFilter(request)
	if err != nil {
		logger.Debug("endpoint server bad filter", "error", err)
		return
	}

	response, err := encodeRecords(s.handler(f))
	if err != nil {
		logger.Debug("endpoint server encode failed", "error", err)
		return
	}

	if err := writeFrame(stream, response); err != nil {
		logger.Debug("endpoint server write failed", "error", err)
	}
}
