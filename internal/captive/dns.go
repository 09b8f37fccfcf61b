package captive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

const (
	// answerTTL is the TTL (seconds) of every synthesised A record.
	answerTTL = 60

	// maxPacketSize is the classic UDP DNS message limit.
	maxPacketSize = 512

	// readDeadline lets the serve loop notice shutdown.
	readDeadline = time.Second
)

// ErrNotIPv4 is returned when the redirect address is not IPv4.
var ErrNotIPv4 = errors.New("captive: redirect address must be IPv4")

// Resolver answers every A query with one fixed address.
type Resolver struct {
	addr [4]byte
}

// NewResolver creates a resolver redirecting all names to addr.
func NewResolver(addr netip.Addr) (*Resolver, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrNotIPv4, addr)
	}
	return &Resolver{addr: addr.As4()}, nil
}

// Address returns the redirect address.
func (r *Resolver) Address() netip.Addr {
	return netip.AddrFrom4(r.addr)
}

// Answer builds the response to one DNS query message.
//
// Every A/IN question is answered with the redirect address. Other types
// get NOERROR with no answers so clients fall back to IPv4. Responses to
// non-query opcodes carry NOTIMP. A message that cannot be parsed returns
// an error and must be dropped.
func (r *Resolver) Answer(query []byte) ([]byte, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(query)
	if err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if hdr.Response {
		return nil, errors.New("captive: message is a response")
	}

	questions, err := p.AllQuestions()
	if err != nil {
		return nil, fmt.Errorf("parsing questions: %w", err)
	}

	resp := dnsmessage.Header{
		ID:                 hdr.ID,
		Response:           true,
		OpCode:             hdr.OpCode,
		Authoritative:      true,
		RecursionDesired:   hdr.RecursionDesired,
		RecursionAvailable: false,
		RCode:              dnsmessage.RCodeSuccess,
	}
	if hdr.OpCode != 0 {
		resp.RCode = dnsmessage.RCodeNotImplemented
	}

	b := dnsmessage.NewBuilder(make([]byte, 0, maxPacketSize), resp)
	b.EnableCompression()

	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	for _, q := range questions {
		if err := b.Question(q); err != nil {
			return nil, fmt.Errorf("echoing question: %w", err)
		}
	}

	if err := b.StartAnswers(); err != nil {
		return nil, err
	}
	if resp.RCode == dnsmessage.RCodeSuccess {
		for _, q := range questions {
			if q.Type != dnsmessage.TypeA || q.Class != dnsmessage.ClassINET {
				continue
			}
			err := b.AResource(dnsmessage.ResourceHeader{
				Name:  q.Name,
				Type:  dnsmessage.TypeA,
				Class: dnsmessage.ClassINET,
				TTL:   answerTTL,
			}, dnsmessage.AResource{A: r.addr})
			if err != nil {
				return nil, fmt.Errorf("building answer: %w", err)
			}
		}
	}

	return b.Finish()
}

// Server is a UDP DNS responder backed by a Resolver.
//
// Lifecycle:
//
//	srv := captive.NewServer(resolver, "192.168.4.1:53", logger)
//	srv.Start(ctx)
//	defer srv.Close()
type Server struct {
	resolver *Resolver
	listen   string
	logger   *logging.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a responder that will listen on the UDP address listen.
func NewServer(resolver *Resolver, listen string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		resolver: resolver,
		listen:   listen,
		logger:   logger.With("component", "captive-dns"),
	}
}

// Start binds the UDP socket and serves queries in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", s.listen)
	if err != nil {
		return fmt.Errorf("binding captive DNS on %s: %w", s.listen, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.serve(srvCtx, conn, s.done)

	s.logger.Info("captive DNS started",
		"listen", conn.LocalAddr().String(),
		"redirect", s.resolver.Address().String(),
	)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) serve(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxPacketSize)
	for {
		if ctx.Err() != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline)) //nolint:errcheck // Deadline only bounds the wait
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("captive DNS read failed", "error", err)
			continue
		}

		resp, err := s.resolver.Answer(buf[:n])
		if err != nil {
			s.logger.Debug("dropping malformed query", "peer", peer.String(), "error", err)
			continue
		}
		if _, err := conn.WriteTo(resp, peer); err != nil {
			s.logger.Debug("captive DNS write failed", "peer", peer.String(), "error", err)
		}
	}
}

// Close stops the responder and waits for the serve loop to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	cancel()
	err := conn.Close()
	<-done

	s.logger.Info("captive DNS stopped")
	if err != nil {
		return fmt.Errorf("closing captive DNS socket: %w", err)
	}
	return nil
}
