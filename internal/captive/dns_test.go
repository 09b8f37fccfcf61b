package captive

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

var apAddr = netip.MustParseAddr("192.168.4.1")

func buildQuery(t *testing.T, id uint16, name string, qtype dnsmessage.Type) []byte {
	t.Helper()

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	if err := b.StartQuestions(); err != nil {
		t.Fatal(err)
	}
	if err := b.Question(dnsmessage.Question{
		Name:  dnsmessage.MustNewName(name),
		Type:  qtype,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func parseResponse(t *testing.T, msg []byte) dnsmessage.Message {
	t.Helper()
	var m dnsmessage.Message
	if err := m.Unpack(msg); err != nil {
		t.Fatalf("unpacking response: %v", err)
	}
	return m
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(apAddr)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

// ===== Resolver =====

func TestAnswer_AnyNameResolvesToAccessPoint(t *testing.T) {
	r := newTestResolver(t)

	names := []string{
		"example.com.",
		"connectivitycheck.gstatic.com.",
		"captive.apple.com.",
		"www.msftconnecttest.com.",
		"a.b.c.d.e.invalid.",
		"x.",
	}

	for i, name := range names {
		t.Run(name, func(t *testing.T) {
			id := uint16(1000 + i)
			resp, err := r.Answer(buildQuery(t, id, name, dnsmessage.TypeA))
			if err != nil {
				t.Fatalf("Answer() error = %v", err)
			}

			m := parseResponse(t, resp)
			if m.Header.ID != id {
				t.Errorf("ID = %d, want %d", m.Header.ID, id)
			}
			if !m.Header.Response || m.Header.RCode != dnsmessage.RCodeSuccess {
				t.Errorf("header = %+v, want successful response", m.Header)
			}
			if len(m.Answers) != 1 {
				t.Fatalf("len(Answers) = %d, want 1", len(m.Answers))
			}
			a, ok := m.Answers[0].Body.(*dnsmessage.AResource)
			if !ok {
				t.Fatalf("answer body = %T, want *AResource", m.Answers[0].Body)
			}
			if got := netip.AddrFrom4(a.A); got != apAddr {
				t.Errorf("A = %v, want %v", got, apAddr)
			}
			if m.Answers[0].Header.Name.String() != name {
				t.Errorf("answer name = %q, want %q", m.Answers[0].Header.Name.String(), name)
			}
			if m.Answers[0].Header.TTL != answerTTL {
				t.Errorf("TTL = %d, want %d", m.Answers[0].Header.TTL, answerTTL)
			}
		})
	}
}

func TestAnswer_NonAQueriesGetEmptyAnswer(t *testing.T) {
	r := newTestResolver(t)

	for _, qtype := range []dnsmessage.Type{dnsmessage.TypeAAAA, dnsmessage.TypeMX, dnsmessage.TypeTXT} {
		resp, err := r.Answer(buildQuery(t, 7, "example.com.", qtype))
		if err != nil {
			t.Fatalf("Answer(%v) error = %v", qtype, err)
		}
		m := parseResponse(t, resp)
		if m.Header.RCode != dnsmessage.RCodeSuccess {
			t.Errorf("%v: RCode = %v, want success", qtype, m.Header.RCode)
		}
		if len(m.Answers) != 0 {
			t.Errorf("%v: len(Answers) = %d, want 0", qtype, len(m.Answers))
		}
		if len(m.Questions) != 1 {
			t.Errorf("%v: question not echoed", qtype)
		}
	}
}

func TestAnswer_MalformedDropped(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x12, 0x34, 0x01}},
		{"truncated question", buildQuery(t, 1, "example.com.", dnsmessage.TypeA)[:15]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Answer(tt.msg); err == nil {
				t.Error("Answer() expected error for malformed packet")
			}
		})
	}
}

func TestAnswer_IgnoresResponses(t *testing.T) {
	r := newTestResolver(t)

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: 9, Response: true})
	msg, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Answer(msg); err == nil {
		t.Error("Answer() expected error for a response message")
	}
}

func TestNewResolver_RejectsIPv6(t *testing.T) {
	_, err := NewResolver(netip.MustParseAddr("fe80::1"))
	if !errors.Is(err, ErrNotIPv4) {
		t.Errorf("NewResolver() error = %v, want ErrNotIPv4", err)
	}
}

// ===== Server =====

func TestServer_ServesOverUDP(t *testing.T) {
	srv := NewServer(newTestResolver(t), "127.0.0.1:0", logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close() //nolint:errcheck // Test cleanup

	conn, err := net.Dial("udp4", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Malformed first; the server must keep serving.
	if _, err := conn.Write([]byte{0xff}); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(buildQuery(t, 42, "example.com.", dnsmessage.TypeA)); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test bound
	buf := make([]byte, maxPacketSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	m := parseResponse(t, buf[:n])
	if m.Header.ID != 42 || len(m.Answers) != 1 {
		t.Fatalf("response = %+v, want one answer for id 42", m)
	}
	if a := m.Answers[0].Body.(*dnsmessage.AResource); netip.AddrFrom4(a.A) != apAddr {
		t.Errorf("A = %v, want %v", a.A, apAddr)
	}
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv := NewServer(newTestResolver(t), "127.0.0.1:0", logging.Discard())

	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if srv.Addr() != nil {
		t.Error("Addr() should be nil after Close")
	}
}
