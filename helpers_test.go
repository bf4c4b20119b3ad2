package heartbridge

import (
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jpalmerr/heartbridge/internal/hyperate/hyperatetest"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newProvider serves a fake heart-rate provider for the test.
func newProvider(t *testing.T) (*hyperatetest.Provider, string) {
	t.Helper()
	p := hyperatetest.NewProvider()
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return p, srv.URL
}

// oscSink listens for OSC datagrams on a local UDP port.
func oscSink(t *testing.T) (int, <-chan *osc.Message) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	msgs := make(chan *osc.Message, 64)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			packet, err := osc.ParsePacket(string(buf[:n]))
			if err != nil {
				continue
			}
			if msg, ok := packet.(*osc.Message); ok {
				select {
				case msgs <- msg:
				default:
				}
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port, msgs
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func waitConnected(t *testing.T, p *hyperatetest.Provider) {
	t.Helper()
	select {
	case <-p.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("provider never accepted a socket")
	}
}
