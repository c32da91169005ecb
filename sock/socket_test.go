package sock

import (
	"testing"

	"github.com/govoltron/turtleserver/netaddr"
)

func TestBindListenAcceptConnect(t *testing.T) {
	addr, err := netaddr.New("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("netaddr.New: %v", err)
	}

	listener, err := New(netaddr.IPv4)
	if err != nil {
		t.Fatalf("New listener: %v", err)
	}
	defer listener.Close()

	if err := listener.Bind(addr, true); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := listener.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	bound, err := listener.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}

	client, err := New(netaddr.IPv4)
	if err != nil {
		t.Fatalf("New client: %v", err)
	}
	defer client.Close()

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- client.Connect(bound) }()

	peer, _, err := listener.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer peer.Close()

	if err := <-connectErrCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := New(netaddr.IPv4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
