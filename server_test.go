package turtleserver_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	turtleserver "github.com/govoltron/turtleserver"
)

func TestServerBeginRejectsMissingHandler(t *testing.T) {
	s, err := turtleserver.New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Begin(); err != turtleserver.ErrHandlerRequired {
		t.Fatalf("Begin() = %v, want ErrHandlerRequired", err)
	}
}

func waitForAddr(t *testing.T, s *turtleserver.Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr, err := s.Addr(); err == nil {
			return addr.HostPort()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never reported a bound address")
	return ""
}

func TestServerEchoEndToEnd(t *testing.T) {
	s, err := turtleserver.New("127.0.0.1:0",
		turtleserver.WithWorkerCount(2),
		turtleserver.WithPollTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.OnHandle(func(conn *turtleserver.Conn) {
		n, closed := conn.Recv()
		if closed {
			conn.Reactor().DeleteConnection(conn.Fd())
			return
		}
		if n > 0 {
			conn.WriteBuffer().AppendTail(conn.ReadBuffer().View())
			conn.ReadBuffer().Clear()
			conn.Send()
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Begin() }()
	defer func() {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		<-errCh
	}()

	addr := waitForAddr(t, s)
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ping\n" {
		t.Fatalf("echo = %q, want %q", line, "ping\n")
	}
}

// TestServerStatsReflectsCacheConfiguration exercises the cache-capacity
// option end to end through Server.Stats.
func TestServerStatsReflectsCacheConfiguration(t *testing.T) {
	s, err := turtleserver.New("127.0.0.1:0", turtleserver.WithCacheCapacity(4096))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.OnHandle(func(*turtleserver.Conn) {})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Begin() }()
	defer func() {
		s.Shutdown(context.Background())
		<-errCh
	}()

	waitForAddr(t, s)
	if cap := s.Stats().Cache.Capacity; cap != 4096 {
		t.Fatalf("Cache.Capacity = %d, want 4096", cap)
	}
}
