package reactor_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/govoltron/turtleserver/netaddr"
	"github.com/govoltron/turtleserver/reactor"
)

func newLoopbackPool(t *testing.T, workers int, inactivity time.Duration) *reactor.Pool {
	t.Helper()
	bind, err := netaddr.New("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("netaddr.New: %v", err)
	}
	pool, err := reactor.NewPool(bind, workers, 50, inactivity, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown() })
	return pool
}

func dial(t *testing.T, pool *reactor.Pool) net.Conn {
	t.Helper()
	addr, err := pool.Addr()
	if err != nil {
		t.Fatalf("pool.Addr: %v", err)
	}
	conn, err := net.DialTimeout("tcp", addr.HostPort(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// TestEchoRoundTrip exercises §8 scenario S1: a connection that sends bytes
// gets the same bytes echoed back.
func TestEchoRoundTrip(t *testing.T) {
	pool := newLoopbackPool(t, 2, 0)
	pool.OnHandle(func(conn *reactor.Conn) {
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
	go pool.Begin()
	time.Sleep(20 * time.Millisecond)

	c := dial(t, pool)
	defer c.Close()

	if _, err := c.Write([]byte("hello turtle\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if line != "hello turtle\n" {
		t.Fatalf("echo = %q, want %q", line, "hello turtle\n")
	}
}

// TestIdleEvictionClosesConnection exercises §8 scenario S3: a connection
// that never sends data is closed once its inactivity timer expires.
func TestIdleEvictionClosesConnection(t *testing.T) {
	pool := newLoopbackPool(t, 1, 60*time.Millisecond)
	pool.OnHandle(func(conn *reactor.Conn) {
		if n, closed := conn.Recv(); closed || n == 0 {
			return
		}
	})
	go pool.Begin()
	time.Sleep(20 * time.Millisecond)

	c := dial(t, pool)
	defer c.Close()

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := c.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected eviction to close the connection, got n=%d err=%v", n, err)
	}
}

// TestKeepAliveRefreshPostponesEviction exercises §8 scenario S4: a
// connection that keeps sending data within the inactivity window is never
// evicted, even though its total lifetime exceeds the timeout.
func TestKeepAliveRefreshPostponesEviction(t *testing.T) {
	timeout := 80 * time.Millisecond
	pool := newLoopbackPool(t, 1, timeout)
	pool.OnHandle(func(conn *reactor.Conn) {
		conn.Recv()
		conn.ReadBuffer().Clear()
	})
	go pool.Begin()
	time.Sleep(20 * time.Millisecond)

	c := dial(t, pool)
	defer c.Close()

	deadline := time.Now().Add(timeout * 4)
	for time.Now().Before(deadline) {
		if _, err := c.Write([]byte("x")); err != nil {
			t.Fatalf("connection was evicted despite keep-alive traffic: %v", err)
		}
		time.Sleep(timeout / 3)
	}
}

// TestDispatchSpreadsAcrossWorkers exercises §8 scenario S6: the acceptor
// spreads many short-lived connections across every worker, not onto a
// single one.
func TestDispatchSpreadsAcrossWorkers(t *testing.T) {
	const workers = 4
	const conns = 200
	pool := newLoopbackPool(t, workers, 0)
	pool.OnHandle(func(conn *reactor.Conn) { conn.Recv() })
	go pool.Begin()
	time.Sleep(20 * time.Millisecond)

	var dialed []net.Conn
	for i := 0; i < conns; i++ {
		c := dial(t, pool)
		dialed = append(dialed, c)
	}
	defer func() {
		for _, c := range dialed {
			c.Close()
		}
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		total := int64(0)
		for _, ws := range pool.Stats() {
			total += ws.Dispatched
		}
		if total == conns {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := pool.Stats()
	var total int64
	for _, ws := range stats {
		total += ws.Dispatched
		if ws.Dispatched == conns {
			t.Fatalf("worker %s received every connection, dispatch is not spread: %+v", ws.Name, stats)
		}
	}
	if total != conns {
		t.Fatalf("dispatched total = %d, want %d (stats: %+v)", total, conns, stats)
	}
}
