package main

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sstun/sstun/std"
)

func startEcho(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return lis.Addr().String()
}

func startRelay(t *testing.T, crypt *std.Crypt, config *Config) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("relay listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go serve(lis, crypt, config)
	return lis.Addr().String()
}

func testCrypt(t *testing.T) *std.Crypt {
	t.Helper()
	crypt, err := std.NewCrypt("rc4", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCrypt: %v", err)
	}
	return crypt
}

func dialRelay(t *testing.T, addr string, crypt *std.Crypt) *std.CipherPort {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	enc, dec, err := crypt.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	return std.NewCipherPort(conn, enc, dec)
}

func testConfig() *Config {
	return &Config{Timeout: 5, Quiet: true}
}

// The plaintext bytes a client sends past the header must come back
// byte-for-byte from an echoing upstream.
func TestRelayEcho(t *testing.T) {
	echo := startEcho(t)
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	hdr, err := std.AppendAddr(nil, echo)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	if _, err := port.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	msg := []byte("ping through the relay")
	if _, err := port.Write(append([]byte(nil), msg...)); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	got := make([]byte, len(msg))
	if _, err := io.ReadFull(port, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

// Payload piggybacked on the header read must be delivered upstream
// first, in order.
func TestRelayPiggybackedPayload(t *testing.T) {
	echo := startEcho(t)
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	payload := []byte("GET / HTTP/1.0\r\n\r\n")
	record, err := std.AppendAddr(nil, echo)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	record = append(record, payload...)
	if _, err := port.Write(record); err != nil {
		t.Fatalf("write first record: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(port, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("piggybacked payload mismatch: %q", got)
	}
}

// A header trickling in one byte per segment must still be parsed.
func TestRelayFragmentedHeader(t *testing.T) {
	echo := startEcho(t)
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	hdr, err := std.AppendAddr(nil, echo)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	for i := range hdr {
		if _, err := port.Write(hdr[i : i+1]); err != nil {
			t.Fatalf("write header byte %d: %v", i, err)
		}
	}

	msg := []byte("fragmented hello")
	if _, err := port.Write(append([]byte(nil), msg...)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(port, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

func TestRelayDomainTarget(t *testing.T) {
	echo := startEcho(t)
	_, echoPort, err := net.SplitHostPort(echo)
	if err != nil {
		t.Fatal(err)
	}
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	hdr, err := std.AppendAddr(nil, "localhost:"+echoPort)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	if _, err := port.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	msg := []byte("resolved by name")
	if _, err := port.Write(append([]byte(nil), msg...)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(port, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

// A reserved address type must fail the session.
func TestRelayBadAddressType(t *testing.T) {
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	if _, err := port.Write([]byte{2, 127, 0, 0, 1, 0, 80}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := expectClose(port, 3*time.Second); err != nil {
		t.Fatal(err)
	}
}

// A refused upstream connect must close the session promptly.
func TestRelayUpstreamRefused(t *testing.T) {
	// grab a port that nothing listens on
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := dead.Addr().String()
	dead.Close()

	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	hdr, err := std.AppendAddr(nil, deadAddr)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	if _, err := port.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	if err := expectClose(port, 3*time.Second); err != nil {
		t.Fatal(err)
	}
}

// An upstream that never answers the connect must close the session
// when the deadline fires, not before and not much after.
func TestRelayUpstreamTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a connect deadline")
	}

	crypt := testCrypt(t)
	relay := startRelay(t, crypt, &Config{Timeout: 1, Quiet: true})

	port := dialRelay(t, relay, crypt)
	// a non-routable address swallows the SYN, so the connect stalls
	// until the deadline fires
	hdr, err := std.AppendAddr(nil, "10.255.255.1:1")
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}

	timeoutsBefore := atomic.LoadUint64(&std.DefaultSnmp.DialTimeouts)
	start := time.Now()
	if _, err := port.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	if err := expectClose(port, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed < 900*time.Millisecond {
		t.Fatalf("session closed after %v, before the connect deadline", elapsed)
	}
	if got := atomic.LoadUint64(&std.DefaultSnmp.DialTimeouts) - timeoutsBefore; got != 1 {
		t.Fatalf("DialTimeouts advanced by %d, want 1", got)
	}
}

// Transfers far larger than the relay buffer must arrive intact and in
// order while the buffer discipline throttles the reader.
func TestRelayLargeTransfer(t *testing.T) {
	echo := startEcho(t)
	crypt := testCrypt(t)
	relay := startRelay(t, crypt, testConfig())

	port := dialRelay(t, relay, crypt)
	hdr, err := std.AppendAddr(nil, echo)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}
	if _, err := port.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	payload := make([]byte, 64*std.BufSize)
	rand.New(rand.NewSource(7)).Read(payload)

	go func() {
		chunk := make([]byte, 1500)
		for off := 0; off < len(payload); off += len(chunk) {
			end := off + len(chunk)
			if end > len(payload) {
				end = len(payload)
			}
			copy(chunk, payload[off:end])
			if _, err := port.Write(chunk[:end-off]); err != nil {
				return
			}
		}
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(port, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("large transfer was corrupted")
	}
}

// A session whose client disappears before the header must end up
// Closed with its socket released.
func TestSessionClosedOnHeaderFailure(t *testing.T) {
	crypt := testCrypt(t)
	enc, dec, err := crypt.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	c1, c2 := net.Pipe()
	s := &session{
		client:  c2,
		port:    std.NewCipherPort(c2, enc, dec),
		timeout: time.Second,
		quiet:   true,
	}
	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()

	c1.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after client EOF")
	}
	if atomic.LoadInt32(&s.stage) != stageClosed {
		t.Fatalf("stage = %d, want Closed", s.stage)
	}
	if _, err := c2.Read(make([]byte, 1)); err == nil {
		t.Fatal("client socket was not closed")
	}
}

// expectClose waits up to the given grace period for the relay to
// hang up on the port.
func expectClose(port *std.CipherPort, grace time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(port, make([]byte, 1))
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			return errTestUnexpectedData
		}
		return nil
	case <-time.After(grace):
		return errTestNoClose
	}
}

var (
	errTestUnexpectedData = &testErr{"relay delivered data instead of closing"}
	errTestNoClose        = &testErr{"relay did not close the session in time"}
)

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
