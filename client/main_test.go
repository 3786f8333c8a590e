package main

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/sstun/sstun/std"
)

// startServer stands in for the relay server: decrypt the destination
// header, dial it, pipe.
func startServer(t *testing.T, crypt *std.Crypt) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("server listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				enc, dec, err := crypt.NewPair()
				if err != nil {
					c.Close()
					return
				}
				port := std.NewCipherPort(c, enc, dec)
				target, err := std.ReadAddr(port)
				if err != nil {
					port.Close()
					return
				}
				upstream, err := net.Dial("tcp", target)
				if err != nil {
					port.Close()
					return
				}
				std.Pipe(port, upstream)
			}(conn)
		}
	}()
	return lis.Addr().String()
}

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

// A local connection through handleClient must reach the configured
// target in cleartext and round trip untouched.
func TestClientTunnel(t *testing.T) {
	crypt, err := std.NewCrypt("rc4", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCrypt: %v", err)
	}

	echo := startEcho(t)
	server := startServer(t, crypt)

	mp, err := std.ParseMultiPort(server)
	if err != nil {
		t.Fatalf("ParseMultiPort: %v", err)
	}
	header, err := std.AppendAddr(nil, echo)
	if err != nil {
		t.Fatalf("AppendAddr: %v", err)
	}

	local, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("local listen: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	config := &Config{Timeout: 5, Quiet: true}
	go func() {
		for {
			conn, err := local.Accept()
			if err != nil {
				return
			}
			go handleClient(crypt, mp, header, conn, config)
		}
	}()

	app, err := net.Dial("tcp", local.Addr().String())
	if err != nil {
		t.Fatalf("dial local: %v", err)
	}
	defer app.Close()

	msg := []byte("plaintext through the tunnel")
	if _, err := app.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(app, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("tunnel corrupted bytes: %q", got)
	}

	// the header must survive for the next connection
	app2, err := net.Dial("tcp", local.Addr().String())
	if err != nil {
		t.Fatalf("dial local again: %v", err)
	}
	defer app2.Close()
	if _, err := app2.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := io.ReadFull(app2, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("second connection corrupted bytes: %q", got)
	}
}
