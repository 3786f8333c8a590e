// The MIT License (MIT)
//
// # Copyright (c) 2016 sstun
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/sstun/sstun/std"
)

// Session lifecycle stages. Transitions are strictly forward:
// Header -> Connect -> Stream -> Closed, with any failure jumping
// straight to Closed.
const (
	stageHeader  = iota // awaiting the destination header
	stageConnect        // upstream dial in flight
	stageStream         // bidirectional forwarding
	stageClosed
)

// session owns one client<->upstream relay: both sockets, the cipher
// context pair (inside port), and the lifecycle stage. Everything is
// torn down together, so no half of a session can outlive the other.
type session struct {
	client   net.Conn        // accepted socket, ciphertext side
	port     *std.CipherPort // cipher view of client
	upstream net.Conn        // nil until the dial completes
	target   string          // parsed destination, for logging
	stage    int32
	timeout  time.Duration
	verbose  bool
	quiet    bool
}

// handleConn runs a full session on an accepted client socket. It is
// the goroutine body spawned by the accept loop.
func handleConn(conn net.Conn, crypt *std.Crypt, config *Config) {
	atomic.AddUint64(&std.DefaultSnmp.Accepted, 1)
	atomic.AddInt64(&std.DefaultSnmp.ClientConns, 1)
	defer atomic.AddInt64(&std.DefaultSnmp.ClientConns, -1)

	enc, dec, err := crypt.NewPair()
	if err != nil {
		log.Println("cipher context:", err)
		conn.Close()
		return
	}

	s := &session{
		client:  conn,
		port:    std.NewCipherPort(conn, enc, dec),
		timeout: time.Duration(config.Timeout) * time.Second,
		verbose: config.Verbose,
		quiet:   config.Quiet,
	}
	s.run()
}

func (s *session) run() {
	target, err := std.ReadAddr(s.port)
	if err != nil {
		// silent on plain EOF, a port scanner connecting and
		// hanging up is not noteworthy
		if !errors.Is(err, io.EOF) {
			atomic.AddUint64(&std.DefaultSnmp.HeaderErrors, 1)
			log.Println("header:", err, "from:", s.client.RemoteAddr())
		}
		s.close()
		return
	}
	s.target = target

	atomic.StoreInt32(&s.stage, stageConnect)
	if s.verbose {
		log.Println("connect to:", s.target, "for:", s.client.RemoteAddr())
	}

	// Resolution, the non-blocking connect, and the connect deadline
	// are all folded into the dial; returning is the peer-name probe.
	upstream, err := net.DialTimeout("tcp", s.target, s.timeout)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			atomic.AddUint64(&std.DefaultSnmp.DialTimeouts, 1)
			log.Println("remote timeout:", s.target)
		} else {
			atomic.AddUint64(&std.DefaultSnmp.DialErrors, 1)
			log.Println("connect to:", s.target, "failed:", err)
		}
		s.close()
		return
	}
	s.upstream = upstream
	atomic.AddInt64(&std.DefaultSnmp.UpstreamConns, 1)
	defer atomic.AddInt64(&std.DefaultSnmp.UpstreamConns, -1)

	if tc, ok := upstream.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}

	atomic.StoreInt32(&s.stage, stageStream)
	logln := func(v ...any) {
		if !s.quiet {
			log.Println(v...)
		}
	}
	logln("stream opened", "in:", s.client.RemoteAddr(), "out:", s.target)
	defer logln("stream closed", "in:", s.client.RemoteAddr(), "out:", s.target)

	// Pipe closes both ends exactly once on the way out.
	toUpstream, toClient := std.Pipe(s.port, upstream)
	atomic.StoreInt32(&s.stage, stageClosed)

	if toUpstream != nil && toUpstream != io.EOF {
		atomic.AddUint64(&std.DefaultSnmp.RelayErrors, 1)
		if s.verbose {
			log.Println("pipe:", toUpstream, "in:", s.client.RemoteAddr(), "out:", s.target)
		}
	}
	if toClient != nil && toClient != io.EOF {
		atomic.AddUint64(&std.DefaultSnmp.RelayErrors, 1)
		if s.verbose {
			log.Println("pipe:", toClient, "in:", s.client.RemoteAddr(), "out:", s.target)
		}
	}
}

// close tears down a session that never reached streaming. Sessions
// that reached Pipe are closed by Pipe itself.
func (s *session) close() {
	atomic.StoreInt32(&s.stage, stageClosed)
	s.port.Close()
	if s.upstream != nil {
		s.upstream.Close()
	}
}
