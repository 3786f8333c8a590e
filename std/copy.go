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

package std

import (
	"io"
	"sync"
)

// BufSize is the per-direction relay buffer capacity. A direction
// never holds more than this many undelivered bytes; reads from the
// source resume only after the chunk is fully written out, which is
// what propagates TCP flow control end to end.
const BufSize = 4096

// Copy moves bytes from src to dst through a fixed BufSize buffer,
// preserving order. A chunk that the destination accepts only
// partially is retried from the unsent offset before the next read.
// Unlike io.Copy it never delegates to WriterTo/ReaderFrom, so the
// bounded-buffer discipline holds regardless of the endpoint types.
func Copy(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := make([]byte, BufSize)
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			sent := 0
			for sent < nr {
				nw, ew := dst.Write(buf[sent:nr])
				if nw > 0 {
					sent += nw
					written += int64(nw)
				}
				if ew != nil {
					return written, ew
				}
				if nw == 0 {
					return written, io.ErrShortWrite
				}
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}

// Pipe runs both directions of a relay until the session ends. The
// first direction to hit EOF or an error tears both sockets down,
// exactly once; its sibling then unblocks with a closed-connection
// error of its own, which is how the two lifetimes stay coupled. The
// results come back per direction: toUpstream for bytes flowing
// client->upstream, toClient for the reverse.
func Pipe(client, upstream io.ReadWriteCloser) (toUpstream, toClient error) {
	var teardown sync.Once
	pump := func(dst io.Writer, src io.Reader) <-chan error {
		ch := make(chan error, 1)
		go func() {
			_, err := Copy(dst, src)
			ch <- err
			teardown.Do(func() {
				client.Close()
				upstream.Close()
			})
		}()
		return ch
	}

	up := pump(upstream, client)
	down := pump(client, upstream)

	return <-up, <-down
}
