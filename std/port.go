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
	"crypto/cipher"
	"io"
	"sync/atomic"
)

// CipherPort implements io.ReadWriteCloser over an encrypted peer:
// reads are decrypted in place with the session's decrypt context,
// writes are encrypted in place with the encrypt context. The two
// contexts advance independently, one per flow direction. Write
// transforms the caller's buffer; callers that reuse a buffer after
// Write must not expect plaintext in it.
type CipherPort struct {
	underlying io.ReadWriteCloser // closing must reach the socket, io.Writer is not enough

	enc cipher.Stream
	dec cipher.Stream
}

// NewCipherPort wraps underlying with a context pair from
// Crypt.NewPair. A nil pair passes bytes through untouched.
func NewCipherPort(underlying io.ReadWriteCloser, enc, dec cipher.Stream) *CipherPort {
	return &CipherPort{underlying, enc, dec}
}

func (p *CipherPort) Read(b []byte) (n int, err error) {
	n, err = p.underlying.Read(b)
	if n > 0 {
		if p.dec != nil {
			p.dec.XORKeyStream(b[:n], b[:n])
		}
		atomic.AddUint64(&DefaultSnmp.BytesReceived, uint64(n))
	}
	return
}

func (p *CipherPort) Write(b []byte) (n int, err error) {
	if p.enc != nil && len(b) > 0 {
		p.enc.XORKeyStream(b, b)
	}
	n, err = p.underlying.Write(b)
	if n > 0 {
		atomic.AddUint64(&DefaultSnmp.BytesSent, uint64(n))
	}
	return
}

func (p *CipherPort) Close() error {
	return p.underlying.Close()
}
