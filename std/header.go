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
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Address types carried in the destination header:
//
//	+------+----------+----------+
//	| ATYP | DST.ADDR | DST.PORT |
//	+------+----------+----------+
//	|  1   | Variable |    2     |
//	+------+----------+----------+
const (
	AtypIPv4   = 1 // 4-byte address
	AtypDomain = 3 // 1-byte length + name
	AtypIPv6   = 4 // 16-byte address
)

// MaxHeaderLen bounds the wire form of any destination header.
const MaxHeaderLen = 1 + 1 + 255 + 2

// ReadAddr reads the destination header from r and returns the target
// as "host:port". Each field is read with io.ReadFull, so a header
// fragmented across any number of TCP segments is accumulated; bytes
// past the header stay unread and flow as the first payload.
func ReadAddr(r io.Reader) (string, error) {
	var buf [MaxHeaderLen]byte

	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return "", errors.Wrap(err, "read address type")
	}

	var host string
	switch atyp := buf[0]; atyp {
	case AtypIPv4:
		if _, err := io.ReadFull(r, buf[:net.IPv4len]); err != nil {
			return "", errors.Wrap(err, "read IPv4 address")
		}
		host = net.IP(buf[:net.IPv4len]).String()
	case AtypDomain:
		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return "", errors.Wrap(err, "read domain length")
		}
		nameLen := int(buf[0])
		if nameLen == 0 {
			return "", errors.New("empty domain name")
		}
		if _, err := io.ReadFull(r, buf[:nameLen]); err != nil {
			return "", errors.Wrap(err, "read domain name")
		}
		host = string(buf[:nameLen])
	case AtypIPv6:
		if _, err := io.ReadFull(r, buf[:net.IPv6len]); err != nil {
			return "", errors.Wrap(err, "read IPv6 address")
		}
		host = net.IP(buf[:net.IPv6len]).String()
	default:
		return "", errors.Errorf("unsupported address type: %d", atyp)
	}

	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return "", errors.Wrap(err, "read port")
	}
	port := binary.BigEndian.Uint16(buf[:2])

	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// AppendAddr appends the wire form of a "host:port" target to b.
// Literal IPs encode as ATYP 1 or 4, everything else as a domain.
func AppendAddr(b []byte, addr string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "target %q", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "target port %q", portStr)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			b = append(b, AtypIPv4)
			b = append(b, ip4...)
		} else {
			b = append(b, AtypIPv6)
			b = append(b, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return nil, errors.Errorf("domain name too long: %q", host)
		}
		if len(host) == 0 {
			return nil, errors.New("empty host")
		}
		b = append(b, AtypDomain, byte(len(host)))
		b = append(b, host...)
	}

	return binary.BigEndian.AppendUint16(b, uint16(port)), nil
}
