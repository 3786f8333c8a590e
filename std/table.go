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
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// buildTable derives the classic position-independent substitution
// tables. The forward table is a permutation of 0..255 obtained by
// repeatedly stable-sorting under a key-seeded comparator; the reverse
// table is its inverse. Both directions of a pair share the read-only
// tables since the transform carries no position state.
func buildTable(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
	sum := md5.Sum(key)
	a := binary.LittleEndian.Uint64(sum[:8])

	table := make([]uint64, 256)
	for i := range table {
		table[i] = uint64(i)
	}
	for i := uint64(1); i < 1024; i++ {
		sort.SliceStable(table, func(x, y int) bool {
			return a%(table[x]+i) < a%(table[y]+i)
		})
	}

	var enc, dec [256]byte
	for i, v := range table {
		enc[i] = byte(v)
	}
	for i, v := range enc {
		dec[v] = byte(i)
	}

	return func() (cipher.Stream, cipher.Stream, error) {
		return &tableStream{&enc}, &tableStream{&dec}, nil
	}, nil
}

// tableStream substitutes bytes through a fixed table. It satisfies
// cipher.Stream so sessions can treat it like any keystream, even
// though no state advances.
type tableStream struct {
	t *[256]byte
}

func (s *tableStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("table: output smaller than input")
	}
	for i, b := range src {
		dst[i] = s.t[b]
	}
}
