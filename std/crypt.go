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
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/xtaci/qpp"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/tea"
	"golang.org/x/crypto/twofish"
	"golang.org/x/crypto/xtea"
)

// qppPower defines the permutation dimension for the qpp method.
const qppPower = 8

// DefaultQPPCount is the number of permutation pads when no explicit
// count is configured.
const DefaultQPPCount = 61

// Crypt mints paired per-direction cipher contexts for relay sessions.
// Both contexts of a pair start from the same key but advance
// independent keystream positions, one per flow direction. The number
// of bytes in equals the number of bytes out for every method.
type Crypt struct {
	method string
	pair   func() (enc, dec cipher.Stream, err error)
}

// cryptMethod maps a cipher name to the bytes of derived key it
// consumes (0 means the full key) and its pair builder.
type cryptMethod struct {
	keySize int
	build   func(key []byte) (func() (cipher.Stream, cipher.Stream, error), error)
}

// cryptMethods is the lookup table of supported methods. Stream
// ciphers keep their native state; block ciphers run in CTR mode with
// a zero IV so both peers derive identical keystreams from the shared
// key alone.
var cryptMethods = map[string]cryptMethod{
	"table":       {16, buildTable},
	"rc4":         {16, symmetric(newRC4)},
	"aes-128-ctr": {16, ctr(aes.NewCipher)},
	"aes-192-ctr": {24, ctr(aes.NewCipher)},
	"aes-256-ctr": {32, ctr(aes.NewCipher)},
	"blowfish":    {0, ctr(newBlowfish)},
	"twofish":     {32, ctr(newTwofish)},
	"cast5":       {16, ctr(newCast5)},
	"3des":        {24, ctr(des.NewTripleDESCipher)},
	"tea":         {16, ctr(tea.NewCipher)},
	"xtea":        {16, ctr(newXTEA)},
	"chacha20":    {32, symmetric(newChacha20)},
	"qpp": {0, func(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
		return buildQPP(key, DefaultQPPCount)
	}},
	"none": {0, buildNone},
}

// NewCrypt resolves a cipher name (case-insensitive) into a context
// factory. The key is the output of the startup key derivation,
// trimmed to the method's key size. Unknown methods are an error so a
// misconfigured relay fails at startup instead of talking past its
// peers.
func NewCrypt(method string, key []byte) (*Crypt, error) {
	name := strings.ToLower(method)
	m, ok := cryptMethods[name]
	if !ok {
		return nil, errors.Errorf("unknown cipher method: %s", method)
	}
	if m.keySize > 0 && len(key) >= m.keySize {
		key = key[:m.keySize]
	}
	pair, err := m.build(key)
	if err != nil {
		return nil, errors.Wrapf(err, "cipher %s", name)
	}
	return &Crypt{method: name, pair: pair}, nil
}

// NewQPPCrypt builds the qpp method with an explicit pad count. The
// pad is created once and shared read-only; per-session PRNGs keep
// the two directions on independent positions.
func NewQPPCrypt(seed []byte, count int) (*Crypt, error) {
	pair, err := buildQPP(seed, count)
	if err != nil {
		return nil, err
	}
	return &Crypt{method: "qpp", pair: pair}, nil
}

// Method reports the resolved cipher name.
func (c *Crypt) Method() string { return c.method }

// NewPair mints a fresh (encrypt, decrypt) context pair. Both contexts
// are nil for the passthrough method.
func (c *Crypt) NewPair() (enc, dec cipher.Stream, err error) {
	return c.pair()
}

// symmetric builds both directions from the same stream constructor.
func symmetric(newStream func(key []byte) (cipher.Stream, error)) func(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
	return func(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
		// fail on bad keys at startup, not per session
		if _, err := newStream(key); err != nil {
			return nil, err
		}
		return func() (cipher.Stream, cipher.Stream, error) {
			enc, err := newStream(key)
			if err != nil {
				return nil, nil, err
			}
			dec, err := newStream(key)
			if err != nil {
				return nil, nil, err
			}
			return enc, dec, nil
		}, nil
	}
}

// ctr adapts a block cipher into a keystream via CTR mode.
func ctr(newBlock func(key []byte) (cipher.Block, error)) func(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
	return symmetric(func(key []byte) (cipher.Stream, error) {
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		iv := make([]byte, block.BlockSize())
		return cipher.NewCTR(block, iv), nil
	})
}

func newRC4(key []byte) (cipher.Stream, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newChacha20(key []byte) (cipher.Stream, error) {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newBlowfish(key []byte) (cipher.Block, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newTwofish(key []byte) (cipher.Block, error) {
	c, err := twofish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newCast5(key []byte) (cipher.Block, error) {
	c, err := cast5.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newXTEA(key []byte) (cipher.Block, error) {
	c, err := xtea.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildNone(key []byte) (func() (cipher.Stream, cipher.Stream, error), error) {
	return func() (cipher.Stream, cipher.Stream, error) { return nil, nil, nil }, nil
}

func buildQPP(seed []byte, count int) (func() (cipher.Stream, cipher.Stream, error), error) {
	if count <= 0 {
		return nil, errors.Errorf("qpp: pad count %d must be greater than 0", count)
	}
	pad := qpp.NewQPP(seed, uint16(count))
	prngSeed := append([]byte(nil), seed...)
	return func() (cipher.Stream, cipher.Stream, error) {
		enc := &qppStream{pad: pad, prng: pad.CreatePRNG(prngSeed), encrypt: true}
		dec := &qppStream{pad: pad, prng: pad.CreatePRNG(prngSeed)}
		return enc, dec, nil
	}, nil
}

// qppStream drives a shared Quantum Permutation Pad with a private
// PRNG, one stream per direction.
type qppStream struct {
	pad     *qpp.QuantumPermutationPad
	prng    *qpp.Rand
	encrypt bool
}

func (s *qppStream) XORKeyStream(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	if len(dst) < len(src) {
		panic("qpp: output smaller than input")
	}
	if &dst[0] != &src[0] {
		copy(dst, src)
	}
	if s.encrypt {
		s.pad.EncryptWithPRNG(dst[:len(src)], s.prng)
	} else {
		s.pad.DecryptWithPRNG(dst[:len(src)], s.prng)
	}
}

// ValidateQPPParams checks the qpp settings before the shared pad is
// built. An unusable pad count is fatal; settings that merely weaken
// the pad come back as warnings for the caller to print.
func ValidateQPPParams(count int, key string) ([]string, error) {
	if count <= 0 {
		return nil, errors.New("--qppcount must be greater than 0")
	}

	var warnings []string
	if min := qpp.QPPMinimumSeedLength(qppPower); len(key) < min {
		warnings = append(warnings, fmt.Sprintf("qpp: key is %d bytes, the pad needs at least %d to seed fully", len(key), min))
	}
	if min := qpp.QPPMinimumPads(qppPower); count < min {
		warnings = append(warnings, fmt.Sprintf("qpp: --qppcount %d is below the minimum %d for this pad dimension", count, min))
	}
	if new(big.Int).GCD(nil, nil, big.NewInt(int64(count)), big.NewInt(qppPower)).Int64() != 1 {
		warnings = append(warnings, fmt.Sprintf("qpp: --qppcount %d shares a factor with the pad dimension, prefer a prime", count))
	}

	return warnings, nil
}
