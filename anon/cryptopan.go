/*
 * Copyright (c) 2014, Yawning Angel <yawning at schwanenlied dot me>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

// Package anon implements the Crypto-PAn prefix-preserving IP address
// sanitization algorithm as specified by J. Fan, J. Xu, M. Ammar, and S. Moon,
// and applies it to the addresses of a conversation report.
//
// Two addresses sharing a k-bit prefix are mapped to anonymized addresses
// sharing a k-bit prefix, and the same key always gives the same mapping.
// IPv6 addresses are handled the same way over 128 bits.
package anon

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net"
	"os"
	"strconv"

	flowpkg "github.com/glo-fi/Followtbag/types"
)

const (
	Size = keySize + blockSize

	blockSize = aes.BlockSize
	keySize   = 128 / 8
)

type keySizeError int

func (e keySizeError) Error() string {
	return "invalid key size " + strconv.Itoa(int(e))
}

type bitvector [blockSize]byte

func (v *bitvector) SetBit(idx, bit uint) {
	byteIdx := idx / 8
	bitIdx := 7 - idx&7
	oldBit := uint8((v[byteIdx] & (1 << bitIdx)) >> bitIdx)
	flip := 1 ^ subtle.ConstantTimeByteEq(oldBit, uint8(bit))
	v[byteIdx] ^= byte(flip << bitIdx)
}

func (v *bitvector) Bit(idx uint) uint {
	byteIdx := idx / 8
	bitIdx := 7 - idx&7
	return uint((v[byteIdx] & (1 << bitIdx)) >> bitIdx)
}

// Cryptopan anonymizes addresses with one key. Results are cached per
// address; it is not safe for concurrent use.
type Cryptopan struct {
	aesImpl cipher.Block
	pad     bitvector
	cache   map[string]flowpkg.Address
}

// New constructs and initializes Crypto-PAn with a given key.
func New(key []byte) (*Cryptopan, error) {
	if len(key) != Size {
		return nil, keySizeError(len(key))
	}

	ctx := &Cryptopan{cache: make(map[string]flowpkg.Address)}
	var err error
	if ctx.aesImpl, err = aes.NewCipher(key[0:keySize]); err != nil {
		return nil, err
	}
	ctx.aesImpl.Encrypt(ctx.pad[:], key[keySize:])
	return ctx, nil
}

// RandomKey returns a fresh key of Size bytes.
func RandomKey() ([]byte, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate cryptopan key: %w", err)
	}
	return b, nil
}

// LoadKey reads a raw Size-byte key from path.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cryptopan key: %w", err)
	}
	if len(key) != Size {
		return nil, keySizeError(len(key))
	}
	return key, nil
}

// Anonymize maps an IPv4 or IPv6 address. It panics on other lengths.
func (ctx *Cryptopan) Anonymize(addr net.IP) net.IP {
	if v4addr := addr.To4(); v4addr != nil {
		obfsAddr := ctx.anonymize(v4addr)
		return net.IPv4(obfsAddr[0], obfsAddr[1], obfsAddr[2], obfsAddr[3])
	} else if v6addr := addr.To16(); v6addr != nil {
		obfsAddr := ctx.anonymize(v6addr)
		out := make(net.IP, net.IPv6len)
		copy(out, obfsAddr)
		return out
	}

	panic("unsupported address type")
}

// AnonymizeAddress maps IP addresses and returns any other address type
// unchanged.
func (ctx *Cryptopan) AnonymizeAddress(addr flowpkg.Address) flowpkg.Address {
	if addr.Type != flowpkg.AddressIPv4 && addr.Type != flowpkg.AddressIPv6 {
		return addr
	}
	cacheKey := string(addr.Data)
	if out, ok := ctx.cache[cacheKey]; ok {
		return out
	}
	out := flowpkg.AddressFromIP(ctx.Anonymize(addr.IP()))
	ctx.cache[cacheKey] = out
	return out
}

// AnonymizeKey returns key with both endpoint addresses anonymized.
func (ctx *Cryptopan) AnonymizeKey(key flowpkg.ConversationKey) flowpkg.ConversationKey {
	key.AddrA = ctx.AnonymizeAddress(key.AddrA)
	key.AddrB = ctx.AnonymizeAddress(key.AddrB)
	return key
}

func (ctx *Cryptopan) anonymize(addr net.IP) []byte {
	addrBits := uint(len(addr) * 8)
	var origAddr, input, output, toXor bitvector
	copy(origAddr[:], addr[:])
	copy(input[:], ctx.pad[:])

	// The first bit does not take any bits from orig_addr.
	ctx.aesImpl.Encrypt(output[:], input[:])
	toXor.SetBit(0, output.Bit(0))

	// The rest of the one time pad is build by copying orig_addr into the AES
	// input bit by bit (MSB first) and encrypting with ECB-AES128.
	for pos := uint(1); pos < addrBits; pos++ {
		input.SetBit(pos-1, origAddr.Bit(pos-1))
		ctx.aesImpl.Encrypt(output[:], input[:])
		// Only the MSB of the PRF output is used, matching every other
		// implementation.
		toXor.SetBit(pos, output.Bit(0))
	}

	for i := 0; i < len(addr); i++ {
		toXor[i] ^= origAddr[i]
	}
	return toXor[:len(addr)]
}
