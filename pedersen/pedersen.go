// Package pedersen implements additively homomorphic Pedersen commitments
// over secp256k1 (§4.5): commit, opening verification, and addition.
//
// The teacher's zk_transfer.go simulates "C = g^amount * h^randomness" with
// a SHA-256 concatenation (ZKPedersenCommit) rather than real curve
// arithmetic — its own doc comment calls this "SHA-256-based Pedersen-style
// commitments" precisely because no secp256k1 implementation was wired in.
// This package replaces that simulation with real elliptic-curve points via
// github.com/decred/dcrd/dcrec/secp256k1/v4, the curve library §9 requires
// ("a mature curve library... operations are constant-time").
package pedersen

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

// ErrInvalidEncoding is returned when a serialized commitment cannot be
// parsed back into a curve point.
var ErrInvalidEncoding = errors.New("pedersen: invalid commitment encoding")

// hPoint is the second generator H = s*G, where the scalar s is
// H_dom("PEDERSEN_H", "OBSCURA") reduced mod the group order, per §4.5.
// G itself is the curve's standard base point.
var hPoint = computeHPoint()

func computeHPoint() secp256k1.JacobianPoint {
	d := hashdom.Sum(hashdom.TagPedersenH, []byte("OBSCURA"))
	var s secp256k1.ModNScalar
	s.SetByteSlice(d.Bytes())

	var result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &result)
	result.ToAffine()
	return result
}

// Blinding is a uniformly random scalar in the group's field, used as the
// hiding factor r in C = v*G + r*H.
type Blinding struct {
	scalar secp256k1.ModNScalar
}

// RandomBlinding draws a blinding factor uniformly from the scalar field
// using the package CSPRNG.
func RandomBlinding() *Blinding {
	var s secp256k1.ModNScalar
	s.SetByteSlice(hashdom.RandBytes(32))
	return &Blinding{scalar: s}
}

// BlindingFromBytes reconstructs a blinding factor from its 32-byte
// big-endian scalar encoding, reducing modulo the group order.
func BlindingFromBytes(b []byte) *Blinding {
	var s secp256k1.ModNScalar
	s.SetByteSlice(b)
	return &Blinding{scalar: s}
}

// Bytes returns the blinding factor's 32-byte big-endian encoding.
func (b *Blinding) Bytes() []byte {
	buf := b.scalar.Bytes()
	return buf[:]
}

// Add returns a new Blinding equal to b + other mod n, used when combining
// commitments homomorphically.
func (b *Blinding) Add(other *Blinding) *Blinding {
	var sum secp256k1.ModNScalar
	sum.Set(&b.scalar)
	sum.Add(&other.scalar)
	return &Blinding{scalar: sum}
}

// Commitment is C = v*G + r*H, an elliptic-curve point. The committed value
// and blinding factor are not stored here — they must be tracked separately
// by whoever needs to later open the commitment.
type Commitment struct {
	point secp256k1.JacobianPoint // kept in affine form (Z == 1)
}

// Commit computes C = v*G + r*H. If r is nil, a fresh random blinding
// factor is drawn. Returns the commitment and the blinding factor used (the
// caller must retain it to later open or prove a range over C).
func Commit(v *uint256.Int, r *Blinding) (*Commitment, *Blinding, error) {
	if v == nil {
		return nil, nil, errors.New("pedersen: nil value")
	}
	if r == nil {
		r = RandomBlinding()
	}

	var vScalar secp256k1.ModNScalar
	vBytes := v.Bytes32()
	vScalar.SetBytes(&vBytes)

	var vG, rH, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&vScalar, &vG)
	secp256k1.ScalarMultNonConst(&r.scalar, &hPoint, &rH)
	secp256k1.AddNonConst(&vG, &rH, &sum)
	sum.ToAffine()

	return &Commitment{point: sum}, r, nil
}

// VerifyOpening checks C == v*G + r*H by recomputing the commitment. It is
// not constant-time: the scalar multiplications use the curve library's
// variable-time NonConst routines, and Equal stops at the X coordinate
// when the X coordinates differ.
func VerifyOpening(c *Commitment, v *uint256.Int, r *Blinding) bool {
	recomputed, _, err := Commit(v, r)
	if err != nil {
		return false
	}
	return c.Equal(recomputed)
}

// Add returns c1 + c2. Per the additive homomorphism of Pedersen
// commitments, the result opens to (v1+v2, r1+r2).
func Add(c1, c2 *Commitment) *Commitment {
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&c1.point, &c2.point, &sum)
	sum.ToAffine()
	return &Commitment{point: sum}
}

// Equal reports whether two commitments are the same curve point.
func (c *Commitment) Equal(other *Commitment) bool {
	return c.point.X.Equals(&other.point.X) && c.point.Y.Equals(&other.point.Y)
}

// Bytes serializes the commitment as a 33-byte compressed secp256k1 point.
func (c *Commitment) Bytes() []byte {
	x, y := c.point.X, c.point.Y
	pub := secp256k1.NewPublicKey(&x, &y)
	return pub.SerializeCompressed()
}

// FromBytes parses a compressed secp256k1 point back into a Commitment.
func FromBytes(data []byte) (*Commitment, error) {
	pub, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	var p secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	return &Commitment{point: p}, nil
}
