// Package stealth implements EIP-5564-style dual-key stealth addressing
// (§4.6): a recipient publishes a (spend, view) meta-address; a sender
// derives a fresh, unlinkable one-time address per intent via ECDH; the
// recipient scans with viewTag and recovers the stealth private key with
// both secrets.
//
// It is grounded on the teacher's ecies.go ECDH pattern (ecdhAgreement,
// its ephemeral-key-plus-shared-secret structure) generalized from ECIES
// payload encryption to address derivation, and uses the real secp256k1
// curve from github.com/decred/dcrd/dcrec/secp256k1/v4 rather than the
// teacher's own secp256k1.go, which stood in elliptic.P256() as an
// explicitly flagged placeholder ("Go stdlib does not include secp256k1").
package stealth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

// Errors returned by this package.
var (
	ErrBadMetaAddress = errors.New("stealth: malformed meta-address")
	ErrBadPublicKey   = errors.New("stealth: invalid public key encoding")
)

// MetaAddress is a recipient's published dual-key descriptor.
type MetaAddress struct {
	Chain    string
	SpendPub *secp256k1.PublicKey
	ViewPub  *secp256k1.PublicKey
}

// Encode renders the canonical wire form: st:<chain>:<spendPubHex>:<viewPubHex>.
func (m MetaAddress) Encode() string {
	return fmt.Sprintf("st:%s:%s:%s",
		m.Chain,
		hex.EncodeToString(m.SpendPub.SerializeCompressed()),
		hex.EncodeToString(m.ViewPub.SerializeCompressed()))
}

// DecodeMetaAddress parses the canonical wire form produced by Encode.
func DecodeMetaAddress(s string) (MetaAddress, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "st" {
		return MetaAddress{}, ErrBadMetaAddress
	}
	spendBytes, err := hex.DecodeString(parts[2])
	if err != nil {
		return MetaAddress{}, ErrBadMetaAddress
	}
	viewBytes, err := hex.DecodeString(parts[3])
	if err != nil {
		return MetaAddress{}, ErrBadMetaAddress
	}
	spendPub, err := secp256k1.ParsePubKey(spendBytes)
	if err != nil {
		return MetaAddress{}, ErrBadPublicKey
	}
	viewPub, err := secp256k1.ParsePubKey(viewBytes)
	if err != nil {
		return MetaAddress{}, ErrBadPublicKey
	}
	return MetaAddress{Chain: parts[1], SpendPub: spendPub, ViewPub: viewPub}, nil
}

// KeyPair is a recipient's full dual-key secret material.
type KeyPair struct {
	SpendPriv *secp256k1.PrivateKey
	ViewPriv  *secp256k1.PrivateKey
	Meta      MetaAddress
}

// GenerateMetaAddress produces a fresh (spendPriv, viewPriv) pair and the
// corresponding published MetaAddress for chain.
func GenerateMetaAddress(chain string) (*KeyPair, error) {
	spendPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	viewPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		SpendPriv: spendPriv,
		ViewPriv:  viewPriv,
		Meta: MetaAddress{
			Chain:    chain,
			SpendPub: spendPriv.PubKey(),
			ViewPub:  viewPriv.PubKey(),
		},
	}, nil
}

// Address is a one-time stealth address derived for a single intent.
type Address struct {
	Chain        string
	Encoded      string // encode_address(chain, stealthPub)
	StealthPub   *secp256k1.PublicKey
	EphemeralPub *secp256k1.PublicKey // R
	ViewTag      byte
}

// DeriveStealthAddress draws a fresh ephemeral scalar r, computes
// S = r*viewPub via ECDH, and returns the one-time stealth address
// spendPub + t*G together with R and the view tag S[0].
func DeriveStealthAddress(meta MetaAddress) (*Address, error) {
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	var viewJ, sharedJ secp256k1.JacobianPoint
	meta.ViewPub.AsJacobian(&viewJ)
	secp256k1.ScalarMultNonConst(&ephemeral.Key, &viewJ, &sharedJ)
	sharedJ.ToAffine()
	sharedBytes := secp256k1.NewPublicKey(&sharedJ.X, &sharedJ.Y).SerializeCompressed()

	t := stealthTag(sharedBytes)

	stealthPub := addScalarToPoint(meta.SpendPub, t)

	return &Address{
		Chain:        meta.Chain,
		Encoded:      encodeAddress(meta.Chain, stealthPub),
		StealthPub:   stealthPub,
		EphemeralPub: ephemeral.PubKey(),
		ViewTag:      sharedBytes[0],
	}, nil
}

// RecoverStealthPrivateKey reconstructs the one-time stealth private key
// from the recipient's two secrets and the sender's ephemeral public key R.
func RecoverStealthPrivateKey(kp *KeyPair, ephemeralPub *secp256k1.PublicKey) (*secp256k1.PrivateKey, error) {
	var ephJ, sharedJ secp256k1.JacobianPoint
	ephemeralPub.AsJacobian(&ephJ)
	secp256k1.ScalarMultNonConst(&kp.ViewPriv.Key, &ephJ, &sharedJ)
	sharedJ.ToAffine()
	sharedBytes := secp256k1.NewPublicKey(&sharedJ.X, &sharedJ.Y).SerializeCompressed()

	t := stealthTag(sharedBytes)

	var sum secp256k1.ModNScalar
	sum.Set(&kp.SpendPriv.Key)
	sum.Add(&t)
	return secp256k1.NewPrivateKey(&sum), nil
}

// stealthTag computes t = H_dom("STEALTH_T", encode(S)) reduced to a scalar.
func stealthTag(encodedSharedPoint []byte) secp256k1.ModNScalar {
	d := hashdom.Sum(hashdom.TagStealthTag, encodedSharedPoint)
	var s secp256k1.ModNScalar
	s.SetByteSlice(d.Bytes())
	return s
}

// addScalarToPoint computes pub + t*G.
func addScalarToPoint(pub *secp256k1.PublicKey, t secp256k1.ModNScalar) *secp256k1.PublicKey {
	var pubJ, tG, sum secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)
	secp256k1.ScalarBaseMultNonConst(&t, &tG)
	secp256k1.AddNonConst(&pubJ, &tG, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// encodeAddress renders a chain-tagged hex address for a stealth public key.
// Concrete chain adapters (EVM address derivation, Solana base58 encoding,
// ...) are out of scope per §1; this is a stable, chain-agnostic default
// encoding sufficient for the off-chain authorization and batching layers
// this module implements.
func encodeAddress(chain string, pub *secp256k1.PublicKey) string {
	return fmt.Sprintf("%s:0x%s", chain, hex.EncodeToString(pub.SerializeCompressed()))
}
