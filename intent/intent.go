// Package intent implements shielded intent construction and ECIES-style
// intent encryption (§4.7): a sender encrypts a RawIntent for a recipient
// via ephemeral ECDH plus an authenticated cipher, optionally attaching an
// auditor-viewable payload for COMPLIANT transfers, and wraps the result as
// a ShieldedIntent ready for authorization.
//
// It is grounded on the teacher's ecies.go (the ephemeral-key-plus-ECDH
// shape of ECIESEncrypt/ECIESDecrypt, and its eciesKDF's "derive a key from
// the shared secret plus a context label" pattern), upgraded from the
// teacher's AES-128-CTR+HMAC-SHA256 construction to a single
// golang.org/x/crypto/chacha20poly1305 AEAD call so the wire envelope is
// exactly the (ciphertext, nonce, tag) triple §4.7 calls for, with the tag
// produced and checked by the cipher itself rather than a separate MAC.
package intent

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/external"
	"github.com/obscura-network/siaac/model"
	"github.com/obscura-network/siaac/pedersen"
	"github.com/obscura-network/siaac/stealth"
)

// ErrDecryptFailed is returned on authentication-tag mismatch during
// decryption, per §7's crypto-failure taxonomy. It deliberately carries no
// detail about why the tag failed to avoid leaking oracle information.
var ErrDecryptFailed = errors.New("intent: decryption failed")

// ErrMalformedEnvelope is returned when an encrypted envelope is too short
// to contain an ephemeral public key and nonce.
var ErrMalformedEnvelope = errors.New("intent: malformed envelope")

const (
	ephemeralPubLen = 33 // compressed secp256k1 point
	nonceLen        = chacha20poly1305.NonceSize
)

// Encrypt produces an ECIES-style envelope
// [ephemeralPub(33) || nonce(12) || ciphertext+tag] encrypting plaintext
// for recipientPub.
func Encrypt(recipientPub *secp256k1.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	key := deriveKey(ephemeral, recipientPub)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := hashdom.RandBytes(nonceLen)
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, ephemeralPubLen+nonceLen+len(ciphertext))
	envelope = append(envelope, ephemeral.PubKey().SerializeCompressed()...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)
	return envelope, nil
}

// Decrypt reverses Encrypt using the recipient's private key.
func Decrypt(recipientPriv *secp256k1.PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < ephemeralPubLen+nonceLen {
		return nil, ErrMalformedEnvelope
	}
	ephPubBytes := envelope[:ephemeralPubLen]
	nonce := envelope[ephemeralPubLen : ephemeralPubLen+nonceLen]
	ciphertext := envelope[ephemeralPubLen+nonceLen:]

	ephPub, err := secp256k1.ParsePubKey(ephPubBytes)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	key := deriveKeyFromPriv(recipientPriv, ephPub)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// deriveKey computes the AEAD key for the sender side: S = ephemeralPriv *
// recipientPub, k = H_dom("OBSCURA_INTENT_ENC", encode(S)).
func deriveKey(ephemeral *secp256k1.PrivateKey, recipientPub *secp256k1.PublicKey) []byte {
	var pubJ, sharedJ secp256k1.JacobianPoint
	recipientPub.AsJacobian(&pubJ)
	secp256k1.ScalarMultNonConst(&ephemeral.Key, &pubJ, &sharedJ)
	sharedJ.ToAffine()
	shared := secp256k1.NewPublicKey(&sharedJ.X, &sharedJ.Y).SerializeCompressed()
	d := hashdom.Sum(hashdom.TagIntentEnc, shared)
	return d.Bytes()
}

// deriveKeyFromPriv computes the same AEAD key for the recipient side:
// S = recipientPriv * ephemeralPub.
func deriveKeyFromPriv(recipientPriv *secp256k1.PrivateKey, ephemeralPub *secp256k1.PublicKey) []byte {
	var pubJ, sharedJ secp256k1.JacobianPoint
	ephemeralPub.AsJacobian(&pubJ)
	secp256k1.ScalarMultNonConst(&recipientPriv.Key, &pubJ, &sharedJ)
	sharedJ.ToAffine()
	shared := secp256k1.NewPublicKey(&sharedJ.X, &sharedJ.Y).SerializeCompressed()
	d := hashdom.Sum(hashdom.TagIntentEnc, shared)
	return d.Bytes()
}

// BuildOptions configures shielded intent construction.
type BuildOptions struct {
	PrivacyLevel model.PrivacyLevel
	AuditorPub   *secp256k1.PublicKey // required when PrivacyLevel == model.COMPLIANT
	AuditorPubID string

	// RangeProver produces the range proof §4.5 requires on every SHIELDED
	// or COMPLIANT amount commitment. Left nil, Build falls back to
	// external.StubRangeProof{} so the interface is still exercised on
	// every such intent, as the spec mandates, even when no real backend
	// has been wired in yet.
	RangeProver external.RangeProver
	RangeProofBits int
}

// Build wraps a RawIntent into a ShieldedIntent: derives a stealth address
// for the recipient, commits the amount with Pedersen hiding, encrypts the
// raw intent payload to the recipient's view key, and computes the
// commitment hash that the key pool will sign.
func Build(raw model.RawIntent, recipientMeta stealth.MetaAddress, plaintext []byte, opts BuildOptions) (model.ShieldedIntent, *stealth.Address, *pedersen.Blinding, error) {
	addr, err := stealth.DeriveStealthAddress(recipientMeta)
	if err != nil {
		return model.ShieldedIntent{}, nil, nil, err
	}

	commitment, blinding, err := pedersen.Commit(raw.Amount, nil)
	if err != nil {
		return model.ShieldedIntent{}, nil, nil, err
	}

	encrypted, err := Encrypt(recipientMeta.ViewPub, plaintext)
	if err != nil {
		return model.ShieldedIntent{}, nil, nil, err
	}

	nonce := hashdom.RandBytes(32)
	commitmentHash := hashdom.Sum(hashdom.TagSIPCommit,
		raw.SenderPoolRoot.Bytes(),
		[]byte(recipientMeta.Encode()),
		commitment.Bytes(),
		nonce,
	)

	shielded := model.ShieldedIntent{
		EncryptedIntent:  encrypted,
		EphemeralPub:     addr.EphemeralPub.SerializeCompressed(),
		CommitmentHash:   commitmentHash,
		TargetChainHint:  raw.DstChain,
		AmountCommitment: commitment.Bytes(),
		PrivacyLevel:     opts.PrivacyLevel,
	}

	if opts.PrivacyLevel == model.SHIELDED || opts.PrivacyLevel == model.COMPLIANT {
		bits := opts.RangeProofBits
		if bits == 0 {
			bits = external.DefaultRangeProofBits
		}
		prover := opts.RangeProver
		if prover == nil {
			prover = external.StubRangeProof{}
		}
		proof, err := prover.ProveRange(commitment, raw.Amount, blinding, bits)
		if err != nil {
			return model.ShieldedIntent{}, nil, nil, err
		}
		shielded.RangeProofBits = proof.Bits
		shielded.RangeProofBytes = proof.Bytes
	}

	if opts.PrivacyLevel == model.COMPLIANT {
		if opts.AuditorPub == nil {
			return model.ShieldedIntent{}, nil, nil, errors.New("intent: COMPLIANT privacy level requires an auditor public key")
		}
		auditorCT, err := Encrypt(opts.AuditorPub, plaintext)
		if err != nil {
			return model.ShieldedIntent{}, nil, nil, err
		}
		shielded.AuditorCiphertext = auditorCT
		shielded.AuditorPubID = opts.AuditorPubID
	}

	return shielded, addr, blinding, nil
}
