// Package model holds the shared wire/data-model types defined in §3 of
// the settlement backplane's design: the value objects that flow between
// the key pool, authorization service, anonymity pool, and aggregator. They
// live in their own package (rather than on each owning component) purely
// to avoid import cycles — the teacher codebase does the same thing with
// core/types for cross-cutting value objects (Hash, Address) shared by
// every subsystem.
package model

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/crypto/merkle"
	"github.com/obscura-network/siaac/crypto/wots"
)

// PrivacyLevel tags how an intent's payload and amount are protected.
type PrivacyLevel int

const (
	// TRANSPARENT intents carry no amount-hiding or encryption.
	TRANSPARENT PrivacyLevel = iota
	// SHIELDED intents use amount-hiding commitments and encryption, but no
	// regulator-viewing auxiliary ciphertext.
	SHIELDED
	// COMPLIANT intents additionally encrypt an auditor-viewable metadata
	// payload per §4.7.
	COMPLIANT
)

func (p PrivacyLevel) String() string {
	switch p {
	case TRANSPARENT:
		return "TRANSPARENT"
	case SHIELDED:
		return "SHIELDED"
	case COMPLIANT:
		return "COMPLIANT"
	default:
		return "UNKNOWN"
	}
}

// RawIntent is the plaintext intent as constructed by the sender; it never
// leaves the sender's process unencrypted.
type RawIntent struct {
	ID             hashdom.Digest
	Action         string
	SrcChain       string
	DstChain       string
	Asset          string
	Amount         *uint256.Int
	Recipient      string // encoded StealthMetaAddress string
	SenderPoolRoot hashdom.Digest
	Deadline       time.Time
	Data           []byte
}

// ShieldedIntent is the encrypted, amount-hidden, stealth-addressed
// envelope that is actually submitted for authorization.
type ShieldedIntent struct {
	EncryptedIntent   []byte
	EphemeralPub      []byte
	CommitmentHash    hashdom.Digest
	TargetChainHint   string
	AmountCommitment  []byte // serialized Pedersen commitment point
	PrivacyLevel      PrivacyLevel
	AuditorCiphertext []byte // present only for COMPLIANT
	AuditorPubID      string // present only for COMPLIANT
	RangeProofBits    int    // present when PrivacyLevel is SHIELDED or COMPLIANT
	RangeProofBytes   []byte // opaque proof that AmountCommitment hides a value in [0, 2^RangeProofBits)
}

// SignedAuthorization is the one-time-signature proof of authorization for
// a ShieldedIntent, produced by a key pool and consumed by the
// authorization service.
type SignedAuthorization struct {
	IntentHash  hashdom.Digest
	KeyIndex    int
	Signature   wots.Signature
	PubKey      wots.PublicKey
	MerkleProof *merkle.Proof
	MerkleRoot  hashdom.Digest
}

// AuthorizedIntent is the result of a successful authorization: a
// ShieldedIntent paired with the signature that authorized it and the time
// of authorization.
type AuthorizedIntent struct {
	Shielded      ShieldedIntent
	Sig           SignedAuthorization
	AuthorizedAt  time.Time
	// RangeProofVerified is true only when a non-stub RangeVerifier
	// confirmed the amount commitment's range proof; a stub backend always
	// leaves this false, per §4.5's "clearly mark the commitment unverified"
	// requirement for implementations that have not integrated a real
	// range-proof backend.
	RangeProofVerified bool
}

// PendingIntent is an authorized intent waiting in a per-chain FIFO queue
// for batch inclusion.
type PendingIntent struct {
	Authorized AuthorizedIntent
	EnqueuedAt time.Time
	Chain      string
	// Deadline is the submitter's original expiry for this intent. An
	// intent already past its deadline when the queue is drained for a
	// flush is dropped rather than included in the batch, per §5 — its key
	// is already burned and cannot be reissued, so the loss is final; the
	// caller is expected to discover this by polling settlement status
	// rather than through a synchronous return.
	Deadline time.Time
}

// BatchCommitment is the Merkle-committed, FIFO-ordered group of authorized
// intents handed to the external executor exactly once.
type BatchCommitment struct {
	BatchID   string
	Chain     string
	BatchRoot hashdom.Digest
	Commitments []hashdom.Digest
	Proofs    []*merkle.Proof
	CreatedAt time.Time
	Count     int
}

// SettlementStatus is the monotonic lifecycle state of a batch on its
// target chain, per the state machine in §4.10.
type SettlementStatus int

const (
	StatusPending SettlementStatus = iota
	StatusSubmitted
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

func (s SettlementStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusFinalized:
		return "FINALIZED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SettlementRecord tracks a batch's on-chain lifecycle after handoff.
type SettlementRecord struct {
	BatchID     string
	Chain       string
	TxHash      string
	BlockNumber uint64
	Status      SettlementStatus
	GasUsed     uint64
	SettledAt   time.Time
}

// CanTransition reports whether moving from cur to next is a legal
// settlement-status transition, per the state machine diagram in §4.10:
// PENDING -> SUBMITTED -> CONFIRMED -> FINALIZED, with PENDING, SUBMITTED
// and CONFIRMED able to fail out to FAILED. A retryable submission stays
// PENDING until resubmitted (handled by the caller, not represented as a
// status change).
func CanTransition(cur, next SettlementStatus) bool {
	switch cur {
	case StatusPending:
		return next == StatusSubmitted || next == StatusFailed
	case StatusSubmitted:
		return next == StatusConfirmed || next == StatusFailed
	case StatusConfirmed:
		return next == StatusFinalized || next == StatusFailed
	case StatusFinalized:
		return false
	case StatusFailed:
		return false
	default:
		return false
	}
}

// Nullifier is a 32-byte value that marks a deposit note as spent without
// revealing which deposit it originated from.
type Nullifier = hashdom.Digest
