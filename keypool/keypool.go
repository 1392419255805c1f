// Package keypool implements the Key Pool / Key Manager (§4.4): binds up to
// 2^k WOTS+ public keys under one Merkle root, signs intents by burning
// keys exactly once, and exposes a private-material-free public snapshot.
//
// It is grounded on two teacher files that were deleted from this workspace
// after their ideas were absorbed (still readable under
// _examples/wyf-ACCEPT-eth2030/pkg/crypto/pqc/ for citation): hash_sig.go's
// HashSigScheme, which pairs a Winternitz one-time-signature layer with a
// Merkle tree over its public keys and tracks a monotonically advancing
// leaf index, and pubkey_registry.go's PQKeyRegistry, whose
// RegisterKey/GetKey and RegistryEntry.Status fields are the model for this
// package's burn-state tracking (Status here is a bool per-entry "used"
// flag rather than the registry's three-state enum, because §3 specifies
// exactly a boolean used flag per KeyPoolEntry).
package keypool

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/crypto/merkle"
	"github.com/obscura-network/siaac/crypto/wots"
	"github.com/obscura-network/siaac/metrics"
	"github.com/obscura-network/siaac/model"
)

// maxKeyCountPow caps pool size at 2^maxKeyCountPow = 2^20 keys, matching §4.4 ("cap e.g. 2^20").
const maxKeyCountPow = 20

// Errors returned by key pool operations.
var (
	ErrNoKeysAvailable = errors.New("keypool: no remaining unused keys")
	ErrKeyAlreadyUsed  = errors.New("keypool: key index already used")
	ErrIndexOutOfRange = errors.New("keypool: key index out of range")
	ErrBadInclusion    = errors.New("keypool: recovered public key does not match merkle leaf")
	ErrMalformedState  = errors.New("keypool: malformed state digest encoding")
)

// Entry is the public (non-secret) view of one WOTS+ key slot.
type Entry struct {
	Index      int
	PubKey     wots.PublicKey
	PubKeyHash hashdom.Digest
	Used       bool
	UsedAt     time.Time
	UsedFor    hashdom.Digest
}

// CreateOptions configures pool creation.
type CreateOptions struct {
	KeyCount int
	W        int    // Winternitz parameter; defaults to 16.
	Seed     []byte // if set, keys are derived deterministically from seed.
}

// Pool owns a set of WOTS+ keypairs committed to a single Merkle root. Per
// §5, Pool is not required to be safe for concurrent sign_* calls from
// multiple goroutines — callers own a Pool and are expected to serialize
// signing themselves; the authorization service never shares a Pool
// instance, it only ever sees the resulting SignedAuthorization values.
type Pool struct {
	id       string
	params   wots.Params
	privKeys []wots.PrivateKey // nil once burned
	entries  []Entry
	tree     *merkle.Tree

	nextFreeIndexHint int
	usedKeys          int

	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics recorder into the pool. Must be called before
// any concurrent signing begins; Pool itself makes no concurrency guarantee
// for this setter, matching the rest of Pool's single-owner contract.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Create builds a new pool: keyCount is rounded up to the next power of
// two (capped at 2^20), keys are generated (randomly, or deterministically
// from opts.Seed), and a Merkle tree is built over their WOTS_PK hashes.
func Create(id string, opts CreateOptions) (*Pool, error) {
	w := opts.W
	if w == 0 {
		w = 16
	}
	params, err := wots.NewParams(w)
	if err != nil {
		return nil, err
	}

	count := nextPowerOfTwo(opts.KeyCount)
	if count > (1 << maxKeyCountPow) {
		count = 1 << maxKeyCountPow
	}
	if count == 0 {
		count = 1
	}

	privKeys := make([]wots.PrivateKey, count)
	entries := make([]Entry, count)
	leaves := make([]hashdom.Digest, count)

	for i := 0; i < count; i++ {
		var sk wots.PrivateKey
		if opts.Seed != nil {
			sk = wots.DerivePrivateKey(params, opts.Seed, uint32(i))
		} else {
			sk = wots.GeneratePrivateKey(params)
		}
		pk := wots.PublicKeyFromPrivate(params, sk)
		pkHash := wots.HashPublicKey(pk)

		privKeys[i] = sk
		entries[i] = Entry{Index: i, PubKey: pk, PubKeyHash: pkHash}
		leaves[i] = pkHash
	}

	tree, err := merkle.FromLeafHashes(leaves)
	if err != nil {
		return nil, err
	}

	return &Pool{
		id:       id,
		params:   params,
		privKeys: privKeys,
		entries:  entries,
		tree:     tree,
	}, nil
}

// ID returns the pool's identifier.
func (p *Pool) ID() string { return p.id }

// Params returns the pool's WOTS+ parameters.
func (p *Pool) Params() wots.Params { return p.params }

// MerkleRoot returns the pool's immutable commitment root.
func (p *Pool) MerkleRoot() hashdom.Digest { return p.tree.Root() }

// TotalKeys returns the pool's fixed capacity.
func (p *Pool) TotalKeys() int { return len(p.entries) }

// UsedKeys returns how many keys have been burned so far.
func (p *Pool) UsedKeys() int { return p.usedKeys }

// SignIntent signs intentHash with the lowest-indexed unused key at or
// after nextFreeIndexHint, burns that key, and returns the resulting
// SignedAuthorization.
func (p *Pool) SignIntent(intentHash hashdom.Digest) (model.SignedAuthorization, error) {
	idx := -1
	for i := p.nextFreeIndexHint; i < len(p.entries); i++ {
		if !p.entries[i].Used {
			idx = i
			break
		}
	}
	if idx == -1 {
		if p.metrics != nil {
			p.metrics.KeyPoolExhaustion.WithLabelValues(p.id).Inc()
		}
		return model.SignedAuthorization{}, ErrNoKeysAvailable
	}
	return p.signAt(idx, intentHash)
}

// SignWithKey signs intentHash with a caller-chosen key index, rejecting
// indices that are out of range or already burned.
func (p *Pool) SignWithKey(index int, intentHash hashdom.Digest) (model.SignedAuthorization, error) {
	if index < 0 || index >= len(p.entries) {
		return model.SignedAuthorization{}, ErrIndexOutOfRange
	}
	if p.entries[index].Used {
		return model.SignedAuthorization{}, ErrKeyAlreadyUsed
	}
	return p.signAt(index, intentHash)
}

func (p *Pool) signAt(idx int, intentHash hashdom.Digest) (model.SignedAuthorization, error) {
	sig, err := wots.Sign(p.params, p.privKeys[idx], intentHash.Bytes())
	if err != nil {
		return model.SignedAuthorization{}, err
	}
	proof, err := p.tree.Proof(idx)
	if err != nil {
		return model.SignedAuthorization{}, err
	}

	entry := &p.entries[idx]
	entry.Used = true
	entry.UsedAt = time.Now()
	entry.UsedFor = intentHash
	p.usedKeys++
	if idx == p.nextFreeIndexHint {
		p.nextFreeIndexHint = idx + 1
	}

	zeroize(p.privKeys[idx])
	p.privKeys[idx] = nil

	if p.metrics != nil {
		p.metrics.KeyPoolUsedKeys.WithLabelValues(p.id).Set(float64(p.usedKeys))
	}

	return model.SignedAuthorization{
		IntentHash:  intentHash,
		KeyIndex:    idx,
		Signature:   sig,
		PubKey:      entry.PubKey,
		MerkleProof: proof,
		MerkleRoot:  p.tree.Root(),
	}, nil
}

// VerifySignedIntent checks a SignedAuthorization against an expected
// Merkle root: WOTS verification must recover sig.PubKey exactly, and the
// pool's Merkle proof must place hash(sig.PubKey) under expectedRoot. When
// expectedRoot is the zero digest the check falls back to sig.MerkleRoot,
// the root the signature itself carries, so it then does not tie the
// signature to any particular pool. This is the pool-local check named in
// §4.4; the authorization service in package authz performs the same
// checks itself, together with its usedBitset enforcement.
func VerifySignedIntent(params wots.Params, sig model.SignedAuthorization, expectedRoot hashdom.Digest) error {
	recovered, err := wots.Verify(params, sig.Signature, sig.IntentHash.Bytes())
	if err != nil {
		return err
	}
	if !wots.Equal(recovered, sig.PubKey) {
		return ErrBadSignature
	}
	leaf := wots.HashPublicKey(sig.PubKey)
	root := expectedRoot
	if root.IsZero() {
		root = sig.MerkleRoot
	}
	if !merkle.Verify(sig.MerkleProof, leaf, root) {
		return ErrBadInclusion
	}
	return nil
}

// ErrBadSignature indicates WOTS verification recovered a public key that
// does not match the claimed signer.
var ErrBadSignature = errors.New("keypool: recovered public key does not match claimed signer")

// PublicInfo is the private-material-free snapshot described in §4.4's
// export_public_info contract.
type PublicInfo struct {
	ID        string
	MerkleRoot hashdom.Digest
	TotalKeys int
	UsedKeys  int
	Params    wots.Params
}

// ExportPublicInfo returns a snapshot containing no private key material.
func (p *Pool) ExportPublicInfo() PublicInfo {
	return PublicInfo{
		ID:         p.id,
		MerkleRoot: p.tree.Root(),
		TotalKeys:  len(p.entries),
		UsedKeys:   p.usedKeys,
		Params:     p.params,
	}
}

// Entries returns a copy of the pool's public entry metadata (no private
// key material; PubKey chunks are themselves public by construction).
func (p *Pool) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// EntryState is the exportable state of one key slot. PrivKeyHex is present
// only for slots that have not yet signed; a burned slot carries UsedForHex
// instead and no private key material (it was zeroized at burn time).
type EntryState struct {
	Index      int
	PrivKeyHex string
	PubKeyHex  string
	Used       bool
	UsedAt     time.Time
	UsedForHex string
}

// State is the full serialization of a Pool, including every unused slot's
// private key material, per §4.4's export_state/from_state contract: "full
// serialization including secrets — callers must protect at rest." Anyone
// who can read a State can sign with every unused key in the pool; callers
// MUST encrypt it (or otherwise restrict access) before writing it anywhere
// persistent.
type State struct {
	ID                string
	Params            wots.Params
	Entries           []EntryState
	NextFreeIndexHint int
	UsedKeys          int
}

// ExportState serializes the pool's complete internal state.
func (p *Pool) ExportState() State {
	entries := make([]EntryState, len(p.entries))
	for i, e := range p.entries {
		es := EntryState{
			Index:     e.Index,
			PubKeyHex: hex.EncodeToString(wots.SerializePublicKey(e.PubKey)),
			Used:      e.Used,
			UsedAt:    e.UsedAt,
		}
		if e.Used {
			es.UsedForHex = hex.EncodeToString(e.UsedFor.Bytes())
		} else {
			es.PrivKeyHex = hex.EncodeToString(wots.SerializePrivateKey(p.privKeys[i]))
		}
		entries[i] = es
	}
	return State{
		ID:                p.id,
		Params:            p.params,
		Entries:           entries,
		NextFreeIndexHint: p.nextFreeIndexHint,
		UsedKeys:          p.usedKeys,
	}
}

// FromState reconstructs a Pool from a previously exported State, rebuilding
// the Merkle tree over the stored public keys. Burned slots carry no private
// key material and remain permanently unable to sign, exactly as they were
// at export time.
func FromState(state State) (*Pool, error) {
	count := len(state.Entries)
	privKeys := make([]wots.PrivateKey, count)
	entries := make([]Entry, count)
	leaves := make([]hashdom.Digest, count)

	for i, es := range state.Entries {
		pkBytes, err := hex.DecodeString(es.PubKeyHex)
		if err != nil {
			return nil, err
		}
		pk, err := wots.DeserializePublicKey(state.Params, pkBytes)
		if err != nil {
			return nil, err
		}

		entry := Entry{
			Index:      es.Index,
			PubKey:     pk,
			PubKeyHash: wots.HashPublicKey(pk),
			Used:       es.Used,
			UsedAt:     es.UsedAt,
		}

		if es.Used {
			if es.UsedForHex != "" {
				usedFor, err := digestFromHex(es.UsedForHex)
				if err != nil {
					return nil, err
				}
				entry.UsedFor = usedFor
			}
		} else {
			skBytes, err := hex.DecodeString(es.PrivKeyHex)
			if err != nil {
				return nil, err
			}
			sk, err := wots.DeserializePrivateKey(state.Params, skBytes)
			if err != nil {
				return nil, err
			}
			privKeys[i] = sk
		}

		entries[i] = entry
		leaves[i] = entry.PubKeyHash
	}

	tree, err := merkle.FromLeafHashes(leaves)
	if err != nil {
		return nil, err
	}

	return &Pool{
		id:                state.ID,
		params:            state.Params,
		privKeys:          privKeys,
		entries:           entries,
		tree:              tree,
		nextFreeIndexHint: state.NextFreeIndexHint,
		usedKeys:          state.UsedKeys,
	}, nil
}

func digestFromHex(s string) (hashdom.Digest, error) {
	var d hashdom.Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, ErrMalformedState
	}
	copy(d[:], b)
	return d, nil
}

func zeroize(sk wots.PrivateKey) {
	for i := range sk {
		for j := range sk[i] {
			sk[i][j] = 0
		}
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
