// Package authz implements the Authorization Service (§4.8): off-chain
// verification of submissions and single-use enforcement via a per-pool
// bitset. It is the authoritative replay guard described in §3's Ownership
// note — "RegisteredPool.usedBitset is authoritative for replay protection
// (the local KeyPool.used flag is advisory)".
//
// It is grounded on the teacher's deleted pubkey_registry.go
// (PQKeyRegistry): an RWMutex-protected map from a stable key (there,
// validator index; here, a pool's Merkle root) to an entry struct, with
// RegisterKey rejecting duplicates and GetKey returning a defensive copy.
// The per-pool check-and-set section required by §5 goes beyond what that
// file does (it has no single-use bit at all) and is this package's own
// addition, guarded by a per-pool mutex rather than the registry-wide lock.
package authz

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/crypto/merkle"
	"github.com/obscura-network/siaac/crypto/wots"
	"github.com/obscura-network/siaac/external"
	"github.com/obscura-network/siaac/log"
	"github.com/obscura-network/siaac/metrics"
	"github.com/obscura-network/siaac/model"
	"github.com/obscura-network/siaac/pedersen"
)

// Errors returned by the authorization service, categorized per §7.
var (
	// Input errors (caller's fault).
	ErrIndexOutOfRange = errors.New("authz: key index out of range")
	ErrHashMismatch     = errors.New("authz: signature intentHash does not match shielded intent commitment")
	ErrUnknownPool      = errors.New("authz: unknown pool merkle root")

	// Crypto failures (possibly adversarial).
	ErrBadSignature      = errors.New("authz: signature does not recover the claimed public key")
	ErrBadInclusionProof = errors.New("authz: merkle inclusion proof is invalid")

	// Replay / single-use violations (CRITICAL, always logged, never retried).
	ErrKeyReused                 = errors.New("authz: key index already used")

	// Registry errors (returned by RegisterPool, not logged).
	ErrPoolAlreadyRegistered     = errors.New("authz: pool already registered")
)

// RegisteredPool is the authorization service's bookkeeping record for one
// key pool: its immutable commitment root and parameters, plus the
// authoritative single-use bitset over its key indices.
type RegisteredPool struct {
	mu           sync.Mutex
	MerkleRoot   hashdom.Digest
	Params       wots.Params
	TotalKeys    int
	Owner        string
	RegisteredAt time.Time
	bitset       []byte
	usedKeys     int
}

func newRegisteredPool(root hashdom.Digest, params wots.Params, totalKeys int, owner string) *RegisteredPool {
	return &RegisteredPool{
		MerkleRoot:   root,
		Params:       params,
		TotalKeys:    totalKeys,
		Owner:        owner,
		RegisteredAt: time.Now(),
		bitset:       make([]byte, (totalKeys+7)/8),
	}
}

func (p *RegisteredPool) isUsed(index int) bool {
	return p.bitset[index/8]&(1<<uint(index%8)) != 0
}

func (p *RegisteredPool) setUsed(index int) {
	p.bitset[index/8] |= 1 << uint(index%8)
	p.usedKeys++
}

// popcount returns the number of set bits in the pool's bitset. Used to
// check the internal invariant usedKeys == popcount(bitset).
func (p *RegisteredPool) popcount() int {
	n := 0
	for _, b := range p.bitset {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

// checkInvariant panics if usedKeys has drifted from the bitset's true
// population count, per §7's "internal invariant violations... MUST
// panic/abort" policy.
func (p *RegisteredPool) checkInvariant() {
	if p.usedKeys != p.popcount() {
		panic("authz: usedKeys counter diverged from bitset population count")
	}
}

// Service is the off-chain authorization service. One Service owns zero or
// more RegisteredPools and is the sole authority over replay protection.
type Service struct {
	mu      sync.RWMutex
	pools   map[hashdom.Digest]*RegisteredPool
	log     *log.Logger
	metrics *metrics.Metrics

	// rangeVerifier checks the range proof §4.5 requires on every
	// SHIELDED/COMPLIANT amount commitment. Left nil, AuthorizeIntent falls
	// back to external.StubRangeProof{}, so the interface is exercised even
	// when no real backend has been wired in.
	rangeVerifier external.RangeVerifier
}

// NewService creates an empty authorization service.
func NewService(logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		pools: make(map[hashdom.Digest]*RegisteredPool),
		log:   logger.Module("authz"),
	}
}

// SetMetrics wires a Metrics recorder into the service.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetRangeVerifier overrides the range-proof backend used to check
// SHIELDED/COMPLIANT amount commitments. Absent a call to this method,
// AuthorizeIntent uses external.StubRangeProof{}.
func (s *Service) SetRangeVerifier(v external.RangeVerifier) {
	s.rangeVerifier = v
}

// RegisterPool adds a new pool under its Merkle root. Re-registering an
// existing root is rejected (§9 Open Question, decided: strict rejection,
// matching the reference behavior).
func (s *Service) RegisterPool(root hashdom.Digest, params wots.Params, totalKeys int, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[root]; exists {
		return ErrPoolAlreadyRegistered
	}
	s.pools[root] = newRegisteredPool(root, params, totalKeys, owner)
	return nil
}

func (s *Service) lookup(root hashdom.Digest) (*RegisteredPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[root]
	if !ok {
		return nil, ErrUnknownPool
	}
	return p, nil
}

// VerifySignedIntent performs the read-only verification steps from §4.8
// step 2 without mutating any bitset: index range, single-use check,
// signature recovery, and inclusion proof. It does not burn the key; use
// AuthorizeIntent for that.
func (s *Service) VerifySignedIntent(sig model.SignedAuthorization) error {
	pool, err := s.lookup(sig.MerkleRoot)
	if err != nil {
		return err
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.verifyLocked(sig)
}

// verifyLocked performs steps 2-5 of §4.8's verify_signed_intent. Caller
// must hold pool.mu.
func (p *RegisteredPool) verifyLocked(sig model.SignedAuthorization) error {
	if sig.KeyIndex < 0 || sig.KeyIndex >= p.TotalKeys {
		return ErrIndexOutOfRange
	}
	if p.isUsed(sig.KeyIndex) {
		return ErrKeyReused
	}
	recovered, err := wots.Verify(p.Params, sig.Signature, sig.IntentHash.Bytes())
	if err != nil {
		return ErrBadSignature
	}
	if !wots.Equal(recovered, sig.PubKey) {
		return ErrBadSignature
	}
	leaf := wots.HashPublicKey(sig.PubKey)
	if !merkle.Verify(sig.MerkleProof, leaf, sig.MerkleRoot) {
		return ErrBadInclusionProof
	}
	return nil
}

// AuthorizeIntent verifies and, on success, atomically burns the signing
// key. The check-and-set runs inside a single critical section (pool.mu)
// so two concurrent submissions for the same (root, keyIndex) cannot both
// observe an unused bit (§5, §8 property 12).
func (s *Service) AuthorizeIntent(shielded model.ShieldedIntent, sig model.SignedAuthorization) (model.AuthorizedIntent, error) {
	if !hashdom.Equal(sig.IntentHash, shielded.CommitmentHash) {
		s.recordOutcome("hash_mismatch")
		return model.AuthorizedIntent{}, ErrHashMismatch
	}
	pool, err := s.lookup(sig.MerkleRoot)
	if err != nil {
		s.recordOutcome("unknown_pool")
		return model.AuthorizedIntent{}, err
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if err := pool.verifyLocked(sig); err != nil {
		if err == ErrKeyReused {
			s.log.Audit("replay attempt rejected", "keyIndex", sig.KeyIndex, "root", hex(sig.MerkleRoot))
		}
		s.recordOutcome(outcomeLabel(err))
		return model.AuthorizedIntent{}, err
	}

	pool.setUsed(sig.KeyIndex)
	pool.checkInvariant()

	authorized := model.AuthorizedIntent{
		Shielded:     shielded,
		Sig:          sig,
		AuthorizedAt: time.Now(),
	}

	if shielded.PrivacyLevel == model.SHIELDED || shielded.PrivacyLevel == model.COMPLIANT {
		authorized.RangeProofVerified = s.verifyRangeProof(shielded)
	}

	s.recordOutcome("ok")
	return authorized, nil
}

// verifyRangeProof checks the range proof attached to a SHIELDED/COMPLIANT
// intent's amount commitment. Per §4.5/§9, a stub backend's fail-closed
// result is recorded rather than treated as grounds to reject the
// authorization that already succeeded on signature and replay checks.
func (s *Service) verifyRangeProof(shielded model.ShieldedIntent) bool {
	verifier := s.rangeVerifier
	if verifier == nil {
		verifier = external.StubRangeProof{}
	}
	commitment, err := pedersen.FromBytes(shielded.AmountCommitment)
	if err != nil {
		return false
	}
	ok, _ := verifier.VerifyRange(commitment, external.RangeProof{
		Bits:  shielded.RangeProofBits,
		Bytes: shielded.RangeProofBytes,
	}, shielded.RangeProofBits)
	return ok
}

func (s *Service) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.AuthorizationOutcome.WithLabelValues(outcome).Inc()
	}
}

func outcomeLabel(err error) string {
	switch err {
	case ErrIndexOutOfRange:
		return "index_out_of_range"
	case ErrKeyReused:
		return "key_reused"
	case ErrBadSignature:
		return "bad_signature"
	case ErrBadInclusionProof:
		return "bad_inclusion_proof"
	default:
		return "unknown"
	}
}

// BatchVerify verifies each signature independently with no side effects;
// none of the pools' bitsets are mutated.
func (s *Service) BatchVerify(sigs []model.SignedAuthorization) []error {
	out := make([]error, len(sigs))
	for i, sig := range sigs {
		out[i] = s.VerifySignedIntent(sig)
	}
	return out
}

// PoolSnapshot is the exportable state of one registered pool, per §6.4's
// persisted state layout ({merkleRootHex, params, totalKeys, owner,
// registeredAt, usedBitsetBase64}).
type PoolSnapshot struct {
	MerkleRootHex   string
	Params          wots.Params
	TotalKeys       int
	Owner           string
	RegisteredAt    time.Time
	UsedBitsetBase64 string
}

// ExportState returns a snapshot of every registered pool, suitable for
// persistence per §6.4.
func (s *Service) ExportState() []PoolSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PoolSnapshot, 0, len(s.pools))
	for root, pool := range s.pools {
		pool.mu.Lock()
		out = append(out, PoolSnapshot{
			MerkleRootHex:    hex(root),
			Params:           pool.Params,
			TotalKeys:        pool.TotalKeys,
			Owner:            pool.Owner,
			RegisteredAt:     pool.RegisteredAt,
			UsedBitsetBase64: base64.StdEncoding.EncodeToString(pool.bitset),
		})
		pool.mu.Unlock()
	}
	return out
}

// ImportState restores pools from a previously exported snapshot set into
// a fresh Service. Version mismatches in the caller's outer envelope must
// be checked by the caller before calling ImportState (§6.4: "Version
// mismatches fail loudly; migrations are explicit").
func ImportState(logger *log.Logger, snapshots []PoolSnapshot) (*Service, error) {
	s := NewService(logger)
	for _, snap := range snapshots {
		root, err := fromHex(snap.MerkleRootHex)
		if err != nil {
			return nil, err
		}
		bitset, err := base64.StdEncoding.DecodeString(snap.UsedBitsetBase64)
		if err != nil {
			return nil, err
		}
		pool := &RegisteredPool{
			MerkleRoot:   root,
			Params:       snap.Params,
			TotalKeys:    snap.TotalKeys,
			Owner:        snap.Owner,
			RegisteredAt: snap.RegisteredAt,
			bitset:       bitset,
		}
		pool.usedKeys = pool.popcount()
		s.pools[root] = pool
	}
	return s, nil
}

func hex(d hashdom.Digest) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(d)*2)
	for i, b := range d {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0x0f]
	}
	return string(out)
}

func fromHex(s string) (hashdom.Digest, error) {
	var d hashdom.Digest
	if len(s) != len(d)*2 {
		return d, errors.New("authz: malformed merkle root hex")
	}
	for i := range d {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return d, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return d, err
		}
		d[i] = hi<<4 | lo
	}
	return d, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.New("authz: invalid hex digit")
	}
}
