package merkle

import (
	"errors"
	"sync"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

// Errors specific to the append-only tree.
var (
	ErrAppendTreeFull    = errors.New("merkle: append tree is full")
	ErrLeafNotFound      = errors.New("merkle: leaf not found")
)

// AppendTree is a fixed-depth, append-only Merkle tree. It maintains the
// "filled subtree" cache described in §4.2 so that Append and Root both run
// in O(depth) regardless of how many leaves have been inserted, grounded on
// the teacher's commitment_tree.go incrementalRoot/filledAt technique,
// generalized to an arbitrary configured depth (the anonymity pool commonly
// uses depth 20; the key pool's backing store may use a different depth per
// pool size).
//
// Proof generation is O(n) in the current leaf count, rebuilding tree
// layers on demand rather than maintaining a full layer cache — acceptable
// because proofs are generated far less often than leaves are appended.
type AppendTree struct {
	mu       sync.RWMutex
	depth    int
	leaves   []hashdom.Digest
	zero     []hashdom.Digest // zero[l] = hash of an empty subtree at level l
	filledAt []hashdom.Digest // filledAt[level] = most recent completed left sibling
	root     hashdom.Digest
}

// NewAppendTree creates an empty append-only tree of the given depth
// (capacity 2^depth leaves).
func NewAppendTree(depth int) *AppendTree {
	zero := make([]hashdom.Digest, depth+1)
	zero[0] = ZeroLeaf
	for l := 1; l <= depth; l++ {
		zero[l] = hashNode(zero[l-1], zero[l-1])
	}
	return &AppendTree{
		depth:    depth,
		zero:     zero,
		filledAt: make([]hashdom.Digest, depth),
		root:     zero[depth],
	}
}

// Depth returns the configured tree depth.
func (t *AppendTree) Depth() int { return t.depth }

// Root returns the current root.
func (t *AppendTree) Root() hashdom.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Size returns the number of leaves appended so far.
func (t *AppendTree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaves returns a copy of the appended leaf digests, in insertion order.
// Used by persistence (§6.4) to serialize pool state.
func (t *AppendTree) Leaves() []hashdom.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]hashdom.Digest, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Append inserts a raw leaf value (hashed under the LEAF domain tag) and
// returns its index and the new root.
func (t *AppendTree) Append(data []byte) (int, hashdom.Digest, error) {
	return t.appendHash(hashLeaf(data))
}

// AppendHash inserts an already-domain-hashed leaf (used when the caller
// computed the leaf digest itself, e.g. a deposit note's commitment hash).
func (t *AppendTree) AppendHash(leaf hashdom.Digest) (int, hashdom.Digest, error) {
	return t.appendHash(leaf)
}

func (t *AppendTree) appendHash(leaf hashdom.Digest) (int, hashdom.Digest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.leaves) >= 1<<uint(t.depth) {
		return 0, hashdom.Digest{}, ErrAppendTreeFull
	}

	index := len(t.leaves)
	t.leaves = append(t.leaves, leaf)

	current := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		if idx%2 == 0 {
			t.filledAt[level] = current
			current = hashNode(current, t.zero[level])
		} else {
			current = hashNode(t.filledAt[level], current)
		}
		idx /= 2
	}
	t.root = current
	return index, t.root, nil
}

// Proof returns an inclusion proof for the leaf at index, valid against the
// tree's current root.
func (t *AppendTree) Proof(index int) (*Proof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.leaves) {
		return nil, ErrIndexOutOfRange
	}

	layer := make([]hashdom.Digest, len(t.leaves))
	copy(layer, t.leaves)

	p := &Proof{
		LeafIndex: index,
		Siblings:  make([]hashdom.Digest, t.depth),
		PathBits:  make([]bool, t.depth),
	}

	idx := index
	for level := 0; level < t.depth; level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, t.zero[level])
		}
		sibIdx := idx ^ 1
		if sibIdx < len(layer) {
			p.Siblings[level] = layer[sibIdx]
		} else {
			p.Siblings[level] = t.zero[level]
		}
		p.PathBits[level] = idx%2 == 1

		next := make([]hashdom.Digest, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = hashNode(layer[i], layer[i+1])
		}
		layer = next
		idx /= 2
	}
	return p, nil
}

// IndexOf returns the leaf index of the given leaf digest, or
// ErrLeafNotFound. Used by the anonymity pool to recover a note's position
// from its commitment when generating a withdrawal proof.
func (t *AppendTree) IndexOf(leaf hashdom.Digest) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, l := range t.leaves {
		if hashdom.Equal(l, leaf) {
			return i, nil
		}
	}
	return 0, ErrLeafNotFound
}
