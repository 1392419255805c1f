// Package merkle implements the fixed-arity binary Merkle tree (§4.2): a
// from-leaves constructor with deterministic zero-padding, proof generation,
// and constant-time proof verification. It is grounded on the teacher's
// commitment_tree.go, generalized from that file's single fixed depth-32
// append-only tree into a general from_leaves/proof/verify tree usable by
// the key pool (which commits over WOTS public-key hashes) as well as the
// batch builder (which commits over a FIFO-drained batch of intents).
//
// The append-only variant used by the anonymity pool and by pools that grow
// incrementally lives in append.go.
package merkle

import (
	"errors"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

// Errors returned by tree construction, proof generation, and verification.
var (
	ErrEmptyLeaves    = errors.New("merkle: at least one leaf is required")
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// ZeroLeaf is the canonical domain-separated zero-leaf used to pad a leaf
// set to a power of two. Per §9's redesign note, this MUST be a distinct
// domain-separated constant rather than an all-zero byte string, which
// resists second-preimage confusion with an empty internal node.
var ZeroLeaf = hashdom.Sum(hashdom.TagLeaf)

// hashLeaf domain-separates raw leaf material into a tree leaf digest.
func hashLeaf(data []byte) hashdom.Digest {
	return hashdom.Sum(hashdom.TagLeaf, data)
}

// hashNode combines two child digests into their parent.
func hashNode(left, right hashdom.Digest) hashdom.Digest {
	return hashdom.Sum(hashdom.TagNode, left.Bytes(), right.Bytes())
}

// Proof is a Merkle inclusion proof: one sibling digest per level, paired
// with the bit indicating whether the proven node was the right child at
// that level (pathBits[level] = 1 iff node at level is the right child).
type Proof struct {
	LeafIndex int
	Siblings  []hashdom.Digest
	PathBits  []bool
}

// Tree is an immutable fixed-arity binary Merkle tree built from a leaf set
// known up front. Leaves are domain-hashed and the set is padded to the
// next power of two with ZeroLeaf before internal nodes are built.
type Tree struct {
	depth  int
	layers [][]hashdom.Digest // layers[0] = padded leaf hashes, layers[len-1] = [root]
}

// FromLeaves builds a tree over the given raw leaf values. Each leaf is
// hashed with the LEAF domain tag before insertion.
func FromLeaves(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}
	hashed := make([]hashdom.Digest, len(leaves))
	for i, l := range leaves {
		hashed[i] = hashLeaf(l)
	}
	return fromLeafHashes(hashed)
}

// FromLeafHashes builds a tree over already-hashed leaf digests (used by
// callers, such as the batch builder, that hash leaves with a different
// domain tag than plain LEAF, e.g. commitmentHash values which are already
// SIP_COMMITMENT digests and must not be re-hashed under LEAF).
func FromLeafHashes(leaves []hashdom.Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}
	cp := make([]hashdom.Digest, len(leaves))
	copy(cp, leaves)
	return fromLeafHashes(cp)
}

func fromLeafHashes(leaves []hashdom.Digest) (*Tree, error) {
	depth := 0
	size := 1
	for size < len(leaves) {
		size *= 2
		depth++
	}
	padded := make([]hashdom.Digest, size)
	copy(padded, leaves)
	for i := len(leaves); i < size; i++ {
		padded[i] = ZeroLeaf
	}

	layers := make([][]hashdom.Digest, depth+1)
	layers[0] = padded
	for level := 0; level < depth; level++ {
		cur := layers[level]
		next := make([]hashdom.Digest, len(cur)/2)
		for i := 0; i < len(cur); i += 2 {
			next[i/2] = hashNode(cur[i], cur[i+1])
		}
		layers[level+1] = next
	}
	return &Tree{depth: depth, layers: layers}, nil
}

// Root returns the tree's Merkle root.
func (t *Tree) Root() hashdom.Digest {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// NumLeaves returns the padded leaf count (a power of two).
func (t *Tree) NumLeaves() int { return len(t.layers[0]) }

// Depth returns the tree depth (number of proof levels).
func (t *Tree) Depth() int { return t.depth }

// Proof returns the inclusion proof for the leaf at the given index.
func (t *Tree) Proof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.layers[0]) {
		return nil, ErrIndexOutOfRange
	}
	p := &Proof{
		LeafIndex: index,
		Siblings:  make([]hashdom.Digest, t.depth),
		PathBits:  make([]bool, t.depth),
	}
	idx := index
	for level := 0; level < t.depth; level++ {
		sibIdx := idx ^ 1
		p.Siblings[level] = t.layers[level][sibIdx]
		p.PathBits[level] = idx%2 == 1
		idx /= 2
	}
	return p, nil
}

// Verify recomputes the root implied by proof and leaf, and compares it to
// root in constant time. leaf must already be the domain-hashed digest
// (i.e. the same value that was (or would have been) placed in layer 0).
func Verify(proof *Proof, leaf hashdom.Digest, root hashdom.Digest) bool {
	if proof == nil {
		return false
	}
	if len(proof.Siblings) != len(proof.PathBits) {
		return false
	}
	current := leaf
	for level := 0; level < len(proof.Siblings); level++ {
		sibling := proof.Siblings[level]
		if proof.PathBits[level] {
			current = hashNode(sibling, current)
		} else {
			current = hashNode(current, sibling)
		}
	}
	return hashdom.Equal(current, root)
}

// HashLeaf exposes the LEAF domain hash for callers that need to hash a raw
// leaf the same way FromLeaves does, without building a full tree (e.g. to
// compare a computed commitment hash against a proof's expected leaf).
func HashLeaf(data []byte) hashdom.Digest { return hashLeaf(data) }
