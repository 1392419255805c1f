package merkle

import (
	"testing"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

func leaves(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte(i), byte(i >> 8)}
	}
	return out
}

func TestDeterministicRoot(t *testing.T) {
	t1, err := FromLeaves(leaves(5))
	if err != nil {
		t.Fatal(err)
	}
	t2, err := FromLeaves(leaves(5))
	if err != nil {
		t.Fatal(err)
	}
	if !hashdom.Equal(t1.Root(), t2.Root()) {
		t.Fatal("same leaves produced different roots")
	}
}

func TestProofValidForEveryLeaf(t *testing.T) {
	ls := leaves(13)
	tree, err := FromLeaves(ls)
	if err != nil {
		t.Fatal(err)
	}
	for i, l := range ls {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatal(err)
		}
		if !Verify(proof, HashLeaf(l), tree.Root()) {
			t.Fatalf("proof for leaf %d did not verify", i)
		}
	}
}

func TestRejectsLeafChange(t *testing.T) {
	ls := leaves(4)
	tree, err := FromLeaves(ls)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	otherLeaf := HashLeaf([]byte("not the real leaf"))
	if Verify(proof, otherLeaf, tree.Root()) {
		t.Fatal("proof verified against a different leaf value")
	}
}

func TestRejectsSiblingCorruption(t *testing.T) {
	ls := leaves(8)
	tree, err := FromLeaves(ls)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.Proof(3)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := *proof
	corrupted.Siblings = append([]hashdom.Digest{}, proof.Siblings...)
	corrupted.Siblings[0][0] ^= 0x01
	if Verify(&corrupted, HashLeaf(ls[3]), tree.Root()) {
		t.Fatal("proof verified with a corrupted sibling")
	}
}

func TestEmptyLeavesRejected(t *testing.T) {
	if _, err := FromLeaves(nil); err != ErrEmptyLeaves {
		t.Fatalf("expected ErrEmptyLeaves, got %v", err)
	}
}

func TestAppendTreeIncrementalMatchesBatch(t *testing.T) {
	const depth = 4
	at := NewAppendTree(depth)
	var last hashdom.Digest
	for i := 0; i < 6; i++ {
		_, root, err := at.Append([]byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		last = root
	}
	if !hashdom.Equal(at.Root(), last) {
		t.Fatal("Root() does not match last Append's returned root")
	}
	if at.Size() != 6 {
		t.Fatalf("expected size 6, got %d", at.Size())
	}

	// A batch tree over the same six leaves, padded with ZeroLeaf to the
	// append tree's full capacity, must reach the same root.
	padded := make([]hashdom.Digest, 1<<depth)
	for i := range padded {
		if i < 6 {
			padded[i] = HashLeaf([]byte{byte(i)})
		} else {
			padded[i] = ZeroLeaf
		}
	}
	batch, err := FromLeafHashes(padded)
	if err != nil {
		t.Fatal(err)
	}
	if !hashdom.Equal(batch.Root(), at.Root()) {
		t.Fatal("incremental root does not match the batch root over the same padded leaves")
	}
}

func TestAppendTreeProofVerifies(t *testing.T) {
	const depth = 5
	at := NewAppendTree(depth)
	data := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, d := range data {
		if _, _, err := at.Append(d); err != nil {
			t.Fatal(err)
		}
	}
	for i, d := range data {
		proof, err := at.Proof(i)
		if err != nil {
			t.Fatal(err)
		}
		if !Verify(proof, HashLeaf(d), at.Root()) {
			t.Fatalf("append-tree proof for leaf %d failed", i)
		}
	}
}

func TestAppendTreeFull(t *testing.T) {
	at := NewAppendTree(1) // capacity 2
	if _, _, err := at.Append([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := at.Append([]byte("y")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := at.Append([]byte("z")); err != ErrAppendTreeFull {
		t.Fatalf("expected ErrAppendTreeFull, got %v", err)
	}
}

func TestAppendTreeIndexOf(t *testing.T) {
	at := NewAppendTree(3)
	leaf := []byte("deposit-note")
	idx, _, err := at.Append(leaf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := at.IndexOf(HashLeaf(leaf))
	if err != nil {
		t.Fatal(err)
	}
	if got != idx {
		t.Fatalf("IndexOf returned %d, want %d", got, idx)
	}
	if _, err := at.IndexOf(HashLeaf([]byte("never appended"))); err != ErrLeafNotFound {
		t.Fatalf("expected ErrLeafNotFound, got %v", err)
	}
}
