package pedersen

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestCommitDeterministicForSameInputs(t *testing.T) {
	v := uint256.NewInt(1_000_000_000_000_000_000)
	r := RandomBlinding()

	c1, _, err := Commit(v, r)
	if err != nil {
		t.Fatal(err)
	}
	c2, _, err := Commit(v, r)
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equal(c2) {
		t.Fatal("committing to the same (v, r) twice produced different commitments")
	}
}

func TestCommitDiffersForDifferentInputs(t *testing.T) {
	v1 := uint256.NewInt(100)
	v2 := uint256.NewInt(200)
	r := RandomBlinding()

	c1, _, err := Commit(v1, r)
	if err != nil {
		t.Fatal(err)
	}
	c2, _, err := Commit(v2, r)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Equal(c2) {
		t.Fatal("different values produced the same commitment")
	}
}

func TestVerifyOpening(t *testing.T) {
	v := uint256.NewInt(42)
	c, r, err := Commit(v, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyOpening(c, v, r) {
		t.Fatal("valid opening failed to verify")
	}
	if VerifyOpening(c, uint256.NewInt(43), r) {
		t.Fatal("opening verified against a different value")
	}
}

func TestHomomorphicAddition(t *testing.T) {
	v1 := uint256.NewInt(30)
	v2 := uint256.NewInt(12)
	c1, r1, err := Commit(v1, nil)
	if err != nil {
		t.Fatal(err)
	}
	c2, r2, err := Commit(v2, nil)
	if err != nil {
		t.Fatal(err)
	}

	sum := Add(c1, c2)
	combinedV := new(uint256.Int).Add(v1, v2)
	combinedR := r1.Add(r2)

	if !VerifyOpening(sum, combinedV, combinedR) {
		t.Fatal("c1 + c2 did not open to (v1+v2, r1+r2)")
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	v := uint256.NewInt(7)
	c, _, err := Commit(v, nil)
	if err != nil {
		t.Fatal(err)
	}
	encoded := c.Bytes()
	decoded, err := FromBytes(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equal(decoded) {
		t.Fatal("commitment did not survive serialize/deserialize")
	}
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	if _, err := FromBytes([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for malformed commitment encoding")
	}
}
