package wots

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/obscura-network/siaac/crypto/hashdom"
)

func mustParams(t *testing.T, w int) Params {
	t.Helper()
	p, err := NewParams(w)
	if err != nil {
		t.Fatalf("NewParams(%d): %v", w, err)
	}
	return p
}

func TestParamsMatchKnownChainCounts(t *testing.T) {
	// These chain counts are cross-checked against the teacher scheme's
	// own hard-coded constants for w=16 (67) and w=4 (133).
	cases := []struct {
		w    int
		len1 int
		len2 int
		len  int
	}{
		{4, 128, 5, 133},
		{16, 64, 3, 67},
		{256, 32, 2, 34},
	}
	for _, c := range cases {
		p := mustParams(t, c.w)
		if p.Len1 != c.len1 || p.Len2 != c.len2 || p.Len != c.len {
			t.Errorf("w=%d: got len1=%d len2=%d len=%d, want len1=%d len2=%d len=%d",
				c.w, p.Len1, p.Len2, p.Len, c.len1, c.len2, c.len)
		}
	}
}

func TestBadWinternitzParam(t *testing.T) {
	if _, err := NewParams(8); err == nil {
		t.Fatal("expected error for non-power-of-two-in-set w=8")
	}
}

func randMsg(t *testing.T) []byte {
	t.Helper()
	m := make([]byte, N)
	if _, err := rand.Read(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	for _, w := range []int{4, 16, 256} {
		p := mustParams(t, w)
		for i := 0; i < 20; i++ {
			sk := GeneratePrivateKey(p)
			pk := PublicKeyFromPrivate(p, sk)
			msg := randMsg(t)

			sig, err := Sign(p, sk, msg)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			recovered, err := Verify(p, sig, msg)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !Equal(recovered, pk) {
				t.Fatalf("w=%d: recovered pk does not match expected pk", w)
			}
		}
	}
}

func TestCorruptionDetected(t *testing.T) {
	p := mustParams(t, 16)
	sk := GeneratePrivateKey(p)
	pk := PublicKeyFromPrivate(p, sk)
	msg := randMsg(t)

	sig, err := Sign(p, sk, msg)
	if err != nil {
		t.Fatal(err)
	}

	for chainIdx := 0; chainIdx < len(sig); chainIdx += 7 {
		for byteIdx := 0; byteIdx < N; byteIdx += 5 {
			corrupted := make(Signature, len(sig))
			copy(corrupted, sig)
			var chunk [N]byte
			chunk = corrupted[chainIdx]
			chunk[byteIdx] ^= 0x01
			corrupted[chainIdx] = chunk

			recovered, err := Verify(p, corrupted, msg)
			if err != nil {
				t.Fatal(err)
			}
			if Equal(recovered, pk) {
				t.Fatalf("corrupted signature at chain %d byte %d recovered the correct public key", chainIdx, byteIdx)
			}
		}
	}
}

func TestSignatureUniquenessAcrossMessages(t *testing.T) {
	p := mustParams(t, 16)
	sk := GeneratePrivateKey(p)
	m1 := randMsg(t)
	m2 := randMsg(t)
	if bytes.Equal(m1, m2) {
		t.Skip("random collision, extremely unlikely")
	}

	s1, err := Sign(p, sk, m1)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Sign(p, sk, m2)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(SerializeSignature(s1), SerializeSignature(s2)) {
		t.Fatal("signatures over distinct messages must differ")
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	p := mustParams(t, 16)
	sk := GeneratePrivateKey(p)
	pk := PublicKeyFromPrivate(p, sk)
	msg := randMsg(t)
	sig, err := Sign(p, sk, msg)
	if err != nil {
		t.Fatal(err)
	}

	pkBytes := SerializePublicKey(pk)
	pk2, err := DeserializePublicKey(p, pkBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(pk, pk2) {
		t.Fatal("public key did not survive serialize/deserialize")
	}

	sigBytes := SerializeSignature(sig)
	sig2, err := DeserializeSignature(p, sigBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(SerializeSignature(sig2), sigBytes) {
		t.Fatal("signature did not survive serialize/deserialize")
	}
}

func TestDerivePrivateKeyDeterministicAndDistinct(t *testing.T) {
	p := mustParams(t, 16)
	seed := hashdom.RandBytes(32)

	a1 := DerivePrivateKey(p, seed, 5)
	a2 := DerivePrivateKey(p, seed, 5)
	if !bytes.Equal(flattenSK(a1), flattenSK(a2)) {
		t.Fatal("derivation is not deterministic")
	}

	b := DerivePrivateKey(p, seed, 6)
	if bytes.Equal(flattenSK(a1), flattenSK(b)) {
		t.Fatal("distinct indices produced identical keys")
	}
}

func flattenSK(sk PrivateKey) []byte {
	out := make([]byte, 0, len(sk)*N)
	for _, c := range sk {
		out = append(out, c[:]...)
	}
	return out
}
