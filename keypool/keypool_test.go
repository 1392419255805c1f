package keypool

import (
	"testing"

	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestCreateRoundsUpToPowerOfTwo(t *testing.T) {
	p, err := Create("pool-1", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalKeys() != 4 {
		t.Fatalf("expected 4 keys, got %d", p.TotalKeys())
	}

	p2, err := Create("pool-2", CreateOptions{KeyCount: 5, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	if p2.TotalKeys() != 8 {
		t.Fatalf("expected 8 keys (rounded up from 5), got %d", p2.TotalKeys())
	}
}

func TestSignIntentBurnsKeyAndAdvancesHint(t *testing.T) {
	p, err := Create("pool", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	intentHash := hashdom.Sum("TEST", []byte("intent-1"))

	sig, err := p.SignIntent(intentHash)
	if err != nil {
		t.Fatal(err)
	}
	if sig.KeyIndex != 0 {
		t.Fatalf("expected key index 0, got %d", sig.KeyIndex)
	}
	if p.UsedKeys() != 1 {
		t.Fatalf("expected 1 used key, got %d", p.UsedKeys())
	}

	if err := VerifySignedIntent(p.Params(), sig, hashdom.Digest{}); err != nil {
		t.Fatalf("VerifySignedIntent: %v", err)
	}

	sig2, err := p.SignIntent(hashdom.Sum("TEST", []byte("intent-2")))
	if err != nil {
		t.Fatal(err)
	}
	if sig2.KeyIndex != 1 {
		t.Fatalf("expected key index 1 after burning index 0, got %d", sig2.KeyIndex)
	}
}

func TestSignWithKeyRejectsReuse(t *testing.T) {
	p, err := Create("pool", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	intentHash := hashdom.Sum("TEST", []byte("intent"))
	if _, err := p.SignWithKey(2, intentHash); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SignWithKey(2, intentHash); err != ErrKeyAlreadyUsed {
		t.Fatalf("expected ErrKeyAlreadyUsed, got %v", err)
	}
}

func TestNoKeysAvailable(t *testing.T) {
	p, err := Create("pool", CreateOptions{KeyCount: 2, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.SignIntent(hashdom.Sum("TEST", []byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.SignIntent(hashdom.Sum("TEST", []byte("one-too-many"))); err != ErrNoKeysAvailable {
		t.Fatalf("expected ErrNoKeysAvailable, got %v", err)
	}
}

func TestVerifySignedIntentDetectsTamperedSignature(t *testing.T) {
	p, err := Create("pool", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := p.SignIntent(hashdom.Sum("TEST", []byte("intent")))
	if err != nil {
		t.Fatal(err)
	}
	sig.Signature[7][0] ^= 0x01
	if err := VerifySignedIntent(p.Params(), sig, hashdom.Digest{}); err == nil {
		t.Fatal("expected verification failure for tampered signature")
	}
}

func TestVerifySignedIntentDetectsWrongPool(t *testing.T) {
	p1, err := Create("pool-a", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	seedB := make([]byte, 32)
	seedB[0] = 1
	p2, err := Create("pool-b", CreateOptions{KeyCount: 4, W: 16, Seed: seedB})
	if err != nil {
		t.Fatal(err)
	}

	sig, err := p1.SignIntent(hashdom.Sum("TEST", []byte("intent")))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignedIntent(p2.Params(), sig, p2.MerkleRoot()); err == nil {
		t.Fatal("expected inclusion-proof mismatch against a different pool's root")
	}
}

func TestExportStateFromStateRoundTrip(t *testing.T) {
	p, err := Create("pool-state", CreateOptions{KeyCount: 4, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}

	burned, err := p.SignIntent(hashdom.Sum("TEST", []byte("intent-1")))
	if err != nil {
		t.Fatal(err)
	}

	state := p.ExportState()
	if len(state.Entries) != p.TotalKeys() {
		t.Fatalf("expected %d entries, got %d", p.TotalKeys(), len(state.Entries))
	}
	if state.Entries[burned.KeyIndex].PrivKeyHex != "" {
		t.Fatal("expected burned slot's private key material to be absent from the export")
	}
	if state.Entries[1].PrivKeyHex == "" {
		t.Fatal("expected unused slot's private key material to be present in the export")
	}

	restored, err := FromState(state)
	if err != nil {
		t.Fatal(err)
	}
	if restored.MerkleRoot() != p.MerkleRoot() {
		t.Fatal("expected restored pool to have the same merkle root")
	}
	if restored.UsedKeys() != 1 {
		t.Fatalf("expected 1 used key after restore, got %d", restored.UsedKeys())
	}

	// The restored pool must still be able to sign with an unused key...
	sig, err := restored.SignIntent(hashdom.Sum("TEST", []byte("intent-2")))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignedIntent(restored.Params(), sig, restored.MerkleRoot()); err != nil {
		t.Fatalf("VerifySignedIntent on restored pool: %v", err)
	}

	// ...but must not be able to resurrect the already-burned key's secret.
	if _, err := restored.SignWithKey(burned.KeyIndex, hashdom.Sum("TEST", []byte("intent-3"))); err != ErrKeyAlreadyUsed {
		t.Fatalf("expected ErrKeyAlreadyUsed for the already-burned slot, got %v", err)
	}
}

func TestSignIntentRecordsExhaustionMetric(t *testing.T) {
	p, err := Create("pool-exhaustion", CreateOptions{KeyCount: 1, W: 16, Seed: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	p.SetMetrics(metrics.New("siaac_test_keypool", reg))

	if _, err := p.SignIntent(hashdom.Sum("TEST", []byte("intent-1"))); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SignIntent(hashdom.Sum("TEST", []byte("intent-2"))); err != ErrNoKeysAvailable {
		t.Fatalf("expected ErrNoKeysAvailable, got %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "siaac_test_keypool_keypool_exhaustion_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the exhaustion counter to be registered and incremented")
	}
}
