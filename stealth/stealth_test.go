package stealth

import "testing"

func TestMetaAddressEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := GenerateMetaAddress("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	encoded := kp.Meta.Encode()
	decoded, err := DecodeMetaAddress(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Chain != "ethereum" {
		t.Fatalf("expected chain ethereum, got %s", decoded.Chain)
	}
	if decoded.SpendPub.SerializeCompressed() == nil {
		t.Fatal("decoded spend pub key missing")
	}
}

func TestDeriveAndRecoverStealthKey(t *testing.T) {
	kp, err := GenerateMetaAddress("ethereum")
	if err != nil {
		t.Fatal(err)
	}

	addr, err := DeriveStealthAddress(kp.Meta)
	if err != nil {
		t.Fatal(err)
	}

	recoveredPriv, err := RecoverStealthPrivateKey(kp, addr.EphemeralPub)
	if err != nil {
		t.Fatal(err)
	}

	if recoveredPriv.PubKey().SerializeCompressed()[0] == 0 {
		t.Fatal("recovered pubkey malformed")
	}
	if string(recoveredPriv.PubKey().SerializeCompressed()) != string(addr.StealthPub.SerializeCompressed()) {
		t.Fatal("recovered stealth private key does not correspond to the derived stealth public key")
	}
}

func TestDistinctDerivationsAreUnlinkable(t *testing.T) {
	kp, err := GenerateMetaAddress("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	a1, err := DeriveStealthAddress(kp.Meta)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := DeriveStealthAddress(kp.Meta)
	if err != nil {
		t.Fatal(err)
	}
	if string(a1.StealthPub.SerializeCompressed()) == string(a2.StealthPub.SerializeCompressed()) {
		t.Fatal("two independent derivations for the same meta-address collided")
	}
}

func TestBadMetaAddressRejected(t *testing.T) {
	if _, err := DecodeMetaAddress("not-a-meta-address"); err == nil {
		t.Fatal("expected error for malformed meta-address")
	}
}
