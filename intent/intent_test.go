package intent

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/holiman/uint256"

	"github.com/obscura-network/siaac/model"
	"github.com/obscura-network/siaac/stealth"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("transfer 1 ETH to recipient")

	envelope, err := Encrypt(priv.PubKey(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := Decrypt(priv, envelope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatal("decrypted plaintext does not match original")
	}
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := Encrypt(priv.PubKey(), []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	envelope[len(envelope)-1] ^= 0x01
	if _, err := Decrypt(priv, envelope); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecryptRejectsWrongRecipient(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	other, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := Encrypt(priv.PubKey(), []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(other, envelope); err != ErrDecryptFailed {
		t.Fatalf("expected ErrDecryptFailed for wrong recipient, got %v", err)
	}
}

func TestBuildShieldedIntent(t *testing.T) {
	recipient, err := stealth.GenerateMetaAddress("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	raw := model.RawIntent{
		Action:   "transfer",
		SrcChain: "ethereum",
		DstChain: "ethereum",
		Asset:    "0x0",
		Amount:   uint256.NewInt(1_000_000_000_000_000_000),
	}

	shielded, addr, blinding, err := Build(raw, recipient.Meta, []byte("payload"), BuildOptions{PrivacyLevel: model.SHIELDED})
	if err != nil {
		t.Fatal(err)
	}
	if shielded.CommitmentHash.IsZero() {
		t.Fatal("expected non-zero commitment hash")
	}
	if addr == nil || blinding == nil {
		t.Fatal("expected non-nil stealth address and blinding factor")
	}

	plaintext, err := Decrypt(recipient.ViewPriv, shielded.EncryptedIntent)
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "payload" {
		t.Fatalf("recipient could not decrypt the intent payload: got %q", plaintext)
	}
}

func TestBuildShieldedIntentCompliantRequiresAuditorKey(t *testing.T) {
	recipient, err := stealth.GenerateMetaAddress("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	raw := model.RawIntent{Amount: uint256.NewInt(1)}
	_, _, _, err = Build(raw, recipient.Meta, []byte("x"), BuildOptions{PrivacyLevel: model.COMPLIANT})
	if err == nil {
		t.Fatal("expected error when COMPLIANT privacy level is requested without an auditor key")
	}
}
