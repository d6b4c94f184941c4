package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"
)

func TestGenerateKeyPairProducesFixedWidthKey(t *testing.T) {
	privateKey, publicKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if len(publicKey) != PublicKeySize {
		t.Fatalf("expected %d-byte public key field, got %d", PublicKeySize, len(publicKey))
	}
	if privateKey.N.BitLen() != RSAKeyBits {
		t.Fatalf("expected %d-bit modulus, got %d", RSAKeyBits, privateKey.N.BitLen())
	}

	parsed, err := ParsePublicKey(publicKey)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 || parsed.E != privateKey.E {
		t.Fatalf("parsed public key does not match generated key")
	}
}

func TestParsePublicKeyAcceptsPKIXSmallExponent(t *testing.T) {
	// Crypto++ peers generate e=17 keys whose PKIX encoding is exactly 160 bytes.
	var key *rsa.PublicKey
	for key == nil {
		priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		pub := priv.PublicKey
		pub.E = 17
		der, err := x509.MarshalPKIXPublicKey(&pub)
		if err != nil {
			t.Fatalf("marshal PKIX: %v", err)
		}
		if len(der) == PublicKeySize {
			key = &pub
		}
	}

	field, err := MarshalPublicKey(key)
	if err != nil {
		t.Fatalf("MarshalPublicKey failed: %v", err)
	}
	der, _ := x509.MarshalPKIXPublicKey(key)
	if !bytes.Equal(field, der) {
		t.Fatalf("expected PKIX encoding to be used verbatim")
	}

	parsed, err := ParsePublicKey(field)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 || parsed.E != 17 {
		t.Fatalf("parsed PKIX key does not match")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"short":    make([]byte, PublicKeySize-1),
		"zeros":    make([]byte, PublicKeySize),
		"not der":  bytes.Repeat([]byte{0xff}, PublicKeySize),
		"too long": make([]byte, PublicKeySize+1),
	}
	for name, field := range cases {
		if _, err := ParsePublicKey(field); !errors.Is(err, ErrInvalidPublicKey) {
			t.Fatalf("%s: expected ErrInvalidPublicKey, got %v", name, err)
		}
	}

	_, publicKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	publicKey[PublicKeySize-1] = 0x01
	if _, err := ParsePublicKey(publicKey); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected trailing garbage to be rejected, got %v", err)
	}
}

func TestMarshalPublicKeyRejectsWrongModulus(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := MarshalPublicKey(&priv.PublicKey); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}

func TestKeyFingerprintIsStable(t *testing.T) {
	_, publicKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	first := KeyFingerprint(publicKey)
	if len(first) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(first))
	}
	if first != KeyFingerprint(append([]byte(nil), publicKey...)) {
		t.Fatalf("expected fingerprint to be stable")
	}
}

func TestWrapUnwrapSymmetricKey(t *testing.T) {
	privateKey, publicKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	parsed, err := ParsePublicKey(publicKey)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	sessionKey, _ := GenerateSymmetricKey(nil)

	wrapped, err := WrapSymmetricKey(parsed, sessionKey)
	if err != nil {
		t.Fatalf("WrapSymmetricKey failed: %v", err)
	}
	if len(wrapped) != 128 {
		t.Fatalf("expected 128-byte wrapped key, got %d", len(wrapped))
	}

	unwrapped, err := UnwrapSymmetricKey(privateKey, wrapped)
	if err != nil {
		t.Fatalf("UnwrapSymmetricKey failed: %v", err)
	}
	if !bytes.Equal(unwrapped, sessionKey) {
		t.Fatalf("unwrapped key does not match")
	}
}

func TestWrapRejectsWrongKeyLength(t *testing.T) {
	_, publicKey, _ := GenerateKeyPair()
	parsed, _ := ParsePublicKey(publicKey)
	if _, err := WrapSymmetricKey(parsed, make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestUnwrapWithWrongPrivateKeyFails(t *testing.T) {
	_, publicKey, _ := GenerateKeyPair()
	otherPrivate, _, _ := GenerateKeyPair()
	parsed, _ := ParsePublicKey(publicKey)
	sessionKey, _ := GenerateSymmetricKey(nil)

	wrapped, err := WrapSymmetricKey(parsed, sessionKey)
	if err != nil {
		t.Fatalf("WrapSymmetricKey failed: %v", err)
	}
	if _, err := UnwrapSymmetricKey(otherPrivate, wrapped); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestPrivateKeyTextRoundTrip(t *testing.T) {
	privateKey, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	plain, err := EncodePrivateKey(privateKey, "")
	if err != nil {
		t.Fatalf("EncodePrivateKey failed: %v", err)
	}
	decoded, err := DecodePrivateKey(plain+"\n", "")
	if err != nil {
		t.Fatalf("DecodePrivateKey failed: %v", err)
	}
	if !decoded.Equal(privateKey) {
		t.Fatalf("decoded plain key does not match")
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("marshal PKCS8: %v", err)
	}
	if _, err := DecodePrivateKey(base64.StdEncoding.EncodeToString(pkcs8), ""); err != nil {
		t.Fatalf("expected PKCS#8 key to decode, got %v", err)
	}
}

func TestSealedPrivateKeyRoundTrip(t *testing.T) {
	privateKey, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	sealed, err := EncodePrivateKey(privateKey, "correct horse")
	if err != nil {
		t.Fatalf("EncodePrivateKey failed: %v", err)
	}
	decoded, err := DecodePrivateKey(sealed, "correct horse")
	if err != nil {
		t.Fatalf("DecodePrivateKey failed: %v", err)
	}
	if !decoded.Equal(privateKey) {
		t.Fatalf("decoded sealed key does not match")
	}

	if _, err := DecodePrivateKey(sealed, "wrong"); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("expected ErrInvalidPrivateKey for wrong passphrase, got %v", err)
	}
	if _, err := DecodePrivateKey(sealed, ""); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("expected ErrInvalidPrivateKey without passphrase, got %v", err)
	}
}
