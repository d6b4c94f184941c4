package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	// RSAKeyBits is the modulus size; it fixes the wrapped key at 128 bytes.
	RSAKeyBits = 1024
	// PublicKeySize is the fixed wire width of a serialized public key.
	PublicKeySize = 160
)

var (
	// ErrInvalidPublicKey indicates a public key field that does not hold a usable RSA key.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")
	// ErrInvalidPrivateKey indicates stored private key material that cannot be parsed.
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")
)

// GenerateKeyPair creates an RSA keypair and returns the private key with the
// public half already serialized to PublicKeySize bytes.
func GenerateKeyPair() (*rsa.PrivateKey, []byte, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate RSA keypair: %w", err)
	}
	publicKey, err := MarshalPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, publicKey, nil
}

// MarshalPublicKey serializes pub into exactly PublicKeySize bytes.
//
// A PKIX encoding is used when it fills the field exactly (keys with a small
// public exponent, as produced by Crypto++ peers). Otherwise the PKCS#1
// encoding is written and zero padded.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil || pub.N.BitLen() != RSAKeyBits {
		return nil, fmt.Errorf("%w: want %d-bit modulus", ErrInvalidPublicKey, RSAKeyBits)
	}

	if der, err := x509.MarshalPKIXPublicKey(pub); err == nil && len(der) == PublicKeySize {
		return der, nil
	}

	der := x509.MarshalPKCS1PublicKey(pub)
	if len(der) > PublicKeySize {
		return nil, fmt.Errorf("%w: encoded key is %d bytes", ErrInvalidPublicKey, len(der))
	}
	out := make([]byte, PublicKeySize)
	copy(out, der)
	return out, nil
}

// ParsePublicKey parses a PublicKeySize field written by MarshalPublicKey or by
// a peer using a PKIX encoding.
func ParsePublicKey(field []byte) (*rsa.PublicKey, error) {
	if len(field) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes want %d", ErrInvalidPublicKey, len(field), PublicKeySize)
	}

	input := cryptobyte.String(field)
	var element cryptobyte.String
	if !input.ReadASN1Element(&element, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: no DER sequence", ErrInvalidPublicKey)
	}
	for _, b := range input {
		if b != 0 {
			return nil, fmt.Errorf("%w: trailing bytes after DER sequence", ErrInvalidPublicKey)
		}
	}

	publicKey, err := parseDERPublicKey(element)
	if err != nil {
		return nil, err
	}
	if publicKey.N.BitLen() != RSAKeyBits {
		return nil, fmt.Errorf("%w: modulus is %d bits want %d", ErrInvalidPublicKey, publicKey.N.BitLen(), RSAKeyBits)
	}
	return publicKey, nil
}

func parseDERPublicKey(der []byte) (*rsa.PublicKey, error) {
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		return publicKey, nil
	}

	publicKey, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return publicKey, nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a serialized public key.
func KeyFingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}
