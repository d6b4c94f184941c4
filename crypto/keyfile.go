package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	encryptedPrivatePEMType = "ENCRYPTED BACKUP PRIVATE KEY"

	kdfSaltBytes   = 16
	kdfTime        = 1
	kdfMemoryKiB   = 64 * 1024
	kdfParallelism = 4
)

// EncodePrivateKey renders a private key for text storage.
//
// Without a passphrase the result is one base64 line of PKCS#1 DER. With a
// passphrase the DER is sealed with XChaCha20-Poly1305 under an Argon2id key
// and wrapped in a PEM block carrying the salt and nonce.
func EncodePrivateKey(key *rsa.PrivateKey, passphrase string) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil key", ErrInvalidPrivateKey)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	if passphrase == "" {
		return base64.StdEncoding.EncodeToString(der), nil
	}

	salt := make([]byte, kdfSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate key salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKEK(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("create key cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate key nonce: %w", err)
	}

	block := &pem.Block{
		Type: encryptedPrivatePEMType,
		Headers: map[string]string{
			"KDF":   "argon2id",
			"Salt":  hex.EncodeToString(salt),
			"Nonce": hex.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, der, nil),
	}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePrivateKey parses text written by EncodePrivateKey. Plain base64 may
// hold PKCS#1 or PKCS#8 DER.
func DecodePrivateKey(text, passphrase string) (*rsa.PrivateKey, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return decodeSealedPrivateKey(trimmed, passphrase)
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(trimmed), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidPrivateKey, err)
	}
	return parseDERPrivateKey(der)
}

func decodeSealedPrivateKey(text, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPrivateKey)
	}
	if block.Type != encryptedPrivatePEMType {
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPrivateKey, block.Type)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: key is passphrase protected", ErrInvalidPrivateKey)
	}

	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) != kdfSaltBytes {
		return nil, fmt.Errorf("%w: bad salt header", ErrInvalidPrivateKey)
	}
	nonce, err := hex.DecodeString(block.Headers["Nonce"])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: bad nonce header", ErrInvalidPrivateKey)
	}

	aead, err := chacha20poly1305.NewX(deriveKEK(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create key cipher: %w", err)
	}
	der, err := aead.Open(nil, nonce, block.Bytes, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted key", ErrInvalidPrivateKey)
	}
	return parseDERPrivateKey(der)
}

func parseDERPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPrivateKey)
	}
	return key, nil
}

func deriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKiB, kdfParallelism, chacha20poly1305.KeySize)
}
