package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// SymmetricKeySize is the protocol's fixed AES-256 session key size.
const SymmetricKeySize = 32

var (
	// ErrInvalidKeySize indicates a symmetric key of any length other than SymmetricKeySize.
	ErrInvalidKeySize = errors.New("crypto: invalid symmetric key size")
	// ErrInvalidCiphertext indicates ciphertext that is empty or not block aligned.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext length")
	// ErrInvalidPadding indicates a PKCS#7 padding check failure after decryption.
	ErrInvalidPadding = errors.New("crypto: invalid padding")
)

// zeroIV is the protocol-mandated initialization vector. Every encryption
// under the same key uses it, so identical plaintexts produce identical
// ciphertexts, and nothing authenticates the ciphertext. Both properties are
// part of protocol version 3 and must not change without a new version.
var zeroIV [aes.BlockSize]byte

// GenerateSymmetricKey returns a fresh random session key that differs from previous.
func GenerateSymmetricKey(previous []byte) ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	for {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		if !bytes.Equal(key, previous) {
			return key, nil
		}
	}
}

// Encrypt encrypts plaintext with AES-256-CBC under the fixed zero IV and PKCS#7 padding.
func Encrypt(sessionKey, plaintext []byte) ([]byte, error) {
	block, err := newBlock(sessionKey)
	if err != nil {
		return nil, err
	}

	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	buf := make([]byte, len(plaintext)+padding)
	copy(buf, plaintext)
	for i := len(plaintext); i < len(buf); i++ {
		buf[i] = byte(padding)
	}

	cipher.NewCBCEncrypter(block, zeroIV[:]).CryptBlocks(buf, buf)
	return buf, nil
}

// Decrypt reverses Encrypt and strips the padding.
func Decrypt(sessionKey, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(sessionKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV[:]).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}

// EncryptedSize returns the ciphertext length Encrypt produces for n plaintext bytes.
func EncryptedSize(n int) int {
	return n + aes.BlockSize - n%aes.BlockSize
}

func newBlock(sessionKey []byte) (cipher.Block, error) {
	if len(sessionKey) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidKeySize, len(sessionKey), SymmetricKeySize)
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return block, nil
}
