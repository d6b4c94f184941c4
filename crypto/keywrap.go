package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
)

// ErrUnwrapFailed indicates a wrapped key that could not be decrypted or
// decrypted to the wrong length. No partial key is ever returned with it.
var ErrUnwrapFailed = errors.New("crypto: unwrap symmetric key failed")

// WrapSymmetricKey encrypts a session key under a client's public key using
// RSAES-OAEP with SHA-1 and an empty label.
func WrapSymmetricKey(publicKey *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	if len(sessionKey) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidKeySize, len(sessionKey), SymmetricKeySize)
	}
	if publicKey == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidPublicKey)
	}

	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, publicKey, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	return wrapped, nil
}

// UnwrapSymmetricKey decrypts a wrapped session key with the client's private key.
func UnwrapSymmetricKey(privateKey *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrUnwrapFailed)
	}

	sessionKey, err := rsa.DecryptOAEP(sha1.New(), nil, privateKey, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	if len(sessionKey) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: unwrapped %d bytes want %d", ErrUnwrapFailed, len(sessionKey), SymmetricKeySize)
	}
	return sessionKey, nil
}
