package client

import (
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
)

// IdentityFileName is the default identity file written next to the client config.
const IdentityFileName = "me.info"

// ErrInvalidIdentity indicates an identity file that cannot be parsed.
var ErrInvalidIdentity = errors.New("client: invalid identity file")

// Identity is what a client must remember between runs to reconnect: its
// username, server-issued id and RSA private key.
type Identity struct {
	Name       string
	ID         uuid.UUID
	PrivateKey *rsa.PrivateKey
}

// LoadIdentity reads an identity file. Line 1 is the username, line 2 the
// client id in hex, and the remaining lines the encoded private key.
func LoadIdentity(path, passphrase string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	lines := strings.SplitN(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n", 3)
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: want name, id and key lines", ErrInvalidIdentity)
	}

	name := strings.TrimSpace(lines[0])
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidIdentity)
	}

	idBytes, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: client id: %v", ErrInvalidIdentity, err)
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: client id: %v", ErrInvalidIdentity, err)
	}

	privateKey, err := appcrypto.DecodePrivateKey(lines[2], passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return &Identity{Name: name, ID: id, PrivateKey: privateKey}, nil
}

// SaveIdentity writes identity to path atomically with owner-only permissions.
func SaveIdentity(path string, identity Identity, passphrase string) error {
	if identity.PrivateKey == nil {
		return fmt.Errorf("%w: missing private key", ErrInvalidIdentity)
	}
	if identity.Name == "" || strings.ContainsAny(identity.Name, "\r\n") {
		return fmt.Errorf("%w: name %q", ErrInvalidIdentity, identity.Name)
	}

	encoded, err := appcrypto.EncodePrivateKey(identity.PrivateKey, passphrase)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(identity.Name)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(identity.ID[:]))
	b.WriteByte('\n')
	b.WriteString(strings.TrimRight(encoded, "\n"))
	b.WriteByte('\n')

	return writeFileAtomic(path, []byte(b.String()))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp identity: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close identity: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod identity: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace identity: %w", err)
	}
	return nil
}
