package transfer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

var (
	// ErrInconsistentMetadata indicates a chunk whose declared totals differ from the first chunk's.
	ErrInconsistentMetadata = errors.New("transfer: inconsistent chunk metadata")
	// ErrPacketOutOfRange indicates a packet number outside [1, total_packets].
	ErrPacketOutOfRange = errors.New("transfer: packet number out of range")
	// ErrSizeMismatch indicates reassembled data whose size differs from the declared size.
	ErrSizeMismatch = errors.New("transfer: size mismatch")
	// ErrIncomplete indicates an Assemble call before every packet arrived.
	ErrIncomplete = errors.New("transfer: transfer incomplete")
	// ErrChecksumMismatch indicates a server checksum that differs from the sender's.
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")
)

// PartialTransfer buffers the encrypted chunks of one file until every
// packet has arrived. Packets may arrive in any order and a repeated packet
// replaces the earlier copy.
type PartialTransfer struct {
	mu sync.Mutex

	filename      string
	totalPackets  uint16
	originalSize  uint32
	encryptedSize uint64
	chunks        map[uint16][]byte
	lastActivity  time.Time
}

// Assembled is the outcome of a successful reassembly.
type Assembled struct {
	Filename      string
	Plaintext     []byte
	Checksum      uint32
	EncryptedSize uint32
}

// NewPartialTransfer starts a transfer from the first chunk received for a
// filename, whatever its packet number, and stores that chunk.
func NewPartialTransfer(first protocol.FileChunk, now time.Time) (*PartialTransfer, error) {
	if first.TotalPackets == 0 {
		return nil, fmt.Errorf("%w: total packets is zero", ErrPacketOutOfRange)
	}
	transfer := &PartialTransfer{
		filename:     first.Filename,
		totalPackets: first.TotalPackets,
		originalSize: first.OriginalSize,
		chunks:       make(map[uint16][]byte, first.TotalPackets),
		lastActivity: now,
	}
	if _, err := transfer.Add(first, now); err != nil {
		return nil, err
	}
	return transfer, nil
}

// Add stores chunk and reports whether every packet has now arrived.
func (t *PartialTransfer) Add(chunk protocol.FileChunk, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if chunk.Filename != t.filename {
		return false, fmt.Errorf("%w: filename %q does not match %q", ErrInconsistentMetadata, chunk.Filename, t.filename)
	}
	if chunk.TotalPackets != t.totalPackets || chunk.OriginalSize != t.originalSize {
		return false, fmt.Errorf(
			"%w: packet %d declares %d packets / %d bytes, first chunk declared %d / %d",
			ErrInconsistentMetadata, chunk.PacketNumber, chunk.TotalPackets, chunk.OriginalSize, t.totalPackets, t.originalSize,
		)
	}
	if chunk.PacketNumber < 1 || chunk.PacketNumber > t.totalPackets {
		return false, fmt.Errorf("%w: packet %d of %d", ErrPacketOutOfRange, chunk.PacketNumber, t.totalPackets)
	}

	previous := t.chunks[chunk.PacketNumber]
	encryptedSize := t.encryptedSize - uint64(len(previous)) + uint64(len(chunk.Data))
	if limit := uint64(appcrypto.EncryptedSize(int(t.originalSize))); encryptedSize > limit {
		return false, fmt.Errorf("%w: received %d encrypted bytes, at most %d expected", ErrSizeMismatch, encryptedSize, limit)
	}

	t.chunks[chunk.PacketNumber] = append([]byte(nil), chunk.Data...)
	t.encryptedSize = encryptedSize
	t.lastActivity = now
	return len(t.chunks) == int(t.totalPackets), nil
}

// Complete reports whether every packet has arrived.
func (t *PartialTransfer) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks) == int(t.totalPackets)
}

// Received returns the number of distinct packets stored.
func (t *PartialTransfer) Received() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks)
}

// Filename returns the file this transfer belongs to.
func (t *PartialTransfer) Filename() string {
	return t.filename
}

// TotalPackets returns the packet count declared by the first chunk.
func (t *PartialTransfer) TotalPackets() uint16 {
	return t.totalPackets
}

// IdleFor returns how long the transfer has gone without a chunk.
func (t *PartialTransfer) IdleFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.lastActivity)
}

// Assemble joins the chunks in packet order, decrypts them with sessionKey
// and checks the plaintext against the declared original size.
func (t *PartialTransfer) Assemble(sessionKey []byte) (*Assembled, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.chunks) != int(t.totalPackets) {
		return nil, fmt.Errorf("%w: %d of %d packets", ErrIncomplete, len(t.chunks), t.totalPackets)
	}

	ciphertext := make([]byte, 0, t.encryptedSize)
	for packet := uint16(1); packet <= t.totalPackets; packet++ {
		ciphertext = append(ciphertext, t.chunks[packet]...)
		if packet == t.totalPackets {
			break
		}
	}

	plaintext, err := appcrypto.Decrypt(sessionKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", t.filename, err)
	}
	if uint64(len(plaintext)) != uint64(t.originalSize) {
		return nil, fmt.Errorf("%w: decrypted %d bytes, declared %d", ErrSizeMismatch, len(plaintext), t.originalSize)
	}

	return &Assembled{
		Filename:      t.filename,
		Plaintext:     plaintext,
		Checksum:      appcrypto.Checksum(plaintext),
		EncryptedSize: uint32(len(ciphertext)),
	}, nil
}
