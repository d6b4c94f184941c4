package transfer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

const (
	// DefaultChunkSize is the largest ciphertext slice carried by one request.
	DefaultChunkSize = 1 << 20
	// MaxFileSize is the largest plaintext the u32 size fields can describe
	// once padding is added.
	MaxFileSize = math.MaxUint32 - 16
)

var (
	// ErrFileTooLarge indicates a source file above the configured or protocol limit.
	ErrFileTooLarge = errors.New("transfer: file too large")
	// ErrInvalidChunkSize indicates a chunk that would not fit one request payload.
	ErrInvalidChunkSize = errors.New("transfer: invalid chunk size")
	// ErrTooManyPackets indicates a file that needs more packets than the u16 counter allows.
	ErrTooManyPackets = errors.New("transfer: too many packets")
)

// Options bound how a file is packaged for sending.
type Options struct {
	ChunkSize   int
	MaxFileSize int64
}

// Outbound is a file ready to send: checksummed, encrypted and split into
// numbered chunks.
type Outbound struct {
	Filename     string
	OriginalSize uint32
	Checksum     uint32
	Ciphertext   []byte
	Chunks       []protocol.FileChunk
}

// Package reads the file at path and prepares it for transfer under sessionKey.
// Each call starts again from packet 1.
func Package(path string, sessionKey []byte, options Options) (*Outbound, error) {
	options = normalizeOptions(options)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source path %q must be a file", path)
	}
	if info.Size() > options.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, info.Size(), options.MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	return PackageBytes(filepath.Base(path), data, sessionKey, options)
}

// PackageBytes prepares in-memory plaintext for transfer under filename.
func PackageBytes(filename string, data []byte, sessionKey []byte, options Options) (*Outbound, error) {
	options = normalizeOptions(options)
	if int64(len(data)) > options.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), options.MaxFileSize)
	}
	if options.ChunkSize > protocol.DefaultMaxPayloadSize-protocol.FileChunkPrefixSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidChunkSize, options.ChunkSize)
	}
	if len(filename) >= protocol.NameSize {
		return nil, fmt.Errorf("%w: filename is %d bytes", protocol.ErrFieldTooLong, len(filename))
	}

	ciphertext, err := appcrypto.Encrypt(sessionKey, data)
	if err != nil {
		return nil, fmt.Errorf("encrypt file: %w", err)
	}

	total := ChunkCount(len(ciphertext), options.ChunkSize)
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d packets of %d bytes", ErrTooManyPackets, total, options.ChunkSize)
	}

	outbound := &Outbound{
		Filename:     filename,
		OriginalSize: uint32(len(data)),
		Checksum:     appcrypto.Checksum(data),
		Ciphertext:   ciphertext,
		Chunks:       make([]protocol.FileChunk, 0, total),
	}
	for i := 0; i < total; i++ {
		start := i * options.ChunkSize
		end := start + options.ChunkSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		outbound.Chunks = append(outbound.Chunks, protocol.FileChunk{
			EncryptedSize: uint32(end - start),
			OriginalSize:  outbound.OriginalSize,
			PacketNumber:  uint16(i + 1),
			TotalPackets:  uint16(total),
			Filename:      filename,
			Data:          ciphertext[start:end],
		})
	}
	return outbound, nil
}

// ChunkCount returns how many chunks of chunkSize cover size bytes.
func ChunkCount(size, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	chunks := size / chunkSize
	if size%chunkSize != 0 {
		chunks++
	}
	return chunks
}

func normalizeOptions(options Options) Options {
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.MaxFileSize <= 0 || options.MaxFileSize > MaxFileSize {
		options.MaxFileSize = MaxFileSize
	}
	return options
}
