package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key, err := appcrypto.GenerateSymmetricKey(nil)
	require.NoError(t, err)
	return key
}

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func reassemble(t *testing.T, chunks []protocol.FileChunk, order []int) (*PartialTransfer, bool) {
	t.Helper()
	now := time.Now()
	transfer, err := NewPartialTransfer(chunks[order[0]], now)
	require.NoError(t, err)
	complete := transfer.Complete()
	for _, index := range order[1:] {
		complete, err = transfer.Add(chunks[index], now)
		require.NoError(t, err)
	}
	return transfer, complete
}

func TestPackageBytesSplitsCiphertext(t *testing.T) {
	key := newKey(t)
	data := patterned(100)

	outbound, err := PackageBytes("report.bin", data, key, Options{ChunkSize: 48})
	require.NoError(t, err)

	assert.Equal(t, uint32(100), outbound.OriginalSize)
	assert.Equal(t, appcrypto.Checksum(data), outbound.Checksum)
	assert.Len(t, outbound.Ciphertext, 112)
	require.Len(t, outbound.Chunks, 3)

	var joined []byte
	for i, chunk := range outbound.Chunks {
		assert.Equal(t, uint16(i+1), chunk.PacketNumber)
		assert.Equal(t, uint16(3), chunk.TotalPackets)
		assert.Equal(t, uint32(len(chunk.Data)), chunk.EncryptedSize)
		assert.Equal(t, "report.bin", chunk.Filename)
		joined = append(joined, chunk.Data...)
	}
	assert.Equal(t, outbound.Ciphertext, joined)
	assert.Len(t, outbound.Chunks[2].Data, 16)
}

func TestPackageEmptyFileIsOnePacket(t *testing.T) {
	outbound, err := PackageBytes("empty.txt", nil, newKey(t), Options{})
	require.NoError(t, err)
	require.Len(t, outbound.Chunks, 1)
	assert.Equal(t, uint32(16), outbound.Chunks[0].EncryptedSize)
	assert.Equal(t, uint32(4294967295), outbound.Checksum)
}

func TestPackageRejectsLimits(t *testing.T) {
	key := newKey(t)

	_, err := PackageBytes("big.bin", make([]byte, 65), key, Options{MaxFileSize: 64})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = PackageBytes("many.bin", make([]byte, 70000), key, Options{ChunkSize: 1})
	assert.ErrorIs(t, err, ErrTooManyPackets)

	_, err = PackageBytes("huge-chunk.bin", []byte("x"), key, Options{ChunkSize: protocol.DefaultMaxPayloadSize})
	assert.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = PackageBytes(string(bytes.Repeat([]byte{'n'}, protocol.NameSize)), []byte("x"), key, Options{})
	assert.ErrorIs(t, err, protocol.ErrFieldTooLong)

	_, err = PackageBytes("badkey.bin", []byte("x"), key[:16], Options{})
	assert.ErrorIs(t, err, appcrypto.ErrInvalidKeySize)
}

func TestPackageReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Test file content for backup"), 0o600))

	outbound, err := Package(path, newKey(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", outbound.Filename)
	assert.Equal(t, uint32(4021537633), outbound.Checksum)

	_, err = Package(t.TempDir(), newKey(t), Options{})
	assert.Error(t, err)
}

func TestReassemblyAnyOrderMatchesOriginal(t *testing.T) {
	key := newKey(t)
	data := patterned(5000)
	outbound, err := PackageBytes("data.bin", data, key, Options{ChunkSize: 1024})
	require.NoError(t, err)
	require.Len(t, outbound.Chunks, 5)

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 4, 0, 3, 2},
	}
	for _, order := range orders {
		transfer, complete := reassemble(t, outbound.Chunks, order)
		require.True(t, complete, "order %v", order)

		assembled, err := transfer.Assemble(key)
		require.NoError(t, err, "order %v", order)
		assert.Equal(t, data, assembled.Plaintext, "order %v", order)
		assert.Equal(t, outbound.Checksum, assembled.Checksum)
		assert.Equal(t, uint32(len(outbound.Ciphertext)), assembled.EncryptedSize)
	}
}

func TestReassemblyThreeChunksOutOfOrder(t *testing.T) {
	key := newKey(t)
	data := patterned(40)
	outbound, err := PackageBytes("three.bin", data, key, Options{ChunkSize: 16})
	require.NoError(t, err)
	require.Len(t, outbound.Chunks, 3)

	inOrder, _ := reassemble(t, outbound.Chunks, []int{0, 1, 2})
	shuffled, complete := reassemble(t, outbound.Chunks, []int{2, 0, 1})
	require.True(t, complete)

	want, err := inOrder.Assemble(key)
	require.NoError(t, err)
	got, err := shuffled.Assemble(key)
	require.NoError(t, err)
	assert.Equal(t, want.Plaintext, got.Plaintext)
}

func TestDuplicatePacketIsIdempotent(t *testing.T) {
	key := newKey(t)
	data := patterned(40)
	outbound, err := PackageBytes("dup.bin", data, key, Options{ChunkSize: 16})
	require.NoError(t, err)

	transfer, complete := reassemble(t, outbound.Chunks, []int{0, 1, 1, 0})
	assert.False(t, complete)
	assert.Equal(t, 2, transfer.Received())

	complete, err = transfer.Add(outbound.Chunks[2], time.Now())
	require.NoError(t, err)
	require.True(t, complete)

	assembled, err := transfer.Assemble(key)
	require.NoError(t, err)
	assert.Equal(t, data, assembled.Plaintext)
}

func TestDuplicatePacketLaterDeliveryWins(t *testing.T) {
	key := newKey(t)
	data := patterned(48)
	outbound, err := PackageBytes("dup.bin", data, key, Options{ChunkSize: 16})
	require.NoError(t, err)
	require.Len(t, outbound.Chunks, 4)

	bogus := outbound.Chunks[1]
	bogus.Data = bytes.Repeat([]byte{0xAA}, len(bogus.Data))

	transfer, complete := reassemble(t, outbound.Chunks, []int{0, 1, 2, 3})
	require.True(t, complete)
	_, err = transfer.Add(bogus, time.Now())
	require.NoError(t, err)

	// The bogus copy arrived last, so it replaced the good packet 2.
	corrupted, err := transfer.Assemble(key)
	require.NoError(t, err)
	assert.Equal(t, data[:16], corrupted.Plaintext[:16])
	assert.NotEqual(t, data, corrupted.Plaintext)

	_, err = transfer.Add(outbound.Chunks[1], time.Now())
	require.NoError(t, err)
	assembled, err := transfer.Assemble(key)
	require.NoError(t, err)
	assert.Equal(t, data, assembled.Plaintext)
	assert.Equal(t, 4, transfer.Received())
}

func TestAddRejectsInconsistentMetadata(t *testing.T) {
	outbound, err := PackageBytes("meta.bin", patterned(40), newKey(t), Options{ChunkSize: 16})
	require.NoError(t, err)

	transfer, err := NewPartialTransfer(outbound.Chunks[0], time.Now())
	require.NoError(t, err)

	wrongTotal := outbound.Chunks[1]
	wrongTotal.TotalPackets = 4
	_, err = transfer.Add(wrongTotal, time.Now())
	assert.ErrorIs(t, err, ErrInconsistentMetadata)

	wrongSize := outbound.Chunks[1]
	wrongSize.OriginalSize = 41
	_, err = transfer.Add(wrongSize, time.Now())
	assert.ErrorIs(t, err, ErrInconsistentMetadata)
}

func TestAddRejectsPacketOutOfRange(t *testing.T) {
	outbound, err := PackageBytes("range.bin", patterned(40), newKey(t), Options{ChunkSize: 16})
	require.NoError(t, err)

	zero := outbound.Chunks[0]
	zero.PacketNumber = 0
	_, err = NewPartialTransfer(zero, time.Now())
	assert.ErrorIs(t, err, ErrPacketOutOfRange)

	transfer, err := NewPartialTransfer(outbound.Chunks[0], time.Now())
	require.NoError(t, err)
	beyond := outbound.Chunks[2]
	beyond.PacketNumber = 4
	_, err = transfer.Add(beyond, time.Now())
	assert.ErrorIs(t, err, ErrPacketOutOfRange)

	noPackets := outbound.Chunks[0]
	noPackets.TotalPackets = 0
	_, err = NewPartialTransfer(noPackets, time.Now())
	assert.ErrorIs(t, err, ErrPacketOutOfRange)
}

func TestAssembleDetectsSizeMismatch(t *testing.T) {
	key := newKey(t)
	outbound, err := PackageBytes("size.bin", patterned(40), key, Options{ChunkSize: 64})
	require.NoError(t, err)

	lying := outbound.Chunks[0]
	lying.OriginalSize = 36
	transfer, err := NewPartialTransfer(lying, time.Now())
	require.NoError(t, err)

	_, err = transfer.Assemble(key)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAddRejectsMoreDataThanDeclared(t *testing.T) {
	chunk := protocol.FileChunk{
		EncryptedSize: 64,
		OriginalSize:  10,
		PacketNumber:  1,
		TotalPackets:  1,
		Filename:      "small.bin",
		Data:          make([]byte, 64),
	}
	_, err := NewPartialTransfer(chunk, time.Now())
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAssembleIncompleteAndWrongKey(t *testing.T) {
	key := newKey(t)
	outbound, err := PackageBytes("partial.bin", patterned(40), key, Options{ChunkSize: 16})
	require.NoError(t, err)

	transfer, err := NewPartialTransfer(outbound.Chunks[0], time.Now())
	require.NoError(t, err)
	_, err = transfer.Assemble(key)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = transfer.Assemble(key[:8])
	assert.ErrorIs(t, err, ErrIncomplete)

	full, _ := reassemble(t, outbound.Chunks, []int{0, 1, 2})
	_, err = full.Assemble(key[:8])
	assert.ErrorIs(t, err, appcrypto.ErrInvalidKeySize)
}

func TestIdleFor(t *testing.T) {
	outbound, err := PackageBytes("idle.bin", patterned(10), newKey(t), Options{})
	require.NoError(t, err)

	start := time.Now()
	transfer, err := NewPartialTransfer(outbound.Chunks[0], start)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, transfer.IdleFor(start.Add(90*time.Second)))
	assert.Equal(t, "idle.bin", transfer.Filename())
	assert.Equal(t, uint16(1), transfer.TotalPackets())
}

func TestCommitWritesAtomicallyUnderClientDir(t *testing.T) {
	dir := t.TempDir()
	clientID := uuid.New()

	storedPath, err := Commit(dir, clientID, "report.txt", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, clientID.String(), "report.txt"), storedPath)

	storedPath, err = Commit(dir, clientID, "report.txt", []byte("second"))
	require.NoError(t, err)
	contents, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(contents))

	entries, err := os.ReadDir(filepath.Join(dir, clientID.String()))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, Remove(storedPath))
	require.NoError(t, Remove(storedPath))
	_, err = os.Stat(storedPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanStaleTemporariesRemovesOnlyPartFiles(t *testing.T) {
	dir := t.TempDir()
	clientID := uuid.New()

	storedPath, err := Commit(dir, clientID, "keep.txt", []byte("kept"))
	require.NoError(t, err)
	clientDir := filepath.Dir(storedPath)
	stale := filepath.Join(clientDir, ".keep.txt.123.part")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(clientDir, "visible.part"), []byte("x"), 0o600))

	removed, err := CleanStaleTemporaries(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(storedPath)
	assert.NoError(t, err)

	removed, err = CleanStaleTemporaries(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStoragePathRejectsPathSeparators(t *testing.T) {
	dir := t.TempDir()
	clientID := uuid.New()

	for _, name := range []string{"plain.txt", ".hidden", "report v2.txt", "..dots"} {
		got, err := StoragePath(dir, clientID, name)
		require.NoError(t, err, name)
		assert.Equal(t, filepath.Join(dir, clientID.String(), name), got, name)
	}

	bad := []string{
		"",
		"  ",
		".",
		"..",
		"/",
		"../../etc/passwd",
		`..\..\windows\system.ini`,
		"/abs/path/file.bin",
		"docs/report.txt",
		`old\report.txt`,
	}
	for _, name := range bad {
		_, err := StoragePath(dir, clientID, name)
		assert.ErrorIs(t, err, ErrInvalidFilename, "%q", name)
	}

	_, err := Commit(dir, clientID, "docs/report.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidFilename)
}

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 0, ChunkCount(0, 16))
	assert.Equal(t, 0, ChunkCount(16, 0))
	assert.Equal(t, 1, ChunkCount(16, 16))
	assert.Equal(t, 2, ChunkCount(17, 16))
}
