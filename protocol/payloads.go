package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// NamePayload is the body of register, reconnect and the three checksum
// verdict requests: one NameSize string.
type NamePayload struct {
	Name string
}

// EncodeNamePayload serializes p.
func EncodeNamePayload(p NamePayload) ([]byte, error) {
	return EncodeName(p.Name)
}

// DecodeNamePayload parses a NamePayload; the payload must be exactly NameSize bytes.
func DecodeNamePayload(b []byte) (NamePayload, error) {
	if len(b) != NameSize {
		return NamePayload{}, fmt.Errorf("%w: name payload is %d bytes want %d", ErrMalformedPayload, len(b), NameSize)
	}
	return NamePayload{Name: GetString(b)}, nil
}

// PublicKeyPayload is the body of a send-public-key request.
type PublicKeyPayload struct {
	Name      string
	PublicKey []byte
}

// EncodePublicKeyPayload serializes p; PublicKey must be exactly PublicKeySize bytes.
func EncodePublicKeyPayload(p PublicKeyPayload) ([]byte, error) {
	if len(p.PublicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes want %d", ErrMalformedPayload, len(p.PublicKey), PublicKeySize)
	}
	buf := make([]byte, NameSize+PublicKeySize)
	if err := PutString(buf[:NameSize], p.Name); err != nil {
		return nil, err
	}
	copy(buf[NameSize:], p.PublicKey)
	return buf, nil
}

// DecodePublicKeyPayload parses a PublicKeyPayload.
func DecodePublicKeyPayload(b []byte) (PublicKeyPayload, error) {
	if len(b) != NameSize+PublicKeySize {
		return PublicKeyPayload{}, fmt.Errorf("%w: public key payload is %d bytes want %d", ErrMalformedPayload, len(b), NameSize+PublicKeySize)
	}
	return PublicKeyPayload{
		Name:      GetString(b[:NameSize]),
		PublicKey: append([]byte(nil), b[NameSize:]...),
	}, nil
}

// FileChunk is the body of a send-file request: one encrypted slice of a file.
type FileChunk struct {
	EncryptedSize uint32
	OriginalSize  uint32
	PacketNumber  uint16
	TotalPackets  uint16
	Filename      string
	Data          []byte
}

// EncodeFileChunk serializes c. EncryptedSize must equal len(c.Data).
func EncodeFileChunk(c FileChunk) ([]byte, error) {
	if int(c.EncryptedSize) != len(c.Data) {
		return nil, fmt.Errorf("%w: declared chunk size %d but %d bytes present", ErrMalformedPayload, c.EncryptedSize, len(c.Data))
	}
	buf := make([]byte, FileChunkPrefixSize+len(c.Data))
	binary.LittleEndian.PutUint32(buf[0:4], c.EncryptedSize)
	binary.LittleEndian.PutUint32(buf[4:8], c.OriginalSize)
	binary.LittleEndian.PutUint16(buf[8:10], c.PacketNumber)
	binary.LittleEndian.PutUint16(buf[10:12], c.TotalPackets)
	if err := PutString(buf[12:FileChunkPrefixSize], c.Filename); err != nil {
		return nil, err
	}
	copy(buf[FileChunkPrefixSize:], c.Data)
	return buf, nil
}

// DecodeFileChunk parses a FileChunk and checks that the declared chunk size
// matches the bytes actually present.
func DecodeFileChunk(b []byte) (FileChunk, error) {
	if len(b) < FileChunkPrefixSize {
		return FileChunk{}, fmt.Errorf("%w: file chunk payload is %d bytes, prefix alone is %d", ErrMalformedPayload, len(b), FileChunkPrefixSize)
	}
	c := FileChunk{
		EncryptedSize: binary.LittleEndian.Uint32(b[0:4]),
		OriginalSize:  binary.LittleEndian.Uint32(b[4:8]),
		PacketNumber:  binary.LittleEndian.Uint16(b[8:10]),
		TotalPackets:  binary.LittleEndian.Uint16(b[10:12]),
		Filename:      GetString(b[12:FileChunkPrefixSize]),
	}
	data := b[FileChunkPrefixSize:]
	if int(c.EncryptedSize) != len(data) {
		return FileChunk{}, fmt.Errorf("%w: declared chunk size %d but %d bytes present", ErrMalformedPayload, c.EncryptedSize, len(data))
	}
	c.Data = append([]byte(nil), data...)
	return c, nil
}

// EncodeClientID serializes the client-id-only body of register-ok, ack and
// reconnect-fail responses.
func EncodeClientID(id uuid.UUID) []byte {
	return append([]byte(nil), id[:]...)
}

// DecodeClientID parses a client-id-only body.
func DecodeClientID(b []byte) (uuid.UUID, error) {
	if len(b) != ClientIDSize {
		return uuid.Nil, fmt.Errorf("%w: client id payload is %d bytes want %d", ErrMalformedPayload, len(b), ClientIDSize)
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// KeyPayload is the body of public-key-ack and reconnect-ok responses.
type KeyPayload struct {
	ClientID   uuid.UUID
	WrappedKey []byte
}

// EncodeKeyPayload serializes p; WrappedKey must be WrappedKeySize bytes.
func EncodeKeyPayload(p KeyPayload) ([]byte, error) {
	if len(p.WrappedKey) != WrappedKeySize {
		return nil, fmt.Errorf("%w: wrapped key is %d bytes want %d", ErrMalformedPayload, len(p.WrappedKey), WrappedKeySize)
	}
	buf := make([]byte, ClientIDSize+WrappedKeySize)
	copy(buf[:ClientIDSize], p.ClientID[:])
	copy(buf[ClientIDSize:], p.WrappedKey)
	return buf, nil
}

// DecodeKeyPayload parses a KeyPayload.
func DecodeKeyPayload(b []byte) (KeyPayload, error) {
	if len(b) != ClientIDSize+WrappedKeySize {
		return KeyPayload{}, fmt.Errorf("%w: key payload is %d bytes want %d", ErrMalformedPayload, len(b), ClientIDSize+WrappedKeySize)
	}
	var p KeyPayload
	copy(p.ClientID[:], b[:ClientIDSize])
	p.WrappedKey = append([]byte(nil), b[ClientIDSize:]...)
	return p, nil
}

// FileReceivedPayload is the body of a file-received response.
type FileReceivedPayload struct {
	ClientID    uuid.UUID
	ContentSize uint32
	Filename    string
	Checksum    uint32
}

const fileReceivedPayloadSize = ClientIDSize + 4 + NameSize + 4

// EncodeFileReceivedPayload serializes p.
func EncodeFileReceivedPayload(p FileReceivedPayload) ([]byte, error) {
	buf := make([]byte, fileReceivedPayloadSize)
	copy(buf[:ClientIDSize], p.ClientID[:])
	binary.LittleEndian.PutUint32(buf[16:20], p.ContentSize)
	if err := PutString(buf[20:20+NameSize], p.Filename); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(buf[20+NameSize:], p.Checksum)
	return buf, nil
}

// DecodeFileReceivedPayload parses a FileReceivedPayload.
func DecodeFileReceivedPayload(b []byte) (FileReceivedPayload, error) {
	if len(b) != fileReceivedPayloadSize {
		return FileReceivedPayload{}, fmt.Errorf("%w: file received payload is %d bytes want %d", ErrMalformedPayload, len(b), fileReceivedPayloadSize)
	}
	var p FileReceivedPayload
	copy(p.ClientID[:], b[:ClientIDSize])
	p.ContentSize = binary.LittleEndian.Uint32(b[16:20])
	p.Filename = GetString(b[20 : 20+NameSize])
	p.Checksum = binary.LittleEndian.Uint32(b[20+NameSize:])
	return p, nil
}
