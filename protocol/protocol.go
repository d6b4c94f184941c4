// Package protocol implements the binary wire format shared by the backup
// client and server: fixed-layout little-endian headers, fixed-width string
// fields and one explicit encoder/decoder per message payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the only protocol version this implementation speaks.
	Version = 3
	// RequestHeaderSize is client_id[16] + version:u8 + code:u16 + payload_size:u32.
	RequestHeaderSize = ClientIDSize + 1 + 2 + 4
	// ResponseHeaderSize is version:u8 + code:u16 + payload_size:u32.
	ResponseHeaderSize = 1 + 2 + 4
	// ClientIDSize is the width of a client identifier.
	ClientIDSize = 16
	// NameSize is the fixed width of username and filename fields.
	NameSize = 255
	// PublicKeySize is the fixed width of a serialized RSA public key.
	PublicKeySize = 160
	// WrappedKeySize is the width of an RSA-1024 wrapped symmetric key.
	WrappedKeySize = 128
	// FileChunkPrefixSize is the fixed part of a send-file payload before the chunk bytes.
	FileChunkPrefixSize = 4 + 4 + 2 + 2 + NameSize
	// DefaultMaxPayloadSize bounds a single request or response payload (16 MiB).
	DefaultMaxPayloadSize = 16 * 1024 * 1024
	// DefaultReadTimeout bounds each blocking frame read.
	DefaultReadTimeout = 60 * time.Second
)

// RequestCode identifies a client request.
type RequestCode uint16

const (
	RequestRegister      RequestCode = 1025
	RequestSendPublicKey RequestCode = 1026
	RequestReconnect     RequestCode = 1027
	RequestSendFile      RequestCode = 1028
	RequestChecksumOK    RequestCode = 1029
	RequestChecksumRetry RequestCode = 1030
	RequestChecksumAbort RequestCode = 1031
)

// ResponseCode identifies a server response.
type ResponseCode uint16

const (
	ResponseRegisterOK     ResponseCode = 1600
	ResponseRegisterFail   ResponseCode = 1601
	ResponsePublicKeyAck   ResponseCode = 1602
	ResponseFileReceived   ResponseCode = 1603
	ResponseAck            ResponseCode = 1604
	ResponseReconnectOK    ResponseCode = 1605
	ResponseReconnectFail  ResponseCode = 1606
	ResponseGeneralFailure ResponseCode = 1607
)

var (
	// ErrMalformedHeader indicates a short header or a payload that does not match its declared size.
	ErrMalformedHeader = errors.New("protocol: malformed header")
	// ErrUnsupportedVersion indicates a header carrying a version other than Version.
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")
	// ErrUnknownCode indicates an unrecognized request or response code.
	ErrUnknownCode = errors.New("protocol: unknown message code")
	// ErrMalformedPayload indicates a payload whose layout does not match its code.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	// ErrPayloadTooLarge indicates a declared payload size above the accepted limit.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max size")
)

var requestNames = map[RequestCode]string{
	RequestRegister:      "register",
	RequestSendPublicKey: "send_public_key",
	RequestReconnect:     "reconnect",
	RequestSendFile:      "send_file",
	RequestChecksumOK:    "checksum_ok",
	RequestChecksumRetry: "checksum_retry",
	RequestChecksumAbort: "checksum_abort",
}

var responseNames = map[ResponseCode]string{
	ResponseRegisterOK:     "register_ok",
	ResponseRegisterFail:   "register_fail",
	ResponsePublicKeyAck:   "public_key_ack",
	ResponseFileReceived:   "file_received",
	ResponseAck:            "ack",
	ResponseReconnectOK:    "reconnect_ok",
	ResponseReconnectFail:  "reconnect_fail",
	ResponseGeneralFailure: "general_failure",
}

// Valid reports whether c is a known request code.
func (c RequestCode) Valid() bool {
	_, ok := requestNames[c]
	return ok
}

func (c RequestCode) String() string {
	if name, ok := requestNames[c]; ok {
		return name
	}
	return "request(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether c is a known response code.
func (c ResponseCode) Valid() bool {
	_, ok := responseNames[c]
	return ok
}

func (c ResponseCode) String() string {
	if name, ok := responseNames[c]; ok {
		return name
	}
	return "response(" + strconv.Itoa(int(c)) + ")"
}

// RequestHeader prefixes every client request.
type RequestHeader struct {
	ClientID    uuid.UUID
	Version     uint8
	Code        RequestCode
	PayloadSize uint32
}

// ResponseHeader prefixes every server response.
type ResponseHeader struct {
	Version     uint8
	Code        ResponseCode
	PayloadSize uint32
}

// Request is one decoded client request.
type Request struct {
	Header  RequestHeader
	Payload []byte
}

// Response is one decoded server response.
type Response struct {
	Header  ResponseHeader
	Payload []byte
}

// NewRequest builds a request with the current version and a matching payload size.
func NewRequest(clientID uuid.UUID, code RequestCode, payload []byte) Request {
	return Request{
		Header: RequestHeader{
			ClientID:    clientID,
			Version:     Version,
			Code:        code,
			PayloadSize: uint32(len(payload)),
		},
		Payload: payload,
	}
}

// NewResponse builds a response with the current version and a matching payload size.
func NewResponse(code ResponseCode, payload []byte) Response {
	return Response{
		Header: ResponseHeader{
			Version:     Version,
			Code:        code,
			PayloadSize: uint32(len(payload)),
		},
		Payload: payload,
	}
}

// EncodeRequestHeader serializes h into RequestHeaderSize bytes.
func EncodeRequestHeader(h RequestHeader) []byte {
	buf := make([]byte, RequestHeaderSize)
	copy(buf[:ClientIDSize], h.ClientID[:])
	buf[16] = h.Version
	binary.LittleEndian.PutUint16(buf[17:19], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
	return buf
}

// DecodeRequestHeader parses the first RequestHeaderSize bytes of b.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) < RequestHeaderSize {
		return RequestHeader{}, fmt.Errorf("%w: got %d bytes want %d", ErrMalformedHeader, len(b), RequestHeaderSize)
	}

	var h RequestHeader
	copy(h.ClientID[:], b[:ClientIDSize])
	h.Version = b[16]
	h.Code = RequestCode(binary.LittleEndian.Uint16(b[17:19]))
	h.PayloadSize = binary.LittleEndian.Uint32(b[19:23])

	if h.Version != Version {
		return RequestHeader{}, fmt.Errorf("%w: got %d want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	if !h.Code.Valid() {
		return RequestHeader{}, fmt.Errorf("%w: %d", ErrUnknownCode, uint16(h.Code))
	}
	return h, nil
}

// EncodeResponseHeader serializes h into ResponseHeaderSize bytes.
func EncodeResponseHeader(h ResponseHeader) []byte {
	buf := make([]byte, ResponseHeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[3:7], h.PayloadSize)
	return buf
}

// DecodeResponseHeader parses the first ResponseHeaderSize bytes of b.
func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("%w: got %d bytes want %d", ErrMalformedHeader, len(b), ResponseHeaderSize)
	}

	h := ResponseHeader{
		Version:     b[0],
		Code:        ResponseCode(binary.LittleEndian.Uint16(b[1:3])),
		PayloadSize: binary.LittleEndian.Uint32(b[3:7]),
	}
	if h.Version != Version {
		return ResponseHeader{}, fmt.Errorf("%w: got %d want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	if !h.Code.Valid() {
		return ResponseHeader{}, fmt.Errorf("%w: %d", ErrUnknownCode, uint16(h.Code))
	}
	return h, nil
}
