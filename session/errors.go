package session

import (
	"errors"
	"io/fs"
	"os"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

var (
	// ErrDuplicateName indicates a registration for a name that is active or already stored.
	ErrDuplicateName = errors.New("session: username already registered")
	// ErrInvalidName indicates an empty or unusable username.
	ErrInvalidName = errors.New("session: invalid username")
	// ErrUnknownClient indicates a request for a client id with no live session.
	ErrUnknownClient = errors.New("session: unknown client")
	// ErrSessionExpired indicates a session removed by the sweeper or replaced by a reconnect.
	ErrSessionExpired = errors.New("session: session expired")
	// ErrInvalidState indicates a request the session's current state does not allow.
	ErrInvalidState = errors.New("session: request not allowed in current state")
	// ErrNameMismatch indicates a payload username that differs from the session's.
	ErrNameMismatch = errors.New("session: username does not match session")
	// ErrNoPublicKey indicates a stored identity that never completed a key exchange.
	ErrNoPublicKey = errors.New("session: no public key on record")
	// ErrStorage marks a failure of the persistence collaborator.
	ErrStorage = errors.New("session: storage failure")
)

// ErrorClass groups request failures for logging and accounting. Clients only
// ever see a generic failure code.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassProtocol
	ClassCrypto
	ClassTransfer
	ClassSession
	ClassIO
)

func (c ErrorClass) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassCrypto:
		return "crypto"
	case ClassTransfer:
		return "transfer"
	case ClassSession:
		return "session"
	case ClassIO:
		return "io"
	default:
		return "unknown"
	}
}

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	switch {
	case isAny(err,
		protocol.ErrMalformedHeader,
		protocol.ErrUnsupportedVersion,
		protocol.ErrUnknownCode,
		protocol.ErrMalformedPayload,
		protocol.ErrPayloadTooLarge,
		protocol.ErrFieldTooLong,
	):
		return ClassProtocol
	case isAny(err,
		appcrypto.ErrInvalidKeySize,
		appcrypto.ErrUnwrapFailed,
		appcrypto.ErrInvalidPublicKey,
		appcrypto.ErrInvalidPrivateKey,
		appcrypto.ErrInvalidCiphertext,
		appcrypto.ErrInvalidPadding,
	):
		return ClassCrypto
	case isAny(err,
		transfer.ErrInconsistentMetadata,
		transfer.ErrPacketOutOfRange,
		transfer.ErrSizeMismatch,
		transfer.ErrIncomplete,
		transfer.ErrChecksumMismatch,
		transfer.ErrInvalidFilename,
		transfer.ErrFileTooLarge,
		transfer.ErrTooManyPackets,
	):
		return ClassTransfer
	case isAny(err,
		ErrDuplicateName,
		ErrInvalidName,
		ErrUnknownClient,
		ErrSessionExpired,
		ErrInvalidState,
		ErrNameMismatch,
		ErrNoPublicKey,
		storage.ErrNameTaken,
		storage.ErrNotFound,
	):
		return ClassSession
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.Is(err, ErrStorage) || errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return ClassIO
	}
	return ClassUnknown
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
