package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

// State is a client session's position in the protocol lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateKeyExchanged
	StateTransferring
	StateVerified
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateKeyExchanged:
		return "key_exchanged"
	case StateTransferring:
		return "transferring"
	case StateVerified:
		return "verified"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// canTransfer reports whether file chunks and checksum replies are accepted.
func (s State) canTransfer() bool {
	switch s {
	case StateKeyExchanged, StateTransferring, StateVerified, StateAborted:
		return true
	default:
		return false
	}
}

// ClientSession is the live server-side state of one authenticated client.
// Fields are guarded by mu; lock the registry first when both are needed.
type ClientSession struct {
	mu sync.Mutex

	id           uuid.UUID
	name         string
	publicKey    []byte
	sessionKey   []byte
	state        State
	lastActivity time.Time

	transfers  map[string]*transfer.PartialTransfer
	unverified map[string]string
	// committed holds every filename this session has stored.
	committed map[string]struct{}

	closed bool
}

// Snapshot is a copy of a session's externally visible fields.
type Snapshot struct {
	ID           uuid.UUID
	Name         string
	State        State
	LastActivity time.Time
	HasKey       bool
	Fingerprint  string
	Transfers    int
	Unverified   []string
}

func newClientSession(id uuid.UUID, name string, now time.Time) *ClientSession {
	return &ClientSession{
		id:           id,
		name:         name,
		state:        StateRegistered,
		lastActivity: now,
		transfers:    make(map[string]*transfer.PartialTransfer),
		unverified:   make(map[string]string),
		committed:    make(map[string]struct{}),
	}
}

// ID returns the immutable client id.
func (s *ClientSession) ID() uuid.UUID {
	return s.id
}

// Name returns the immutable username.
func (s *ClientSession) Name() string {
	return s.name
}

// Snapshot copies the session's current fields under its lock.
func (s *ClientSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := ""
	if len(s.publicKey) > 0 {
		fingerprint = appcrypto.KeyFingerprint(s.publicKey)
	}
	unverified := make([]string, 0, len(s.unverified))
	for filename := range s.unverified {
		unverified = append(unverified, filename)
	}
	sort.Strings(unverified)
	return Snapshot{
		ID:           s.id,
		Name:         s.name,
		State:        s.state,
		LastActivity: s.lastActivity,
		HasKey:       len(s.sessionKey) > 0,
		Fingerprint:  fingerprint,
		Transfers:    len(s.transfers),
		Unverified:   unverified,
	}
}

// HasTransfer reports whether a partial transfer is buffered for filename.
func (s *ClientSession) HasTransfer(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.transfers[filename]
	return ok
}

func (s *ClientSession) discardTransfers() int {
	dropped := len(s.transfers)
	s.transfers = make(map[string]*transfer.PartialTransfer)
	return dropped
}
