// Package session implements the server side of the backup protocol: the
// live client registry, the per-client state machine, request handlers and
// the expiry sweep.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

const (
	// DefaultSessionTimeout expires sessions with no authenticated request.
	DefaultSessionTimeout = 10 * time.Minute
	// DefaultTransferTimeout expires partial transfers with no new chunk.
	DefaultTransferTimeout = 2 * time.Minute
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 30 * time.Second
)

// Persistence is the durable store the session layer depends on.
type Persistence interface {
	CreateOrUpdateClient(client models.Client) error
	GetClientByName(name string) (*models.Client, error)
	CreateFileRecord(record models.FileRecord) error
	MarkVerified(clientID uuid.UUID, filename string) error
	DeleteFileRecord(clientID uuid.UUID, filename string) error
	RecordSecurityEvent(eventType string, clientID uuid.UUID, severity string, details map[string]any) error
}

// Options configures a Manager.
type Options struct {
	FilesDir        string
	SessionTimeout  time.Duration
	TransferTimeout time.Duration
	SweepInterval   time.Duration
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

// Manager routes decoded requests to the session state machine.
type Manager struct {
	registry *Registry
	store    Persistence
	options  Options
	log      logrus.FieldLogger

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewManager builds a Manager around store.
func NewManager(store Persistence, options Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if options.FilesDir == "" {
		return nil, errors.New("session manager requires a files directory")
	}
	if options.SessionTimeout <= 0 {
		options.SessionTimeout = DefaultSessionTimeout
	}
	if options.TransferTimeout <= 0 {
		options.TransferTimeout = DefaultTransferTimeout
	}
	if options.SweepInterval <= 0 {
		options.SweepInterval = DefaultSweepInterval
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Manager{
		registry: NewRegistry(),
		store:    store,
		options:  options,
		log:      options.Logger.WithField("component", "session"),
		stop:     make(chan struct{}),
	}, nil
}

// Registry exposes the live session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Handle serves one request and always produces a response. Failures are
// logged in full and answered with the least revealing code for the request.
func (m *Manager) Handle(req protocol.Request) protocol.Response {
	log := m.log.WithFields(logrus.Fields{
		"client_id": req.Header.ClientID,
		"code":      req.Header.Code,
	})

	switch req.Header.Code {
	case protocol.RequestRegister:
		return m.handleRegister(log, req)
	case protocol.RequestSendPublicKey:
		return m.handleSendPublicKey(log, req)
	case protocol.RequestReconnect:
		return m.handleReconnect(log, req)
	case protocol.RequestSendFile:
		return m.handleSendFile(log, req)
	case protocol.RequestChecksumOK, protocol.RequestChecksumRetry, protocol.RequestChecksumAbort:
		return m.handleChecksumReply(log, req)
	default:
		m.logFailure(log, fmt.Errorf("%w: %d", protocol.ErrUnknownCode, uint16(req.Header.Code)))
		return generalFailure()
	}
}

// Start launches the expiry sweeper.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.sweepLoop()
	})
}

// Close stops the sweeper and waits for it to exit.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
	return nil
}

// withSession runs fn with the live session for id locked and its activity
// refreshed.
func (m *Manager) withSession(id uuid.UUID, fn func(sess *ClientSession) error) error {
	sess, ok := m.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	sess.lastActivity = m.options.Now()
	return fn(sess)
}

func (m *Manager) logFailure(log logrus.FieldLogger, err error) {
	log.WithFields(logrus.Fields{
		"class": Classify(err),
		"error": err.Error(),
	}).Warn("request failed")
}

func (m *Manager) securityEvent(eventType string, clientID uuid.UUID, severity string, details map[string]any) {
	if err := m.store.RecordSecurityEvent(eventType, clientID, severity, details); err != nil {
		m.log.WithFields(logrus.Fields{
			"event": eventType,
			"error": err.Error(),
		}).Error("record security event failed")
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func generalFailure() protocol.Response {
	return protocol.NewResponse(protocol.ResponseGeneralFailure, nil)
}

func ack(id uuid.UUID) protocol.Response {
	return protocol.NewResponse(protocol.ResponseAck, protocol.EncodeClientID(id))
}
