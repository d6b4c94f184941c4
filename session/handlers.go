package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appcrypto "github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/crypto"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

func (m *Manager) handleRegister(log logrus.FieldLogger, req protocol.Request) protocol.Response {
	payload, err := protocol.DecodeNamePayload(req.Payload)
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}

	log = log.WithField("name", payload.Name)
	id, err := m.register(payload.Name)
	if err != nil {
		m.logFailure(log, err)
		if errors.Is(err, ErrDuplicateName) {
			m.securityEvent(storage.EventRegistrationRejected, uuid.Nil, storage.SecuritySeverityInfo, map[string]any{
				"name": payload.Name,
			})
		}
		return protocol.NewResponse(protocol.ResponseRegisterFail, nil)
	}

	log.WithField("client_id", id).Info("client registered")
	return protocol.NewResponse(protocol.ResponseRegisterOK, protocol.EncodeClientID(id))
}

func (m *Manager) register(name string) (uuid.UUID, error) {
	if err := validateName(name); err != nil {
		return uuid.Nil, err
	}

	now := m.options.Now()
	sess := newClientSession(uuid.New(), name, now)
	err := m.registry.Insert(sess, func() error {
		if _, err := m.store.GetClientByName(name); err == nil {
			return fmt.Errorf("%w: %q is on record", ErrDuplicateName, name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return storageErr(err)
		}

		if err := m.store.CreateOrUpdateClient(models.Client{
			ID:       sess.id,
			Name:     name,
			LastSeen: now.UnixMilli(),
		}); err != nil {
			if errors.Is(err, storage.ErrNameTaken) {
				return fmt.Errorf("%w: %w", ErrDuplicateName, err)
			}
			return storageErr(err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return sess.id, nil
}

func (m *Manager) handleSendPublicKey(log logrus.FieldLogger, req protocol.Request) protocol.Response {
	payload, err := protocol.DecodePublicKeyPayload(req.Payload)
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}

	var wrapped []byte
	err = m.withSession(req.Header.ClientID, func(sess *ClientSession) error {
		if sess.name != payload.Name {
			return fmt.Errorf("%w: got %q", ErrNameMismatch, payload.Name)
		}

		publicKey, err := appcrypto.ParsePublicKey(payload.PublicKey)
		if err != nil {
			m.securityEvent(storage.EventInvalidPublicKey, sess.id, storage.SecuritySeverityWarning, map[string]any{
				"reason": err.Error(),
			})
			return err
		}
		sessionKey, err := appcrypto.GenerateSymmetricKey(sess.sessionKey)
		if err != nil {
			return err
		}
		wrapped, err = appcrypto.WrapSymmetricKey(publicKey, sessionKey)
		if err != nil {
			return err
		}

		if err := m.store.CreateOrUpdateClient(models.Client{
			ID:           sess.id,
			Name:         sess.name,
			PublicKey:    payload.PublicKey,
			SymmetricKey: sessionKey,
			LastSeen:     sess.lastActivity.UnixMilli(),
		}); err != nil {
			return storageErr(err)
		}

		sess.publicKey = payload.PublicKey
		sess.sessionKey = sessionKey
		sess.state = StateKeyExchanged
		if dropped := sess.discardTransfers(); dropped > 0 {
			log.WithField("dropped", dropped).Info("discarded transfers encrypted under the previous key")
		}
		return nil
	})
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}

	response, err := keyResponse(protocol.ResponsePublicKeyAck, req.Header.ClientID, wrapped)
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}
	log.WithField("fingerprint", appcrypto.KeyFingerprint(payload.PublicKey)).Info("public key accepted")
	return response
}

func (m *Manager) handleReconnect(log logrus.FieldLogger, req protocol.Request) protocol.Response {
	denied := protocol.NewResponse(protocol.ResponseReconnectFail, protocol.EncodeClientID(req.Header.ClientID))

	payload, err := protocol.DecodeNamePayload(req.Payload)
	if err != nil {
		m.logFailure(log, err)
		return denied
	}

	log = log.WithField("name", payload.Name)
	id, wrapped, err := m.reconnect(req.Header.ClientID, payload.Name)
	if err != nil {
		m.logFailure(log, err)
		m.securityEvent(storage.EventReconnectDenied, req.Header.ClientID, storage.SecuritySeverityWarning, map[string]any{
			"name":  payload.Name,
			"class": Classify(err).String(),
		})
		return denied
	}

	response, err := keyResponse(protocol.ResponseReconnectOK, id, wrapped)
	if err != nil {
		m.logFailure(log, err)
		return denied
	}
	log.WithField("client_id", id).Info("client reconnected")
	return response
}

func (m *Manager) reconnect(headerID uuid.UUID, name string) (uuid.UUID, []byte, error) {
	client, err := m.store.GetClientByName(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return uuid.Nil, nil, fmt.Errorf("%w: no identity named %q", ErrUnknownClient, name)
		}
		return uuid.Nil, nil, storageErr(err)
	}
	if headerID != client.ID {
		return uuid.Nil, nil, fmt.Errorf("%w: id %s does not own %q", ErrUnknownClient, headerID, name)
	}
	if !client.HasPublicKey() {
		return uuid.Nil, nil, fmt.Errorf("%w: %q", ErrNoPublicKey, name)
	}

	publicKey, err := appcrypto.ParsePublicKey(client.PublicKey)
	if err != nil {
		return uuid.Nil, nil, err
	}
	sessionKey, err := appcrypto.GenerateSymmetricKey(client.SymmetricKey)
	if err != nil {
		return uuid.Nil, nil, err
	}
	wrapped, err := appcrypto.WrapSymmetricKey(publicKey, sessionKey)
	if err != nil {
		return uuid.Nil, nil, err
	}

	now := m.options.Now()
	if err := m.store.CreateOrUpdateClient(models.Client{
		ID:           client.ID,
		Name:         client.Name,
		SymmetricKey: sessionKey,
		LastSeen:     now.UnixMilli(),
	}); err != nil {
		return uuid.Nil, nil, storageErr(err)
	}

	sess := newClientSession(client.ID, client.Name, now)
	sess.publicKey = client.PublicKey
	sess.sessionKey = sessionKey
	sess.state = StateKeyExchanged

	// Unconfirmed files from an evicted session stay tracked so the sweeper
	// can still clean them up.
	carried := make(map[string]string)
	for _, old := range m.registry.Replace(sess) {
		old.mu.Lock()
		old.closed = true
		for filename, path := range old.unverified {
			carried[filename] = path
		}
		old.unverified = nil
		old.transfers = nil
		old.mu.Unlock()
	}
	if len(carried) > 0 {
		sess.mu.Lock()
		for filename, path := range carried {
			if _, exists := sess.unverified[filename]; !exists {
				sess.unverified[filename] = path
			}
		}
		sess.mu.Unlock()
	}

	return client.ID, wrapped, nil
}

func (m *Manager) handleSendFile(log logrus.FieldLogger, req protocol.Request) protocol.Response {
	chunk, err := protocol.DecodeFileChunk(req.Payload)
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}

	log = log.WithFields(logrus.Fields{
		"filename": chunk.Filename,
		"packet":   chunk.PacketNumber,
		"total":    chunk.TotalPackets,
	})

	var response protocol.Response
	err = m.withSession(req.Header.ClientID, func(sess *ClientSession) error {
		if !sess.state.canTransfer() {
			return fmt.Errorf("%w: file chunk in state %s", ErrInvalidState, sess.state)
		}

		received, err := m.addChunk(sess, chunk)
		if err != nil {
			delete(sess.transfers, chunk.Filename)
			m.securityEvent(storage.EventTransferFailed, sess.id, storage.SecuritySeverityWarning, map[string]any{
				"filename": chunk.Filename,
				"reason":   err.Error(),
			})
			return err
		}
		if received == nil {
			response = ack(sess.id)
			return nil
		}

		payload, err := protocol.EncodeFileReceivedPayload(protocol.FileReceivedPayload{
			ClientID:    sess.id,
			ContentSize: received.EncryptedSize,
			Filename:    chunk.Filename,
			Checksum:    received.Checksum,
		})
		if err != nil {
			return err
		}
		response = protocol.NewResponse(protocol.ResponseFileReceived, payload)
		log.WithField("checksum", received.Checksum).Info("file received")
		return nil
	})
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}
	return response
}

// addChunk buffers chunk and, once the file is complete, reassembles,
// stores and records it. It returns nil until the last packet arrives.
// The session lock is held by the caller.
func (m *Manager) addChunk(sess *ClientSession, chunk protocol.FileChunk) (*transfer.Assembled, error) {
	now := m.options.Now()

	pending, ok := sess.transfers[chunk.Filename]
	complete := false
	if !ok {
		if _, err := transfer.StoragePath(m.options.FilesDir, sess.id, chunk.Filename); err != nil {
			return nil, err
		}
		created, err := transfer.NewPartialTransfer(chunk, now)
		if err != nil {
			return nil, err
		}
		pending = created
		sess.transfers[chunk.Filename] = pending
		complete = pending.Complete()
	} else {
		var err error
		if complete, err = pending.Add(chunk, now); err != nil {
			return nil, err
		}
	}
	sess.state = StateTransferring
	if !complete {
		return nil, nil
	}

	delete(sess.transfers, chunk.Filename)
	assembled, err := pending.Assemble(sess.sessionKey)
	if err != nil {
		return nil, err
	}
	storedPath, err := transfer.Commit(m.options.FilesDir, sess.id, chunk.Filename, assembled.Plaintext)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateFileRecord(models.FileRecord{
		ClientID:   sess.id,
		Filename:   chunk.Filename,
		StoredPath: storedPath,
		Filesize:   int64(len(assembled.Plaintext)),
		Checksum:   assembled.Checksum,
		ReceivedAt: now.UnixMilli(),
	}); err != nil {
		_ = transfer.Remove(storedPath)
		return nil, storageErr(err)
	}
	sess.unverified[chunk.Filename] = storedPath
	sess.committed[chunk.Filename] = struct{}{}
	return assembled, nil
}

func (m *Manager) handleChecksumReply(log logrus.FieldLogger, req protocol.Request) protocol.Response {
	payload, err := protocol.DecodeNamePayload(req.Payload)
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}
	filename := payload.Name
	log = log.WithField("filename", filename)

	err = m.withSession(req.Header.ClientID, func(sess *ClientSession) error {
		if !sess.state.canTransfer() {
			return fmt.Errorf("%w: checksum reply in state %s", ErrInvalidState, sess.state)
		}
		delete(sess.transfers, filename)

		switch req.Header.Code {
		case protocol.RequestChecksumOK:
			if err := m.store.MarkVerified(sess.id, filename); err != nil {
				return storageErr(err)
			}
			delete(sess.unverified, filename)
			sess.state = StateVerified
			log.Info("file verified")
		case protocol.RequestChecksumRetry:
			if err := m.discardFile(sess, filename); err != nil {
				return err
			}
			sess.state = StateTransferring
			log.Info("client will resend file")
		case protocol.RequestChecksumAbort:
			if err := m.discardFile(sess, filename); err != nil {
				return err
			}
			sess.state = StateAborted
			m.securityEvent(storage.EventTransferAborted, sess.id, storage.SecuritySeverityWarning, map[string]any{
				"filename": filename,
			})
			log.Warn("client aborted file after repeated checksum mismatch")
		}
		return nil
	})
	if err != nil {
		m.logFailure(log, err)
		return generalFailure()
	}
	return ack(req.Header.ClientID)
}

// discardFile deletes an unconfirmed stored file and its record. The session
// lock is held by the caller.
func (m *Manager) discardFile(sess *ClientSession, filename string) error {
	storedPath, ok := sess.unverified[filename]
	if !ok {
		return nil
	}
	if err := transfer.Remove(storedPath); err != nil {
		return err
	}
	if err := m.store.DeleteFileRecord(sess.id, filename); err != nil {
		return storageErr(err)
	}
	delete(sess.unverified, filename)
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: %q contains non-printable characters", ErrInvalidName, name)
		}
	}
	return nil
}

func keyResponse(code protocol.ResponseCode, id uuid.UUID, wrapped []byte) (protocol.Response, error) {
	payload, err := protocol.EncodeKeyPayload(protocol.KeyPayload{ClientID: id, WrappedKey: wrapped})
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.NewResponse(code, payload), nil
}
