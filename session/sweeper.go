package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/storage"
	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/transfer"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	SessionsExpired  int
	TransfersExpired int
	FilesDiscarded   int
}

type expiredSession struct {
	sess       *ClientSession
	id         uuid.UUID
	name       string
	unverified map[string]string
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.options.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(m.options.Now())
		case <-m.stop:
			return
		}
	}
}

// Sweep expires sessions idle past the session timeout and partial transfers
// idle past the transfer timeout, whatever state they are in. An expired
// session takes its partial transfers and unconfirmed files with it.
func (m *Manager) Sweep(now time.Time) SweepResult {
	var (
		result  SweepResult
		expired []expiredSession
	)

	for _, sess := range m.registry.Sessions() {
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			continue
		}

		if now.Sub(sess.lastActivity) >= m.options.SessionTimeout {
			sess.closed = true
			result.TransfersExpired += sess.discardTransfers()
			expired = append(expired, expiredSession{
				sess:       sess,
				id:         sess.id,
				name:       sess.name,
				unverified: sess.unverified,
			})
			sess.unverified = make(map[string]string)
			sess.mu.Unlock()
			continue
		}

		for filename, pending := range sess.transfers {
			if pending.IdleFor(now) >= m.options.TransferTimeout {
				delete(sess.transfers, filename)
				result.TransfersExpired++
				m.log.WithFields(logrus.Fields{
					"client_id": sess.id,
					"filename":  filename,
					"received":  pending.Received(),
					"total":     pending.TotalPackets(),
				}).Info("partial transfer expired")
			}
		}
		sess.mu.Unlock()
	}

	for _, gone := range expired {
		m.registry.Remove(gone.sess)
		result.SessionsExpired++

		result.FilesDiscarded += m.discardExpired(gone)

		m.securityEvent(storage.EventSessionExpired, gone.id, storage.SecuritySeverityInfo, map[string]any{
			"name":       gone.name,
			"unverified": len(gone.unverified),
		})
		m.log.WithFields(logrus.Fields{
			"client_id": gone.id,
			"name":      gone.name,
		}).Info("session expired")
	}

	return result
}

// discardExpired deletes the unconfirmed files of an expired session. If a
// reconnect has installed a new session for the same client, the deletion
// runs under that session's lock and leaves alone every file it has stored
// since.
func (m *Manager) discardExpired(gone expiredSession) int {
	if current, ok := m.registry.Lookup(gone.id); ok && current != gone.sess {
		current.mu.Lock()
		defer current.mu.Unlock()
		for filename := range current.committed {
			delete(gone.unverified, filename)
		}
	}

	discarded := 0
	for filename, storedPath := range gone.unverified {
		log := m.log.WithFields(logrus.Fields{
			"client_id": gone.id,
			"filename":  filename,
		})
		if err := transfer.Remove(storedPath); err != nil {
			log.WithError(err).Error("remove unconfirmed file failed")
			continue
		}
		if err := m.store.DeleteFileRecord(gone.id, filename); err != nil {
			log.WithError(err).Error("delete unconfirmed file record failed")
			continue
		}
		discarded++
	}
	return discarded
}
