package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry owns every live ClientSession. All access goes through its
// methods, which hold a single mutex.
type Registry struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*ClientSession
	byName map[string]*ClientSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uuid.UUID]*ClientSession),
		byName: make(map[string]*ClientSession),
	}
}

// Insert adds sess unless its name or id is already live. check runs under
// the registry lock after the in-memory checks pass, so two registrations for
// one name cannot both reach it; a non-nil result aborts the insert.
func (r *Registry) Insert(sess *ClientSession, check func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[sess.name]; exists {
		return fmt.Errorf("%w: %q is active", ErrDuplicateName, sess.name)
	}
	if _, exists := r.byID[sess.id]; exists {
		return fmt.Errorf("%w: id %s is active", ErrDuplicateName, sess.id)
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}

	r.byID[sess.id] = sess
	r.byName[sess.name] = sess
	return nil
}

// Replace installs sess, evicting any live session with the same id or name.
// Evicted sessions are returned so the caller can close them.
func (r *Registry) Replace(sess *ClientSession) []*ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := make([]*ClientSession, 0, 2)
	if old, ok := r.byID[sess.id]; ok {
		r.removeLocked(old)
		evicted = append(evicted, old)
	}
	if old, ok := r.byName[sess.name]; ok && (len(evicted) == 0 || evicted[0] != old) {
		r.removeLocked(old)
		evicted = append(evicted, old)
	}

	r.byID[sess.id] = sess
	r.byName[sess.name] = sess
	return evicted
}

// Lookup returns the live session for id.
func (r *Registry) Lookup(id uuid.UUID) (*ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// LookupName returns the live session for a case-sensitive username.
func (r *Registry) LookupName(name string) (*ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byName[name]
	return sess, ok
}

// Remove deletes sess if it is still the registered session for its id.
func (r *Registry) Remove(sess *ClientSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byID[sess.id]; !ok || current != sess {
		return false
	}
	r.removeLocked(sess)
	return true
}

// Sessions returns the live sessions ordered by name.
func (r *Registry) Sessions() []*ClientSession {
	r.mu.Lock()
	sessions := make([]*ClientSession, 0, len(r.byID))
	for _, sess := range r.byID {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].name < sessions[j].name
	})
	return sessions
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) removeLocked(sess *ClientSession) {
	if current, ok := r.byID[sess.id]; ok && current == sess {
		delete(r.byID, sess.id)
	}
	if current, ok := r.byName[sess.name]; ok && current == sess {
		delete(r.byName, sess.name)
	}
}
