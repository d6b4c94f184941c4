package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrNameTaken indicates a client name already owned by another identity.
	ErrNameTaken = errors.New("storage: client name already registered")
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

// SecurityEvent is one entry of the server's security audit trail.
type SecurityEvent struct {
	ID        int64
	EventType string
	// ClientID is uuid.Nil for events no client identity is tied to, such as
	// rejected registrations and framing errors.
	ClientID uuid.UUID
	// ClientName is filled in on reads when ClientID is a known client.
	ClientName string
	Details    map[string]any
	Severity   string
	Timestamp  int64
}

// Summary renders Details as sorted key=value pairs.
func (e SecurityEvent) Summary() string {
	if len(e.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Details))
	for key := range e.Details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, e.Details[key]))
	}
	return strings.Join(parts, " ")
}

// SecurityEventFilter narrows GetSecurityEvents query results.
type SecurityEventFilter struct {
	EventType     string
	ClientID      uuid.UUID
	ClientName    string
	Severity      string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

// FileFilter narrows ListFiles query results.
type FileFilter struct {
	ClientName     string
	UnverifiedOnly bool
	Limit          int
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
