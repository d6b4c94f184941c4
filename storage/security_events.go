package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Security event types written by the backup server.
const (
	EventRegistrationRejected  = "registration_rejected"
	EventReconnectDenied       = "reconnect_denied"
	EventInvalidPublicKey      = "invalid_public_key"
	EventTransferFailed        = "transfer_failed"
	EventTransferAborted       = "transfer_aborted"
	EventSessionExpired        = "session_expired"
	EventProtocolViolation     = "protocol_violation"
	EventConnectionRateLimited = "connection_rate_limited"
)

// SetSecurityEventRetention configures automatic security-event pruning horizon.
func (s *Store) SetSecurityEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultSecurityEventRetention
	}
	s.securityEventRetention = retention
}

// LogSecurityEvent appends event to the audit trail and prunes entries older
// than the retention horizon.
func (s *Store) LogSecurityEvent(event SecurityEvent) error {
	if strings.TrimSpace(event.EventType) == "" {
		return errors.New("event_type is required")
	}
	if event.Severity == "" {
		event.Severity = SecuritySeverityInfo
	}
	if err := validateSecuritySeverity(event.Severity); err != nil {
		return err
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode security event details: %w", err)
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	var clientID sql.NullString
	if event.ClientID != uuid.Nil {
		clientID = sql.NullString{String: event.ClientID.String(), Valid: true}
	}

	if _, err := s.db.Exec(
		`INSERT INTO security_events (
			event_type,
			client_id,
			details,
			severity,
			timestamp
		) VALUES (?, ?, ?, ?, ?)`,
		event.EventType,
		clientID,
		string(details),
		event.Severity,
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert security event %q: %w", event.EventType, err)
	}

	if s.securityEventRetention > 0 {
		cutoff := time.Now().Add(-s.securityEventRetention).UnixMilli()
		if _, err := s.PruneSecurityEvents(cutoff); err != nil {
			return fmt.Errorf("prune security events: %w", err)
		}
	}
	return nil
}

// RecordSecurityEvent logs an event stamped with the current time. A nil
// clientID records no client.
func (s *Store) RecordSecurityEvent(eventType string, clientID uuid.UUID, severity string, details map[string]any) error {
	return s.LogSecurityEvent(SecurityEvent{
		EventType: eventType,
		ClientID:  clientID,
		Details:   details,
		Severity:  severity,
	})
}

// GetSecurityEvents returns events newest first, each carrying the name of
// its client when that client is registered.
func (s *Store) GetSecurityEvents(filter SecurityEventFilter) ([]SecurityEvent, error) {
	if filter.Severity != "" {
		if err := validateSecuritySeverity(filter.Severity); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		e.id,
		e.event_type,
		e.client_id,
		c.name,
		e.details,
		e.severity,
		e.timestamp
	FROM security_events e
	LEFT JOIN clients c ON c.id = e.client_id`)

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)
	if filter.EventType != "" {
		where = append(where, "e.event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.ClientID != uuid.Nil {
		where = append(where, "e.client_id = ?")
		args = append(args, filter.ClientID.String())
	}
	if filter.ClientName != "" {
		where = append(where, "c.name = ?")
		args = append(args, filter.ClientName)
	}
	if filter.Severity != "" {
		where = append(where, "e.severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "e.timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}
	if filter.ToTimestamp != nil {
		where = append(where, "e.timestamp <= ?")
		args = append(args, *filter.ToTimestamp)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY e.timestamp DESC, e.id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get security events: %w", err)
	}
	defer rows.Close()

	events := make([]SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security event rows: %w", err)
	}
	return events, nil
}

// PruneSecurityEvents removes security events older than cutoffTimestamp.
func (s *Store) PruneSecurityEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM security_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for security event prune: %w", err)
	}
	return rowsAffected, nil
}

func scanSecurityEvent(row scanner) (*SecurityEvent, error) {
	var (
		event      SecurityEvent
		clientID   sql.NullString
		clientName sql.NullString
		details    string
	)
	if err := row.Scan(
		&event.ID,
		&event.EventType,
		&clientID,
		&clientName,
		&details,
		&event.Severity,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	if clientID.Valid {
		id, err := uuid.Parse(clientID.String)
		if err != nil {
			return nil, fmt.Errorf("parse client id %q: %w", clientID.String, err)
		}
		event.ClientID = id
	}
	event.ClientName = clientName.String
	if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return &event, nil
}
