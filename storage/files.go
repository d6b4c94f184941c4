package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
)

// CreateFileRecord stores an unverified file record. A record for the same
// client and filename is replaced and reset to unverified.
func (s *Store) CreateFileRecord(record models.FileRecord) error {
	if record.ClientID == uuid.Nil {
		return errors.New("client id is required")
	}
	if record.Filename == "" {
		return errors.New("filename is required")
	}
	if record.StoredPath == "" {
		return errors.New("stored_path is required")
	}
	if record.ReceivedAt == 0 {
		record.ReceivedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO files (
			client_id,
			filename,
			stored_path,
			filesize,
			checksum,
			verified,
			received_at,
			verified_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, NULL)
		ON CONFLICT(client_id, filename) DO UPDATE SET
			stored_path = excluded.stored_path,
			filesize = excluded.filesize,
			checksum = excluded.checksum,
			verified = 0,
			received_at = excluded.received_at,
			verified_at = NULL`,
		record.ClientID.String(),
		record.Filename,
		record.StoredPath,
		record.Filesize,
		int64(record.Checksum),
		record.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file record %q: %w", record.Filename, err)
	}
	return nil
}

// MarkVerified flags a file record as confirmed by the client.
func (s *Store) MarkVerified(clientID uuid.UUID, filename string) error {
	res, err := s.db.Exec(
		`UPDATE files
		SET verified = 1,
		    verified_at = ?
		WHERE client_id = ? AND filename = ?`,
		nowUnixMilli(),
		clientID.String(),
		filename,
	)
	if err != nil {
		return fmt.Errorf("mark file verified %q: %w", filename, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for verify %q: %w", filename, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFileRecord removes a file record. Deleting an absent record is not an error.
func (s *Store) DeleteFileRecord(clientID uuid.UUID, filename string) error {
	if _, err := s.db.Exec(
		`DELETE FROM files WHERE client_id = ? AND filename = ?`,
		clientID.String(),
		filename,
	); err != nil {
		return fmt.Errorf("delete file record %q: %w", filename, err)
	}
	return nil
}

// GetFileRecord fetches one file record.
func (s *Store) GetFileRecord(clientID uuid.UUID, filename string) (*models.FileRecord, error) {
	row := s.db.QueryRow(
		`SELECT
			f.client_id,
			c.name,
			f.filename,
			f.stored_path,
			f.filesize,
			f.checksum,
			f.verified,
			f.received_at,
			f.verified_at
		FROM files f
		JOIN clients c ON c.id = f.client_id
		WHERE f.client_id = ? AND f.filename = ?`,
		clientID.String(),
		filename,
	)

	record, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file record %q: %w", filename, err)
	}
	return record, nil
}

// ListFiles returns file records, newest first.
func (s *Store) ListFiles(filter FileFilter) ([]models.FileRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		f.client_id,
		c.name,
		f.filename,
		f.stored_path,
		f.filesize,
		f.checksum,
		f.verified,
		f.received_at,
		f.verified_at
	FROM files f
	JOIN clients c ON c.id = f.client_id`)

	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.ClientName != "" {
		where = append(where, "c.name = ?")
		args = append(args, filter.ClientName)
	}
	if filter.UnverifiedOnly {
		where = append(where, "f.verified = 0")
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY f.received_at DESC, c.name, f.filename LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	records := make([]models.FileRecord, 0)
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return records, nil
}

func scanFileRecord(row scanner) (*models.FileRecord, error) {
	var (
		record     models.FileRecord
		clientID   string
		checksum   int64
		verified   int
		verifiedAt sql.NullInt64
	)
	if err := row.Scan(
		&clientID,
		&record.ClientName,
		&record.Filename,
		&record.StoredPath,
		&record.Filesize,
		&checksum,
		&verified,
		&record.ReceivedAt,
		&verifiedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(clientID)
	if err != nil {
		return nil, fmt.Errorf("parse client id %q: %w", clientID, err)
	}
	record.ClientID = parsed
	record.Checksum = uint32(checksum)
	record.Verified = verified == 1
	if verifiedAt.Valid {
		record.VerifiedAt = verifiedAt.Int64
	}
	return &record, nil
}
