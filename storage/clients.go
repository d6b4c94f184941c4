package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
)

// CreateOrUpdateClient inserts a client or refreshes an existing one by id.
// An empty public key keeps the stored key. A name held by a different id
// fails with ErrNameTaken.
func (s *Store) CreateOrUpdateClient(client models.Client) error {
	if client.ID == uuid.Nil {
		return errors.New("client id is required")
	}
	if strings.TrimSpace(client.Name) == "" {
		return errors.New("client name is required")
	}
	if client.LastSeen == 0 {
		client.LastSeen = nowUnixMilli()
	}
	if client.RegisteredAt == 0 {
		client.RegisteredAt = client.LastSeen
	}

	_, err := s.db.Exec(
		`INSERT INTO clients (
			id,
			name,
			public_key,
			symmetric_key,
			registered_at,
			last_seen
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			public_key = COALESCE(excluded.public_key, clients.public_key),
			symmetric_key = COALESCE(excluded.symmetric_key, clients.symmetric_key),
			last_seen = excluded.last_seen`,
		client.ID.String(),
		client.Name,
		nullBytes(client.PublicKey),
		nullBytes(client.SymmetricKey),
		client.RegisteredAt,
		client.LastSeen,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrNameTaken, client.Name)
		}
		return fmt.Errorf("upsert client %q: %w", client.Name, err)
	}
	return nil
}

// GetClientByName fetches a client by its case-sensitive name.
func (s *Store) GetClientByName(name string) (*models.Client, error) {
	row := s.db.QueryRow(
		`SELECT
			id,
			name,
			public_key,
			symmetric_key,
			registered_at,
			last_seen
		FROM clients
		WHERE name = ?`,
		name,
	)

	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get client %q: %w", name, err)
	}
	return client, nil
}

// GetClientByID fetches a client by id.
func (s *Store) GetClientByID(id uuid.UUID) (*models.Client, error) {
	row := s.db.QueryRow(
		`SELECT
			id,
			name,
			public_key,
			symmetric_key,
			registered_at,
			last_seen
		FROM clients
		WHERE id = ?`,
		id.String(),
	)

	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get client %q: %w", id, err)
	}
	return client, nil
}

// ListClients returns all clients sorted by name.
func (s *Store) ListClients() ([]models.Client, error) {
	rows, err := s.db.Query(
		`SELECT
			id,
			name,
			public_key,
			symmetric_key,
			registered_at,
			last_seen
		FROM clients
		ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]models.Client, 0)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client row: %w", err)
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client rows: %w", err)
	}
	return clients, nil
}

func scanClient(row scanner) (*models.Client, error) {
	var (
		client models.Client
		id     string
	)
	if err := row.Scan(
		&id,
		&client.Name,
		&client.PublicKey,
		&client.SymmetricKey,
		&client.RegisteredAt,
		&client.LastSeen,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse client id %q: %w", id, err)
	}
	client.ID = parsed
	return &client, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
