package models

import "github.com/google/uuid"

// FileRecord represents one backed-up file stored for a client.
type FileRecord struct {
	ClientID   uuid.UUID `json:"client_id"`
	ClientName string    `json:"client_name,omitempty"`
	Filename   string    `json:"filename"`
	StoredPath string    `json:"stored_path"`
	Filesize   int64     `json:"filesize"`
	Checksum   uint32    `json:"checksum"`
	Verified   bool      `json:"verified"`
	ReceivedAt int64     `json:"received_at"`
	VerifiedAt int64     `json:"verified_at,omitempty"`
}
