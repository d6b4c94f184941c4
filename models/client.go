package models

import "github.com/google/uuid"

// Client represents a registered backup client identity.
type Client struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	PublicKey    []byte    `json:"public_key,omitempty"`
	SymmetricKey []byte    `json:"-"`
	RegisteredAt int64     `json:"registered_at"`
	LastSeen     int64     `json:"last_seen"`
}

// HasPublicKey reports whether the client completed a key exchange.
func (c Client) HasPublicKey() bool {
	return len(c.PublicKey) > 0
}
