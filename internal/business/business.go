// Package business manages tenant records. Every query, session, embedding
// and usage counter in the system is scoped to a business.
package business

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a business account.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusTrial     Status = "TRIAL"
	StatusSuspended Status = "SUSPENDED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrial, StatusSuspended:
		return true
	}
	return false
}

// CanQuery reports whether a business in this status may run queries.
// Suspended accounts are rejected before any pipeline work happens.
func (s Status) CanQuery() bool {
	return s == StatusActive || s == StatusTrial
}

// Contact holds the business's published contact channels. It is injected
// into prompts and used to verify responses don't invent contact details.
type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
	Address string `json:"address,omitempty"`
}

// Business is a tenant account.
type Business struct {
	ID           uuid.UUID
	Name         string
	BusinessType string
	Description  string
	Contact      Contact
	Timezone     string
	Status       Status
	APIKey       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Sentinel errors returned by Store lookups.
var (
	ErrNotFound  = errors.New("business not found")
	ErrSuspended = errors.New("business is suspended")
	ErrDeleted   = errors.New("business is deleted")
)

const maxNameLength = 200

// validate checks required fields before insert/update.
func (b *Business) validate() error {
	if b.Name == "" {
		return errors.New("name is required")
	}
	if len(b.Name) > maxNameLength {
		return errors.New("name too long")
	}
	if !b.Status.Valid() {
		return errors.New("invalid status")
	}
	return nil
}
