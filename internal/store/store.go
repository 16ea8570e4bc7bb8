package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/lagom/internal/protocol"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrInvalidBooking = errors.New("store: invalid booking")
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Directory resolves participant and relationship snapshots.
type Directory interface {
	Participant(ctx context.Context, id string) (protocol.Participant, error)
	Participants(ctx context.Context) ([]protocol.Participant, error)
	PutParticipant(ctx context.Context, p protocol.Participant) error
	Relationship(ctx context.Context, initiatorID, targetID string) (protocol.Relationship, error)
	PutRelationship(ctx context.Context, rel protocol.Relationship) error
	// TouchRelationship sets LastInteraction on an existing relationship.
	TouchRelationship(ctx context.Context, initiatorID, targetID string, at time.Time) error
}

// Ledger records committed bookings. CountCommitted satisfies policy.QuotaCounter.
type Ledger interface {
	RecordBooking(ctx context.Context, b Booking) error
	Bookings(ctx context.Context, participantID string, since, until time.Time) ([]Booking, error)
	CountCommitted(ctx context.Context, participantID string, since, until time.Time) (int, error)
	// Prune drops bookings committed before cutoff and reports how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is a full backend.
type Store interface {
	Directory
	Ledger
	Close() error
}

// Booking is one participant's view of a committed session.
type Booking struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	CounterpartID string    `json:"counterpart_id"`
	Slot          time.Time `json:"slot"`
	CommittedAt   time.Time `json:"committed_at"`
}

func (b Booking) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidBooking)
	}
	if strings.TrimSpace(b.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidBooking)
	}
	if strings.TrimSpace(b.ParticipantID) == "" || strings.TrimSpace(b.CounterpartID) == "" {
		return fmt.Errorf("%w: missing parties", ErrInvalidBooking)
	}
	if b.Slot.IsZero() || b.CommittedAt.IsZero() {
		return fmt.Errorf("%w: missing times", ErrInvalidBooking)
	}
	return nil
}

// BookingsFor returns the two ledger entries one commit produces, one per party.
func BookingsFor(sessionID, initiatorID, receiverID string, slot, committedAt time.Time) []Booking {
	return []Booking{
		{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: initiatorID,
			CounterpartID: receiverID,
			Slot:          slot,
			CommittedAt:   committedAt,
		},
		{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: receiverID,
			CounterpartID: initiatorID,
			Slot:          slot,
			CommittedAt:   committedAt,
		},
	}
}

func inWindow(at, since, until time.Time) bool {
	return !at.Before(since) && at.Before(until)
}

func relationshipKey(initiatorID, targetID string) string {
	return initiatorID + "->" + targetID
}
