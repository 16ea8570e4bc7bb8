package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

// Memory is an in-process Store.
type Memory struct {
	mu            sync.RWMutex
	participants  map[string]protocol.Participant
	relationships map[string]protocol.Relationship
	bookings      map[string][]Booking
}

func NewMemory() *Memory {
	return &Memory{
		participants:  make(map[string]protocol.Participant),
		relationships: make(map[string]protocol.Relationship),
		bookings:      make(map[string][]Booking),
	}
}

func (m *Memory) Participant(_ context.Context, id string) (protocol.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[strings.TrimSpace(id)]
	if !ok {
		return protocol.Participant{}, fmt.Errorf("%w: participant %q", ErrNotFound, id)
	}
	return p, nil
}

func (m *Memory) Participants(_ context.Context) ([]protocol.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutParticipant(_ context.Context, p protocol.Participant) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = p
	return nil
}

func (m *Memory) Relationship(_ context.Context, initiatorID, targetID string) (protocol.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relationships[relationshipKey(initiatorID, targetID)]
	if !ok {
		return protocol.Relationship{}, fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
	}
	return rel, nil
}

func (m *Memory) PutRelationship(_ context.Context, rel protocol.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships[relationshipKey(rel.InitiatorID, rel.TargetID)] = rel
	return nil
}

func (m *Memory) TouchRelationship(_ context.Context, initiatorID, targetID string, at time.Time) error {
	key := relationshipKey(initiatorID, targetID)
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.relationships[key]
	if !ok {
		return fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
	}
	rel.LastInteraction = at
	m.relationships[key] = rel
	return nil
}

func (m *Memory) RecordBooking(_ context.Context, b Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ParticipantID] = append(m.bookings[b.ParticipantID], b)
	return nil
}

func (m *Memory) Bookings(_ context.Context, participantID string, since, until time.Time) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Booking, 0)
	for _, b := range m.bookings[participantID] {
		if inWindow(b.CommittedAt, since, until) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	return out, nil
}

func (m *Memory) CountCommitted(ctx context.Context, participantID string, since, until time.Time) (int, error) {
	bookings, err := m.Bookings(ctx, participantID, since, until)
	if err != nil {
		return 0, err
	}
	return len(bookings), nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, list := range m.bookings {
		kept := list[:0]
		for _, b := range list {
			if b.CommittedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			delete(m.bookings, id)
			continue
		}
		m.bookings[id] = kept
	}
	return removed, nil
}

func (m *Memory) Close() error {
	return nil
}
