package handshake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/lagom/internal/calendar"
	"github.com/danmuck/lagom/internal/protocol"
)

var ErrSlotNotOffered = errors.New("handshake: slot not in offered blind set")

// Session is one negotiation attempt. Its log is append-only and closes
// after the first terminal step.
type Session struct {
	ID string

	mu      sync.RWMutex
	steps   []Step
	offered []calendar.Slot
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Append validates and stores step. Timestamps are clamped so the log never
// goes backwards. The stored step is returned.
func (s *Session) Append(step Step) (Step, error) {
	if err := step.Validate(); err != nil {
		return Step{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.steps); n > 0 {
		last := s.steps[n-1]
		if last.Kind.Terminal() {
			return Step{}, fmt.Errorf("%w: %s already recorded", ErrSessionClosed, last.Kind)
		}
		if step.Timestamp.Before(last.Timestamp) {
			step.Timestamp = last.Timestamp
		}
	}
	switch step.Kind {
	case StepProposalSent:
		if !s.offeredLocked(step.Proposal.Slot) {
			return Step{}, fmt.Errorf("%w: %s", ErrSlotNotOffered, step.Proposal.Slot.Format(time.RFC3339))
		}
	case StepCommit:
		if !s.offeredLocked(step.Commit.Slot) {
			return Step{}, fmt.Errorf("%w: %s", ErrSlotNotOffered, step.Commit.Slot.Format(time.RFC3339))
		}
	}
	s.steps = append(s.steps, step)
	return step, nil
}

// Offer records the receiver's blind set. It can only be set once.
func (s *Session) Offer(slots []calendar.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offered != nil {
		return fmt.Errorf("%w: blind set already offered", ErrSessionClosed)
	}
	s.offered = append([]calendar.Slot{}, slots...)
	return nil
}

func (s *Session) offeredLocked(at time.Time) bool {
	for _, slot := range s.offered {
		if slot.Start.Equal(at) {
			return true
		}
	}
	return false
}

// Offered returns a copy of the blind set shown to the initiator.
func (s *Session) Offered() []calendar.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]calendar.Slot{}, s.offered...)
}

// Steps returns a copy of the log.
func (s *Session) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Step{}, s.steps...)
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.steps)
	return n > 0 && s.steps[n-1].Kind.Terminal()
}

// Outcome summarizes a closed session. ok is false while the session is open.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.steps)
	if n == 0 || !s.steps[n-1].Kind.Terminal() {
		return Outcome{}, false
	}
	out := Outcome{
		SessionID: s.ID,
		Log:       append([]Step{}, s.steps...),
	}
	last := s.steps[n-1]
	switch last.Kind {
	case StepCommit:
		slot := last.Commit.Slot
		out.Code = protocol.CodeSuccess
		out.Slot = &slot
	case StepTerminate:
		out.Code = last.Terminate.Code
		out.Reason = last.Terminate.Reason
		out.Gate = last.Terminate.Gate
	}
	for _, step := range s.steps {
		if step.Kind == StepProposalSent {
			suggestion := step.Proposal.Suggestion
			out.Suggestion = &suggestion
		}
	}
	return out, true
}

// Outcome is the terminal result of one session.
type Outcome struct {
	SessionID  string        `json:"session_id"`
	Code       protocol.Code `json:"code"`
	Slot       *time.Time    `json:"committed_slot,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Gate       string        `json:"gate,omitempty"`
	Suggestion *Suggestion   `json:"suggestion,omitempty"`
	Log        []Step        `json:"log"`
}

func (o Outcome) Success() bool {
	return o.Code == protocol.CodeSuccess
}
