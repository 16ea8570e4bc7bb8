package handshake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

var (
	ErrInvalidStep   = errors.New("handshake: invalid step")
	ErrSessionClosed = errors.New("handshake: session closed")
	ErrAbandoned     = errors.New("handshake: negotiation abandoned")
)

// StepKind names one logged protocol transition.
type StepKind uint8

const (
	StepUnknown StepKind = iota
	StepIntentSent
	StepAcknowledged
	StepProposalSent
	StepCommit
	StepTerminate
)

var stepNames = map[StepKind]string{
	StepIntentSent:   "intent_sent",
	StepAcknowledged: "acknowledged",
	StepProposalSent: "proposal_sent",
	StepCommit:       "commit",
	StepTerminate:    "terminate",
}

func (k StepKind) String() string {
	if name, ok := stepNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether k ends a session.
func (k StepKind) Terminal() bool {
	return k == StepCommit || k == StepTerminate
}

func (k StepKind) MarshalText() ([]byte, error) {
	if _, ok := stepNames[k]; !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidStep, k)
	}
	return []byte(k.String()), nil
}

func (k *StepKind) UnmarshalText(text []byte) error {
	for v, name := range stepNames {
		if name == strings.TrimSpace(string(text)) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("%w: kind %q", ErrInvalidStep, text)
}

// Actor is the party that produced a step.
type Actor uint8

const (
	ActorUnknown Actor = iota
	ActorInitiator
	ActorReceiver
)

func (a Actor) String() string {
	switch a {
	case ActorInitiator:
		return "initiator"
	case ActorReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

func (a Actor) MarshalText() ([]byte, error) {
	if a != ActorInitiator && a != ActorReceiver {
		return nil, fmt.Errorf("%w: actor %d", ErrInvalidStep, a)
	}
	return []byte(a.String()), nil
}

func (a *Actor) UnmarshalText(text []byte) error {
	switch strings.TrimSpace(string(text)) {
	case "initiator":
		*a = ActorInitiator
	case "receiver":
		*a = ActorReceiver
	default:
		return fmt.Errorf("%w: actor %q", ErrInvalidStep, text)
	}
	return nil
}

const (
	CategorySocialCatchup = "social_catchup"

	VibeSocial = "social"
	VibeLowKey = "low_key"

	CommitConfirmed = "confirmed"
)

// Intent opens a session.
type Intent struct {
	TargetID   string          `json:"target_id"`
	Category   string          `json:"category"`
	Mode       protocol.Mode   `json:"mode"`
	EnergyCost protocol.Energy `json:"energy_cost"`
}

// Ack carries the receiver's willingness and the size of its blind set.
// It never carries calendar content.
type Ack struct {
	BlindSlotCount int    `json:"blind_slot_count"`
	Vibe           string `json:"vibe"`
}

// Suggestion is the proposal's activity context.
type Suggestion struct {
	Title        string `json:"title"`
	LocationType string `json:"location_type"`
	Reasoning    string `json:"reasoning"`
}

// Proposal names the slot the initiator selected.
type Proposal struct {
	Slot       time.Time  `json:"slot"`
	Suggestion Suggestion `json:"suggestion"`
}

// Commit confirms the proposed slot.
type Commit struct {
	Status string    `json:"status"`
	Slot   time.Time `json:"slot"`
}

// Termination records why a session ended without a booking.
type Termination struct {
	Code   protocol.Code `json:"code"`
	Reason string        `json:"reason"`
	Gate   string        `json:"gate,omitempty"`
}

// Step is one immutable log entry. Exactly one payload field is set, matching Kind.
type Step struct {
	Kind      StepKind     `json:"step"`
	Actor     Actor        `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Intent    *Intent      `json:"intent,omitempty"`
	Ack       *Ack         `json:"ack,omitempty"`
	Proposal  *Proposal    `json:"proposal,omitempty"`
	Commit    *Commit      `json:"commit,omitempty"`
	Terminate *Termination `json:"terminate,omitempty"`
}

func (s Step) Validate() error {
	if s.Actor != ActorInitiator && s.Actor != ActorReceiver {
		return fmt.Errorf("%w: invalid actor", ErrInvalidStep)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidStep)
	}
	set := 0
	for _, present := range []bool{s.Intent != nil, s.Ack != nil, s.Proposal != nil, s.Commit != nil, s.Terminate != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidStep, set)
	}
	switch s.Kind {
	case StepIntentSent:
		if s.Intent == nil || strings.TrimSpace(s.Intent.TargetID) == "" {
			return fmt.Errorf("%w: intent payload missing target_id", ErrInvalidStep)
		}
	case StepAcknowledged:
		if s.Ack == nil || s.Ack.BlindSlotCount <= 0 {
			return fmt.Errorf("%w: ack payload requires blind slots", ErrInvalidStep)
		}
	case StepProposalSent:
		if s.Proposal == nil || s.Proposal.Slot.IsZero() {
			return fmt.Errorf("%w: proposal payload missing slot", ErrInvalidStep)
		}
	case StepCommit:
		if s.Commit == nil || s.Commit.Slot.IsZero() {
			return fmt.Errorf("%w: commit payload missing slot", ErrInvalidStep)
		}
	case StepTerminate:
		if s.Terminate == nil || !s.Terminate.Code.Valid() || s.Terminate.Code == protocol.CodeSuccess {
			return fmt.Errorf("%w: terminate payload requires a rejection code", ErrInvalidStep)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidStep, s.Kind)
	}
	return nil
}
