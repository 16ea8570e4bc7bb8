package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/enrich"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/outcome"
	"github.com/danmuck/lagom/internal/protocol"
	"github.com/danmuck/lagom/internal/store"
)

var (
	ErrUnknownParticipant  = errors.New("coordinator: unknown participant")
	ErrUnknownRelationship = errors.New("coordinator: unknown relationship")
	ErrPersist             = errors.New("coordinator: booking not persisted")
)

// Negotiator runs one session. *handshake.Engine satisfies it.
type Negotiator interface {
	Negotiate(ctx context.Context, req handshake.Request) (handshake.Outcome, error)
}

// Config tunes the caller layer.
type Config struct {
	Retry RetryConfig
	// Concurrency caps NegotiateMany; zero means 4.
	Concurrency int
	// EnrichTimeout bounds one enrichment render; zero disables the bound.
	EnrichTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:         DefaultRetryConfig(),
		Concurrency:   4,
		EnrichTimeout: 5 * time.Second,
	}
}

// Result is the caller-visible view of a negotiation, including retries.
type Result struct {
	Success       bool                  `json:"success"`
	Code          protocol.Code         `json:"code"`
	Signal        outcome.Signal        `json:"signal"`
	HumanMessage  string                `json:"human_message"`
	Retryable     bool                  `json:"retryable"`
	CommittedSlot *time.Time            `json:"committed_slot,omitempty"`
	Gate          string                `json:"gate,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	SessionID     string                `json:"session_id"`
	Attempts      int                   `json:"attempts"`
	Suggestion    *handshake.Suggestion `json:"suggestion,omitempty"`
	Note          string                `json:"note,omitempty"`
	Log           []handshake.Step      `json:"log"`
}

// Coordinator resolves ids, runs sessions, and persists commits.
type Coordinator struct {
	engine   Negotiator
	dir      store.Directory
	ledger   store.Ledger
	renderer enrich.Renderer
	cfg      Config
	log      zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	locks *participantLocks

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a coordinator. renderer may be nil to disable enrichment.
func New(engine Negotiator, dir store.Directory, ledger store.Ledger, renderer enrich.Renderer, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if renderer != nil {
		renderer = enrich.WithFallback(renderer, enrich.Static{})
	}
	return &Coordinator{
		engine:   engine,
		dir:      dir,
		ledger:   ledger,
		renderer: renderer,
		cfg:      cfg,
		log:      log.Logger,
		sleep:    sleepContext,
		locks:    newParticipantLocks(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Negotiate resolves both parties and runs sessions until one is not
// retryable or attempts are exhausted. rel overrides the stored relationship
// when non-nil.
func (c *Coordinator) Negotiate(ctx context.Context, initiatorID, receiverID string, rel *protocol.Relationship) (Result, error) {
	req, err := c.resolve(ctx, initiatorID, receiverID, rel)
	if err != nil {
		return Result{}, err
	}
	logger := c.log.With().Str("initiator", initiatorID).Str("receiver", receiverID).Logger()

	var (
		out        handshake.Outcome
		persistErr error
		attempts   int
	)
	for attempt := 1; attempt <= c.cfg.Retry.attempts(); attempt++ {
		attempts = attempt
		out, err = c.attempt(ctx, req)
		if errors.Is(err, ErrPersist) {
			persistErr = err
		} else if err != nil {
			return Result{}, err
		}
		if !outcome.Retryable(out.Code) || attempt == c.cfg.Retry.attempts() {
			break
		}
		delay := c.cfg.Retry.Backoff.Delay(attempt, c.random())
		logger.Info().
			Str("code", out.Code.String()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("negotiation_retry")
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	result := c.result(out, req.Receiver.DisplayName(), attempts)
	observability.RecordOutcome(result.Signal.String(), attempts)
	if !out.Success() {
		return result, nil
	}
	if persistErr != nil {
		logger.Error().Err(persistErr).Str("session_id", out.SessionID).Msg("booking_persist_failed")
		return result, persistErr
	}
	result.Note = c.enrich(ctx, req, out)
	return result, nil
}

// attempt runs one session with both parties locked, so the quota count the
// engine reads and the booking a commit writes cannot interleave with
// another session for either party. A failed write returns the outcome with
// an ErrPersist error.
func (c *Coordinator) attempt(ctx context.Context, req handshake.Request) (handshake.Outcome, error) {
	unlock, err := c.locks.Lock(ctx, req.Initiator.ID, req.Receiver.ID)
	if err != nil {
		return handshake.Outcome{}, fmt.Errorf("%w: %w", handshake.ErrAbandoned, err)
	}
	defer unlock()

	out, err := c.engine.Negotiate(ctx, req)
	if err != nil || !out.Success() {
		return out, err
	}
	if err := c.persist(ctx, req, out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return out, nil
}

func (c *Coordinator) resolve(ctx context.Context, initiatorID, receiverID string, rel *protocol.Relationship) (handshake.Request, error) {
	initiator, err := c.dir.Participant(ctx, initiatorID)
	if err != nil {
		return handshake.Request{}, participantErr(initiatorID, err)
	}
	receiver, err := c.dir.Participant(ctx, receiverID)
	if err != nil {
		return handshake.Request{}, participantErr(receiverID, err)
	}
	var relationship protocol.Relationship
	if rel != nil {
		relationship = *rel
	} else {
		relationship, err = c.dir.Relationship(ctx, initiatorID, receiverID)
		if errors.Is(err, store.ErrNotFound) {
			return handshake.Request{}, fmt.Errorf("%w: %s->%s", ErrUnknownRelationship, initiatorID, receiverID)
		}
		if err != nil {
			return handshake.Request{}, err
		}
	}
	return handshake.Request{Initiator: initiator, Receiver: receiver, Relationship: relationship}, nil
}

func participantErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, id)
	}
	return err
}

func (c *Coordinator) result(out handshake.Outcome, receiverName string, attempts int) Result {
	report := outcome.ForCode(out.Code, receiverName)
	return Result{
		Success:       out.Success(),
		Code:          out.Code,
		Signal:        report.Signal,
		HumanMessage:  report.Message,
		Retryable:     report.Retryable,
		CommittedSlot: out.Slot,
		Gate:          out.Gate,
		Reason:        out.Reason,
		SessionID:     out.SessionID,
		Attempts:      attempts,
		Suggestion:    out.Suggestion,
		Log:           out.Log,
	}
}

// persist records the booking for both parties and refreshes the
// relationship's last interaction.
func (c *Coordinator) persist(ctx context.Context, req handshake.Request, out handshake.Outcome) error {
	committedAt := out.Log[len(out.Log)-1].Timestamp
	for _, b := range store.BookingsFor(out.SessionID, req.Initiator.ID, req.Receiver.ID, *out.Slot, committedAt) {
		if err := c.ledger.RecordBooking(ctx, b); err != nil {
			return err
		}
	}
	err := c.dir.TouchRelationship(ctx, req.Relationship.InitiatorID, req.Relationship.TargetID, committedAt)
	if errors.Is(err, store.ErrNotFound) {
		// Ad hoc relationships supplied by the caller are not stored.
		return nil
	}
	return err
}

func (c *Coordinator) enrich(ctx context.Context, req handshake.Request, out handshake.Outcome) string {
	if c.renderer == nil {
		return ""
	}
	if c.cfg.EnrichTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EnrichTimeout)
		defer cancel()
	}
	in := enrich.Context{
		InitiatorName:   req.Initiator.DisplayName(),
		ReceiverName:    req.Receiver.DisplayName(),
		Slot:            *out.Slot,
		Mode:            req.Relationship.Mode,
		SharedInterests: req.Relationship.SharedInterests,
	}
	if out.Suggestion != nil {
		in.Title = out.Suggestion.Title
		in.LocationType = out.Suggestion.LocationType
		in.Reasoning = out.Suggestion.Reasoning
	}
	for _, step := range out.Log {
		if step.Ack != nil {
			in.Vibe = step.Ack.Vibe
		}
	}
	note, err := c.renderer.Render(ctx, in)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", out.SessionID).Msg("enrichment_failed")
		return ""
	}
	return note
}

func (c *Coordinator) random() *rand.Rand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rand.New(rand.NewSource(c.rng.Int63()))
}
