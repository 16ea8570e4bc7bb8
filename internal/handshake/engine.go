package handshake

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/calendar"
	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/policy"
	"github.com/danmuck/lagom/internal/protocol"
)

// Config groups the collaborator settings for an Engine.
type Config struct {
	Generator calendar.GeneratorConfig
	Mask      calendar.MaskConfig
	Policy    policy.Config
	// CheckInitiatorCalendar limits proposals to blind slots that also fall
	// inside the initiator's own windows. Off by default.
	CheckInitiatorCalendar bool
}

func DefaultConfig() Config {
	return Config{
		Generator: calendar.DefaultGeneratorConfig(),
		Mask:      calendar.DefaultMaskConfig(),
		Policy:    policy.DefaultConfig(),
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects the step clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRandSource seeds the privacy mask.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.src = src }
}

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithIDs replaces session id generation.
func WithIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.nextID = next
		}
	}
}

// Request is the snapshot set one negotiation runs against.
type Request struct {
	Initiator    protocol.Participant  `json:"initiator"`
	Receiver     protocol.Participant  `json:"receiver"`
	Relationship protocol.Relationship `json:"relationship"`
}

func (r Request) Validate() error {
	if err := r.Initiator.Validate(); err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	if err := r.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if err := r.Relationship.Validate(); err != nil {
		return err
	}
	if r.Relationship.InitiatorID != r.Initiator.ID || r.Relationship.TargetID != r.Receiver.ID {
		return fmt.Errorf("%w: relationship %s->%s does not match pair %s->%s",
			protocol.ErrInvalidRelationship,
			r.Relationship.InitiatorID, r.Relationship.TargetID,
			r.Initiator.ID, r.Receiver.ID)
	}
	return nil
}

// Engine runs negotiation sessions. It is safe for concurrent use; each
// session is sequential.
type Engine struct {
	generator *calendar.Generator
	mask      *calendar.Mask
	evaluator *policy.Evaluator
	checkOwn  bool

	now    func() time.Time
	src    rand.Source
	nextID func() string
	log    zerolog.Logger
}

func NewEngine(cfg Config, counter policy.QuotaCounter, opts ...Option) (*Engine, error) {
	e := &Engine{
		now:    time.Now,
		nextID: uuid.NewString,
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	gen, err := calendar.NewGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	mask, err := calendar.NewMask(cfg.Mask, e.src)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Location == nil {
		cfg.Policy.Location = gen.Config().Location
	}
	e.generator = gen
	e.mask = mask
	e.evaluator = policy.NewEvaluator(cfg.Policy, counter).WithClock(e.now)
	e.checkOwn = cfg.CheckInitiatorCalendar
	return e, nil
}

// Negotiate runs one session to its terminal step. The error is non-nil only
// when ctx ends first; in that case no outcome exists.
func (e *Engine) Negotiate(ctx context.Context, req Request) (Outcome, error) {
	sess, err := e.Run(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	out, _ := sess.Outcome()
	return out, nil
}

// Run is Negotiate that also returns the session, including the offered blind set.
func (e *Engine) Run(ctx context.Context, req Request) (*Session, error) {
	started := time.Now()
	sess := NewSession(e.nextID())
	logger := e.log.With().
		Str("session_id", sess.ID).
		Str("initiator", req.Relationship.InitiatorID).
		Str("receiver", req.Relationship.TargetID).
		Logger()

	if err := e.run(ctx, sess, req, logger); err != nil {
		logger.Warn().Err(err).Int("steps", len(sess.Steps())).Msg("negotiation_abandoned")
		return sess, err
	}

	out, _ := sess.Outcome()
	observability.RecordNegotiation(out.Code.String(), out.Gate, time.Since(started))
	event := logger.Info()
	if out.Slot != nil {
		event = event.Time("slot", *out.Slot)
	}
	event.
		Str("code", out.Code.String()).
		Str("gate", out.Gate).
		Int("steps", len(out.Log)).
		Msg("negotiation_complete")
	return sess, nil
}

func (e *Engine) run(ctx context.Context, sess *Session, req Request, logger zerolog.Logger) error {
	if err := abandoned(ctx); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return e.terminate(sess, ActorInitiator, protocol.CodeHardReject, policy.GateInput, err.Error(), logger)
	}

	rel := req.Relationship
	now := e.now()

	// Init -> IntentSent
	intent := &Intent{
		TargetID:   req.Receiver.ID,
		Category:   CategorySocialCatchup,
		Mode:       rel.Mode,
		EnergyCost: rel.EnergyCost(),
	}
	if err := e.record(sess, Step{Kind: StepIntentSent, Actor: ActorInitiator, Intent: intent}, logger); err != nil {
		return e.fault(sess, ActorInitiator, err, logger)
	}

	// IntentSent -> Acknowledged | Terminated
	if err := abandoned(ctx); err != nil {
		return err
	}
	decision := e.evaluator.EvaluateInput(ctx, policy.Input{
		Initiator:    req.Initiator,
		Receiver:     req.Receiver,
		Relationship: rel,
		Now:          now,
	})
	if err := abandoned(ctx); err != nil {
		return err
	}
	if !decision.Pass {
		return e.terminate(sess, ActorReceiver, decision.Code, decision.Gate, decision.Reason, logger)
	}

	status := rel.EffectiveStatus(req.Receiver)
	truth := e.generator.Generate(calendar.InputFor(req.Receiver, status, rel.Tier), now)
	blind := e.mask.Apply(truth)
	if err := sess.Offer(blind); err != nil {
		return e.fault(sess, ActorReceiver, err, logger)
	}
	observability.RecordBlindSlots(len(blind))
	logger.Debug().Int("true_slots", len(truth)).Int("blind_slots", len(blind)).Msg("receiver_masked")
	if len(blind) == 0 {
		return e.terminate(sess, ActorReceiver, protocol.CodeCalendarReject, policy.GateCalendar,
			"no availability after masking", logger)
	}

	vibe := VibeLowKey
	if status == protocol.StatusOpen {
		vibe = VibeSocial
	}
	ack := &Ack{BlindSlotCount: len(blind), Vibe: vibe}
	if err := e.record(sess, Step{Kind: StepAcknowledged, Actor: ActorReceiver, Ack: ack}, logger); err != nil {
		return e.fault(sess, ActorReceiver, err, logger)
	}

	// Acknowledged -> ProposalSent | Terminated
	if err := abandoned(ctx); err != nil {
		return err
	}
	slot := blind[0].Start
	if e.checkOwn {
		own := e.generator.Generate(calendar.InputFor(req.Initiator, req.Initiator.Status, rel.Tier), now)
		matched, ok := Select(blind, own)
		if !ok {
			return e.terminate(sess, ActorInitiator, protocol.CodeCalendarReject, policy.GateCalendar,
				"initiator could not match any blind slot", logger)
		}
		slot = matched
	}
	proposal := &Proposal{Slot: slot, Suggestion: Suggest(rel, vibe)}
	if err := e.record(sess, Step{Kind: StepProposalSent, Actor: ActorInitiator, Proposal: proposal}, logger); err != nil {
		return e.fault(sess, ActorInitiator, err, logger)
	}

	// ProposalSent -> Committed
	if err := abandoned(ctx); err != nil {
		return err
	}
	commit := &Commit{Status: CommitConfirmed, Slot: slot}
	if err := e.record(sess, Step{Kind: StepCommit, Actor: ActorReceiver, Commit: commit}, logger); err != nil {
		return e.fault(sess, ActorReceiver, err, logger)
	}
	return nil
}

// Select returns the earliest blind slot whose start lies inside one of the
// initiator's own true windows.
func Select(blind, own []calendar.Slot) (time.Time, bool) {
	for _, s := range blind {
		if calendar.Covered(own, s.Start) {
			return s.Start, true
		}
	}
	return time.Time{}, false
}

func (e *Engine) record(sess *Session, step Step, logger zerolog.Logger) error {
	step.Timestamp = e.now()
	stored, err := sess.Append(step)
	if err != nil {
		return err
	}
	observability.RecordStep(stored.Kind.String(), stored.Actor.String())
	logger.Debug().
		Str("step", stored.Kind.String()).
		Str("actor", stored.Actor.String()).
		Time("at", stored.Timestamp).
		Msg("negotiation_step")
	return nil
}

func (e *Engine) terminate(sess *Session, actor Actor, code protocol.Code, gate, reason string, logger zerolog.Logger) error {
	step := Step{
		Kind:      StepTerminate,
		Actor:     actor,
		Terminate: &Termination{Code: code, Reason: reason, Gate: gate},
	}
	return e.record(sess, step, logger)
}

// fault closes a session whose own bookkeeping failed. The engine never
// commits past an internal error.
func (e *Engine) fault(sess *Session, actor Actor, cause error, logger zerolog.Logger) error {
	logger.Error().Err(cause).Msg("negotiation_fault")
	if err := e.terminate(sess, actor, protocol.CodeHardReject, policy.GateInput, "internal: "+cause.Error(), logger); err != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return nil
}

func abandoned(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAbandoned, err)
	}
	return nil
}
