package policy

import (
	"context"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

// Config tunes the evaluator.
type Config struct {
	// Location defines week boundaries for the quota gate.
	Location *time.Location
	// Cooldown enables the cooldown gate when positive.
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{Location: time.UTC}
}

// Evaluator runs gates in order and stops at the first rejection.
type Evaluator struct {
	gates []Gate
	now   func() time.Time
}

// NewEvaluator builds the standard gate chain: status, tier, quota, cooldown.
func NewEvaluator(cfg Config, counter QuotaCounter) *Evaluator {
	return NewEvaluatorWithGates(
		StatusGate{},
		TierGate{},
		QuotaGate{Counter: counter, Location: cfg.Location},
		CooldownGate{Min: cfg.Cooldown},
	)
}

func NewEvaluatorWithGates(gates ...Gate) *Evaluator {
	return &Evaluator{gates: gates, now: time.Now}
}

// WithClock replaces the evaluator clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// Gates returns the gate names in evaluation order.
func (e *Evaluator) Gates() []string {
	out := make([]string, 0, len(e.gates))
	for _, g := range e.gates {
		out = append(out, g.Name())
	}
	return out
}

func (e *Evaluator) Evaluate(ctx context.Context, initiator, receiver protocol.Participant, rel protocol.Relationship) Decision {
	return e.EvaluateInput(ctx, Input{
		Initiator:    initiator,
		Receiver:     receiver,
		Relationship: rel,
		Now:          e.now(),
	})
}

// EvaluateInput evaluates with an explicit reference time.
func (e *Evaluator) EvaluateInput(ctx context.Context, in Input) Decision {
	for _, g := range e.gates {
		if err := ctx.Err(); err != nil {
			return Reject(g.Name(), protocol.CodeHardReject, "evaluation abandoned: %v", err)
		}
		if d := g.Check(ctx, in); !d.Pass {
			if d.Gate == "" {
				d.Gate = g.Name()
			}
			return d
		}
	}
	return Allow()
}
