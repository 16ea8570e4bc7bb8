package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

// Gate names recorded on rejections.
const (
	GateStatus   = "status"
	GateTier     = "tier"
	GateQuota    = "quota"
	GateCooldown = "cooldown"
	GateCalendar = "calendar"
	GateInput    = "input"
)

// Input is one admission question: may initiator reach receiver over rel at Now.
type Input struct {
	Initiator    protocol.Participant
	Receiver     protocol.Participant
	Relationship protocol.Relationship
	Now          time.Time
}

// Decision is the result of one gate or of a full evaluation.
type Decision struct {
	Pass   bool          `json:"pass"`
	Code   protocol.Code `json:"code"`
	Reason string        `json:"reason,omitempty"`
	Gate   string        `json:"gate,omitempty"`
}

func Allow() Decision {
	return Decision{Pass: true, Code: protocol.CodeSuccess}
}

func Reject(gate string, code protocol.Code, format string, args ...any) Decision {
	return Decision{Code: code, Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// Gate is one admission rule.
type Gate interface {
	Name() string
	Check(ctx context.Context, in Input) Decision
}

// StatusGate rejects receivers whose declared state makes contact unwelcome.
type StatusGate struct{}

func (StatusGate) Name() string { return GateStatus }

func (StatusGate) Check(_ context.Context, in Input) Decision {
	status := in.Relationship.EffectiveStatus(in.Receiver)
	switch status {
	case protocol.StatusRecharging:
		return Reject(GateStatus, protocol.CodeBatteryReject, "%s is recharging", in.Receiver.DisplayName())
	case protocol.StatusFocused:
		if in.Relationship.Tier != protocol.TierInnerCircle {
			return Reject(GateStatus, protocol.CodeBatteryReject, "%s is focused; only inner circle may reach them", in.Receiver.DisplayName())
		}
	case protocol.StatusTraveling:
		if in.Relationship.Mode == protocol.ModeIRLOnly {
			return Reject(GateStatus, protocol.CodeHardReject, "%s is traveling and the relationship is in-person only", in.Receiver.DisplayName())
		}
	case protocol.StatusOpen:
	default:
		return Reject(GateStatus, protocol.CodeHardReject, "unknown status %d", uint8(status))
	}
	return Allow()
}

// TierGate enforces the receiver's accepted relationship tiers.
type TierGate struct{}

func (TierGate) Name() string { return GateTier }

func (TierGate) Check(_ context.Context, in Input) Decision {
	if !in.Receiver.Policy.Accepts(in.Relationship.Tier) {
		return Reject(GateTier, protocol.CodeHardReject, "%s does not accept %s connections", in.Receiver.DisplayName(), in.Relationship.Tier)
	}
	return Allow()
}

// QuotaCounter reports how many sessions a participant committed in [since, until).
type QuotaCounter interface {
	CountCommitted(ctx context.Context, participantID string, since, until time.Time) (int, error)
}

// QuotaCounterFunc adapts a function into a QuotaCounter.
type QuotaCounterFunc func(ctx context.Context, participantID string, since, until time.Time) (int, error)

func (f QuotaCounterFunc) CountCommitted(ctx context.Context, participantID string, since, until time.Time) (int, error) {
	return f(ctx, participantID, since, until)
}

// QuotaGate caps committed social events per calendar week.
type QuotaGate struct {
	Counter  QuotaCounter
	Location *time.Location
}

func (QuotaGate) Name() string { return GateQuota }

func (g QuotaGate) Check(ctx context.Context, in Input) Decision {
	limit := in.Receiver.Policy.MaxSocialEventsPerWeek
	if limit <= 0 {
		return Reject(GateQuota, protocol.CodeQuotaReject, "%s is not taking social events", in.Receiver.DisplayName())
	}
	since, until := Week(in.Now, g.Location)
	count := 0
	if g.Counter != nil {
		n, err := g.Counter.CountCommitted(ctx, in.Receiver.ID, since, until)
		if err != nil {
			return Reject(GateQuota, protocol.CodeHardReject, "quota lookup failed: %v", err)
		}
		count = n
	}
	if count >= limit {
		return Reject(GateQuota, protocol.CodeQuotaReject, "%s reached %d of %d social events this week", in.Receiver.DisplayName(), count, limit)
	}
	return Allow()
}

// CooldownGate enforces a minimum interval since the last interaction.
type CooldownGate struct {
	Min time.Duration
}

func (CooldownGate) Name() string { return GateCooldown }

func (g CooldownGate) Check(_ context.Context, in Input) Decision {
	last := in.Relationship.LastInteraction
	if g.Min <= 0 || last.IsZero() {
		return Allow()
	}
	if since := in.Now.Sub(last); since < g.Min {
		return Reject(GateCooldown, protocol.CodeDriftReject, "last interaction was %s ago; minimum is %s", since.Round(time.Minute), g.Min)
	}
	return Allow()
}

// WeekStart returns Monday 00:00 of the week containing t in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
}

// Week returns the [start, end) range of the week containing t.
func Week(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := WeekStart(t, loc)
	return start, start.AddDate(0, 0, 7)
}
