package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Participant is a read-only snapshot of one agent's declared state and policy.
type Participant struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Policy   Policy        `json:"policy"`
	Calendar CalendarState `json:"calendar"`
}

// Policy holds the receiver-side social rules.
type Policy struct {
	MaxSocialEventsPerWeek int              `json:"max_social_events_per_week"`
	BlackoutWindows        []BlackoutWindow `json:"blackout_windows,omitempty"`
	// AcceptTiers restricts which relationship tiers may negotiate; empty accepts all.
	AcceptTiers []Tier `json:"accept_tiers,omitempty"`
}

// CalendarState is the private calendar content a participant's agent guards.
type CalendarState struct {
	Events  []CalendarEvent `json:"events,omitempty"`
	Filters CalendarFilters `json:"filters"`
}

// CalendarEvent is one raw calendar entry before scrubbing.
type CalendarEvent struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day,omitempty"`
	Work    bool      `json:"work,omitempty"`
}

// CalendarFilters controls which raw events count as busy.
type CalendarFilters struct {
	IgnoreAllDay    bool `json:"ignore_all_day"`
	FocusTimeIsFree bool `json:"focus_time_is_free"`
}

// BlackoutWindow is a weekly recurring range closed to social events.
type BlackoutWindow struct {
	Day    Weekday   `json:"day"`
	Start  ClockTime `json:"start"`
	End    ClockTime `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

// Overlaps reports whether [from, to) intersects the window on its weekday.
// from and to are read in their own location.
func (b BlackoutWindow) Overlaps(from, to time.Time) bool {
	for day := dayStart(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != time.Weekday(b.Day) {
			continue
		}
		winStart := day.Add(time.Duration(b.Start) * time.Minute)
		winEnd := day.Add(time.Duration(b.End) * time.Minute)
		if from.Before(winEnd) && winStart.Before(to) {
			return true
		}
	}
	return false
}

func (b BlackoutWindow) Validate() error {
	if b.Day < Weekday(time.Sunday) || b.Day > Weekday(time.Saturday) {
		return fmt.Errorf("%w: invalid day %d", ErrInvalidPolicy, b.Day)
	}
	if !b.Start.Valid() || !b.End.Valid() {
		return fmt.Errorf("%w: invalid clock range", ErrInvalidPolicy)
	}
	if b.End <= b.Start {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidPolicy, b.End, b.Start)
	}
	return nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Weekday is time.Weekday with text encoding.
type Weekday time.Weekday

func (d Weekday) String() string {
	return time.Weekday(d).String()
}

func ParseWeekday(raw string) (Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || (len(key) == 3 && strings.HasPrefix(name, key)) {
			return Weekday(d), nil
		}
	}
	return 0, fmt.Errorf("%w: invalid weekday %q", ErrInvalidPolicy, raw)
}

func (d Weekday) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(text []byte) error {
	v, err := ParseWeekday(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ClockTime is minutes after midnight, encoded as "HH:MM".
// 24:00 is accepted as end of day.
type ClockTime int

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= 24*60
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func ParseClockTime(raw string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidPolicy, raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidPolicy, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidPolicy, raw)
	}
	c := ClockTime(h*60 + m)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidPolicy, raw)
	}
	return c, nil
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(text []byte) error {
	v, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (p Participant) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidParticipant)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %s: %w", ErrInvalidParticipant, p.ID, ErrInvalidStatus)
	}
	if err := p.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidParticipant, p.ID, err)
	}
	for i, ev := range p.Calendar.Events {
		if !ev.End.After(ev.Start) {
			return fmt.Errorf("%w: %s: events[%d] ends before it starts", ErrInvalidParticipant, p.ID, i)
		}
	}
	return nil
}

// DisplayName falls back to the id when no name is set.
func (p Participant) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.ID
}

func (p Policy) Validate() error {
	if p.MaxSocialEventsPerWeek < 0 {
		return fmt.Errorf("%w: negative weekly quota", ErrInvalidPolicy)
	}
	for i, b := range p.BlackoutWindows {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("blackout_windows[%d]: %w", i, err)
		}
	}
	for i, t := range p.AcceptTiers {
		if !t.Valid() {
			return fmt.Errorf("%w: accept_tiers[%d]: %w", ErrInvalidPolicy, i, ErrInvalidTier)
		}
	}
	return nil
}

// Accepts reports whether the policy admits a relationship tier.
func (p Policy) Accepts(t Tier) bool {
	if len(p.AcceptTiers) == 0 {
		return true
	}
	for _, allowed := range p.AcceptTiers {
		if allowed == t {
			return true
		}
	}
	return false
}

// Relationship is the initiator's directional view of the target.
type Relationship struct {
	InitiatorID        string          `json:"initiator_id"`
	TargetID           string          `json:"target_id"`
	Tier               Tier            `json:"tier"`
	DriftThresholdDays int             `json:"drift_threshold_days"`
	Mode               Mode            `json:"mode"`
	LastInteraction    time.Time       `json:"last_interaction"`
	Energy             Energy          `json:"energy,omitempty"`
	SharedInterests    []string        `json:"shared_interests,omitempty"`
	Override           *StatusOverride `json:"override,omitempty"`
}

// StatusOverride tightens the target's effective status for this relationship.
type StatusOverride struct {
	Active bool   `json:"active"`
	Status Status `json:"status"`
}

func (r Relationship) Validate() error {
	if strings.TrimSpace(r.InitiatorID) == "" {
		return fmt.Errorf("%w: missing initiator_id", ErrInvalidRelationship)
	}
	if strings.TrimSpace(r.TargetID) == "" {
		return fmt.Errorf("%w: missing target_id", ErrInvalidRelationship)
	}
	if r.InitiatorID == r.TargetID {
		return fmt.Errorf("%w: initiator and target are the same", ErrInvalidRelationship)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrInvalidTier)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrInvalidMode)
	}
	if r.DriftThresholdDays < 0 {
		return fmt.Errorf("%w: negative drift threshold", ErrInvalidRelationship)
	}
	if r.Energy != EnergyUnknown && !r.Energy.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRelationship, ErrInvalidEnergy)
	}
	if r.Override != nil && r.Override.Active && !r.Override.Status.Valid() {
		return fmt.Errorf("%w: override: %w", ErrInvalidRelationship, ErrInvalidStatus)
	}
	return nil
}

// EnergyCost defaults to medium when unset.
func (r Relationship) EnergyCost() Energy {
	if r.Energy.Valid() {
		return r.Energy
	}
	return EnergyMedium
}

// EffectiveStatus applies an active manual override to the target's status.
// An override may only tighten the declared status, never relax it.
func (r Relationship) EffectiveStatus(target Participant) Status {
	if r.Override != nil && r.Override.Active && statusRank(r.Override.Status) > statusRank(target.Status) {
		return r.Override.Status
	}
	return target.Status
}

// statusRank orders statuses from most to least reachable. Unknown values
// rank highest so they are never replaced.
func statusRank(s Status) int {
	switch s {
	case StatusOpen:
		return 1
	case StatusTraveling:
		return 2
	case StatusFocused:
		return 3
	case StatusRecharging:
		return 4
	default:
		return 5
	}
}
