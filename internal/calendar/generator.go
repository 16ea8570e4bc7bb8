package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

var ErrInvalidGeneratorConfig = errors.New("calendar: invalid generator config")

// GeneratorConfig defines the lookahead horizon and waking hours.
type GeneratorConfig struct {
	HorizonDays  int
	WakingStart  int
	WakingEnd    int
	FocusedStart int
	Location     *time.Location
}

// DefaultGeneratorConfig looks three days ahead over 10:00-21:00,
// narrowed to 19:00-21:00 while focused.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		HorizonDays:  3,
		WakingStart:  10,
		WakingEnd:    21,
		FocusedStart: 19,
		Location:     time.UTC,
	}
}

func (c GeneratorConfig) Validate() error {
	if c.HorizonDays <= 0 {
		return fmt.Errorf("%w: horizon_days must be positive", ErrInvalidGeneratorConfig)
	}
	if c.WakingStart < 0 || c.WakingEnd > 24 || c.WakingStart >= c.WakingEnd {
		return fmt.Errorf("%w: waking hours %d-%d", ErrInvalidGeneratorConfig, c.WakingStart, c.WakingEnd)
	}
	if c.FocusedStart < c.WakingStart || c.FocusedStart > c.WakingEnd {
		return fmt.Errorf("%w: focused_start %d outside waking hours", ErrInvalidGeneratorConfig, c.FocusedStart)
	}
	return nil
}

// Input is the declared state a generator run is conditioned on.
type Input struct {
	Status    protocol.Status
	Blackouts []protocol.BlackoutWindow
	Busy      []EnergyBlock
	// Viewer is the tier of the party the availability is computed for.
	Viewer protocol.Tier
}

// InputFor builds generator input from a participant snapshot.
func InputFor(p protocol.Participant, status protocol.Status, viewer protocol.Tier) Input {
	return Input{
		Status:    status,
		Blackouts: p.Policy.BlackoutWindows,
		Busy:      Scrub(p.Calendar.Events, p.Calendar.Filters),
		Viewer:    viewer,
	}
}

// Generator enumerates true availability. Output depends only on config,
// input, and the reference time.
type Generator struct {
	cfg GeneratorConfig
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

func (g *Generator) Config() GeneratorConfig {
	return g.cfg
}

// Generate returns hourly true slots for the days after now.
func (g *Generator) Generate(in Input, now time.Time) []Slot {
	startHour := g.cfg.WakingStart
	if in.Status == protocol.StatusFocused {
		startHour = g.cfg.FocusedStart
	}

	local := now.In(g.cfg.Location)
	y, m, d := local.Date()

	slots := make([]Slot, 0, g.cfg.HorizonDays*(g.cfg.WakingEnd-startHour))
	for day := 1; day <= g.cfg.HorizonDays; day++ {
		for h := startHour; h < g.cfg.WakingEnd; h++ {
			from := time.Date(y, m, d+day, h, 0, 0, 0, g.cfg.Location)
			to := from.Add(SlotLength)
			if blackedOut(in.Blackouts, from, to) || busy(in.Busy, in.Viewer, from, to) {
				continue
			}
			slots = append(slots, Slot{Start: from, Kind: SlotTrue})
		}
	}
	return slots
}

func blackedOut(windows []protocol.BlackoutWindow, from, to time.Time) bool {
	for _, w := range windows {
		if w.Overlaps(from, to) {
			return true
		}
	}
	return false
}

func busy(blocks []EnergyBlock, viewer protocol.Tier, from, to time.Time) bool {
	for _, b := range blocks {
		if b.Overlaps(from, to) && !b.InterruptibleByTier(viewer) {
			return true
		}
	}
	return false
}
