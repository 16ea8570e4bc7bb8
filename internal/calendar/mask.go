package calendar

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var ErrInvalidMaskConfig = errors.New("calendar: invalid mask config")

// MaskConfig bounds how much of the true calendar is hidden or shifted.
type MaskConfig struct {
	// ConcealFraction caps the share of true slots withheld; must be in [0, 1).
	ConcealFraction float64
	JitterStep      time.Duration
	// MaxJitter must stay below SlotLength so a blind slot never leaves its window.
	MaxJitter time.Duration
}

// DefaultMaskConfig hides up to 30% of slots and snaps kept slots to :00 or :30.
func DefaultMaskConfig() MaskConfig {
	return MaskConfig{
		ConcealFraction: 0.3,
		JitterStep:      30 * time.Minute,
		MaxJitter:       30 * time.Minute,
	}
}

func (c MaskConfig) Validate() error {
	if c.ConcealFraction < 0 || c.ConcealFraction >= 1 || math.IsNaN(c.ConcealFraction) {
		return fmt.Errorf("%w: conceal_fraction %v not in [0,1)", ErrInvalidMaskConfig, c.ConcealFraction)
	}
	if c.MaxJitter < 0 || c.MaxJitter >= SlotLength {
		return fmt.Errorf("%w: max_jitter %v not in [0,%v)", ErrInvalidMaskConfig, c.MaxJitter, SlotLength)
	}
	if c.MaxJitter > 0 && c.JitterStep <= 0 {
		return fmt.Errorf("%w: jitter_step required when max_jitter is set", ErrInvalidMaskConfig)
	}
	return nil
}

// Mask turns true slots into blind slots. It is intentionally not
// idempotent: two runs over the same input may differ.
type Mask struct {
	cfg MaskConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMask builds a mask over src; a nil src seeds from the clock.
func NewMask(cfg MaskConfig, src rand.Source) (*Mask, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Mask{cfg: cfg, rng: rand.New(src)}, nil
}

// Apply conceals and jitters trueSlots. An empty input yields an empty
// result; a non-empty input always keeps at least one slot.
func (m *Mask) Apply(trueSlots []Slot) []Slot {
	n := len(trueSlots)
	if n == 0 {
		return []Slot{}
	}

	m.mu.Lock()
	hidden := m.pickHidden(n)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = m.jitter()
	}
	m.mu.Unlock()

	seen := make(map[int64]struct{}, n)
	out := make([]Slot, 0, n-len(hidden))
	for i, s := range trueSlots {
		if _, ok := hidden[i]; ok {
			continue
		}
		at := s.Start.Add(offsets[i])
		key := at.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Slot{Start: at, Kind: SlotBlind})
	}
	sortSlots(out)
	return out
}

func (m *Mask) pickHidden(n int) map[int]struct{} {
	limit := int(math.Floor(float64(n) * m.cfg.ConcealFraction))
	if limit >= n {
		limit = n - 1
	}
	count := m.rng.Intn(limit + 1)
	hidden := make(map[int]struct{}, count)
	for _, idx := range m.rng.Perm(n)[:count] {
		hidden[idx] = struct{}{}
	}
	return hidden
}

func (m *Mask) jitter() time.Duration {
	if m.cfg.MaxJitter <= 0 || m.cfg.JitterStep <= 0 {
		return 0
	}
	steps := int(m.cfg.MaxJitter / m.cfg.JitterStep)
	return time.Duration(m.rng.Intn(steps+1)) * m.cfg.JitterStep
}
