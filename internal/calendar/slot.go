package calendar

import (
	"slices"
	"time"
)

// SlotLength is the width of one candidate availability window.
const SlotLength = time.Hour

// SlotKind distinguishes generator output from masked output.
type SlotKind uint8

const (
	SlotTrue SlotKind = iota + 1
	SlotBlind
)

func (k SlotKind) String() string {
	switch k {
	case SlotTrue:
		return "true"
	case SlotBlind:
		return "blind"
	default:
		return "unknown"
	}
}

func (k SlotKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Slot is one availability timestamp.
type Slot struct {
	Start time.Time `json:"start"`
	Kind  SlotKind  `json:"kind"`
}

// Contains reports whether t falls inside the window opened by s.
func (s Slot) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.Start.Add(SlotLength))
}

// Times returns the slot timestamps in order.
func Times(slots []Slot) []time.Time {
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start)
	}
	return out
}

// Covered reports whether t lies inside any of the windows.
func Covered(windows []Slot, t time.Time) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

func sortSlots(slots []Slot) {
	slices.SortFunc(slots, func(a, b Slot) int {
		return a.Start.Compare(b.Start)
	})
}
