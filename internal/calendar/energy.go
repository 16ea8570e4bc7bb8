package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lagom/internal/protocol"
)

// Category is the coarse kind of a scrubbed calendar block.
type Category uint8

const (
	CategoryMisc Category = iota
	CategoryWorkHigh
	CategoryWorkLow
	CategorySocial
	CategoryWellness
	CategoryTravel
)

var categoryNames = map[Category]string{
	CategoryMisc:     "misc",
	CategoryWorkHigh: "work_high",
	CategoryWorkLow:  "work_low",
	CategorySocial:   "social",
	CategoryWellness: "wellness",
	CategoryTravel:   "travel",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "misc"
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Drain thresholds for interruption rights.
const (
	openDrainBelow    = 30
	limitedDrainBelow = 60
	workHighAbove     = 70
)

var (
	panicWords    = []string{"deadline", "urgent", "important", "review", "fire", "negotiation"}
	chillWords    = []string{"lunch", "coffee", "gym", "walk", "break"}
	wellnessWords = []string{"therapy", "doctor", "meditation", "yoga"}

	wellnessTopics = []string{"therapy", "doctor", "medical", "gym", "yoga"}
	socialTopics   = []string{"lunch", "dinner", "drinks", "date", "party"}
	travelTopics   = []string{"flight", "train", "commute"}
	workTopics     = []string{"review", "sync", "meeting", "call", "deadline", "client"}
)

// EnergyBlock is a privacy-scrubbed busy range. It carries no event title.
type EnergyBlock struct {
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	Category        Category        `json:"category"`
	PrivacyLabel    string          `json:"privacy_label"`
	DrainScore      int             `json:"drain_score"`
	InterruptibleBy []protocol.Tier `json:"interruptible_by"`
}

// Overlaps reports whether the block intersects [from, to).
func (b EnergyBlock) Overlaps(from, to time.Time) bool {
	return from.Before(b.End) && b.Start.Before(to)
}

// InterruptibleByTier reports whether a tier may book over the block.
func (b EnergyBlock) InterruptibleByTier(t protocol.Tier) bool {
	for _, allowed := range b.InterruptibleBy {
		if allowed == t {
			return true
		}
	}
	return false
}

// DrainScore estimates how taxing an event is from its title and length.
func DrainScore(title string, durationMinutes int) int {
	t := strings.ToLower(title)
	score := 50
	if containsAny(t, panicWords) {
		score += 40
	}
	if containsAny(t, chillWords) {
		score -= 30
	}
	if containsAny(t, wellnessWords) {
		score -= 10
	}
	if durationMinutes > 90 {
		score += 20
	}
	if durationMinutes < 30 {
		score -= 10
	}
	return min(max(score, 0), 100)
}

// InterruptibleBy returns the tiers allowed to interrupt a block of the given drain.
// Lower drain never yields a smaller set than higher drain.
func InterruptibleBy(drain int) []protocol.Tier {
	switch {
	case drain < openDrainBelow:
		return protocol.AllTiers()
	case drain < limitedDrainBelow:
		return []protocol.Tier{protocol.TierInnerCircle}
	default:
		return []protocol.Tier{}
	}
}

// Classify maps an event onto a category and a privacy-safe label.
func Classify(title string, work bool, drain int) (Category, string) {
	t := strings.ToLower(title)
	switch {
	case containsAny(t, wellnessTopics):
		return CategoryWellness, "Health/Wellness"
	case containsAny(t, socialTopics):
		return CategorySocial, "Social"
	case containsAny(t, travelTopics):
		return CategoryTravel, "Transit"
	case containsAny(t, workTopics) || work:
		if drain > workHighAbove {
			return CategoryWorkHigh, "Deep Work"
		}
		return CategoryWorkLow, "Work"
	default:
		return CategoryMisc, "Busy"
	}
}

// Block scrubs one event into an energy block.
func Block(ev protocol.CalendarEvent) EnergyBlock {
	minutes := int(ev.End.Sub(ev.Start) / time.Minute)
	drain := DrainScore(ev.Summary, minutes)
	category, label := Classify(ev.Summary, ev.Work, drain)
	return EnergyBlock{
		Start:           ev.Start,
		End:             ev.End,
		Category:        category,
		PrivacyLabel:    label,
		DrainScore:      drain,
		InterruptibleBy: InterruptibleBy(drain),
	}
}

// Scrub filters raw events and converts the rest into energy blocks.
func Scrub(events []protocol.CalendarEvent, filters protocol.CalendarFilters) []EnergyBlock {
	out := make([]EnergyBlock, 0, len(events))
	for _, ev := range events {
		if ev.AllDay && filters.IgnoreAllDay {
			continue
		}
		if filters.FocusTimeIsFree && strings.Contains(strings.ToLower(ev.Summary), "focus time") {
			continue
		}
		out = append(out, Block(ev))
	}
	return out
}

func (b EnergyBlock) String() string {
	return fmt.Sprintf("%s[%s..%s drain=%d]", b.Category, b.Start.Format(time.Kitchen), b.End.Format(time.Kitchen), b.DrainScore)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
