package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidFixture = errors.New("config: invalid fixture")

// Fixture is a directory snapshot loaded from TOML: who exists, how they
// relate, and what their calendars hold.
type Fixture struct {
	// Now pins the negotiation clock for offline runs; zero means wall clock.
	Now           time.Time            `toml:"now"`
	Participants  []ParticipantConfig  `toml:"participants"`
	Relationships []RelationshipConfig `toml:"relationships"`
}

type ParticipantConfig struct {
	ID                     string           `toml:"id"`
	Name                   string           `toml:"name"`
	Status                 string           `toml:"status"`
	MaxSocialEventsPerWeek int              `toml:"max_social_events_per_week"`
	AcceptTiers            []string         `toml:"accept_tiers"`
	IgnoreAllDay           bool             `toml:"ignore_all_day"`
	FocusTimeIsFree        bool             `toml:"focus_time_is_free"`
	BlackoutWindows        []BlackoutConfig `toml:"blackout_windows"`
	Events                 []EventConfig    `toml:"events"`
}

type BlackoutConfig struct {
	Day    string `toml:"day"`
	Start  string `toml:"start"`
	End    string `toml:"end"`
	Reason string `toml:"reason"`
}

type EventConfig struct {
	Summary string    `toml:"summary"`
	Start   time.Time `toml:"start"`
	End     time.Time `toml:"end"`
	AllDay  bool      `toml:"all_day"`
	Work    bool      `toml:"work"`
}

type RelationshipConfig struct {
	Initiator          string    `toml:"initiator"`
	Target             string    `toml:"target"`
	Tier               string    `toml:"tier"`
	Mode               string    `toml:"mode"`
	DriftThresholdDays int       `toml:"drift_threshold_days"`
	LastInteraction    time.Time `toml:"last_interaction"`
	Energy             string    `toml:"energy"`
	SharedInterests    []string  `toml:"shared_interests"`
	// OverrideStatus forces the target's effective status when set.
	OverrideStatus string `toml:"override_status"`
}

func LoadFixture(path string) (Fixture, error) {
	var f Fixture
	if err := loadToml(path, &f); err != nil {
		return Fixture{}, err
	}
	if err := ValidateFixture(f); err != nil {
		return Fixture{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := toml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := ValidateFixture(f); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateFixture checks ids are unique, relationships reference known
// participants, and every entry converts to a valid snapshot.
func ValidateFixture(f Fixture) error {
	ids := make(map[string]struct{}, len(f.Participants))
	for i, p := range f.Participants {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%w: participants[%d]: id is required", ErrInvalidFixture, i)
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("%w: participants[%d]: duplicate id %q", ErrInvalidFixture, i, id)
		}
		ids[id] = struct{}{}
		if _, err := p.Participant(); err != nil {
			return fmt.Errorf("%w: participants[%d]: %w", ErrInvalidFixture, i, err)
		}
	}
	pairs := make(map[string]struct{}, len(f.Relationships))
	for i, r := range f.Relationships {
		for _, ref := range []string{r.Initiator, r.Target} {
			if _, ok := ids[strings.TrimSpace(ref)]; !ok {
				return fmt.Errorf("%w: relationships[%d]: unknown participant %q", ErrInvalidFixture, i, ref)
			}
		}
		key := strings.TrimSpace(r.Initiator) + "->" + strings.TrimSpace(r.Target)
		if _, dup := pairs[key]; dup {
			return fmt.Errorf("%w: relationships[%d]: duplicate pair %s", ErrInvalidFixture, i, key)
		}
		pairs[key] = struct{}{}
		if _, err := r.Relationship(); err != nil {
			return fmt.Errorf("%w: relationships[%d]: %w", ErrInvalidFixture, i, err)
		}
	}
	return nil
}
