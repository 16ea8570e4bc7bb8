package handshake

import (
	"fmt"
	"strings"

	"github.com/danmuck/lagom/internal/protocol"
)

const (
	LocationVideoCall   = "video_call"
	LocationQuietCafe   = "quiet_cafe"
	LocationQuietBar    = "quiet_bar"
	LocationActiveVenue = "active_venue"
)

// Suggest picks a proposal context from the relationship and the receiver's vibe.
// It is deterministic and never consults external services.
func Suggest(rel protocol.Relationship, vibe string) Suggestion {
	energy := rel.EnergyCost()
	s := Suggestion{Title: "Social Catchup", LocationType: LocationQuietBar}
	switch {
	case rel.Mode == protocol.ModeDigitalOK:
		s.Title = "Virtual Catchup"
		s.LocationType = LocationVideoCall
	case vibe == VibeLowKey || energy == protocol.EnergyLow:
		s.Title = "Low-key Coffee"
		s.LocationType = LocationQuietCafe
	case vibe == VibeSocial && energy == protocol.EnergyHigh:
		s.LocationType = LocationActiveVenue
	}

	reasons := []string{fmt.Sprintf("%s vibe", strings.ReplaceAll(vibe, "_", "-")), fmt.Sprintf("%s energy", energy)}
	if len(rel.SharedInterests) > 0 {
		reasons = append(reasons, "shared interest in "+rel.SharedInterests[0])
	}
	s.Reasoning = "Matched on " + strings.Join(reasons, ", ") + "."
	return s
}
