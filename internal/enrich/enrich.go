package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/protocol"
)

var ErrEmptyRender = errors.New("enrich: empty render")

// Context is everything a renderer may see. It carries no calendar content
// beyond the committed slot.
type Context struct {
	InitiatorName   string        `json:"initiator_name"`
	ReceiverName    string        `json:"receiver_name"`
	Slot            time.Time     `json:"slot"`
	Title           string        `json:"title"`
	LocationType    string        `json:"location_type"`
	Reasoning       string        `json:"reasoning"`
	Vibe            string        `json:"vibe"`
	Mode            protocol.Mode `json:"mode"`
	SharedInterests []string      `json:"shared_interests,omitempty"`
}

// Renderer produces a short human note for a booking.
type Renderer interface {
	Name() string
	Render(ctx context.Context, in Context) (string, error)
}

// Static renders a fixed template without any network access.
type Static struct{}

func (Static) Name() string { return "static" }

func (Static) Render(_ context.Context, in Context) (string, error) {
	place := strings.ReplaceAll(strings.TrimSpace(in.LocationType), "_", " ")
	if place == "" {
		place = "somewhere easy"
	}
	who := "you both"
	if in.InitiatorName != "" && in.ReceiverName != "" {
		who = in.InitiatorName + " and " + in.ReceiverName
	}
	note := fmt.Sprintf("%s are set for %s. I picked a %s", who, in.Slot.Format("Mon Jan 2 15:04"), place)
	if len(in.SharedInterests) > 0 {
		note += fmt.Sprintf(" since you both enjoy %s", in.SharedInterests[0])
	}
	return note + ".", nil
}

// fallback tries primary and degrades to secondary on any failure.
type fallback struct {
	primary   Renderer
	secondary Renderer
}

// WithFallback wraps primary so a failed or empty render yields secondary's text.
func WithFallback(primary, secondary Renderer) Renderer {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		secondary = Static{}
	}
	return fallback{primary: primary, secondary: secondary}
}

func (f fallback) Name() string { return f.primary.Name() }

func (f fallback) Render(ctx context.Context, in Context) (string, error) {
	text, err := f.primary.Render(ctx, in)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyRender
	}
	observability.RecordEnrichment(f.primary.Name(), err == nil)
	if err == nil {
		return text, nil
	}
	log.Warn().Err(err).Str("renderer", f.primary.Name()).Msg("enrichment_fallback")
	return f.secondary.Render(ctx, in)
}
