package config

import (
	"context"
	"strings"

	"github.com/danmuck/lagom/internal/protocol"
	"github.com/danmuck/lagom/internal/store"
)

// Participant converts one entry into a validated snapshot.
func (p ParticipantConfig) Participant() (protocol.Participant, error) {
	status, err := protocol.ParseStatus(p.Status)
	if err != nil {
		return protocol.Participant{}, err
	}
	out := protocol.Participant{
		ID:     strings.TrimSpace(p.ID),
		Name:   strings.TrimSpace(p.Name),
		Status: status,
		Policy: protocol.Policy{MaxSocialEventsPerWeek: p.MaxSocialEventsPerWeek},
		Calendar: protocol.CalendarState{
			Filters: protocol.CalendarFilters{
				IgnoreAllDay:    p.IgnoreAllDay,
				FocusTimeIsFree: p.FocusTimeIsFree,
			},
		},
	}
	for _, raw := range p.AcceptTiers {
		tier, err := protocol.ParseTier(raw)
		if err != nil {
			return protocol.Participant{}, err
		}
		out.Policy.AcceptTiers = append(out.Policy.AcceptTiers, tier)
	}
	for _, b := range p.BlackoutWindows {
		window, err := b.Window()
		if err != nil {
			return protocol.Participant{}, err
		}
		out.Policy.BlackoutWindows = append(out.Policy.BlackoutWindows, window)
	}
	for _, ev := range p.Events {
		out.Calendar.Events = append(out.Calendar.Events, protocol.CalendarEvent{
			Summary: ev.Summary,
			Start:   ev.Start,
			End:     ev.End,
			AllDay:  ev.AllDay,
			Work:    ev.Work,
		})
	}
	if err := out.Validate(); err != nil {
		return protocol.Participant{}, err
	}
	return out, nil
}

func (b BlackoutConfig) Window() (protocol.BlackoutWindow, error) {
	day, err := protocol.ParseWeekday(b.Day)
	if err != nil {
		return protocol.BlackoutWindow{}, err
	}
	start, err := protocol.ParseClockTime(b.Start)
	if err != nil {
		return protocol.BlackoutWindow{}, err
	}
	end, err := protocol.ParseClockTime(b.End)
	if err != nil {
		return protocol.BlackoutWindow{}, err
	}
	w := protocol.BlackoutWindow{Day: day, Start: start, End: end, Reason: b.Reason}
	if err := w.Validate(); err != nil {
		return protocol.BlackoutWindow{}, err
	}
	return w, nil
}

// Relationship converts one entry into a validated snapshot. Empty energy
// keeps the medium default.
func (r RelationshipConfig) Relationship() (protocol.Relationship, error) {
	tier, err := protocol.ParseTier(r.Tier)
	if err != nil {
		return protocol.Relationship{}, err
	}
	mode, err := protocol.ParseMode(r.Mode)
	if err != nil {
		return protocol.Relationship{}, err
	}
	out := protocol.Relationship{
		InitiatorID:        strings.TrimSpace(r.Initiator),
		TargetID:           strings.TrimSpace(r.Target),
		Tier:               tier,
		Mode:               mode,
		DriftThresholdDays: r.DriftThresholdDays,
		LastInteraction:    r.LastInteraction,
		SharedInterests:    r.SharedInterests,
	}
	if strings.TrimSpace(r.Energy) != "" {
		if out.Energy, err = protocol.ParseEnergy(r.Energy); err != nil {
			return protocol.Relationship{}, err
		}
	}
	if strings.TrimSpace(r.OverrideStatus) != "" {
		status, err := protocol.ParseStatus(r.OverrideStatus)
		if err != nil {
			return protocol.Relationship{}, err
		}
		out.Override = &protocol.StatusOverride{Active: true, Status: status}
	}
	if err := out.Validate(); err != nil {
		return protocol.Relationship{}, err
	}
	return out, nil
}

// Snapshots converts the whole fixture.
func (f Fixture) Snapshots() ([]protocol.Participant, []protocol.Relationship, error) {
	participants := make([]protocol.Participant, 0, len(f.Participants))
	for _, p := range f.Participants {
		snap, err := p.Participant()
		if err != nil {
			return nil, nil, err
		}
		participants = append(participants, snap)
	}
	relationships := make([]protocol.Relationship, 0, len(f.Relationships))
	for _, r := range f.Relationships {
		snap, err := r.Relationship()
		if err != nil {
			return nil, nil, err
		}
		relationships = append(relationships, snap)
	}
	return participants, relationships, nil
}

// Seed writes every fixture snapshot into dir, overwriting existing entries.
func Seed(ctx context.Context, dir store.Directory, f Fixture) error {
	participants, relationships, err := f.Snapshots()
	if err != nil {
		return err
	}
	for _, p := range participants {
		if err := dir.PutParticipant(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range relationships {
		if err := dir.PutRelationship(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
