package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/lagom/internal/testutil/testlog"
)

func TestParseEnumsAcceptCaseAndDashes(t *testing.T) {
	testlog.Start(t)
	if s, err := ParseStatus(" Recharging "); err != nil || s != StatusRecharging {
		t.Fatalf("status got=%v err=%v", s, err)
	}
	if tier, err := ParseTier("inner-circle"); err != nil || tier != TierInnerCircle {
		t.Fatalf("tier got=%v err=%v", tier, err)
	}
	if m, err := ParseMode("IRL_ONLY"); err != nil || m != ModeIRLOnly {
		t.Fatalf("mode got=%v err=%v", m, err)
	}
	if c, err := ParseCode("calendar_reject"); err != nil || c != CodeCalendarReject {
		t.Fatalf("code got=%v err=%v", c, err)
	}
	if _, err := ParseStatus("sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUnknownEnumValuesDoNotMarshal(t *testing.T) {
	testlog.Start(t)
	if _, err := json.Marshal(Participant{ID: "a", Status: StatusUnknown}); err == nil {
		t.Fatalf("expected marshal error for unknown status")
	}
	if StatusUnknown.Valid() || TierUnknown.Valid() || ModeUnknown.Valid() || CodeUnknown.Valid() {
		t.Fatalf("zero values must not validate")
	}
}

func TestRelationshipJSONShape(t *testing.T) {
	testlog.Start(t)
	rel := Relationship{
		InitiatorID: "alex",
		TargetID:    "sarah",
		Tier:        TierFriend,
		Mode:        ModeAny,
	}
	raw, err := json.Marshal(rel)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["tier"] != "friend" || got["mode"] != "any" {
		t.Fatalf("unexpected shape: %s", raw)
	}
}

func TestRelationshipValidate(t *testing.T) {
	testlog.Start(t)
	base := Relationship{InitiatorID: "a", TargetID: "b", Tier: TierFriend, Mode: ModeAny}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid relationship rejected: %v", err)
	}

	cases := map[string]Relationship{
		"missing initiator": {TargetID: "b", Tier: TierFriend, Mode: ModeAny},
		"self":              {InitiatorID: "a", TargetID: "a", Tier: TierFriend, Mode: ModeAny},
		"unknown tier":      {InitiatorID: "a", TargetID: "b", Mode: ModeAny},
		"unknown mode":      {InitiatorID: "a", TargetID: "b", Tier: TierFriend},
		"negative drift":    {InitiatorID: "a", TargetID: "b", Tier: TierFriend, Mode: ModeAny, DriftThresholdDays: -1},
		"bad override": {InitiatorID: "a", TargetID: "b", Tier: TierFriend, Mode: ModeAny,
			Override: &StatusOverride{Active: true}},
	}
	for name, rel := range cases {
		if err := rel.Validate(); !errors.Is(err, ErrInvalidRelationship) {
			t.Fatalf("%s: expected ErrInvalidRelationship, got %v", name, err)
		}
	}
}

func TestEffectiveStatusOverride(t *testing.T) {
	testlog.Start(t)
	target := Participant{ID: "b", Status: StatusOpen}
	rel := Relationship{InitiatorID: "a", TargetID: "b", Tier: TierFriend, Mode: ModeAny}
	if got := rel.EffectiveStatus(target); got != StatusOpen {
		t.Fatalf("unexpected status: %v", got)
	}
	rel.Override = &StatusOverride{Active: true, Status: StatusRecharging}
	if got := rel.EffectiveStatus(target); got != StatusRecharging {
		t.Fatalf("override ignored: %v", got)
	}
	rel.Override.Active = false
	if got := rel.EffectiveStatus(target); got != StatusOpen {
		t.Fatalf("inactive override applied: %v", got)
	}
}

func TestOverrideNeverRelaxesStatus(t *testing.T) {
	testlog.Start(t)
	rel := Relationship{InitiatorID: "a", TargetID: "b", Tier: TierFriend, Mode: ModeAny}
	cases := []struct {
		declared Status
		forced   Status
		want     Status
	}{
		{StatusRecharging, StatusOpen, StatusRecharging},
		{StatusRecharging, StatusFocused, StatusRecharging},
		{StatusFocused, StatusOpen, StatusFocused},
		{StatusFocused, StatusTraveling, StatusFocused},
		{StatusTraveling, StatusOpen, StatusTraveling},
		{StatusOpen, StatusTraveling, StatusTraveling},
		{StatusTraveling, StatusFocused, StatusFocused},
		{Status(42), StatusOpen, Status(42)},
	}
	for _, tc := range cases {
		rel.Override = &StatusOverride{Active: true, Status: tc.forced}
		if got := rel.EffectiveStatus(Participant{ID: "b", Status: tc.declared}); got != tc.want {
			t.Fatalf("declared=%v forced=%v: got %v want %v", tc.declared, tc.forced, got, tc.want)
		}
	}
}

func TestBlackoutWindowOverlaps(t *testing.T) {
	testlog.Start(t)
	start, _ := ParseClockTime("09:00")
	end, _ := ParseClockTime("18:00")
	b := BlackoutWindow{Day: Weekday(time.Monday), Start: start, End: end}
	if err := b.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !b.Overlaps(monday.Add(10*time.Hour), monday.Add(11*time.Hour)) {
		t.Fatalf("expected overlap inside window")
	}
	if !b.Overlaps(monday.Add(17*time.Hour+30*time.Minute), monday.Add(18*time.Hour+30*time.Minute)) {
		t.Fatalf("expected overlap on window edge")
	}
	if b.Overlaps(monday.Add(18*time.Hour), monday.Add(19*time.Hour)) {
		t.Fatalf("window end is exclusive")
	}
	tuesday := monday.AddDate(0, 0, 1)
	if b.Overlaps(tuesday.Add(10*time.Hour), tuesday.Add(11*time.Hour)) {
		t.Fatalf("unexpected overlap on another weekday")
	}
}

func TestWeekdayAndClockParsing(t *testing.T) {
	testlog.Start(t)
	if d, err := ParseWeekday("Sun"); err != nil || time.Weekday(d) != time.Sunday {
		t.Fatalf("weekday got=%v err=%v", d, err)
	}
	if c, err := ParseClockTime("23:59"); err != nil || c.String() != "23:59" {
		t.Fatalf("clock got=%v err=%v", c, err)
	}
	for _, raw := range []string{"25:00", "9", "12:75", "x:00"} {
		if _, err := ParseClockTime(raw); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("%q: expected ErrInvalidPolicy, got %v", raw, err)
		}
	}
}

func TestPolicyAccepts(t *testing.T) {
	testlog.Start(t)
	open := Policy{}
	if !open.Accepts(TierAcquaintance) {
		t.Fatalf("empty accept list should admit every tier")
	}
	strict := Policy{AcceptTiers: []Tier{TierInnerCircle}}
	if strict.Accepts(TierFriend) || !strict.Accepts(TierInnerCircle) {
		t.Fatalf("accept list not honored")
	}
}
