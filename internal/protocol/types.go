package protocol

import (
	"fmt"
	"strings"
)

// Status is a participant's declared availability state.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusRecharging
	StatusFocused
	StatusTraveling
)

var statusNames = map[Status]string{
	StatusOpen:       "open",
	StatusRecharging: "recharging",
	StatusFocused:    "focused",
	StatusTraveling:  "traveling",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func ParseStatus(raw string) (Status, error) {
	return parseEnum(raw, statusNames, ErrInvalidStatus)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Tier is the trust classification of a directional relationship.
type Tier uint8

const (
	TierUnknown Tier = iota
	TierInnerCircle
	TierFriend
	TierAcquaintance
)

var tierNames = map[Tier]string{
	TierInnerCircle:  "inner_circle",
	TierFriend:       "friend",
	TierAcquaintance: "acquaintance",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

func ParseTier(raw string) (Tier, error) {
	return parseEnum(raw, tierNames, ErrInvalidTier)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, t)
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	v, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// AllTiers lists tiers from most to least exclusive.
func AllTiers() []Tier {
	return []Tier{TierInnerCircle, TierFriend, TierAcquaintance}
}

// Mode is the preferred interaction medium for a relationship.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeIRLOnly
	ModeDigitalOK
	ModeAny
)

var modeNames = map[Mode]string{
	ModeIRLOnly:   "irl_only",
	ModeDigitalOK: "digital_ok",
	ModeAny:       "any",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func ParseMode(raw string) (Mode, error) {
	return parseEnum(raw, modeNames, ErrInvalidMode)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, m)
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Energy is a coarse cost estimate for one interaction.
type Energy uint8

const (
	EnergyUnknown Energy = iota
	EnergyLow
	EnergyMedium
	EnergyHigh
)

var energyNames = map[Energy]string{
	EnergyLow:    "low",
	EnergyMedium: "medium",
	EnergyHigh:   "high",
}

func (e Energy) String() string {
	if name, ok := energyNames[e]; ok {
		return name
	}
	return "unknown"
}

func (e Energy) Valid() bool {
	_, ok := energyNames[e]
	return ok
}

func ParseEnergy(raw string) (Energy, error) {
	return parseEnum(raw, energyNames, ErrInvalidEnergy)
}

func (e Energy) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEnergy, e)
	}
	return []byte(e.String()), nil
}

func (e *Energy) UnmarshalText(text []byte) error {
	v, err := ParseEnergy(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Code is the terminal result of one negotiation session.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeSuccess
	CodeHardReject
	CodeBatteryReject
	CodeCalendarReject
	CodeQuotaReject
	CodeDriftReject
)

var codeNames = map[Code]string{
	CodeSuccess:        "success",
	CodeHardReject:     "hard_reject",
	CodeBatteryReject:  "battery_reject",
	CodeCalendarReject: "calendar_reject",
	CodeQuotaReject:    "quota_reject",
	CodeDriftReject:    "drift_reject",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

func ParseCode(raw string) (Code, error) {
	return parseEnum(raw, codeNames, ErrInvalidCode)
}

func (c Code) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCode, c)
	}
	return []byte(c.String()), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	v, err := ParseCode(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AllCodes lists every terminal code, success first.
func AllCodes() []Code {
	return []Code{
		CodeSuccess,
		CodeHardReject,
		CodeBatteryReject,
		CodeCalendarReject,
		CodeQuotaReject,
		CodeDriftReject,
	}
}

func parseEnum[T comparable](raw string, names map[T]string, errInvalid error) (T, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	for v, name := range names {
		if name == key {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %q", errInvalid, raw)
}
