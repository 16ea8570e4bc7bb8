package outcome

import (
	"fmt"

	"github.com/danmuck/lagom/internal/protocol"
)

// Signal is the coarse color shown to the initiator.
type Signal uint8

const (
	SignalUnknown Signal = iota
	SignalGreen
	SignalYellow
	SignalRed
)

var signalNames = map[Signal]string{
	SignalGreen:  "green",
	SignalYellow: "yellow",
	SignalRed:    "red",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signal) UnmarshalText(text []byte) error {
	for v, name := range signalNames {
		if name == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("outcome: invalid signal %q", text)
}

type entry struct {
	signal   Signal
	template string
	named    bool
}

// table is keyed by code. Templates marked named take the receiver's name.
var table = map[protocol.Code]entry{
	protocol.CodeSuccess:        {SignalGreen, "Connection secured. A time slot was found.", false},
	protocol.CodeCalendarReject: {SignalYellow, "Schedules did not line up this time.", false},
	protocol.CodeQuotaReject:    {SignalYellow, "%s is fully booked this week.", true},
	protocol.CodeBatteryReject:  {SignalRed, "%s is taking some downtime. Try again later.", true},
	protocol.CodeHardReject:     {SignalRed, "Unable to sync schedules right now.", false},
	protocol.CodeDriftReject:    {SignalRed, "Give it a little while before reconnecting.", false},
}

const fallbackMessage = "Negotiation failed."

// SignalFor returns the signal for code; unknown codes are red.
func SignalFor(code protocol.Code) Signal {
	if e, ok := table[code]; ok {
		return e.signal
	}
	return SignalRed
}

// Message renders the fixed template for code.
func Message(code protocol.Code, receiverName string) string {
	e, ok := table[code]
	if !ok {
		return fallbackMessage
	}
	if e.named {
		if receiverName == "" {
			receiverName = "They"
		}
		return fmt.Sprintf(e.template, receiverName)
	}
	return e.template
}

// Retryable reports whether a fresh session could plausibly succeed.
func Retryable(code protocol.Code) bool {
	return SignalFor(code) == SignalYellow
}

// Report is the presentation-ready view of a terminal code.
type Report struct {
	Code      protocol.Code `json:"code"`
	Signal    Signal        `json:"signal"`
	Message   string        `json:"human_message"`
	Retryable bool          `json:"retryable"`
}

func ForCode(code protocol.Code, receiverName string) Report {
	return Report{
		Code:      code,
		Signal:    SignalFor(code),
		Message:   Message(code, receiverName),
		Retryable: Retryable(code),
	}
}
