package handshake

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/lagom/internal/calendar"
	"github.com/danmuck/lagom/internal/policy"
	"github.com/danmuck/lagom/internal/protocol"
	"github.com/danmuck/lagom/internal/testutil/testlog"
)

// Monday morning.
var engineNow = time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)

type tickClock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

type countingLedger struct {
	count int
	err   error
}

func (l countingLedger) CountCommitted(context.Context, string, time.Time, time.Time) (int, error) {
	return l.count, l.err
}

// fiveSlotConfig yields exactly five true slots for an open receiver.
func fiveSlotConfig() Config {
	cfg := DefaultConfig()
	cfg.Generator = calendar.GeneratorConfig{
		HorizonDays:  1,
		WakingStart:  10,
		WakingEnd:    15,
		FocusedStart: 13,
		Location:     time.UTC,
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, counter policy.QuotaCounter, seed int64) *Engine {
	t.Helper()
	clock := &tickClock{at: engineNow, step: time.Second}
	e, err := NewEngine(cfg, counter,
		WithClock(clock.Now),
		WithRandSource(rand.NewSource(seed)),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func request(status protocol.Status, tier protocol.Tier) Request {
	return Request{
		Initiator: protocol.Participant{
			ID: "alice", Name: "Alice", Status: protocol.StatusOpen,
			Policy: protocol.Policy{MaxSocialEventsPerWeek: 5},
		},
		Receiver: protocol.Participant{
			ID: "bob", Name: "Bob", Status: status,
			Policy: protocol.Policy{MaxSocialEventsPerWeek: 3},
		},
		Relationship: protocol.Relationship{
			InitiatorID:        "alice",
			TargetID:           "bob",
			Tier:               tier,
			Mode:               protocol.ModeAny,
			DriftThresholdDays: 14,
		},
	}
}

func allWeekBlackout() []protocol.BlackoutWindow {
	out := make([]protocol.BlackoutWindow, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		out = append(out, protocol.BlackoutWindow{Day: protocol.Weekday(d), Start: 0, End: 24 * 60, Reason: "away"})
	}
	return out
}

func kinds(steps []Step) []StepKind {
	out := make([]StepKind, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Kind)
	}
	return out
}

func sameKinds(got, want []StepKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestScenarioAOpenFriendCommits(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, fiveSlotConfig(), countingLedger{}, 7)
	sess, err := e.Run(context.Background(), request(protocol.StatusOpen, protocol.TierFriend))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, ok := sess.Outcome()
	if !ok {
		t.Fatalf("session not terminal")
	}
	if !out.Success() || out.Code != protocol.CodeSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	want := []StepKind{StepIntentSent, StepAcknowledged, StepProposalSent, StepCommit}
	if got := kinds(out.Log); !sameKinds(got, want) {
		t.Fatalf("unexpected steps: %v", got)
	}
	actors := []Actor{ActorInitiator, ActorReceiver, ActorInitiator, ActorReceiver}
	for i, s := range out.Log {
		if s.Actor != actors[i] {
			t.Fatalf("step %d actor=%s", i, s.Actor)
		}
	}
	if out.Slot == nil {
		t.Fatalf("missing committed slot")
	}
	offered := sess.Offered()
	if !calendar.Covered(offered, *out.Slot) || !offered[0].Start.Equal(*out.Slot) {
		t.Fatalf("committed slot %v is not the earliest offered slot %v", out.Slot, calendar.Times(offered))
	}
	if ack := out.Log[1].Ack; ack.BlindSlotCount != len(offered) || ack.Vibe != VibeSocial {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	intent := out.Log[0].Intent
	if intent.TargetID != "bob" || intent.Category != CategorySocialCatchup || intent.EnergyCost != protocol.EnergyMedium {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if out.Suggestion == nil || out.Suggestion.Title == "" {
		t.Fatalf("expected suggestion on success")
	}
}

func TestScenarioBRechargingTerminatesAfterIntent(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, fiveSlotConfig(), countingLedger{}, 1)
	out, err := e.Negotiate(context.Background(), request(protocol.StatusRecharging, protocol.TierInnerCircle))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got := kinds(out.Log); !sameKinds(got, []StepKind{StepIntentSent, StepTerminate}) {
		t.Fatalf("unexpected steps: %v", got)
	}
	if out.Code != protocol.CodeBatteryReject || out.Slot != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	term := out.Log[1]
	if term.Actor != ActorReceiver || term.Terminate.Gate != policy.GateStatus {
		t.Fatalf("unexpected termination: %+v", term.Terminate)
	}
}

func TestFocusedReceiverRejectsOuterTiers(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, fiveSlotConfig(), countingLedger{}, 1)
	for _, tier := range []protocol.Tier{protocol.TierFriend, protocol.TierAcquaintance} {
		out, err := e.Negotiate(context.Background(), request(protocol.StatusFocused, tier))
		if err != nil {
			t.Fatalf("negotiate: %v", err)
		}
		if out.Code != protocol.CodeBatteryReject {
			t.Fatalf("tier=%s: got %s", tier, out.Code)
		}
	}
	out, err := e.Negotiate(context.Background(), request(protocol.StatusFocused, protocol.TierInnerCircle))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !out.Success() {
		t.Fatalf("inner circle should reach a focused receiver: %+v", out)
	}
	if out.Slot.Hour() < 13 {
		t.Fatalf("focused receiver offered a daytime slot: %v", out.Slot)
	}
	if out.Log[1].Ack.Vibe != VibeLowKey {
		t.Fatalf("focused receiver should be low key")
	}
}

func TestScenarioDZeroAvailability(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, DefaultConfig(), countingLedger{}, 3)
	req := request(protocol.StatusOpen, protocol.TierFriend)
	req.Receiver.Policy.BlackoutWindows = allWeekBlackout()

	sess, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _ := sess.Outcome()
	if out.Code != protocol.CodeCalendarReject || out.Slot != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Gate != policy.GateCalendar {
		t.Fatalf("calendar rejection must be distinguishable, gate=%q", out.Gate)
	}
	if len(sess.Offered()) != 0 {
		t.Fatalf("expected empty blind set")
	}
	if got := kinds(out.Log); !sameKinds(got, []StepKind{StepIntentSent, StepTerminate}) {
		t.Fatalf("unexpected steps: %v", got)
	}
}

func TestInitiatorCalendarIgnoredByDefault(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, fiveSlotConfig(), countingLedger{}, 3)
	req := request(protocol.StatusOpen, protocol.TierFriend)
	req.Initiator.Policy.BlackoutWindows = allWeekBlackout()

	sess, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _ := sess.Outcome()
	if !out.Success() {
		t.Fatalf("expected success, got %+v", out)
	}
	if offered := sess.Offered(); !offered[0].Start.Equal(*out.Slot) {
		t.Fatalf("expected earliest blind slot %v, got %v", offered[0].Start, out.Slot)
	}
}

func TestInitiatorCalendarMismatch(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.CheckInitiatorCalendar = true
	e := newTestEngine(t, cfg, countingLedger{}, 3)
	req := request(protocol.StatusOpen, protocol.TierFriend)
	req.Initiator.Policy.BlackoutWindows = allWeekBlackout()

	out, err := e.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	want := []StepKind{StepIntentSent, StepAcknowledged, StepTerminate}
	if got := kinds(out.Log); !sameKinds(got, want) {
		t.Fatalf("unexpected steps: %v", got)
	}
	last := out.Log[len(out.Log)-1]
	if last.Actor != ActorInitiator || out.Code != protocol.CodeCalendarReject {
		t.Fatalf("unexpected termination: %+v", last)
	}
}

func TestOverrideCannotOpenRechargingReceiver(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, fiveSlotConfig(), countingLedger{}, 1)
	req := request(protocol.StatusRecharging, protocol.TierAcquaintance)
	req.Relationship.Override = &protocol.StatusOverride{Active: true, Status: protocol.StatusOpen}

	out, err := e.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if out.Code != protocol.CodeBatteryReject || out.Slot != nil {
		t.Fatalf("expected battery reject, got %+v", out)
	}
	if got := kinds(out.Log); !sameKinds(got, []StepKind{StepIntentSent, StepTerminate}) {
		t.Fatalf("unexpected steps: %v", got)
	}
}

func TestQuotaExhaustedRejects(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, DefaultConfig(), countingLedger{count: 3}, 3)
	out, err := e.Negotiate(context.Background(), request(protocol.StatusOpen, protocol.TierFriend))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if out.Code != protocol.CodeQuotaReject || out.Gate != policy.GateQuota {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	broken := newTestEngine(t, DefaultConfig(), countingLedger{err: errors.New("down")}, 3)
	out, err = broken.Negotiate(context.Background(), request(protocol.StatusOpen, protocol.TierFriend))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if out.Code != protocol.CodeHardReject {
		t.Fatalf("ledger failure should fail closed, got %s", out.Code)
	}
}

func TestMalformedRequestSingleTerminate(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, DefaultConfig(), countingLedger{}, 3)
	cases := map[string]func(*Request){
		"mismatched pair": func(r *Request) { r.Relationship.TargetID = "carol" },
		"unknown tier":    func(r *Request) { r.Relationship.Tier = protocol.Tier(9) },
		"unknown status":  func(r *Request) { r.Receiver.Status = protocol.StatusUnknown },
		"missing id":      func(r *Request) { r.Initiator.ID = "" },
	}
	for name, mutate := range cases {
		req := request(protocol.StatusOpen, protocol.TierFriend)
		mutate(&req)
		out, err := e.Negotiate(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: negotiate: %v", name, err)
		}
		if len(out.Log) != 1 || out.Log[0].Kind != StepTerminate || out.Code != protocol.CodeHardReject {
			t.Fatalf("%s: unexpected outcome %+v", name, out)
		}
	}
}

func TestCancelledContextHasNoOutcome(t *testing.T) {
	testlog.Start(t)
	e := newTestEngine(t, DefaultConfig(), countingLedger{}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess, err := e.Run(ctx, request(protocol.StatusOpen, protocol.TierFriend))
	if !errors.Is(err, ErrAbandoned) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected abandoned error, got %v", err)
	}
	if _, ok := sess.Outcome(); ok {
		t.Fatalf("abandoned session must not have an outcome")
	}
	if _, err := e.Negotiate(ctx, request(protocol.StatusOpen, protocol.TierFriend)); err == nil {
		t.Fatalf("expected negotiate error")
	}
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	testlog.Start(t)
	clock := &tickClock{at: engineNow, step: -time.Minute}
	e, err := NewEngine(DefaultConfig(), countingLedger{}, WithClock(clock.Now), WithRandSource(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, err := e.Negotiate(context.Background(), request(protocol.StatusOpen, protocol.TierFriend))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	for i := 1; i < len(out.Log); i++ {
		if out.Log[i].Timestamp.Before(out.Log[i-1].Timestamp) {
			t.Fatalf("timestamp regressed at %d", i)
		}
	}
}

func TestCommittedSlotAlwaysOffered(t *testing.T) {
	testlog.Start(t)
	for seed := int64(0); seed < 50; seed++ {
		e := newTestEngine(t, DefaultConfig(), countingLedger{}, seed)
		sess, err := e.Run(context.Background(), request(protocol.StatusOpen, protocol.TierAcquaintance))
		if err != nil {
			t.Fatalf("seed=%d: %v", seed, err)
		}
		out, _ := sess.Outcome()
		if !out.Success() {
			t.Fatalf("seed=%d: expected success, got %s", seed, out.Code)
		}
		found := false
		for _, s := range sess.Offered() {
			if s.Start.Equal(*out.Slot) {
				found = true
			}
		}
		if !found {
			t.Fatalf("seed=%d: committed slot not in blind set", seed)
		}
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	testlog.Start(t)
	var n atomic.Int64
	e, err := NewEngine(DefaultConfig(), countingLedger{}, WithIDs(func() string {
		return fmt.Sprintf("s-%d", n.Add(1))
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Negotiate(context.Background(), request(protocol.StatusOpen, protocol.TierFriend))
			if err != nil || !out.Success() {
				t.Errorf("negotiate: %v %+v", err, out)
				return
			}
			mu.Lock()
			ids[out.SessionID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 16 {
		t.Fatalf("expected 16 distinct sessions, got %d", len(ids))
	}
}
