package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/lagom/internal/enrich"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/outcome"
	"github.com/danmuck/lagom/internal/policy"
	"github.com/danmuck/lagom/internal/protocol"
	"github.com/danmuck/lagom/internal/store"
	"github.com/danmuck/lagom/internal/testutil/testlog"
)

var coordNow = time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T, receiverQuota int) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	people := []protocol.Participant{
		{ID: "alice", Name: "Alice", Status: protocol.StatusOpen, Policy: protocol.Policy{MaxSocialEventsPerWeek: 5}},
		{ID: "bob", Name: "Bob", Status: protocol.StatusOpen, Policy: protocol.Policy{MaxSocialEventsPerWeek: receiverQuota}},
		{ID: "carol", Name: "Carol", Status: protocol.StatusRecharging, Policy: protocol.Policy{MaxSocialEventsPerWeek: 5}},
	}
	for _, p := range people {
		if err := s.PutParticipant(ctx, p); err != nil {
			t.Fatalf("put participant: %v", err)
		}
	}
	for _, target := range []string{"bob", "carol"} {
		rel := protocol.Relationship{
			InitiatorID: "alice", TargetID: target, Tier: protocol.TierFriend,
			Mode: protocol.ModeAny, DriftThresholdDays: 14,
		}
		if err := s.PutRelationship(ctx, rel); err != nil {
			t.Fatalf("put relationship: %v", err)
		}
	}
	return s
}

func newEngine(t *testing.T, s *store.Memory) *handshake.Engine {
	t.Helper()
	e, err := handshake.NewEngine(handshake.DefaultConfig(), s,
		handshake.WithClock(func() time.Time { return coordNow }),
		handshake.WithRandSource(rand.NewSource(11)),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestNegotiatePersistsBothParties(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := seededStore(t, 3)
	c := New(newEngine(t, s), s, s, enrich.Static{}, DefaultConfig())

	res, err := c.Negotiate(ctx, "alice", "bob", nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !res.Success || res.Signal != outcome.SignalGreen || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.CommittedSlot == nil || res.Note == "" || res.Suggestion == nil {
		t.Fatalf("expected slot, suggestion, and note: %+v", res)
	}

	since, until := policy.Week(coordNow, time.UTC)
	for _, id := range []string{"alice", "bob"} {
		n, err := s.CountCommitted(ctx, id, since, until)
		if err != nil || n != 1 {
			t.Fatalf("%s: expected one booking, got %d (%v)", id, n, err)
		}
	}
	rel, err := s.Relationship(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("relationship: %v", err)
	}
	if !rel.LastInteraction.Equal(coordNow) {
		t.Fatalf("last interaction not refreshed: %v", rel.LastInteraction)
	}
}

func TestQuotaFillsFromRecordedBookings(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := seededStore(t, 1)
	c := New(newEngine(t, s), s, s, nil, DefaultConfig())
	c.sleep = noSleep

	first, err := c.Negotiate(ctx, "alice", "bob", nil)
	if err != nil || !first.Success {
		t.Fatalf("first negotiate: %v %+v", err, first)
	}
	second, err := c.Negotiate(ctx, "alice", "bob", nil)
	if err != nil {
		t.Fatalf("second negotiate: %v", err)
	}
	if second.Code != protocol.CodeQuotaReject || second.Signal != outcome.SignalYellow {
		t.Fatalf("expected quota reject, got %+v", second)
	}
	if second.Attempts != DefaultRetryConfig().MaxAttempts {
		t.Fatalf("yellow outcome should exhaust retries, attempts=%d", second.Attempts)
	}
	if second.Note != "" || second.CommittedSlot != nil {
		t.Fatalf("rejections carry no slot or note")
	}
}

func TestRedOutcomeIsNotRetried(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 3)
	c := New(newEngine(t, s), s, s, nil, DefaultConfig())
	c.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("red outcomes must not back off")
		return nil
	}
	res, err := c.Negotiate(context.Background(), "alice", "carol", nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if res.Code != protocol.CodeBatteryReject || res.Attempts != 1 || res.Retryable {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.HumanMessage != outcome.Message(protocol.CodeBatteryReject, "Carol") {
		t.Fatalf("unexpected message: %q", res.HumanMessage)
	}
}

type scriptedEngine struct {
	mu    sync.Mutex
	codes []protocol.Code
	calls int
}

func (s *scriptedEngine) Negotiate(_ context.Context, req handshake.Request) (handshake.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.codes[min(s.calls, len(s.codes)-1)]
	s.calls++
	out := handshake.Outcome{SessionID: "scripted", Code: code}
	if code == protocol.CodeSuccess {
		slot := coordNow.Add(26 * time.Hour)
		out.Slot = &slot
		out.Log = []handshake.Step{{Kind: handshake.StepCommit, Actor: handshake.ActorReceiver, Timestamp: coordNow}}
	}
	return out, nil
}

func TestYellowOutcomeRetriesWithBackoff(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 3)
	engine := &scriptedEngine{codes: []protocol.Code{protocol.CodeCalendarReject, protocol.CodeCalendarReject, protocol.CodeSuccess}}
	c := New(engine, s, s, nil, DefaultConfig())
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	res, err := c.Negotiate(context.Background(), "alice", "bob", nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !res.Success || res.Attempts != 3 || engine.calls != 3 {
		t.Fatalf("unexpected result: %+v calls=%d", res, engine.calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected two backoffs, got %v", delays)
	}
}

func TestBackoffCancelledReturnsLastOutcome(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 3)
	engine := &scriptedEngine{codes: []protocol.Code{protocol.CodeCalendarReject}}
	c := New(engine, s, s, nil, DefaultConfig())
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	res, err := c.Negotiate(context.Background(), "alice", "bob", nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if res.Code != protocol.CodeCalendarReject || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNegotiateUnknownIDs(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 3)
	c := New(newEngine(t, s), s, s, nil, DefaultConfig())
	if _, err := c.Negotiate(context.Background(), "alice", "zed", nil); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
	if _, err := c.Negotiate(context.Background(), "bob", "alice", nil); !errors.Is(err, ErrUnknownRelationship) {
		t.Fatalf("expected ErrUnknownRelationship, got %v", err)
	}
	adhoc := &protocol.Relationship{InitiatorID: "bob", TargetID: "alice", Tier: protocol.TierInnerCircle, Mode: protocol.ModeAny}
	res, err := c.Negotiate(context.Background(), "bob", "alice", adhoc)
	if err != nil || !res.Success {
		t.Fatalf("ad hoc relationship should negotiate: %v %+v", err, res)
	}
}

func TestNegotiateAbandoned(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 3)
	c := New(newEngine(t, s), s, s, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Negotiate(ctx, "alice", "bob", nil); !errors.Is(err, handshake.ErrAbandoned) {
		t.Fatalf("expected abandoned, got %v", err)
	}
}

func TestNegotiateManyKeepsOrder(t *testing.T) {
	testlog.Start(t)
	s := seededStore(t, 5)
	c := New(newEngine(t, s), s, s, nil, Config{Retry: RetryConfig{MaxAttempts: 1}, Concurrency: 2})
	pairs := []Pair{
		{InitiatorID: "alice", ReceiverID: "bob"},
		{InitiatorID: "alice", ReceiverID: "nobody"},
		{InitiatorID: "alice", ReceiverID: "carol"},
	}
	items, err := c.NegotiateMany(context.Background(), pairs)
	if err != nil {
		t.Fatalf("negotiate many: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("unexpected items: %d", len(items))
	}
	if items[0].Result == nil || !items[0].Result.Success {
		t.Fatalf("first pair should succeed: %+v", items[0])
	}
	if items[1].Error == "" || items[1].Result != nil {
		t.Fatalf("unknown pair should carry an error: %+v", items[1])
	}
	if items[2].Result == nil || items[2].Result.Code != protocol.CodeBatteryReject {
		t.Fatalf("third pair should be battery reject: %+v", items[2])
	}
	for i, item := range items {
		if item.Pair != pairs[i] {
			t.Fatalf("item %d out of order", i)
		}
	}
}

// slowCounter widens the window between a quota read and the booking write.
type slowCounter struct {
	ledger *store.Memory
	delay  time.Duration
}

func (c slowCounter) CountCommitted(ctx context.Context, id string, since, until time.Time) (int, error) {
	time.Sleep(c.delay)
	return c.ledger.CountCommitted(ctx, id, since, until)
}

func TestConcurrentSessionsRespectReceiverQuota(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := seededStore(t, 1)
	pairs := make([]Pair, 0, 8)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("friend-%d", i)
		if err := s.PutParticipant(ctx, protocol.Participant{ID: id, Status: protocol.StatusOpen, Policy: protocol.Policy{MaxSocialEventsPerWeek: 5}}); err != nil {
			t.Fatalf("put participant: %v", err)
		}
		rel := protocol.Relationship{InitiatorID: id, TargetID: "bob", Tier: protocol.TierFriend, Mode: protocol.ModeAny}
		if err := s.PutRelationship(ctx, rel); err != nil {
			t.Fatalf("put relationship: %v", err)
		}
		pairs = append(pairs, Pair{InitiatorID: id, ReceiverID: "bob"})
	}
	engine, err := handshake.NewEngine(handshake.DefaultConfig(), slowCounter{ledger: s, delay: 20 * time.Millisecond},
		handshake.WithClock(func() time.Time { return coordNow }),
		handshake.WithRandSource(rand.NewSource(11)),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	c := New(engine, s, s, nil, Config{Retry: RetryConfig{MaxAttempts: 1}, Concurrency: 8})

	items, err := c.NegotiateMany(ctx, pairs)
	if err != nil {
		t.Fatalf("negotiate many: %v", err)
	}
	successes := 0
	for _, item := range items {
		if item.Result == nil {
			t.Fatalf("pair %+v failed: %s", item.Pair, item.Error)
		}
		if item.Result.Success {
			successes++
		} else if item.Result.Code != protocol.CodeQuotaReject {
			t.Fatalf("expected quota reject, got %+v", item.Result)
		}
	}
	since, until := policy.Week(coordNow, time.UTC)
	n, err := s.CountCommitted(ctx, "bob", since, until)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if successes != 1 || n != 1 {
		t.Fatalf("quota of 1 overshot: successes=%d committed=%d", successes, n)
	}
}

func TestParticipantLocksHonorContext(t *testing.T) {
	testlog.Start(t)
	locks := newParticipantLocks()
	unlock, err := locks.Lock(context.Background(), "bob", "alice", "bob")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while held, got %v", err)
	}
	unlock()
	again, err := locks.Lock(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
	if len(locks.held) != 0 {
		t.Fatalf("expected no held locks, got %d", len(locks.held))
	}
}

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := cfg.Delay(attempt, nil); got != d {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, d)
		}
	}
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		got := cfg.Delay(2, rng)
		if got < 250*time.Millisecond || got >= 750*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}
