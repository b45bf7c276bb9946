package arbiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func TestHeartbeatScenario(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore(), WithCooldown(60*time.Second))

	d, err := a.AcceptHeartbeat(ctx, 1, 42, "u1", at(0))
	if err != nil || d.Outcome != OutcomeCreated {
		t.Fatalf("first heartbeat = %+v, %v", d, err)
	}

	_, err = a.AcceptHeartbeat(ctx, 1, 42, "u2", at(30))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("u2 at t=30 error = %v, want ConflictError", err)
	}
	if conflict.RemainingSeconds() != 30 {
		t.Errorf("remaining = %d, want 30", conflict.RemainingSeconds())
	}
	if !strings.Contains(conflict.Error(), "30 seconds") {
		t.Errorf("message %q lacks countdown", conflict.Error())
	}

	d, err = a.AcceptHeartbeat(ctx, 1, 42, "u2", at(61))
	if err != nil || d.Outcome != OutcomeTakeover {
		t.Fatalf("u2 at t=61 = %+v, %v", d, err)
	}

	// u1 is now the stale token.
	_, err = a.AcceptHeartbeat(ctx, 1, 42, "u1", at(62))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("stale u1 error = %v, want ErrConflict", err)
	}
}

func TestHeartbeatIdempotence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	for i := 0; i < 5; i++ {
		d, err := a.AcceptHeartbeat(ctx, 1, 7, "tok", at(i*10))
		if err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
		if i > 0 && d.Outcome != OutcomeRefreshed {
			t.Errorf("heartbeat %d outcome = %s, want refreshed", i, d.Outcome)
		}
		l, _ := store.Get(ctx, Key{Owner: 1, ClientID: 7})
		if l.Token != "tok" || !l.LastSeen.Equal(at(i*10)) {
			t.Errorf("lease after heartbeat %d = %+v", i, l)
		}
	}
}

func TestLeasePolicyBoundary(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		elapsed int
		want    Outcome
	}{
		{"lease before cooldown", PolicyLease, 59, OutcomeRejected},
		{"lease at cooldown", PolicyLease, 60, OutcomeTakeover},
		{"lease after cooldown", PolicyLease, 61, OutcomeTakeover},
		{"record at timeout", PolicyClientRecord, 60, OutcomeRejected},
		{"record after timeout", PolicyClientRecord, 61, OutcomeTakeover},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &Lease{Token: "a", LastSeen: at(0)}
			d := decide(tt.policy, current, "b", at(tt.elapsed), 60*time.Second)
			if d.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", d.Outcome, tt.want)
			}
		})
	}
}

func TestClientRecordPolicyFreesIncompleteLease(t *testing.T) {
	tests := []struct {
		name    string
		current Lease
	}{
		{"no token", Lease{LastSeen: at(0)}},
		{"no timestamp", Lease{Token: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := tt.current
			if d := decide(PolicyClientRecord, &cur, "b", at(1), time.Minute); d.Outcome != OutcomeTakeover {
				t.Errorf("outcome = %s, want takeover", d.Outcome)
			}
			if d := decide(PolicyLease, &Lease{Token: "a", LastSeen: at(0)}, "b", at(1), time.Minute); d.Outcome != OutcomeRejected {
				t.Errorf("lease policy outcome = %s, want rejected", d.Outcome)
			}
		})
	}
}

func TestClockSkewDoesNotGrantTakeover(t *testing.T) {
	d := decide(PolicyLease, &Lease{Token: "a", LastSeen: at(100)}, "b", at(0), time.Minute)
	if d.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", d.Outcome)
	}
	if d.Remaining != time.Minute {
		t.Errorf("remaining = %v, want 1m", d.Remaining)
	}
}

func TestEmptyTokenRejected(t *testing.T) {
	a := New(NewMemoryStore())
	if _, err := a.AcceptHeartbeat(context.Background(), 1, 1, "", at(0)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestCheckInstanceIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store)

	if err := a.CheckInstance(ctx, 1, 42, "u1", at(0)); err != nil {
		t.Fatalf("check without lease: %v", err)
	}
	if l, _ := store.Get(ctx, Key{1, 42}); l != nil {
		t.Fatalf("check created a lease: %+v", l)
	}

	if _, err := a.AcceptHeartbeat(ctx, 1, 42, "u1", at(0)); err != nil {
		t.Fatal(err)
	}

	if err := a.CheckInstance(ctx, 1, 42, "u1", at(10)); err != nil {
		t.Errorf("holder rejected: %v", err)
	}
	if err := a.CheckInstance(ctx, 1, 42, "u2", at(10)); !errors.Is(err, ErrConflict) {
		t.Errorf("competitor error = %v, want ErrConflict", err)
	}
	if err := a.CheckInstance(ctx, 1, 42, "u2", at(60)); err != nil {
		t.Errorf("competitor after cooldown rejected: %v", err)
	}

	l, _ := store.Get(ctx, Key{1, 42})
	if l.Token != "u1" || !l.LastSeen.Equal(at(0)) {
		t.Errorf("lease modified by checks: %+v", l)
	}
}

func TestLeasesAreScopedByOwner(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryStore())

	if _, err := a.AcceptHeartbeat(ctx, 1, 42, "u1", at(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AcceptHeartbeat(ctx, 2, 42, "u2", at(1)); err != nil {
		t.Errorf("other owner's client 42 rejected: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyLease, "lease": PolicyLease, "client_record": PolicyClientRecord} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("first_wins"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestHeartbeatUsesClock(t *testing.T) {
	now := at(0)
	a := New(NewMemoryStore(), WithClock(func() time.Time { return now }))

	if _, err := a.Heartbeat(context.Background(), 1, 1, "a"); err != nil {
		t.Fatal(err)
	}
	now = at(59)
	if _, err := a.Heartbeat(context.Background(), 1, 1, "b"); !errors.Is(err, ErrConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
	now = at(60)
	if _, err := a.Heartbeat(context.Background(), 1, 1, "b"); err != nil {
		t.Errorf("takeover at cooldown: %v", err)
	}
}
