// Package arbiter decides which process instance may act for a logical
// client. Each (owner, client) pair has a lease holding the current
// instance token and the time of its last accepted heartbeat. A different
// token can only take the lease over after the holder has been silent for
// the cooldown, so a crashed worker never blocks its own restart for long
// and two workers started together cannot both be current.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valksor/go-taskrunner/internal/metrics"
)

// DefaultCooldown is the silence required before another token may take a
// lease over.
const DefaultCooldown = 60 * time.Second

// ErrConflict matches every rejection.
var ErrConflict = errors.New("client is held by another instance")

// ErrInvalidToken is returned for an empty instance token.
var ErrInvalidToken = errors.New("instance token is required")

// Policy selects the takeover rule.
type Policy string

const (
	// PolicyLease takes over once now-lastSeen >= cooldown.
	PolicyLease Policy = "lease"
	// PolicyClientRecord is the older rule kept on the client record: a
	// lease without token or timestamp is free, otherwise another token
	// takes over only once now-lastSeen > cooldown.
	PolicyClientRecord Policy = "client_record"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyLease:
		return PolicyLease, nil
	case PolicyClientRecord:
		return PolicyClientRecord, nil
	}
	return "", fmt.Errorf("unknown arbitration policy %q", s)
}

// Key identifies a lease.
type Key struct {
	Owner    int64
	ClientID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Owner, k.ClientID)
}

// Lease is the stored arbitration state of one key.
type Lease struct {
	Token    string
	LastSeen time.Time
}

// Outcome of a heartbeat.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeTakeover  Outcome = "takeover"
	OutcomeRejected  Outcome = "rejected"
)

// Decision describes what a heartbeat did.
type Decision struct {
	Outcome   Outcome
	Lease     Lease
	Remaining time.Duration
}

// Accepted reports whether the caller now holds the lease.
func (d Decision) Accepted() bool {
	return d.Outcome != OutcomeRejected
}

// ConflictError is returned when a different live instance holds the lease.
type ConflictError struct {
	Key       Key
	Remaining time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("client %d is held by another instance, wait %d seconds", e.Key.ClientID, e.RemainingSeconds())
}

// Is makes errors.Is(err, ErrConflict) true.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RemainingSeconds is the whole-second retry hint, never below 1.
func (e *ConflictError) RemainingSeconds() int {
	s := int(e.Remaining / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Arbiter applies a Policy over a Store.
type Arbiter struct {
	store    Store
	policy   Policy
	cooldown time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithPolicy selects the takeover rule.
func WithPolicy(p Policy) Option {
	return func(a *Arbiter) { a.policy = p }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.cooldown = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// WithMetrics records every decision.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// New creates an Arbiter.
func New(store Store, opts ...Option) *Arbiter {
	a := &Arbiter{
		store:    store,
		policy:   PolicyLease,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cooldown returns the configured cooldown.
func (a *Arbiter) Cooldown() time.Duration {
	return a.cooldown
}

// Heartbeat is AcceptHeartbeat at the arbiter's current time.
func (a *Arbiter) Heartbeat(ctx context.Context, owner, clientID int64, token string) (Decision, error) {
	return a.AcceptHeartbeat(ctx, owner, clientID, token, a.now())
}

// AcceptHeartbeat creates, refreshes or takes over the lease of
// (owner, clientID) for token, or rejects it with a *ConflictError.
func (a *Arbiter) AcceptHeartbeat(ctx context.Context, owner, clientID int64, token string, now time.Time) (Decision, error) {
	if token == "" {
		return Decision{}, ErrInvalidToken
	}
	key := Key{Owner: owner, ClientID: clientID}

	var d Decision
	err := a.store.Update(ctx, key, func(current *Lease) (*Lease, error) {
		d = decide(a.policy, current, token, now, a.cooldown)
		if !d.Accepted() {
			return nil, nil
		}
		next := d.Lease
		return &next, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("heartbeat %s: %w", key, err)
	}

	a.metrics.Decision(string(d.Outcome))
	if !d.Accepted() {
		return d, &ConflictError{Key: key, Remaining: d.Remaining}
	}
	return d, nil
}

// CheckInstance is the read-only gate applied to every authenticated
// request: it fails with a *ConflictError when token is not allowed to act
// for (owner, clientID) at now. It never modifies the lease.
func (a *Arbiter) CheckInstance(ctx context.Context, owner, clientID int64, token string, now time.Time) error {
	key := Key{Owner: owner, ClientID: clientID}
	current, err := a.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("check instance %s: %w", key, err)
	}
	d := decide(a.policy, current, token, now, a.cooldown)
	if !d.Accepted() {
		return &ConflictError{Key: key, Remaining: d.Remaining}
	}
	return nil
}

// decide is the pure arbitration rule.
func decide(policy Policy, current *Lease, token string, now time.Time, cooldown time.Duration) Decision {
	fresh := Lease{Token: token, LastSeen: now}

	if current == nil {
		return Decision{Outcome: OutcomeCreated, Lease: fresh}
	}
	if current.Token == token {
		return Decision{Outcome: OutcomeRefreshed, Lease: fresh}
	}
	if policy == PolicyClientRecord && (current.Token == "" || current.LastSeen.IsZero()) {
		return Decision{Outcome: OutcomeTakeover, Lease: fresh}
	}

	elapsed := now.Sub(current.LastSeen)
	if elapsed < 0 {
		elapsed = 0
	}

	var free bool
	switch policy {
	case PolicyClientRecord:
		free = elapsed > cooldown
	default:
		free = elapsed >= cooldown
	}
	if free {
		return Decision{Outcome: OutcomeTakeover, Lease: fresh}
	}
	return Decision{Outcome: OutcomeRejected, Lease: *current, Remaining: cooldown - elapsed}
}
