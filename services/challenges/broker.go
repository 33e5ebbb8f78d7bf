// Package challenges coordinates the human-in-the-loop half of portal
// logins. When an automated login cannot proceed (rejected credentials,
// a one-time code sent to the school's phone) the job raises a challenge
// here, an operator answers it over the realtime channel, and the blocked
// job picks the answer up and carries on.
package challenges

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/timezone"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/challenges")

type Kind string

const (
	// the portal rejected the stored credentials, the operator must
	// supply working ones
	KindCredentials Kind = "credentials"
	// the portal demands a code delivered out of band
	KindOneTimeCode Kind = "one_time_code"
)

type State string

const (
	StateAwaiting State = "awaiting"
	StateResolved State = "resolved"
	StateExpired  State = "expired"
)

// ErrChallengeTimeout is returned to the blocked job when nobody answered
// the challenge before its deadline.
var ErrChallengeTimeout = fmt.Errorf("challenge timed out waiting for an operator")

// ErrConflict is returned on attempts to settle a challenge that is
// already resolved or expired. Callers racing an expiry hit this in
// normal operation, it is benign.
var ErrConflict = fmt.Errorf("challenge already settled")

type Challenge struct {
	Id        string    `json:"id"`
	AccountId string    `json:"account_id"`
	Kind      Kind      `json:"kind"`
	// shown verbatim to the operator, e.g. the portal's own error label
	Prompt    string    `json:"prompt"`
	State     State     `json:"state"`
	RaisedAt  time.Time `json:"raised_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Payload is the operator's answer. Which fields are set depends on the
// challenge kind.
type Payload struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

type pending struct {
	challenge Challenge
	timer     *time.Timer

	settled bool
	done    chan struct{}
	payload Payload
	err     error
}

type Options struct {
	// how long a raised challenge stays answerable, 5 minutes when zero
	Timeout time.Duration
	// when set, operators also get an email whenever a challenge is
	// raised, in case nobody is watching the realtime channel
	Notifier *Notifier
}

type Broker struct {
	bus     *events.Bus
	timeout time.Duration
	notify  *Notifier

	mu   sync.Mutex
	open map[string]*pending
}

func NewBroker(bus *events.Bus, options Options) *Broker {
	if options.Timeout == 0 {
		options.Timeout = time.Minute * 5
	}
	return &Broker{
		bus:     bus,
		timeout: options.Timeout,
		notify:  options.Notifier,
		open:    map[string]*pending{},
	}
}

// Raise opens a challenge for the given account and announces it on the
// account's bus topic. The caller then blocks in Await until an operator
// settles it or the timeout fires.
func (b *Broker) Raise(ctx context.Context, accountId string, kind Kind, prompt string) (Challenge, error) {
	ctx, span := tracer.Start(ctx, "broker:Raise")
	defer span.End()

	id := uuid.NewString()
	now := timezone.Now()
	challenge := Challenge{
		Id:        id,
		AccountId: accountId,
		Kind:      kind,
		Prompt:    prompt,
		State:     StateAwaiting,
		RaisedAt:  now,
		ExpiresAt: now.Add(b.timeout),
	}
	span.SetAttributes(
		attribute.String("challenge_id", id),
		attribute.String("kind", string(kind)),
	)

	p := &pending{
		challenge: challenge,
		done:      make(chan struct{}),
	}
	p.timer = time.AfterFunc(b.timeout, func() {
		b.expire(id)
	})

	b.mu.Lock()
	b.open[id] = p
	b.mu.Unlock()

	slog.InfoContext(
		ctx, "challenge raised",
		"challenge_id", id,
		"account", accountId,
		"kind", kind,
	)
	b.bus.Publish("account/"+accountId, "challenge_raised", challenge)

	if b.notify != nil {
		go func() {
			err := b.notify.ChallengeRaised(context.Background(), challenge)
			if err != nil {
				slog.Warn("failed to email challenge notification", "challenge_id", id, "err", err)
			}
		}()
	}
	return challenge, nil
}

// Await blocks until the challenge is resolved, expired, or the context
// is cancelled, and consumes it. The returned payload is only meaningful
// on a nil error. A settled challenge stays awaitable until the waiter
// picks it up, so resolving before the raiser reaches Await is fine.
func (b *Broker) Await(ctx context.Context, id string) (Payload, error) {
	ctx, span := tracer.Start(ctx, "broker:Await")
	defer span.End()
	span.SetAttributes(attribute.String("challenge_id", id))

	b.mu.Lock()
	p, ok := b.open[id]
	b.mu.Unlock()
	if !ok {
		span.SetStatus(codes.Error, "awaiting an unknown challenge")
		return Payload{}, ErrConflict
	}

	select {
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	case <-p.done:
		b.remove(id)
		if p.err != nil {
			span.SetStatus(codes.Error, p.err.Error())
		}
		return p.payload, p.err
	}
}

// Resolve settles an awaiting challenge with the operator's answer and
// unblocks its waiter.
func (b *Broker) Resolve(ctx context.Context, id string, payload Payload) error {
	ctx, span := tracer.Start(ctx, "broker:Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("challenge_id", id))

	b.mu.Lock()
	p, ok := b.open[id]
	if !ok || p.settled {
		b.mu.Unlock()
		span.SetStatus(codes.Error, ErrConflict.Error())
		return ErrConflict
	}
	p.settled = true
	p.challenge.State = StateResolved
	p.payload = payload
	b.mu.Unlock()

	p.timer.Stop()
	close(p.done)
	// if the waiter died without consuming the answer, drop it eventually
	time.AfterFunc(b.timeout, func() { b.remove(id) })

	slog.InfoContext(ctx, "challenge resolved", "challenge_id", id, "account", p.challenge.AccountId)
	b.bus.Publish("account/"+p.challenge.AccountId, "challenge_resolved", p.challenge)
	return nil
}

// Get returns a snapshot of a challenge that has not been consumed yet.
func (b *Broker) Get(id string) (Challenge, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[id]
	if !ok {
		return Challenge{}, false
	}
	return p.challenge, true
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.open, id)
	b.mu.Unlock()
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	p, ok := b.open[id]
	if !ok || p.settled {
		b.mu.Unlock()
		return
	}
	p.settled = true
	p.challenge.State = StateExpired
	p.err = ErrChallengeTimeout
	b.mu.Unlock()

	close(p.done)
	time.AfterFunc(b.timeout, func() { b.remove(id) })

	slog.Warn("challenge expired", "challenge_id", id, "account", p.challenge.AccountId)
	b.bus.Publish("account/"+p.challenge.AccountId, "challenge_expired", p.challenge)
}
