// Package simsub is an in-process Subscriber. Updates are published by the
// caller and delivered synchronously to every subscription of the name.
package simsub

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// ErrSubscribeRefused is returned for names registered with Refuse.
var ErrSubscribeRefused = errors.New("subscribe refused")

type subscription struct {
	name string
	mode ports.Mode
	cb   ports.Callback
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithSpuriousDisconnect makes Unsubscribe deliver a disconnected update to
// the cancelled callback, the way some transports do while tearing down.
func WithSpuriousDisconnect() Option {
	return func(s *Subscriber) { s.spurious = true }
}

// WithConnectOnSubscribe delivers a connected update carrying the last
// published value, if any, as soon as a subscription is created.
func WithConnectOnSubscribe() Option {
	return func(s *Subscriber) { s.connectOnSubscribe = true }
}

type Subscriber struct {
	mu                 sync.Mutex
	subs               map[ports.Handle]*subscription
	last               map[string]ports.Update
	refused            map[string]bool
	spurious           bool
	connectOnSubscribe bool
	subscribeCalls     int
}

func New(opts ...Option) *Subscriber {
	s := &Subscriber{
		subs:    make(map[ports.Handle]*subscription),
		last:    make(map[string]ports.Update),
		refused: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refuse makes Subscribe fail for name.
func (s *Subscriber) Refuse(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refused[name] = true
}

func (s *Subscriber) Subscribe(_ context.Context, name string, mode ports.Mode, cb ports.Callback) (ports.Handle, error) {
	s.mu.Lock()
	s.subscribeCalls++
	if s.refused[name] {
		s.mu.Unlock()
		return "", ErrSubscribeRefused
	}
	h := ports.Handle(uuid.NewString())
	s.subs[h] = &subscription{name: name, mode: mode, cb: cb}
	last, seen := s.last[name]
	connect := s.connectOnSubscribe
	s.mu.Unlock()

	if connect && seen && last.Connected {
		cb(last)
	}
	return h, nil
}

func (s *Subscriber) Unsubscribe(_ context.Context, h ports.Handle) error {
	s.mu.Lock()
	sub, ok := s.subs[h]
	delete(s.subs, h)
	spurious := s.spurious
	s.mu.Unlock()

	if ok && spurious {
		sub.cb(ports.Update{Connected: false, StateInfo: "unsubscribed", Timestamp: time.Now()})
	}
	return nil
}

// Publish delivers u to every subscription of name. Alarm-only
// subscriptions only see updates whose severity differs from the previous one.
func (s *Subscriber) Publish(name string, u ports.Update) {
	s.mu.Lock()
	prev, seen := s.last[name]
	s.last[name] = u
	cbs := make([]ports.Callback, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.name != name {
			continue
		}
		if sub.mode == ports.ModeAlarmOnly && seen && prev.Connected == u.Connected && prev.Severity == u.Severity {
			continue
		}
		cbs = append(cbs, sub.cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(u)
	}
}

// Value publishes a connected update with the given value stamped now.
func (s *Subscriber) Value(name string, v any) {
	s.Publish(name, ports.Update{Value: v, Connected: true, Timestamp: time.Now()})
}

// Disconnect publishes a disconnected update for name.
func (s *Subscriber) Disconnect(name string) {
	s.Publish(name, ports.Update{Connected: false, StateInfo: "disconnected", Timestamp: time.Now(), Severity: domain.SeverityInvalid})
}

// Active returns the number of live subscriptions for name.
func (s *Subscriber) Active(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.name == name {
			n++
		}
	}
	return n
}

// SubscribeCalls counts Subscribe invocations, refused ones included.
func (s *Subscriber) SubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls
}

// Simulate publishes a bounded random walk for every name each period until
// ctx is done. The first update of a name carries a display range.
func (s *Subscriber) Simulate(ctx context.Context, names []string, period time.Duration, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	values := make(map[string]float64, len(names))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		for _, name := range names {
			v, ok := values[name]
			u := ports.Update{Connected: true, Timestamp: time.Now()}
			if !ok {
				v = rng.Float64() * 100
				u.Metadata = &domain.Metadata{DisplayLow: 0, DisplayHigh: 100}
			}
			v += rng.NormFloat64()
			if v < 0 {
				v = 0
			}
			if v > 100 {
				v = 100
			}
			values[name] = v
			u.Value = v
			if v > 90 {
				u.Severity = domain.SeverityMajor
			}
			s.Publish(name, u)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var _ ports.Subscriber = (*Subscriber)(nil)
