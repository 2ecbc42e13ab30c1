// Package ratelimit caps how often a Subscriber delivers updates per
// subscription. Updates arriving faster are coalesced and only the latest
// one is delivered when the limiter allows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghalamif/AegisArchive/internal/ports"
)

type Subscriber struct {
	next  ports.Subscriber
	every time.Duration

	mu   sync.Mutex
	subs map[ports.Handle]*coalescer
}

// New limits every subscription made through next to one delivery per
// period. A non-positive period disables limiting.
func New(next ports.Subscriber, every time.Duration) *Subscriber {
	return &Subscriber{next: next, every: every, subs: make(map[ports.Handle]*coalescer)}
}

func (s *Subscriber) Subscribe(ctx context.Context, name string, mode ports.Mode, cb ports.Callback) (ports.Handle, error) {
	if s.every <= 0 {
		return s.next.Subscribe(ctx, name, mode, cb)
	}
	c := &coalescer{
		limiter: rate.NewLimiter(rate.Every(s.every), 1),
		cb:      cb,
	}
	h, err := s.next.Subscribe(ctx, name, mode, c.push)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.subs[h] = c
	s.mu.Unlock()
	return h, nil
}

func (s *Subscriber) Unsubscribe(ctx context.Context, h ports.Handle) error {
	s.mu.Lock()
	c := s.subs[h]
	delete(s.subs, h)
	s.mu.Unlock()
	if c != nil {
		c.close()
	}
	return s.next.Unsubscribe(ctx, h)
}

type coalescer struct {
	limiter *rate.Limiter
	cb      ports.Callback

	mu      sync.Mutex
	pending *ports.Update
	timer   *time.Timer
	closed  bool

	deliverMu sync.Mutex
}

func (c *coalescer) push(u ports.Update) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = &u
	if c.timer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.limiter.Reserve().Delay()
	if delay > 0 {
		c.timer = time.AfterFunc(delay, c.flush)
		c.mu.Unlock()
		return
	}
	next := *c.pending
	c.pending = nil
	c.mu.Unlock()
	c.deliver(next)
}

func (c *coalescer) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.pending == nil {
		c.mu.Unlock()
		return
	}
	next := *c.pending
	c.pending = nil
	c.mu.Unlock()
	c.deliver(next)
}

func (c *coalescer) deliver(u ports.Update) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.cb(u)
}

func (c *coalescer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

var _ ports.Subscriber = (*Subscriber)(nil)
