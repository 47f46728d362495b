// Package activity delivers discrete "the user did something" notifications
// from input devices.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind identifies the input action behind an Event.
type Kind int

const (
	PointerMove Kind = iota
	Click
	Scroll
	KeyPress
)

func (k Kind) String() string {
	switch k {
	case PointerMove:
		return "pointer-move"
	case Click:
		return "click"
	case Scroll:
		return "scroll"
	case KeyPress:
		return "key-press"
	default:
		return "unknown"
	}
}

// Event is a single activity notification.
type Event struct {
	Kind Kind
	Time time.Time
}

// Source emits activity events. The returned channel is closed once ctx is
// done or the source can no longer deliver events. An error means nothing
// was subscribed.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// ErrUnsupported is returned by sources that cannot run on this platform.
var ErrUnsupported = errors.New("activity source not supported on this platform")

// subscriberBuffer bounds how many events may queue per subscriber before
// further events are dropped. Consumers rate limit anyway.
const subscriberBuffer = 16

// Chan is a Source fed programmatically through Emit.
type Chan struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	err  error
}

// NewChan creates an empty programmatic source.
func NewChan() *Chan {
	return &Chan{subs: make(map[chan Event]struct{})}
}

// FailSubscribe makes subsequent Subscribe calls return err. Pass nil to
// restore normal behavior.
func (c *Chan) FailSubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Subscribe registers a new subscriber until ctx is done.
func (c *Chan) Subscribe(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}

	ch := make(chan Event, subscriberBuffer)
	c.subs[ch] = struct{}{}
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, ch)
		close(ch)
		c.mu.Unlock()
	}()
	return ch, nil
}

// Emit delivers ev to every subscriber without blocking. Subscribers whose
// buffer is full miss the event.
func (c *Chan) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Chan) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
