package store

import (
	"sync"

	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Pipe is a Subscription fed by a producer goroutine. Store implementations
// embed it so that Close, Done and Err behave identically everywhere.
type Pipe struct {
	events chan types.Change
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewPipe creates a pipe whose event buffer holds buffer changes.
func NewPipe(buffer int) *Pipe {
	return &Pipe{events: make(chan types.Change, buffer), done: make(chan struct{})}
}

// Events implements Subscription.
func (p *Pipe) Events() <-chan types.Change { return p.events }

// Done implements Subscription.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Err implements Subscription.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close implements Subscription.
func (p *Pipe) Close() error {
	p.Fail(nil)
	return nil
}

// Fail ends the subscription with err. Only the first call has any effect.
// Producers must stop calling Offer and Send once Fail has been called.
func (p *Pipe) Fail(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Offer delivers c without blocking. It returns false if the buffer is full
// or the pipe has ended.
func (p *Pipe) Offer(c types.Change) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.events <- c:
		return true
	default:
		return false
	}
}

// Send delivers c, blocking until there is room or the pipe ends.
func (p *Pipe) Send(c types.Change) bool {
	select {
	case p.events <- c:
		return true
	case <-p.done:
		return false
	}
}

// CloseEvents closes the event channel. The producer calls it exactly once
// after it has stopped sending.
func (p *Pipe) CloseEvents() { close(p.events) }
