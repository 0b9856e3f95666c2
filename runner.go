package blescard

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrRunnerStopped is returned by Do once Run has returned.
var ErrRunnerStopped = errors.New("runner stopped")

// Runner serializes transport events and application calls on one goroutine,
// which is what a Session requires. Transports post events from their own
// callbacks; applications call Do.
type Runner struct {
	session *Session
	queue   chan func()
	done    chan struct{}
	tick    time.Duration
}

// NewRunner returns a runner for s. Timeouts are checked every tick.
func NewRunner(s *Session, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{
		session: s,
		queue:   make(chan func(), 64),
		done:    make(chan struct{}),
		tick:    tick,
	}
}

// Session returns the session driven by the runner. Its methods must only be
// called from Do or from delegate callbacks.
func (r *Runner) Session() *Session {
	return r.session
}

// Post queues a transport event. It drops the event once the runner has stopped.
func (r *Runner) Post(ev Event) {
	select {
	case r.queue <- func() { r.session.Handle(ev) }:
	case <-r.done:
	}
}

// Do runs fn on the session goroutine and waits for its result.
func (r *Runner) Do(fn func(*Session) error) error {
	res := make(chan error, 1)
	select {
	case r.queue <- func() { res <- fn(r.session) }:
	case <-r.done:
		return ErrRunnerStopped
	}

	select {
	case err := <-res:
		return err
	case <-r.done:
		return ErrRunnerStopped
	}
}

// Run processes queued work until ctx is done. The session is closed on the way out.
func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	defer close(r.done)

	for {
		select {
		case fn := <-r.queue:
			fn()
		case now := <-t.C:
			r.session.Expire(now)
		case <-ctx.Done():
			if err := r.session.Close(); err != nil {
				r.session.log.Warnf("close: %v", err)
			}
			return ctx.Err()
		}
	}
}
