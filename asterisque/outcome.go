package asterisque

import (
	"context"
	"sync"
)

// Outcome is a pipe's terminal result: resolved exactly once, by whichever
// of local close, remote close, or transport error reaches it first.
type Outcome struct {
	once   sync.Once
	done   chan struct{}
	result []byte
	err    error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// complete resolves the outcome. Only the first call has any effect.
func (o *Outcome) complete(result []byte, err error) {
	o.once.Do(func() {
		o.result = result
		o.err = err
		close(o.done)
	})
}

// Wait blocks until the outcome resolves or ctx is cancelled.
func (o *Outcome) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed exactly once the outcome resolves.
func (o *Outcome) Done() <-chan struct{} { return o.done }

// Resolved reports whether the outcome has already settled, without
// blocking.
func (o *Outcome) Resolved() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}
