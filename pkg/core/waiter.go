package core

import (
	"context"
	"sync"
)

// Waiter - one-shot result shared between goroutines.
// Zero value is ready to use, only the first Done matters.
type Waiter struct {
	mu   sync.Mutex
	ch   chan struct{}
	err  error
	done bool
}

func (w *Waiter) Done(err error) {
	w.mu.Lock()
	if !w.done {
		w.done = true
		w.err = err
		if w.ch == nil {
			w.ch = make(chan struct{})
		}
		close(w.ch)
	}
	w.mu.Unlock()
}

// C - closed after the first Done
func (w *Waiter) C() <-chan struct{} {
	w.mu.Lock()
	if w.ch == nil {
		w.ch = make(chan struct{})
	}
	ch := w.ch
	w.mu.Unlock()
	return ch
}

func (w *Waiter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.C():
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
