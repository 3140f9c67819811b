package runner

import (
	"context"
	"fmt"
	"sync"
)

// Group tracks worker goroutines so shutdown can wait for all of them.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn on its own goroutine and returns a channel that yields the
// worker's result exactly once. A panic inside fn is recovered and
// surfaced as an error instead of taking the process down.
func (g *Group) Go(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()
	return done
}

func (g *Group) Wait() { g.wg.Wait() }
