package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGoDeliversWorkerResult(t *testing.T) {
	g := &Group{}
	want := errors.New("boom")
	errCh := g.Go(context.Background(), func(ctx context.Context) error { return want })
	if got := <-errCh; !errors.Is(got, want) {
		t.Fatalf("worker result = %v, want %v", got, want)
	}
	g.Wait()
}

func TestGoRecoversPanics(t *testing.T) {
	g := &Group{}
	errCh := g.Go(context.Background(), func(ctx context.Context) error {
		panic("bad frame")
	})
	err := <-errCh
	if err == nil {
		t.Fatal("expected an error from a panicking worker")
	}
	if !strings.Contains(err.Error(), "worker panic") || !strings.Contains(err.Error(), "bad frame") {
		t.Fatalf("unexpected panic error: %v", err)
	}
	g.Wait()
}

func TestWaitBlocksUntilWorkersExit(t *testing.T) {
	g := &Group{}
	release := make(chan struct{})
	g.Go(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	close(release)
	g.Wait()
}
