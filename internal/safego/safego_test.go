package safego

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Errorf("%s did not complete within timeout", what)
	}
}

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })
	waitFor(t, done, "background function")
}

func TestGoRecoversPanic(t *testing.T) {
	// A panicking function must not crash the test process, and deferred
	// cleanup inside it must still run.
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("intentional panic in test")
	})
	waitFor(t, done, "panicking background function")
}
