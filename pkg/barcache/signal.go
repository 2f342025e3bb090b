package barcache

import "sync"

// signal is a broadcast wake-up primitive: every call to wait returns a
// channel that closes on the next broadcast, translating the Python
// source's asyncio.Event (quantrion/data/base.py's new-bar condition)
// into a close-and-replace channel idiom. Unlike sync.Cond, a channel can be
// selected on alongside ctx.Done() in WaitForNext.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// wait returns the current generation's channel; it closes on the next
// broadcast call made under the cache's mutex.
func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// broadcast wakes every waiter and rotates in a fresh channel for the
// next generation. Callers must already hold the cache's mutex so a
// broadcast is never missed between a waiter reading the last bar and
// registering to wait.
func (s *signal) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
