package proxystate

import "sync"

// notifier is a one-shot wakeup, adapted from the signal package cloudflared
// uses to let goroutines wait for a single event: Subscribe hands out the
// current generation's notifier (shared by every subscriber since the last
// commit), and committing a change fires it and replaces it with a fresh
// one. Callers that want to keep observing must call Subscribe again after
// each fire.
type notifier struct {
	ch   chan struct{}
	once sync.Once
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// fire wakes every waiter. Safe to call more than once; only the first call
// has an effect.
func (n *notifier) fire() {
	n.once.Do(func() { close(n.ch) })
}

// Wait returns a channel that closes the first time the state this notifier
// was handed out for commits a change.
func (n *notifier) Wait() <-chan struct{} {
	return n.ch
}
