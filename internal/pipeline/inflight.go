package pipeline

import (
	"context"
	"sync"
)

// InflightKey identifies an exchange by the inbound message that started it.
type InflightKey struct {
	ChatID    int64
	MessageID int
}

// Inflight maps running exchanges to their cancel functions so that an
// edit of the inbound message can abandon exactly that exchange.
type Inflight struct {
	mu      sync.Mutex
	cancels map[InflightKey]*inflightEntry
}

type inflightEntry struct {
	cancel context.CancelFunc
}

func NewInflight() *Inflight {
	return &Inflight{cancels: make(map[InflightKey]*inflightEntry)}
}

// Start derives the exchange context for key. A previous exchange under the
// same key is cancelled. The returned done func must be called when the
// exchange ends.
func (f *Inflight) Start(parent context.Context, key InflightKey) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	entry := &inflightEntry{cancel: cancel}

	f.mu.Lock()
	if prev, ok := f.cancels[key]; ok {
		prev.cancel()
	}
	f.cancels[key] = entry
	f.mu.Unlock()

	done := func() {
		f.mu.Lock()
		if f.cancels[key] == entry {
			delete(f.cancels, key)
		}
		f.mu.Unlock()
		cancel()
	}
	return ctx, done
}

// Cancel abandons the exchange for key and reports whether one was running.
func (f *Inflight) Cancel(key InflightKey) bool {
	f.mu.Lock()
	entry, ok := f.cancels[key]
	delete(f.cancels, key)
	f.mu.Unlock()
	if ok {
		entry.cancel()
	}
	return ok
}

func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}
