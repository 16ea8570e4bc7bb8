package coordinator

import (
	"context"
	"slices"
	"sync"
)

// participantLocks serializes sessions that touch the same participant so a
// quota check and the booking it admits happen under one lock. It only covers
// sessions run by this process.
type participantLocks struct {
	mu   sync.Mutex
	held map[string]*participantLock
}

type participantLock struct {
	ch   chan struct{}
	refs int
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{held: make(map[string]*participantLock)}
}

// Lock acquires every id in sorted order and returns the release func. It
// gives up when ctx ends while waiting.
func (p *participantLocks) Lock(ctx context.Context, ids ...string) (func(), error) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	acquired := make([]string, 0, len(keys))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			p.release(acquired[i])
		}
	}
	for _, key := range keys {
		if err := p.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, key)
	}
	return release, nil
}

func (p *participantLocks) acquire(ctx context.Context, key string) error {
	p.mu.Lock()
	l, ok := p.held[key]
	if !ok {
		l = &participantLock{ch: make(chan struct{}, 1)}
		p.held[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		p.drop(key, l)
		return ctx.Err()
	}
}

func (p *participantLocks) release(key string) {
	p.mu.Lock()
	l := p.held[key]
	p.mu.Unlock()
	<-l.ch
	p.drop(key, l)
}

func (p *participantLocks) drop(key string, l *participantLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.held, key)
	}
}
