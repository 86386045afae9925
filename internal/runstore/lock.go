package runstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/roach88/runledger/internal/hashing"
)

// pathLocks serialises mutations per logical key. Each key gets an
// in-process mutex (a one-slot channel so waits honour ctx) and, while held,
// an exclusive flock on a lock file so other processes on the same node are
// excluded too. Lock files live under one directory so partition listings
// stay clean; they are never removed, which keeps flock identity stable.
type pathLocks struct {
	dir string

	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

func newPathLocks(dir string) *pathLocks {
	return &pathLocks{dir: dir, entries: make(map[string]*lockEntry)}
}

// lock acquires the lock for key and returns its release function.
func (p *pathLocks) lock(ctx context.Context, key string) (func(), error) {
	entry := p.ref(key)

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		p.unref(key)
		return nil, fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	}

	file := filepath.Join(p.dir, hashing.HashText(key)[:32]+".lock")
	unlockFile, err := lockFile(ctx, file)
	if err != nil {
		<-entry.slot
		p.unref(key)
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockFile()
			<-entry.slot
			p.unref(key)
		})
	}, nil
}

func (p *pathLocks) ref(key string) *lockEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		p.entries[key] = e
	}
	e.refs++
	return e
}

func (p *pathLocks) unref(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(p.entries, key)
	}
}
