package mutation

import "sync"

// pathLocks serializes write-class operations on the same resolved
// path. Entries are refcounted and dropped when the last holder
// releases, so the map does not grow with the lifetime of the process.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: map[string]*pathLock{}}
}

func (p *pathLocks) lock(path string) {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
}

func (p *pathLocks) unlock(path string) {
	p.mu.Lock()
	l := p.locks[path]
	l.refs--
	if l.refs == 0 {
		delete(p.locks, path)
	}
	p.mu.Unlock()

	l.mu.Unlock()
}
