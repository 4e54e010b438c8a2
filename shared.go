package streamsession

import (
	"log/slog"
	"sync"
)

// Builder creates a session on demand.
type Builder func() (*StreamSession, error)

// Source hands out the session according to an OwnershipMode.
type Source interface {
	Acquire() (SessionController, error)
}

// NewSource returns an exclusive or shared Source over sessions built by build.
func NewSource(mode OwnershipMode, build Builder) Source {
	if mode == OwnershipShared {
		return NewSharedSession(build)
	}
	return &exclusiveSource{build: build}
}

type exclusiveSource struct {
	mu    sync.Mutex
	build Builder
	taken bool
}

// Acquire builds the session for its single owner.
func (e *exclusiveSource) Acquire() (SessionController, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.taken {
		return nil, ErrAlreadyOwned
	}
	s, err := e.build()
	if err != nil {
		return nil, err
	}
	e.taken = true
	return s, nil
}

// SharedSession lends one session to many owners. All leases drive the same
// session, so every mutating call still goes through its single lock. The
// session is built on the first Acquire and released with the last Lease; a
// later Acquire builds a fresh one.
type SharedSession struct {
	mu      sync.Mutex
	build   Builder
	session *StreamSession
	refs    int
}

// NewSharedSession creates a SharedSession.
func NewSharedSession(build Builder) *SharedSession {
	return &SharedSession{build: build}
}

// Acquire returns a new Lease on the shared session.
func (sh *SharedSession) Acquire() (SessionController, error) {
	return sh.Lease()
}

// Lease is Acquire with the concrete type.
func (sh *SharedSession) Lease() (*Lease, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.session == nil {
		s, err := sh.build()
		if err != nil {
			return nil, err
		}
		sh.session = s
		slog.Debug("stream-session: shared session created", "session_id", s.ID())
	}
	sh.refs++

	return &Lease{StreamSession: sh.session, owner: sh}, nil
}

// Refs returns the number of outstanding leases.
func (sh *SharedSession) Refs() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.refs
}

func (sh *SharedSession) drop() error {
	sh.mu.Lock()
	sh.refs--
	if sh.refs > 0 {
		sh.mu.Unlock()
		return nil
	}
	s := sh.session
	sh.session = nil
	sh.refs = 0
	sh.mu.Unlock()

	if s == nil {
		return nil
	}
	slog.Debug("stream-session: last lease returned", "session_id", s.ID())
	return s.Release()
}

// Lease is one owner's handle on a shared session. Release and Destroy
// return the lease; the session is released with the last one.
type Lease struct {
	*StreamSession

	owner *SharedSession
	once  sync.Once
}

var _ SessionController = (*Lease)(nil)

// Release returns the lease. Idempotent per lease.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		err = l.owner.drop()
	})
	return err
}

// Destroy returns the lease.
func (l *Lease) Destroy() error {
	return l.Release()
}
