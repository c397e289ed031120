package session

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// Snapshotter persists session states outside the process. *RedisSnapshots
// implements it.
type Snapshotter interface {
	Save(ctx context.Context, sessionID string, st State, ttl time.Duration) error
	Load(ctx context.Context, sessionID string) (State, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// NewCookieJar returns the jar that carries one browser session's backend
// credential cookies.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// Entry is one browser session held by a Registry. It implements
// http.CookieJar over a replaceable inner jar so logout can drop every
// backend cookie at once.
type Entry struct {
	ID    string
	Store *Store

	jarMu    sync.RWMutex
	jar      http.CookieJar
	newJar   func() (http.CookieJar, error)
	lastSeen atomic.Int64
}

// Cookies implements http.CookieJar.
func (e *Entry) Cookies(u *url.URL) []*http.Cookie {
	e.jarMu.RLock()
	defer e.jarMu.RUnlock()
	return e.jar.Cookies(u)
}

// SetCookies implements http.CookieJar.
func (e *Entry) SetCookies(u *url.URL, cookies []*http.Cookie) {
	e.jarMu.RLock()
	defer e.jarMu.RUnlock()
	e.jar.SetCookies(u, cookies)
}

// ClearCookies swaps in an empty jar.
func (e *Entry) ClearCookies() error {
	jar, err := e.newJar()
	if err != nil {
		return err
	}
	e.jarMu.Lock()
	e.jar = jar
	e.jarMu.Unlock()
	return nil
}

func (e *Entry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

// RegistryConfig configures a Registry. Zero values are usable: no
// persistence, a public-suffix cookie jar per session.
type RegistryConfig struct {
	Snapshots      Snapshotter
	SnapshotTTL    time.Duration
	PersistTimeout time.Duration
	NewJar         func() (http.CookieJar, error)

	// OnPersistError receives snapshot failures. Persistence is best-effort;
	// the in-memory store stays authoritative for this process.
	OnPersistError func(sessionID string, err error)
	Now            func() time.Time
}

// Registry maps browser session IDs to their Entry.
type Registry struct {
	cfg     RegistryConfig
	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.NewJar == nil {
		cfg.NewJar = NewCookieJar
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 24 * time.Hour
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
}

// Get returns the entry for sessionID, creating it on first use. Concurrent
// first lookups for the same ID share one load, so exactly one Store exists
// per session ID in this process.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Entry, error) {
	if e, ok := r.Peek(sessionID); ok {
		return e, nil
	}
	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if e, ok := r.Peek(sessionID); ok {
			return e, nil
		}
		e, err := r.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.entries[sessionID] = e
		r.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Peek returns the entry for sessionID without creating it.
func (r *Registry) Peek(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if ok {
		e.touch(r.cfg.Now())
	}
	return e, ok
}

// Refresh adopts a settled snapshot written by another replica into an entry
// that has not been initialized locally. It reports whether state was adopted.
func (r *Registry) Refresh(ctx context.Context, e *Entry) (bool, error) {
	if r.cfg.Snapshots == nil || e.Store.State().Initialized {
		return false, nil
	}
	st, ok, err := r.cfg.Snapshots.Load(ctx, e.ID)
	if err != nil || !ok {
		return false, err
	}
	return e.Store.Adopt(st), nil
}

// Sync takes a snapshot written by another replica after the entry's last
// local change, so a logout or login elsewhere is seen here. When the user
// changes, the entry's backend credential is dropped as well.
func (r *Registry) Sync(ctx context.Context, e *Entry) (bool, error) {
	if r.cfg.Snapshots == nil {
		return false, nil
	}
	st, ok, err := r.cfg.Snapshots.Load(ctx, e.ID)
	if err != nil || !ok {
		return false, err
	}
	prev := e.Store.State().Identity
	if !e.Store.Sync(st) {
		return false, nil
	}
	if prev != nil && (st.Identity == nil || st.Identity.ID != prev.ID) {
		if err := e.ClearCookies(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Forget drops sessionID from memory and from the snapshot store.
func (r *Registry) Forget(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if r.cfg.Snapshots == nil {
		return nil
	}
	return r.cfg.Snapshots.Delete(ctx, sessionID)
}

// Sweep evicts entries not seen for longer than idle and returns how many
// were removed. Snapshots are kept; an evicted session reloads from Redis.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.cfg.Now().Add(-idle).UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		if e.lastSeen.Load() < cutoff {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) load(ctx context.Context, sessionID string) (*Entry, error) {
	jar, err := r.cfg.NewJar()
	if err != nil {
		return nil, err
	}

	store := NewStore()
	if r.cfg.Snapshots != nil {
		st, ok, err := r.cfg.Snapshots.Load(ctx, sessionID)
		switch {
		case err != nil:
			r.persistError(sessionID, err)
		case ok:
			store = NewStoreFrom(st)
		}
		store.OnChange(func(st State) { r.persist(sessionID, st) })
	}

	e := &Entry{
		ID:     sessionID,
		Store:  store,
		jar:    jar,
		newJar: r.cfg.NewJar,
	}
	e.touch(r.cfg.Now())
	return e, nil
}

// persist mirrors st to the snapshot store. States before the first settle
// carry nothing a fresh store lacks and are not written, so a replica that
// loses the restore claim never overwrites the winner's snapshot.
func (r *Registry) persist(sessionID string, st State) {
	if !st.Initialized {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	if err := r.cfg.Snapshots.Save(ctx, sessionID, st, r.ttlFor(st)); err != nil {
		r.persistError(sessionID, err)
	}
}

// ttlFor bounds the snapshot lifetime by the credential expiry when known.
func (r *Registry) ttlFor(st State) time.Duration {
	ttl := r.cfg.SnapshotTTL
	if st.Identity != nil && st.Identity.ExpiresAt > 0 {
		left := time.Unix(st.Identity.ExpiresAt, 0).Sub(r.cfg.Now())
		if left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (r *Registry) persistError(sessionID string, err error) {
	if r.cfg.OnPersistError != nil {
		r.cfg.OnPersistError(sessionID, err)
	}
}
