package session

import (
	"context"
	"sync"
	"time"
)

// Store is the single writer of one browser session's State.
//
// All mutations are serialized by an internal mutex and every phase transition
// is a compare-and-set under that mutex. Observers registered with OnChange are
// invoked after the mutation, outside the state lock, in mutation order.
type Store struct {
	mu      sync.Mutex
	state   State
	seq     uint64
	epoch   uint64
	busy    bool
	changed chan struct{}

	notifyMu    sync.Mutex
	notifiedSeq uint64
	observers   []func(State)
	observersMu sync.RWMutex
	clock       func() time.Time
}

// NewStore returns a Store in its pre-bootstrap state: no identity, loading,
// not initialized, PhaseNotStarted.
func NewStore() *Store {
	return NewStoreFrom(State{Loading: true})
}

// NewStoreFrom returns a Store seeded from a previously persisted State.
//
// A persisted PhaseChecking cannot be resumed by this process, so it is
// normalized back to PhaseNotStarted with loading set.
func NewStoreFrom(st State) *Store {
	if st.Phase == PhaseChecking {
		st.Phase = PhaseNotStarted
		st.Loading = true
	}
	return &Store{
		state:   st.clone(),
		changed: make(chan struct{}),
		clock:   time.Now,
	}
}

// State returns the latest state. It has no side effects.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// OnChange registers fn to be called with the new State after every mutation.
func (s *Store) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

// SetIdentity atomically replaces the identity. nil clears it.
func (s *Store) SetIdentity(id *Identity) {
	s.mutate(func(st *State) bool {
		st.Identity = id.Clone()
		return true
	})
}

// ReplaceIdentity swaps in next only when an identity with the same ID is
// present. It returns the identity that was current when the call was made.
func (s *Store) ReplaceIdentity(next *Identity) (*Identity, bool) {
	var prev *Identity
	ok := s.mutate(func(st *State) bool {
		prev = st.Identity.Clone()
		if st.Identity == nil || next == nil || st.Identity.ID != next.ID {
			return false
		}
		st.Identity = next.Clone()
		return true
	})
	return prev, ok
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mutate(func(st *State) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

// FinishLoading clears the loading flag unless a restore is in flight, which
// clears it itself when it settles.
func (s *Store) FinishLoading() {
	s.mutate(func(st *State) bool {
		if !st.Loading || st.Phase == PhaseChecking {
			return false
		}
		st.Loading = false
		return true
	})
}

// SetInitialized sets the initialized flag. Once true it never reverts, so
// SetInitialized(false) after true is ignored.
func (s *Store) SetInitialized(initialized bool) {
	s.mutate(func(st *State) bool {
		if !initialized || st.Initialized {
			return false
		}
		st.Initialized = true
		return true
	})
}

// StartRestore claims the restore for this lifetime: NOT_STARTED → CHECKING.
// It returns false when the phase has already left NOT_STARTED. The ticket
// completes only while its attempt is still current, so a restore that
// outlives a logout cannot write into the next lifetime.
func (s *Store) StartRestore() (*Restore, bool) {
	var epoch uint64
	ok := s.mutate(func(st *State) bool {
		if st.Phase != PhaseNotStarted {
			return false
		}
		s.epoch++
		epoch = s.epoch
		st.Phase = PhaseChecking
		st.Loading = true
		return true
	})
	if !ok {
		return nil, false
	}
	return &Restore{store: s, epoch: epoch}, true
}

// Restore is one in-flight restore attempt.
type Restore struct {
	store *Store
	epoch uint64
}

// Complete settles the attempt with id (nil for anonymous) in one mutation:
// identity stored, loading cleared, initialized set, phase SETTLED. It
// returns false when the attempt has been superseded.
func (r *Restore) Complete(id *Identity) bool {
	return r.store.mutate(func(st *State) bool {
		if st.Phase != PhaseChecking || r.store.epoch != r.epoch {
			return false
		}
		completeRestore(st, id)
		return true
	})
}

// Abandon returns the attempt to NOT_STARTED without touching the identity.
func (r *Restore) Abandon() bool {
	return r.store.mutate(func(st *State) bool {
		if st.Phase != PhaseChecking || r.store.epoch != r.epoch {
			return false
		}
		st.Phase = PhaseNotStarted
		return true
	})
}

// SkipRestore settles a session opened on a public entry surface without a
// backend call: NOT_STARTED → SETTLED, not loading, initialized.
func (s *Store) SkipRestore() bool {
	return s.mutate(func(st *State) bool {
		if st.Phase != PhaseNotStarted {
			return false
		}
		st.Phase = PhaseSettled
		st.Loading = false
		st.Initialized = true
		return true
	})
}

func completeRestore(st *State, id *Identity) {
	st.Identity = id.Clone()
	st.Loading = false
	st.Initialized = true
	st.Phase = PhaseSettled
}

// Arm settles the phase from any state. It is called after a successful
// login or registration so no restore runs on top of fresh credentials.
func (s *Store) Arm() {
	s.mutate(func(st *State) bool {
		if st.Phase == PhaseSettled && st.Initialized {
			return false
		}
		s.epoch++
		st.Phase = PhaseSettled
		st.Initialized = true
		return true
	})
}

// Disarm resets the phase to NOT_STARTED so a later activation may restore again.
func (s *Store) Disarm() {
	s.mutate(func(st *State) bool {
		if st.Phase == PhaseNotStarted {
			return false
		}
		s.epoch++
		st.Phase = PhaseNotStarted
		return true
	})
}

// Adopt replaces the local state with st when the local store has not been
// initialized and st is settled. It returns true when st was taken.
func (s *Store) Adopt(st State) bool {
	return s.mutate(func(cur *State) bool {
		if cur.Initialized || cur.Phase == PhaseChecking {
			return false
		}
		if !st.Settled() || st.Phase != PhaseSettled {
			return false
		}
		*cur = st.clone()
		return true
	})
}

// Sync replaces an initialized local state with st when st was written
// later. A restore or login/register running in this process keeps its own
// state. Observers are not notified: st already is the persisted state.
func (s *Store) Sync(st State) bool {
	s.mu.Lock()
	cur := s.state
	if s.busy || cur.Phase == PhaseChecking || !cur.Initialized ||
		!st.Initialized || st.Phase == PhaseChecking || st.UpdatedAt <= cur.UpdatedAt {
		s.mu.Unlock()
		return false
	}
	s.epoch++
	s.seq++
	seq := s.seq
	s.state = st.clone()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.notifyMu.Lock()
	if seq > s.notifiedSeq {
		s.notifiedSeq = seq
	}
	s.notifyMu.Unlock()
	return true
}

// BeginOperation claims the login/register slot. It returns false while
// another operation holds it.
func (s *Store) BeginOperation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// EndOperation releases the slot claimed by BeginOperation.
func (s *Store) EndOperation() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Wait blocks until pred holds for the current state or ctx is done. On
// cancellation it returns the last observed state with ctx.Err().
func (s *Store) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		st := s.state.clone()
		ch := s.changed
		s.mu.Unlock()

		if pred(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Await waits until the state is initialized and not loading.
func (s *Store) Await(ctx context.Context) (State, error) {
	return s.Wait(ctx, State.Settled)
}

// mutate applies fn under the state lock. When fn reports a change the
// waiters are woken and observers notified.
func (s *Store) mutate(fn func(*State) bool) bool {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.seq++
	s.state.UpdatedAt = s.clock().UnixNano()
	seq := s.seq
	snapshot := s.state.clone()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.notify(seq, snapshot)
	return true
}

func (s *Store) notify(seq uint64, st State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	// a later mutation already notified; this state is stale
	if seq <= s.notifiedSeq {
		return
	}
	s.notifiedSeq = seq

	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(st.clone())
	}
}
