package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func begin(s *Store) bool {
	_, ok := s.StartRestore()
	return ok
}

func TestNewStoreStartsPending(t *testing.T) {
	st := NewStore().State()
	require.Nil(t, st.Identity)
	require.True(t, st.Loading)
	require.False(t, st.Initialized)
	require.Equal(t, PhaseNotStarted, st.Phase)
	require.False(t, st.Settled())
}

func TestStartRestoreIsExactlyOnceUnderContention(t *testing.T) {
	s := NewStore()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if begin(s) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, PhaseChecking, s.State().Phase)
	require.False(t, begin(s))
}

func TestRestoreCompleteSettlesInOneMutation(t *testing.T) {
	s := NewStore()
	var seen []State
	s.OnChange(func(st State) { seen = append(seen, st) })

	r, ok := s.StartRestore()
	require.True(t, ok)
	require.True(t, r.Complete(&Identity{ID: 1, Role: RoleStandard}))
	require.False(t, r.Complete(nil), "second completion must be rejected")

	st := s.State()
	require.True(t, st.Settled())
	require.Equal(t, PhaseSettled, st.Phase)
	require.Equal(t, int64(1), st.Identity.ID)
	require.Len(t, seen, 2)
	require.Equal(t, PhaseChecking, seen[0].Phase)
	require.Equal(t, PhaseSettled, seen[1].Phase)
}

func TestRestoreTicketSupersededByLogout(t *testing.T) {
	s := NewStore()
	stale, ok := s.StartRestore()
	require.True(t, ok)

	s.Disarm()
	fresh, ok := s.StartRestore()
	require.True(t, ok)

	require.False(t, stale.Complete(&Identity{ID: 1}), "stale attempt must not settle the new lifetime")
	require.False(t, stale.Abandon())
	require.Equal(t, PhaseChecking, s.State().Phase)

	require.True(t, fresh.Complete(nil))
	require.Nil(t, s.State().Identity)
}

func TestRestoreTicketAbandon(t *testing.T) {
	s := NewStore()
	r, ok := s.StartRestore()
	require.True(t, ok)
	require.True(t, r.Abandon())
	require.Equal(t, PhaseNotStarted, s.State().Phase)
	require.False(t, s.State().Initialized)
	require.True(t, begin(s))
}

func TestSkipRestoreSettlesAnonymous(t *testing.T) {
	s := NewStore()
	require.True(t, s.SkipRestore())
	st := s.State()
	require.True(t, st.Settled())
	require.Nil(t, st.Identity)
	require.Equal(t, PhaseSettled, st.Phase)
	require.False(t, begin(s))
}

func TestInitializedNeverReverts(t *testing.T) {
	s := NewStore()
	s.SetInitialized(true)
	s.SetInitialized(false)
	require.True(t, s.State().Initialized)

	s.Disarm()
	require.True(t, s.State().Initialized)
}

func TestSetIdentityStoresCopy(t *testing.T) {
	s := NewStore()
	id := &Identity{ID: 7, DisplayName: "Ada"}
	s.SetIdentity(id)
	id.DisplayName = "mutated"

	got := s.State()
	require.Equal(t, "Ada", got.Identity.DisplayName)
	got.Identity.DisplayName = "also mutated"
	require.Equal(t, "Ada", s.State().Identity.DisplayName)
}

func TestArmAndDisarm(t *testing.T) {
	s := NewStore()
	s.Arm()
	require.Equal(t, PhaseSettled, s.State().Phase)
	require.False(t, begin(s))

	s.Disarm()
	require.Equal(t, PhaseNotStarted, s.State().Phase)
	require.True(t, begin(s))
}

func TestOperationSlot(t *testing.T) {
	s := NewStore()
	require.True(t, s.BeginOperation())
	require.False(t, s.BeginOperation())
	s.EndOperation()
	require.True(t, s.BeginOperation())
}

func TestAwaitWakesOnSettle(t *testing.T) {
	s := NewStore()
	r, ok := s.StartRestore()
	require.True(t, ok)

	done := make(chan State, 1)
	go func() {
		st, err := s.Await(context.Background())
		if err == nil {
			done <- st
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Complete(nil)

	select {
	case st := <-done:
		require.True(t, st.Settled())
	case <-time.After(time.Second):
		t.Fatal("Await did not wake after settle")
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, st.Settled())
}

func TestAdoptOnlyIntoUninitializedStore(t *testing.T) {
	settled := State{
		Identity:    &Identity{ID: 3, Role: RoleElevated},
		Initialized: true,
		Phase:       PhaseSettled,
	}

	fresh := NewStore()
	require.True(t, fresh.Adopt(settled))
	require.True(t, fresh.State().Identity.Elevated())

	busy := NewStore()
	begin(busy)
	require.False(t, busy.Adopt(settled))

	require.False(t, NewStore().Adopt(State{Loading: true}))
}

func TestNewStoreFromNormalizesChecking(t *testing.T) {
	s := NewStoreFrom(State{Phase: PhaseChecking, Initialized: false})
	st := s.State()
	require.Equal(t, PhaseNotStarted, st.Phase)
	require.True(t, st.Loading)
}

func TestObserversSeeMonotonicStates(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var last int64
	ordered := true
	s.OnChange(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if st.UpdatedAt < last {
			ordered = false
		}
		last = st.UpdatedAt
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetLoading(i%2 == 0)
		}(i)
	}
	wg.Wait()
	require.True(t, ordered)
}

func TestParseRole(t *testing.T) {
	require.Equal(t, RoleElevated, ParseRole("ADMIN"))
	require.Equal(t, RoleElevated, ParseRole(" admin "))
	require.Equal(t, RoleStandard, ParseRole("USER"))
	require.Equal(t, RoleStandard, ParseRole("SUPERUSER"))
	require.Equal(t, RoleStandard, ParseRole(""))
}

func TestDisplayNameFor(t *testing.T) {
	require.Equal(t, "Ada Lovelace", DisplayNameFor("Ada", "Lovelace", "ada", "ada@x.io"))
	require.Equal(t, "ada", DisplayNameFor("", " ", "ada", "ada@x.io"))
	require.Equal(t, "ada@x.io", DisplayNameFor("", "", "", "ada@x.io"))
}

func TestFinishLoadingLeavesRestoreInFlight(t *testing.T) {
	s := NewStore()
	r, ok := s.StartRestore()
	require.True(t, ok)
	s.FinishLoading()
	require.True(t, s.State().Loading)

	r.Complete(nil)
	s.SetLoading(true)
	s.FinishLoading()
	require.False(t, s.State().Loading)
}

func TestSyncTakesOnlyLaterStates(t *testing.T) {
	s := NewStore()
	var notified atomic.Int32
	s.OnChange(func(State) { notified.Add(1) })
	require.False(t, s.Sync(State{Initialized: true, Phase: PhaseSettled, UpdatedAt: time.Now().Add(time.Hour).UnixNano()}),
		"an uninitialized store adopts, it does not sync")

	s.SetIdentity(&Identity{ID: 1})
	s.Arm()
	cur := s.State()
	base := notified.Load()

	require.False(t, s.Sync(State{Initialized: true, Phase: PhaseSettled, UpdatedAt: cur.UpdatedAt}))
	require.False(t, s.Sync(State{Initialized: true, Phase: PhaseChecking, UpdatedAt: cur.UpdatedAt + 1}))

	signedOut := State{Initialized: true, Phase: PhaseNotStarted, UpdatedAt: cur.UpdatedAt + 1}
	require.True(t, s.Sync(signedOut))
	st := s.State()
	require.Nil(t, st.Identity)
	require.Equal(t, PhaseNotStarted, st.Phase)
	require.Equal(t, signedOut.UpdatedAt, st.UpdatedAt)
	require.Equal(t, base, notified.Load(), "synced state is not persisted again")
	require.True(t, begin(s))
}

func TestSyncLeavesLocalOperationsAlone(t *testing.T) {
	s := NewStore()
	s.SetIdentity(&Identity{ID: 1})
	s.Arm()
	later := State{Initialized: true, Phase: PhaseNotStarted, UpdatedAt: s.State().UpdatedAt + 1}

	require.True(t, s.BeginOperation())
	require.False(t, s.Sync(later))
	s.EndOperation()

	s.Disarm()
	r, ok := s.StartRestore()
	require.True(t, ok)
	later.UpdatedAt = s.State().UpdatedAt + 1
	require.False(t, s.Sync(later))
	require.True(t, r.Complete(&Identity{ID: 1}))
}
