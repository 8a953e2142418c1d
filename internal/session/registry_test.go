package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/player00001-26/number-guess/internal/randutil"
)

func newTestRegistry(t *testing.T, clock quartz.Clock) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	logger := zerolog.New(io.Discard)
	reg := NewRegistry(logger, store, randutil.New(42), clock, DefaultConfig())
	t.Cleanup(reg.Close)
	return reg, store
}

func TestCreateSession(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Empty(t, sess.Claims)
	assert.Nil(t, sess.EntriesClosedAt)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))

	_, err := reg.GetSession(context.Background(), "no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
}

// Scenario: the first claim on a number wins, a second claim on the same
// number fails, and a player cannot claim a second number.
func TestClaimNumberConstraints(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 7, "player-1", "Alice"))

	err = reg.ClaimNumber(ctx, sess.ID, 7, "player-2", "Bob")
	require.ErrorIs(t, err, ErrNumberTaken)

	err = reg.ClaimNumber(ctx, sess.ID, 8, "player-1", "Alice")
	require.ErrorIs(t, err, ErrDuplicatePlayer)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Claims, 1)
	assert.Equal(t, "player-1", got.Claims[7].PlayerID)
	assert.Equal(t, "Alice", got.Claims[7].DisplayName)
}

func TestClaimNumberValidation(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, reg.ClaimNumber(ctx, sess.ID, 0, "p", "P"), ErrNumberOutOfRange)
	require.ErrorIs(t, reg.ClaimNumber(ctx, sess.ID, 101, "p", "P"), ErrNumberOutOfRange)
	require.ErrorIs(t, reg.ClaimNumber(ctx, sess.ID, 5, "", "P"), ErrInvalidInput)
	require.ErrorIs(t, reg.ClaimNumber(ctx, sess.ID, 5, "p", ""), ErrInvalidInput)
	require.ErrorIs(t, reg.ClaimNumber(ctx, "no-such-session", 5, "p", "P"), ErrNotFound)
}

// Concurrent claims on one session must never produce two claims for the
// same number nor two claims by the same player.
func TestConcurrentClaimUniqueness(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)

	const contenders = 20

	// Everyone races for number 13, and player-0 additionally races
	// itself across several numbers.
	var wg sync.WaitGroup
	successes := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successes[i] = reg.ClaimNumber(ctx, sess.ID, 13, fmt.Sprintf("player-%d", i), fmt.Sprintf("P%d", i))
		}(i)
	}
	var dupWg sync.WaitGroup
	for n := 20; n < 30; n++ {
		dupWg.Add(1)
		go func(n int) {
			defer dupWg.Done()
			_ = reg.ClaimNumber(ctx, sess.ID, n, "player-0", "P0")
		}(n)
	}
	wg.Wait()
	dupWg.Wait()

	won := 0
	for _, err := range successes {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrNumberTaken)
		}
	}
	assert.Equal(t, 1, won, "exactly one claim on the contested number must win")

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	seenPlayers := make(map[string]int)
	for number, claim := range got.Claims {
		seenPlayers[claim.PlayerID]++
		assert.LessOrEqual(t, 1, number)
	}
	for player, count := range seenPlayers {
		assert.Equal(t, 1, count, "player %s claimed more than once", player)
	}
}

// A caller that cannot get per-session exclusivity within the configured
// wait fails closed with ErrBusy instead of proceeding unsynchronized.
func TestClaimBusyTimeout(t *testing.T) {
	mockClock := quartz.NewMock(t)
	store := NewMemoryStore()
	logger := zerolog.New(io.Discard)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	slow := &hookStore{Store: store, beforeUpdate: func() {
		close(entered)
		<-unblock
	}}

	reg := NewRegistry(logger, slow, randutil.New(1), mockClock, DefaultConfig())
	t.Cleanup(reg.Close)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- reg.ClaimNumber(ctx, sess.ID, 1, "player-1", "Alice")
	}()
	<-entered // first claim now holds the session semaphore

	trap := mockClock.Trap().NewTimer()
	defer trap.Close()

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- reg.ClaimNumber(ctx, sess.ID, 2, "player-2", "Bob")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	call := trap.MustWait(waitCtx)
	call.MustRelease(waitCtx)

	mockClock.Advance(DefaultConfig().ClaimWait).MustWait(waitCtx)
	require.ErrorIs(t, <-secondDone, ErrBusy)

	close(unblock)
	require.NoError(t, <-firstDone)
}

func TestCloseEntries(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 3, "player-1", "Alice"))

	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEntriesClosed, got.Status)
	require.NotNil(t, got.EntriesClosedAt)

	// Closing twice is an invalid transition and must not arm a second draw.
	require.ErrorIs(t, reg.CloseEntries(ctx, sess.ID), ErrAlreadyClosed)
	require.ErrorIs(t, reg.CloseEntries(ctx, "no-such-session"), ErrNotFound)
}

// Claims arbitrated after entries close must fail even if initiated
// before the transition.
func TestNoClaimsAfterClose(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 3, "player-1", "Alice"))
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	err = reg.ClaimNumber(ctx, sess.ID, 4, "player-2", "Bob")
	require.ErrorIs(t, err, ErrEntriesClosed)
}

// After the countdown the deferred draw completes the session with a
// winner drawn from the claimed numbers.
func TestDeferredDraw(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	claimed := map[int]string{3: "Alice", 9: "Bob", 42: "Carol"}
	i := 0
	for number, name := range claimed {
		require.NoError(t, reg.ClaimNumber(ctx, sess.ID, number, fmt.Sprintf("player-%d", i), name))
		i++
	}
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultConfig().DrawDelay).MustWait(waitCtx)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	require.Contains(t, claimed, got.WinnerNumber, "winner must be a claimed number")
	assert.Equal(t, claimed[got.WinnerNumber], got.Winner)
	assert.Equal(t, got.Claims[got.WinnerNumber].DisplayName, got.Winner)
}

// A session closed with zero claims stays EntriesClosed forever: there is
// nothing to draw from.
func TestDeferredDrawNoClaims(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultConfig().DrawDelay).MustWait(waitCtx)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEntriesClosed, got.Status)
	assert.Empty(t, got.Winner)

	_, _, err = reg.SelectWinnerNow(ctx, sess.ID)
	require.ErrorIs(t, err, ErrNoClaims)
}

// The winner is drawn exactly once: once Completed the terminal fields
// never change, no matter how often draw logic is poked afterwards.
func TestDrawExactlyOnce(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 5, "player-1", "Alice"))
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 6, "player-2", "Bob"))
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	winner, number, err := reg.SelectWinnerNow(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, winner)

	// The pending timer was cancelled; advancing past the delay must not
	// re-run the draw.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultConfig().DrawDelay * 2).MustWait(waitCtx)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, winner, got.Winner)
	assert.Equal(t, number, got.WinnerNumber)

	_, _, err = reg.SelectWinnerNow(ctx, sess.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestSelectWinnerNowFromActive(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 77, "player-1", "Alice"))

	winner, number, err := reg.SelectWinnerNow(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", winner)
	assert.Equal(t, 77, number)

	got, err := reg.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestSelectWinnerNowNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))

	_, _, err := reg.SelectWinnerNow(context.Background(), "no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
}

// Deleting a session mid-countdown cancels the scheduled draw; nothing
// is applied after the fact.
func TestDeleteCancelsPendingDraw(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 4, "player-1", "Alice"))
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	require.NoError(t, reg.DeleteSession(ctx, sess.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultConfig().DrawDelay).MustWait(waitCtx)

	_, err = reg.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	require.NoError(t, reg.DeleteSession(ctx, "never-existed"))

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.DeleteSession(ctx, sess.ID))
	require.NoError(t, reg.DeleteSession(ctx, sess.ID))
}

// Deletion serializes with in-flight mutations: a claim holding the
// session's exclusivity must fully commit or fail before the delete
// proceeds, so a mid-write claim can never resurrect a deleted session.
func TestDeleteWaitsForInFlightClaim(t *testing.T) {
	mockClock := quartz.NewMock(t)
	store := NewMemoryStore()
	logger := zerolog.New(io.Discard)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	slow := &hookStore{Store: store, beforeUpdate: func() {
		close(entered)
		<-unblock
	}}

	reg := NewRegistry(logger, slow, randutil.New(1), mockClock, DefaultConfig())
	t.Cleanup(reg.Close)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)

	claimDone := make(chan error, 1)
	go func() {
		claimDone <- reg.ClaimNumber(ctx, sess.ID, 9, "player-1", "Alice")
	}()
	<-entered // claim now holds the session semaphore, blocked mid-write

	deleteDone := make(chan error, 1)
	go func() {
		deleteDone <- reg.DeleteSession(ctx, sess.ID)
	}()

	select {
	case err := <-deleteDone:
		t.Fatalf("delete finished while a claim held exclusivity: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-claimDone)
	require.NoError(t, <-deleteDone)

	_, err = reg.GetSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

// Status only ever moves forward: Active < EntriesClosed < Completed.
func TestLifecycleMonotonic(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, store := newTestRegistry(t, mockClock)
	ctx := context.Background()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	events, err := store.Watch(watchCtx, "")
	require.NoError(t, err)

	sess, err := reg.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.ClaimNumber(ctx, sess.ID, 10, "player-1", "Alice"))
	require.NoError(t, reg.CloseEntries(ctx, sess.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultConfig().DrawDelay).MustWait(waitCtx)
	stopWatch()

	last := StatusActive
	for ev := range events {
		if ev.Type != EventUpdated || ev.Session == nil {
			continue
		}
		require.False(t, ev.Session.Status.Before(last),
			"status regressed from %s to %s", last, ev.Session.Status)
		last = ev.Session.Status
	}
	assert.Equal(t, StatusCompleted, last)
}

func TestListSessionsNewestFirst(t *testing.T) {
	mockClock := quartz.NewMock(t)
	reg, _ := newTestRegistry(t, mockClock)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := reg.CreateSession(ctx)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
		mockClock.Advance(time.Second)
	}

	summaries, err := reg.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, ids[2], summaries[0].ID)
	assert.Equal(t, ids[1], summaries[1].ID)
	assert.Equal(t, ids[0], summaries[2].ID)
}

// Independent registries over independent stores never interfere.
func TestIndependentRegistries(t *testing.T) {
	regA, _ := newTestRegistry(t, quartz.NewMock(t))
	regB, _ := newTestRegistry(t, quartz.NewMock(t))
	ctx := context.Background()

	sessA, err := regA.CreateSession(ctx)
	require.NoError(t, err)

	_, err = regB.GetSession(ctx, sessA.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

// hookStore wraps a Store to intercept Update for concurrency tests.
type hookStore struct {
	Store
	beforeUpdate func()
}

func (h *hookStore) Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	if h.beforeUpdate != nil {
		h.beforeUpdate()
	}
	return h.Store.Update(ctx, id, mutate)
}
